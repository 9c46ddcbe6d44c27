package pim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPim_Olist_JoinsWCIncludesJoinAndPrunePending(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	wc := tables.insertWC(MustParseAddr("239.1.1.1"))
	now := time.Unix(0, 0)

	wc.ReceiveJoin(1, 210*time.Second, now, nil)
	wc.ReceiveJoin(2, 210*time.Second, now, nil)
	wc.ReceivePrune(2, 3*time.Second, true, now, nil)

	joins := wc.joinsWC()
	require.True(t, joins.Has(1))
	require.True(t, joins.Has(2), "a PrunePending interface is still part of joins_wc")
}

func TestPim_Olist_ImmediateOlistExcludesLostAssert(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	sg := tables.insertSG(SourceGroup{Source: MustParseAddr("192.0.2.5"), Group: MustParseAddr("239.1.1.1")})
	now := time.Unix(0, 0)

	sg.ReceiveJoin(1, 210*time.Second, now, nil)
	sg.assertState[1] = AssertLoser
	sg.assertWinnerMetric[1] = AssertMetric{Rpt: false, Preference: 1, RouteMetric: 1, Origin: MustParseAddr("10.1.1.1")}
	sg.MribS = Mrib{MetricPreference: 200, RouteMetric: 200}
	sg.HasMribS = true

	olist := sg.immediateOlistSG(VifSet{}, 9 /* rpf iface not 1 */)
	require.False(t, olist.Has(1), "an interface lost to Assert must not appear in immediate_olist_sg")
}

func TestPim_Olist_InheritedOlistSGContainsImmediateOlist(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	g := MustParseAddr("239.1.1.1")
	s := MustParseAddr("192.0.2.5")
	now := time.Unix(0, 0)

	wc := tables.insertWC(g)
	sg := tables.insertSG(SourceGroup{Source: s, Group: g})
	sg.ReceiveJoin(1, 210*time.Second, now, nil)

	inherited := sg.inheritedOlistSG(nil, wc, nil, VifSet{}, 9, 9)
	immediate := sg.immediateOlistSG(VifSet{}, 9)

	for vif := range immediate {
		require.True(t, inherited.Has(vif), "invariant: inherited_olist_sg must be a superset of immediate_olist_sg")
	}
}

func TestPim_Olist_LostAssertWcExcludesRpfInterface(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	wc := tables.insertWC(MustParseAddr("239.1.1.1"))
	wc.assertState[1] = AssertLoser
	wc.assertState[2] = AssertLoser

	lost := wc.lostAssertWC(1)
	require.False(t, lost.Has(1), "the RPF interface towards the RP can never be lost")
	require.True(t, lost.Has(2))
}
