package pim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPim_Mfc_S2_SptSwitch exercises the SPT-switch scenario (S2): once the SPT bit is
// set, the MFC's iif becomes the RPF interface towards the source and its
// oifs come from inherited_olist_sg.
func TestPim_Mfc_S2_SptSwitch(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	g := MustParseAddr("239.1.1.1")
	s := MustParseAddr("192.0.2.5")
	now := time.Unix(0, 0)

	wc := tables.insertWC(g)
	wc.ReceiveJoin(1, 210*time.Second, now, nil)

	sg := tables.insertSG(SourceGroup{Source: s, Group: g})
	sg.SptBit = true

	m := tables.insertMfc(SourceGroup{Source: s, Group: g})
	m.Recompute(MfcContext{SG: sg, WC: wc, RpfInterfaceS: 2, RpfInterfaceRp: 0, IAmDR: VifSet{}}, nil)

	require.Equal(t, 2, m.Iif)
	require.True(t, m.Oifs.Has(1))
}

func TestPim_Mfc_IifFollowsRpUntilSptBit(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	g := MustParseAddr("239.1.1.1")
	s := MustParseAddr("192.0.2.5")

	wc := tables.insertWC(g)
	sg := tables.insertSG(SourceGroup{Source: s, Group: g})

	m := tables.insertMfc(SourceGroup{Source: s, Group: g})
	m.Recompute(MfcContext{SG: sg, WC: wc, RpfInterfaceS: 2, RpfInterfaceRp: 0, IAmDR: VifSet{}}, nil)
	require.Equal(t, 0, m.Iif, "before the SPT bit is set, iif follows the RP")
}

func TestPim_Mfc_DataflowThresholdCrossing(t *testing.T) {
	t.Parallel()
	m := newPimMfc(SourceGroup{Source: MustParseAddr("192.0.2.5"), Group: MustParseAddr("239.1.1.1")})
	m.Threshold = &DataflowThreshold{Packets: 10, Interval: time.Second, Operator: ThresholdGE}

	now := time.Unix(100, 0)
	m.lastReset = now.Add(-2 * time.Second)
	m.RecordTraffic(100)
	for i := 0; i < 9; i++ {
		m.RecordTraffic(10)
	}

	require.True(t, m.CrossedThreshold(now))
}
