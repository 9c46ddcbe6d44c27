package pim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPim_Mre_ReceiveJoinThenPruneLeavesPrunePending(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	e := tables.insertWC(MustParseAddr("239.1.1.1"))
	now := time.Unix(0, 0)

	e.ReceiveJoin(1, 210*time.Second, now, nil)
	require.Equal(t, DsJoin, e.downstream[1])

	e.ReceivePrune(1, 3*time.Second, true, now, nil)
	require.Equal(t, DsPrunePending, e.downstream[1])
	require.True(t, e.prunePendingTimer[1].armed)
}

func TestPim_Mre_SecondIdenticalJoinOnlyRefreshesWhenLarger(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	e := tables.insertWC(MustParseAddr("239.1.1.1"))
	now := time.Unix(0, 0)

	e.ReceiveJoin(1, 100*time.Second, now, nil)
	first := e.expiryTimer[1].deadline

	e.ReceiveJoin(1, 50*time.Second, now, nil)
	require.Equal(t, first, e.expiryTimer[1].deadline, "a shorter holdtime must not shrink the expiry")

	e.ReceiveJoin(1, 500*time.Second, now, nil)
	require.True(t, e.expiryTimer[1].deadline.After(first), "a longer holdtime must extend the expiry")
}

func TestPim_Mre_PrunePendingTimerFiresToNoInfoWithEcho(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	e := tables.insertWC(MustParseAddr("239.1.1.1"))
	now := time.Unix(0, 0)

	e.ReceiveJoin(1, 210*time.Second, now, nil)
	e.ReceivePrune(1, 3*time.Second, true, now, nil)

	echo := e.FirePrunePendingTimer(1, true, nil)
	require.True(t, echo)
	require.Equal(t, DsNoInfo, e.downstream[1])
}

func TestPim_Mre_EntryCanRemoveRequiresQuiescence(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	e := tables.insertWC(MustParseAddr("239.1.1.1"))
	require.True(t, e.entryCanRemove())

	e.downstream[1] = DsJoin
	require.False(t, e.entryCanRemove())

	delete(e.downstream, 1)
	require.True(t, e.entryCanRemove())

	e.Upstream = UsJoined
	require.False(t, e.entryCanRemove())
}

func TestPim_Mre_CrossLinksResolveViaTableLookup(t *testing.T) {
	t.Parallel()
	tables := NewMrtTables(NewRpTable())
	g := MustParseAddr("239.1.1.1")
	s := MustParseAddr("192.0.2.5")
	rpAddr := MustParseAddr("10.0.0.1")

	rp := tables.insertRP(rpAddr)
	wc := tables.insertWC(g)
	wc.RP = rpAddr
	wc.HasRP = true
	sg := tables.insertSG(SourceGroup{Source: s, Group: g})

	require.Same(t, rp, wc.rpEntry())
	require.Same(t, wc, sg.wcEntry())

	tables.remove(rp)
	require.Nil(t, tables.FindRP(rpAddr))
}
