package pim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPim_JoinPruneAssembler_GroupsByGroupAddress(t *testing.T) {
	t.Parallel()
	a := NewJoinPruneAssembler()
	g := MustParseAddr("224.1.1.1")
	s1 := MustParseAddr("10.0.0.1")
	s2 := MustParseAddr("10.0.0.2")

	a.Add(g, JpEntry{Target: s1, MaskLen: 32, Type: JpEntrySg, Action: JpActionJoin, Holdtime: 210 * time.Second}, false)
	a.Add(g, JpEntry{Target: s2, MaskLen: 32, Type: JpEntrySg, Action: JpActionJoin, Holdtime: 210 * time.Second}, false)

	batches := a.Flush()
	require.Len(t, batches, 1)
	require.Equal(t, g, batches[0].Group)
	require.Len(t, batches[0].Entries, 2)
}

func TestPim_JoinPruneAssembler_ForceNewGroupSplitsBatch(t *testing.T) {
	t.Parallel()
	a := NewJoinPruneAssembler()
	g := MustParseAddr("224.1.1.1")
	s1 := MustParseAddr("10.0.0.1")

	a.Add(g, JpEntry{Target: s1, MaskLen: 32, Action: JpActionJoin}, false)
	a.Add(g, JpEntry{Target: s1, MaskLen: 32, Action: JpActionPrune}, true)

	batches := a.Flush()
	require.Len(t, batches, 2)
}

func TestPim_JoinPruneAssembler_FlushResetsState(t *testing.T) {
	t.Parallel()
	a := NewJoinPruneAssembler()
	require.False(t, a.Pending())

	a.Add(MustParseAddr("224.1.1.1"), JpEntry{Action: JpActionJoin}, false)
	require.True(t, a.Pending())

	a.Flush()
	require.False(t, a.Pending())
	require.Empty(t, a.Flush())
}
