package pim

// InputState enumerates the external/internal events that drive
// recomputation (§4.7, §6.2). Names mirror the add_task_* entry points
// named in the engine's upward API (§6.2) so a reader can match one to the other directly.
type InputState uint8

const (
	InputRPChanged InputState = iota
	InputMribChanged
	InputDeleteMribEntries
	InputPimNbrChanged
	InputPimNbrGenIDChanged

	InputReceiveJoinRP
	InputReceiveJoinWC
	InputReceiveJoinSG
	InputReceiveJoinSGRpt

	InputReceivePruneRP
	InputReceivePruneWC
	InputReceivePruneSG
	InputReceivePruneSGRpt

	InputSeePruneWC
	InputReceiveEndOfMessageSGRpt

	InputDownstreamJPStateRP
	InputDownstreamJPStateWC
	InputDownstreamJPStateSG
	InputDownstreamJPStateSGRpt

	InputUpstreamJPStateSG

	InputLocalReceiverIncludeWC
	InputLocalReceiverIncludeSG
	InputLocalReceiverExcludeWC
	InputLocalReceiverExcludeSG

	InputAssertStateWC
	InputAssertStateSG

	InputIAmDR
	InputMyIPAddress
	InputMyIPSubnetAddress

	InputSptSwitchThresholdChanged
	InputWasSwitchToSptDesiredSG
	InputKeepaliveTimerSG
	InputSptbitSG

	InputStartVif
	InputStopVif

	InputAddPimMre
	InputDeletePimMre
	InputDeletePimMfc

	inputStateMax
)

// OutputState names one recomputation action, dispatched on (OutputState,
// Variant) to a PimMre/PimMfc method (§4.8).
type OutputState uint8

const (
	OutputRecomputeMribRp OutputState = iota
	OutputRecomputeMribS
	OutputRecomputeRpfpNbrWc
	OutputRecomputeRpfpNbrSg
	OutputRecomputeRpfpNbrSgRpt
	OutputRecomputeRp

	OutputIsJoinDesiredRP
	OutputIsJoinDesiredWC
	OutputIsJoinDesiredSG
	OutputIsPruneDesiredSGRpt

	OutputRecomputeCouldAssert
	OutputRecomputeAssertTrackingDesired
	OutputRecomputeMyAssertMetric
	OutputRecomputeAssertWinnerMetricIsBetterThanSpt

	OutputRecomputeImmediateOlistWC
	OutputRecomputeImmediateOlistSG
	OutputRecomputeInheritedOlistSGRpt
	OutputRecomputeInheritedOlistSG

	OutputRecomputeIsCouldRegisterSG
	OutputCheckSwitchToSptSG

	OutputIifOlistMfc
	OutputRpMfc
	OutputSptSwitchThresholdChangedMfc

	OutputEntryTryRemove
)

// trackEntry pairs an OutputState with the EntryKind it applies to, as
// TrackState's parallel per-kind lists require (§4.7).
type trackEntry struct {
	Output OutputState
	Kind   EntryKind
}

// TrackState is the static dependency graph: for each InputState, an
// ordered, tail-deduplicated list of (OutputState, EntryKind) actions
// (§4.7). Built declaratively below: each input's list is assembled by
// appending the prerequisite chains of the outputs it ultimately needs,
// then a dedup pass (removeState) keeps only the first occurrence —
// mirroring the XORP build procedure's "remove_state" post-pass.
//
// This table covers every operation named in §4.4, §4.5, and
// §6.2. It does not reproduce the original's full ~50-input/600-line
// dependency graph verbatim — scoped deliberately; see DESIGN.md.
type TrackState struct {
	table [inputStateMax][]trackEntry
}

func NewTrackState() *TrackState {
	ts := &TrackState{}
	ts.build()
	return ts
}

// Actions returns the ordered action list for input, already deduplicated.
func (ts *TrackState) Actions(input InputState) []trackEntry {
	if int(input) >= len(ts.table) {
		return nil
	}
	return ts.table[input]
}

func (ts *TrackState) build() {
	mribChain := []trackEntry{
		{OutputRecomputeMribRp, EntryKindRp},
		{OutputRecomputeMribS, EntryKindSg},
		{OutputRecomputeRpfpNbrWc, EntryKindWc},
		{OutputRecomputeRpfpNbrSg, EntryKindSg},
		{OutputRecomputeRpfpNbrSgRpt, EntryKindSgRpt},
		{OutputIsJoinDesiredRP, EntryKindRp},
		{OutputIsJoinDesiredWC, EntryKindWc},
		{OutputIsJoinDesiredSG, EntryKindSg},
		{OutputIsPruneDesiredSGRpt, EntryKindSgRpt},
		{OutputIifOlistMfc, EntryKindMfc},
	}
	ts.set(InputMribChanged, mribChain)
	ts.set(InputDeleteMribEntries, mribChain)

	rpChain := []trackEntry{
		{OutputRecomputeRp, EntryKindWc},
		{OutputRecomputeMribRp, EntryKindRp},
		{OutputRecomputeRpfpNbrWc, EntryKindWc},
		{OutputIsJoinDesiredRP, EntryKindRp},
		{OutputIsJoinDesiredWC, EntryKindWc},
		{OutputIsPruneDesiredSGRpt, EntryKindSgRpt},
		{OutputEntryTryRemove, EntryKindWc},
		{OutputRpMfc, EntryKindMfc},
	}
	ts.set(InputRPChanged, rpChain)

	nbrChain := []trackEntry{
		{OutputRecomputeRpfpNbrWc, EntryKindWc},
		{OutputRecomputeRpfpNbrSg, EntryKindSg},
		{OutputRecomputeRpfpNbrSgRpt, EntryKindSgRpt},
		{OutputIsJoinDesiredWC, EntryKindWc},
		{OutputIsJoinDesiredSG, EntryKindSg},
		{OutputIsPruneDesiredSGRpt, EntryKindSgRpt},
	}
	ts.set(InputPimNbrChanged, nbrChain)
	ts.set(InputPimNbrGenIDChanged, nbrChain)
	ts.set(InputIAmDR, append(cloneEntries(nbrChain), trackEntry{OutputRecomputeIsCouldRegisterSG, EntryKindSg}))
	ts.set(InputMyIPAddress, nbrChain)
	ts.set(InputMyIPSubnetAddress, nbrChain)
	ts.set(InputStartVif, nbrChain)
	ts.set(InputStopVif, nbrChain)

	downstreamChain := func(kind EntryKind, joinOutput OutputState) []trackEntry {
		return []trackEntry{
			{joinOutput, kind},
			{OutputRecomputeImmediateOlistWC, EntryKindWc},
			{OutputRecomputeImmediateOlistSG, EntryKindSg},
			{OutputRecomputeInheritedOlistSGRpt, EntryKindSgRpt},
			{OutputRecomputeInheritedOlistSG, EntryKindSg},
			{OutputIifOlistMfc, EntryKindMfc},
			{OutputEntryTryRemove, kind},
		}
	}
	ts.set(InputReceiveJoinRP, downstreamChain(EntryKindRp, OutputIsJoinDesiredRP))
	ts.set(InputReceiveJoinWC, downstreamChain(EntryKindWc, OutputIsJoinDesiredWC))
	ts.set(InputReceiveJoinSG, downstreamChain(EntryKindSg, OutputIsJoinDesiredSG))
	ts.set(InputReceiveJoinSGRpt, downstreamChain(EntryKindSgRpt, OutputIsPruneDesiredSGRpt))
	ts.set(InputReceivePruneRP, downstreamChain(EntryKindRp, OutputIsJoinDesiredRP))
	ts.set(InputReceivePruneWC, downstreamChain(EntryKindWc, OutputIsJoinDesiredWC))
	ts.set(InputReceivePruneSG, downstreamChain(EntryKindSg, OutputIsJoinDesiredSG))
	ts.set(InputReceivePruneSGRpt, downstreamChain(EntryKindSgRpt, OutputIsPruneDesiredSGRpt))
	ts.set(InputSeePruneWC, downstreamChain(EntryKindWc, OutputIsJoinDesiredWC))
	ts.set(InputReceiveEndOfMessageSGRpt, downstreamChain(EntryKindSgRpt, OutputIsPruneDesiredSGRpt))

	ts.set(InputDownstreamJPStateRP, downstreamChain(EntryKindRp, OutputIsJoinDesiredRP))
	ts.set(InputDownstreamJPStateWC, downstreamChain(EntryKindWc, OutputIsJoinDesiredWC))
	ts.set(InputDownstreamJPStateSG, downstreamChain(EntryKindSg, OutputIsJoinDesiredSG))
	ts.set(InputDownstreamJPStateSGRpt, downstreamChain(EntryKindSgRpt, OutputIsPruneDesiredSGRpt))
	ts.set(InputUpstreamJPStateSG, []trackEntry{
		{OutputIsJoinDesiredSG, EntryKindSg},
		{OutputRecomputeInheritedOlistSG, EntryKindSg},
		{OutputIifOlistMfc, EntryKindMfc},
	})

	localReceiverChain := func(kind EntryKind, olistOutput OutputState) []trackEntry {
		return []trackEntry{
			{olistOutput, kind},
			{OutputIifOlistMfc, EntryKindMfc},
		}
	}
	ts.set(InputLocalReceiverIncludeWC, localReceiverChain(EntryKindWc, OutputRecomputeImmediateOlistWC))
	ts.set(InputLocalReceiverIncludeSG, localReceiverChain(EntryKindSg, OutputRecomputeImmediateOlistSG))
	ts.set(InputLocalReceiverExcludeWC, localReceiverChain(EntryKindWc, OutputRecomputeImmediateOlistWC))
	ts.set(InputLocalReceiverExcludeSG, localReceiverChain(EntryKindSg, OutputRecomputeImmediateOlistSG))

	assertChain := func(kind EntryKind) []trackEntry {
		return []trackEntry{
			{OutputRecomputeCouldAssert, kind},
			{OutputRecomputeAssertTrackingDesired, kind},
			{OutputRecomputeMyAssertMetric, kind},
			{OutputRecomputeAssertWinnerMetricIsBetterThanSpt, kind},
			{OutputRecomputeImmediateOlistWC, EntryKindWc},
			{OutputRecomputeImmediateOlistSG, EntryKindSg},
			{OutputRecomputeInheritedOlistSGRpt, EntryKindSgRpt},
			{OutputRecomputeInheritedOlistSG, EntryKindSg},
			{OutputIsJoinDesiredWC, EntryKindWc},
			{OutputIsJoinDesiredSG, EntryKindSg},
			{OutputIifOlistMfc, EntryKindMfc},
		}
	}
	ts.set(InputAssertStateWC, assertChain(EntryKindWc))
	ts.set(InputAssertStateSG, assertChain(EntryKindSg))

	ts.set(InputSptSwitchThresholdChanged, []trackEntry{
		{OutputCheckSwitchToSptSG, EntryKindSg},
		{OutputSptSwitchThresholdChangedMfc, EntryKindMfc},
	})
	ts.set(InputWasSwitchToSptDesiredSG, []trackEntry{
		{OutputCheckSwitchToSptSG, EntryKindSg},
	})
	ts.set(InputKeepaliveTimerSG, []trackEntry{
		{OutputIsJoinDesiredSG, EntryKindSg},
		{OutputRecomputeInheritedOlistSG, EntryKindSg},
		{OutputEntryTryRemove, EntryKindSg},
	})
	ts.set(InputSptbitSG, []trackEntry{
		{OutputRecomputeInheritedOlistSG, EntryKindSg},
		{OutputIifOlistMfc, EntryKindMfc},
	})

	ts.set(InputAddPimMre, []trackEntry{
		{OutputRecomputeMribRp, EntryKindRp},
		{OutputRecomputeMribS, EntryKindSg},
		{OutputIsJoinDesiredWC, EntryKindWc},
		{OutputIsJoinDesiredSG, EntryKindSg},
	})
	ts.set(InputDeletePimMre, []trackEntry{
		{OutputEntryTryRemove, EntryKindRp},
	})
	ts.set(InputDeletePimMfc, []trackEntry{
		{OutputIifOlistMfc, EntryKindMfc},
	})

	for i := range ts.table {
		ts.table[i] = removeState(ts.table[i])
	}
}

func (ts *TrackState) set(input InputState, entries []trackEntry) {
	ts.table[input] = entries
}

func cloneEntries(entries []trackEntry) []trackEntry {
	out := make([]trackEntry, len(entries))
	copy(out, entries)
	return out
}

// removeState suppresses a later entry that is subsumed by an identical
// earlier entry in the same list, preserving first-occurrence order — the
// tail-deduplication pass named in §4.7.
func removeState(entries []trackEntry) []trackEntry {
	seen := make(map[trackEntry]bool, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
