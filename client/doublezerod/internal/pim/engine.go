package pim

import (
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Engine is the top-level PIM-SM protocol engine (C2): it wires MribView,
// RpTable, MrtTables, TrackState and Scheduler together and exposes every
// add_task_* entry point named in §6.2 as a method, dispatching recomputed
// state to MfcProgrammer and per-neighbor JoinPruneAssemblers per §6.3.
//
// Engine owns no socket and parses no wire messages: the caller (the
// PIMServer/neighbor layer) decodes Hello/Join-Prune/Assert/Register-Stop
// packets and calls the matching AddTask*/Receive*/Fire* method here, then
// reads back FlushJoinPrune results and AssertAction/RegisterState
// transitions to decide what to send.
type Engine struct {
	cfg *Config

	mrib    *MribView
	rpTable *RpTable
	tables  *MrtTables
	track   *TrackState
	sched   *Scheduler

	programmer MfcProgrammer

	mu         sync.Mutex
	nbrs       map[Addr]*PimNbr
	vifs       map[int]struct{}
	iAmDR      VifSet
	myAddr     Addr
	assemblers map[Addr]*JoinPruneAssembler
}

// NewEngine builds an Engine around cfg (nil uses NewConfig defaults) and
// programmer, the injected downward MFC interface.
func NewEngine(cfg *Config, programmer MfcProgrammer) *Engine {
	if cfg == nil {
		cfg = NewConfig()
	}
	rpTable := NewRpTable()
	e := &Engine{
		cfg:        cfg,
		mrib:       NewMribView(),
		rpTable:    rpTable,
		tables:     NewMrtTables(rpTable),
		programmer: programmer,
		nbrs:       make(map[Addr]*PimNbr),
		vifs:       make(map[int]struct{}),
		iAmDR:      make(VifSet),
		assemblers: make(map[Addr]*JoinPruneAssembler),
	}
	e.track = NewTrackState()
	e.sched = NewScheduler(cfg, e.track, e.actOnEntry, e.actOnMfc)
	return e
}

func (e *Engine) now() time.Time { return e.cfg.Clock.Now() }

// RunNext/Drain delegate to the scheduler, for a caller driving the
// cooperative event loop (§4.9).
func (e *Engine) RunNext() bool     { return e.sched.RunNext() }
func (e *Engine) Drain(max int)     { e.sched.Drain(max) }
func (e *Engine) QueueDepth() int   { return e.sched.Len() }

// SetMyAddress records the engine's own address, used as AssertMetric.Origin
// and as the directly-connected test for is_could_register_sg.
func (e *Engine) SetMyAddress(a Addr) {
	e.mu.Lock()
	e.myAddr = a
	e.mu.Unlock()
	e.AddTaskMyIPAddress()
}

// SetRpSet replaces the candidate-RP set (externally supplied; BSR/RP-Set
// election is out of scope, §1) and schedules every (*,G) entry
// to re-bind against it.
func (e *Engine) SetRpSet(rps []PimRp) {
	e.rpTable.SetRpSet(rps)
	e.sched.AddTask(InputRPChanged, e.allEntriesSelector())
}

// --- RPF helpers ---

func (e *Engine) rpAddrForGroup(group Addr) (Addr, bool) {
	rp, ok := e.rpTable.Find(group)
	if !ok {
		return ZeroAddr, false
	}
	return rp.Addr, true
}

// rpAddrOf resolves entry's RP binding, following the same WC fallback
// rpEntry() itself uses (mre.go) so callers agree with weak cross-references.
func rpAddrOf(entry *PimMre) (Addr, bool) {
	switch entry.Variant {
	case VariantRP:
		return entry.Group, true
	default:
		if entry.HasRP {
			return entry.RP, true
		}
		if wc := entry.wcEntry(); wc != nil && wc != entry && wc.HasRP {
			return wc.RP, true
		}
		return ZeroAddr, false
	}
}

func (e *Engine) rpfInterfaceFor(addr Addr) (int, bool) {
	if addr.IsZero() {
		return -1, false
	}
	m, ok := e.mrib.Find(addr)
	if !ok {
		metricMissingWarnings.WithLabelValues("missing_rpf_neighbor").Inc()
		return -1, false
	}
	return m.RpfVif, true
}

// assertAwareNbr returns the Assert winner's address on vif when we are
// losing there, else the plain MRIB next hop — rpf_p(*,G)/rpf_p(S,G) (§4.1).
func (e *Engine) assertAwareNbr(entry *PimMre, vif int, nextHop Addr, hasHop bool) (Addr, bool) {
	if vif >= 0 && entry.assertState[vif] == AssertLoser {
		if m, ok := entry.assertWinnerMetric[vif]; ok {
			return m.Origin, true
		}
	}
	return nextHop, hasHop
}

func (e *Engine) assemblerFor(nbr Addr) *JoinPruneAssembler {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.assemblers[nbr]
	if !ok {
		a = NewJoinPruneAssembler()
		e.assemblers[nbr] = a
	}
	return a
}

// FlushJoinPrune returns and clears every neighbor's pending J/P groups;
// called by the neighbor/wire layer on its periodic Join/Prune timer (§6.3,
// §4.10).
func (e *Engine) FlushJoinPrune() map[Addr][]JpGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Addr][]JpGroup)
	for nbr, a := range e.assemblers {
		if a.Pending() {
			out[nbr] = a.Flush()
		}
	}
	return out
}

func (e *Engine) allEntriesSelector() *Selector {
	var all []*PimMre
	for _, v := range e.tables.rp {
		all = append(all, v)
	}
	for _, v := range e.tables.wc {
		all = append(all, v)
	}
	for _, v := range e.tables.sg {
		all = append(all, v)
	}
	for _, v := range e.tables.sgRpt {
		all = append(all, v)
	}
	return newEntriesSelector(all...)
}

func (e *Engine) allMfcEntries() []*PimMfc {
	return e.tables.allMfc()
}

// pollMissing returns the jittered backoff delay before the caller's
// periodic driver should retry RPF-neighbor/RP resolution for entry, which
// is still blocked on MissingRpfNeighbor/MissingRp (§7). It re-posts entry's
// downstream input so a MribView/RpTable that converged without emitting a
// matching AddTaskMribChanged/SetRpSet (e.g. one seeded once at startup) is
// picked up on the next Drain, mirroring
// probing.DefaultListenFuncWithRetry's exponential-backoff retry shape
// instead of a bare ticker.
func (e *Engine) pollMissing(entry *PimMre) time.Duration {
	if entry.missingBackoff == nil {
		entry.missingBackoff = backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(e.cfg.MissingPollInterval),
			backoff.WithMaxInterval(e.cfg.MissingPollMaxInterval),
			backoff.WithMaxElapsedTime(0),
		)
	}
	d := entry.missingBackoff.NextBackOff()
	e.sched.AddTask(entry.downstreamInputState(), newAddrSelector(entry))
	return d
}

// resetMissingBackoff clears entry's retry backoff once RPF/RP resolution
// succeeds, so a later failure starts again from MissingPollInterval.
func (e *Engine) resetMissingBackoff(entry *PimMre) {
	entry.missingBackoff = nil
}

// PollMissingWC/PollMissingSG are the public hooks a caller's periodic
// driver uses to retry RPF-neighbor/RP resolution for a (*,G)/(S,G) entry
// still blocked on MissingRpfNeighbor/MissingRp; ok is false once no such
// entry exists (it was torn down or never created).
func (e *Engine) PollMissingWC(group Addr) (d time.Duration, ok bool) {
	entry := e.tables.FindWC(group)
	if entry == nil {
		return 0, false
	}
	return e.pollMissing(entry), true
}

func (e *Engine) PollMissingSG(sg SourceGroup) (d time.Duration, ok bool) {
	entry := e.tables.FindSG(sg)
	if entry == nil {
		return 0, false
	}
	return e.pollMissing(entry), true
}

func (e *Engine) buildUpstreamContext(entry *PimMre) UpstreamContext {
	ctx := UpstreamContext{
		RP:    entry.rpEntry(),
		WC:    entry.wcEntry(),
		SG:    entry.sgEntry(),
		SGRpt: entry.sgRptEntry(),
		IAmDR: e.iAmDR,
	}
	rpAddr, _ := rpAddrOf(entry)
	rpVif, rpOk := e.rpfInterfaceFor(rpAddr)
	if rpOk {
		ctx.RpfInterfaceRp = rpVif
	} else {
		ctx.RpfInterfaceRp = -1
	}
	sVif, sOk := e.rpfInterfaceFor(entry.Source)
	if sOk {
		ctx.RpfInterfaceS = sVif
	} else {
		ctx.RpfInterfaceS = -1
	}
	if rpOk && (sOk || entry.Source.IsZero()) {
		e.resetMissingBackoff(entry)
	}
	if ctx.WC != nil {
		ctx.RpfpNbrWc = ctx.WC.RpfpNbrWc
	}
	if ctx.SG != nil {
		ctx.RpfpNbrSg = ctx.SG.RpfpNbrSg
		ctx.KeepaliveRunning = ctx.SG.keepaliveRunning
	}
	return ctx
}

// --- Action dispatch (§4.7/§4.8 recomputation) ---

func (e *Engine) actOnEntry(entry *PimMre, actions []trackEntry) {
	now := e.now()
	for _, a := range actions {
		switch a.Output {
		case OutputRecomputeMribRp:
			e.recomputeMribRp(entry)
		case OutputRecomputeMribS:
			e.recomputeMribS(entry)
		case OutputRecomputeRpfpNbrWc:
			e.recomputeRpfpNbrWc(entry)
		case OutputRecomputeRpfpNbrSg:
			e.recomputeRpfpNbrSg(entry)
		case OutputRecomputeRpfpNbrSgRpt:
			e.recomputeRpfpNbrSgRpt(entry)
		case OutputRecomputeRp:
			e.recomputeRp(entry)
		case OutputIsJoinDesiredRP:
			e.transitionRP(entry, now)
		case OutputIsJoinDesiredWC:
			e.transitionWC(entry, now)
		case OutputIsJoinDesiredSG:
			e.transitionSG(entry, now)
		case OutputIsPruneDesiredSGRpt:
			e.transitionSGRpt(entry, now)
		case OutputRecomputeCouldAssert:
			e.recomputeCouldAssert(entry)
		case OutputRecomputeAssertTrackingDesired:
			e.recomputeAssertTrackingDesired(entry)
		case OutputRecomputeMyAssertMetric:
			// MyAssertMetric is a pure function of entry state with no
			// cached field; AddTaskAssertState{WC,SG} compute it fresh.
		case OutputRecomputeAssertWinnerMetricIsBetterThanSpt:
			e.recomputeAssertWinnerBetterThanSpt(entry)
		case OutputRecomputeImmediateOlistWC, OutputRecomputeImmediateOlistSG,
			OutputRecomputeInheritedOlistSGRpt, OutputRecomputeInheritedOlistSG:
			// Pure olist formulas (mre_olist.go) recomputed on demand at J/P
			// emission and MFC recompute time; nothing cached here.
		case OutputRecomputeIsCouldRegisterSG:
			e.recomputeCouldRegister(entry)
		case OutputCheckSwitchToSptSG:
			e.checkSwitchToSpt(entry)
		case OutputEntryTryRemove:
			entry.entryTryRemove(e.sched)
		}
	}
}

func (e *Engine) recomputeMribRp(entry *PimMre) {
	m, ok := e.mrib.Find(entry.Group)
	entry.MribRp, entry.HasMribRp = m, ok
}

func (e *Engine) recomputeMribS(entry *PimMre) {
	m, ok := e.mrib.Find(entry.Source)
	entry.MribS, entry.HasMribS = m, ok
}

func (e *Engine) recomputeRpfpNbrWc(entry *PimMre) {
	rp := entry.rpEntry()
	vif := -1
	var nextHop Addr
	hasHop := false
	if rp != nil {
		if v, ok := e.rpfInterfaceFor(rp.Group); ok {
			vif = v
		}
		nextHop, hasHop = rp.MribRp.NextHop, rp.HasMribRp
	}
	entry.RpfpNbrWc, entry.HasRpfpNbrWc = e.assertAwareNbr(entry, vif, nextHop, hasHop)
}

func (e *Engine) recomputeRpfpNbrSg(entry *PimMre) {
	vif, _ := e.rpfInterfaceFor(entry.Source)
	entry.RpfpNbrSg, entry.HasRpfpNbrSg = e.assertAwareNbr(entry, vif, entry.MribS.NextHop, entry.HasMribS)
}

func (e *Engine) recomputeRpfpNbrSgRpt(entry *PimMre) {
	wc := entry.wcEntry()
	if wc == nil {
		entry.RpfpNbrSgRpt, entry.HasRpfpNbrSgRpt = ZeroAddr, false
		return
	}
	entry.RpfpNbrSgRpt, entry.HasRpfpNbrSgRpt = wc.RpfpNbrWc, wc.HasRpfpNbrWc
}

func (e *Engine) recomputeRp(entry *PimMre) {
	rp, ok := e.rpTable.Find(entry.Group)
	if !ok {
		entry.HasRP = false
		return
	}
	entry.RP, entry.HasRP = rp.Addr, true
	e.tables.insertRP(rp.Addr)
}

func (e *Engine) transitionRP(entry *PimMre, now time.Time) {
	desired := entry.IsJoinDesiredRP()
	vif, _ := e.rpfInterfaceFor(entry.Group)
	nbr, _ := e.assertAwareNbr(entry, vif, entry.MribRp.NextHop, entry.HasMribRp)
	entry.TransitionUpstream(desired, entry.Group, e.assemblerFor(nbr), e.cfg.JoinPrunePeriod, e.cfg.JoinPruneHoldtime, now, e.sched)
}

func (e *Engine) transitionWC(entry *PimMre, now time.Time) {
	if !entry.HasRP {
		e.recomputeRp(entry)
		if rp := entry.rpEntry(); rp != nil {
			e.recomputeMribRp(rp)
			e.recomputeRpfpNbrWc(entry)
		}
	}
	ctx := e.buildUpstreamContext(entry)
	desired := entry.IsJoinDesiredWC(ctx)
	entry.TransitionUpstream(desired, entry.RP, e.assemblerFor(entry.RpfpNbrWc), e.cfg.JoinPrunePeriod, e.cfg.JoinPruneHoldtime, now, e.sched)
}

func (e *Engine) transitionSG(entry *PimMre, now time.Time) {
	ctx := e.buildUpstreamContext(entry)
	desired := entry.IsJoinDesiredSG(ctx)
	entry.TransitionUpstream(desired, entry.Source, e.assemblerFor(entry.RpfpNbrSg), e.cfg.JoinPrunePeriod, e.cfg.JoinPruneHoldtime, now, e.sched)
}

func (e *Engine) transitionSGRpt(entry *PimMre, now time.Time) {
	ctx := e.buildUpstreamContext(entry)
	pruneDesired := entry.IsPruneDesiredSGRpt(ctx)
	entry.TransitionSGRptUpstream(pruneDesired, entry.Source, e.assemblerFor(entry.RpfpNbrSgRpt), e.cfg.JoinPrunePeriod, e.cfg.JoinPruneHoldtime, now, e.sched)
}

func (e *Engine) recomputeCouldAssert(entry *PimMre) {
	e.mu.Lock()
	vifs := make([]int, 0, len(e.vifs))
	for v := range e.vifs {
		vifs = append(vifs, v)
	}
	e.mu.Unlock()

	switch entry.Variant {
	case VariantWC:
		rpAddr, _ := rpAddrOf(entry)
		rpfVif, _ := e.rpfInterfaceFor(rpAddr)
		for _, vif := range vifs {
			entry.couldAssert[vif] = entry.CouldAssertWC(vif, rpfVif)
		}
	case VariantSG:
		rpfVif, _ := e.rpfInterfaceFor(entry.Source)
		for _, vif := range vifs {
			entry.couldAssert[vif] = entry.CouldAssertSG(vif, rpfVif)
		}
	}
}

func (e *Engine) recomputeAssertTrackingDesired(entry *PimMre) {
	e.mu.Lock()
	vifs := make([]int, 0, len(e.vifs))
	for v := range e.vifs {
		vifs = append(vifs, v)
	}
	e.mu.Unlock()

	switch entry.Variant {
	case VariantWC:
		rpAddr, _ := rpAddrOf(entry)
		rpfVif, _ := e.rpfInterfaceFor(rpAddr)
		for _, vif := range vifs {
			entry.assertTrackingDesired[vif] = entry.AssertTrackingDesiredWC(vif, rpfVif)
		}
	case VariantSG:
		rpfVif, _ := e.rpfInterfaceFor(entry.Source)
		for _, vif := range vifs {
			entry.assertTrackingDesired[vif] = entry.AssertTrackingDesiredSG(vif, rpfVif)
		}
	}
}

func (e *Engine) recomputeAssertWinnerBetterThanSpt(entry *PimMre) {
	sptMetric := AssertMetric{Rpt: false, Preference: entry.sptPreference(), RouteMetric: entry.sptRouteMetric()}
	for vif, m := range entry.assertWinnerMetric {
		entry.assertWinnerBetterThanSpt[vif] = m.Better(sptMetric)
	}
}

// recomputeCouldRegister implements add_task_i_am_dr's SG-side effect:
// is_could_register_sg drives the Register sub-machine towards Join, and
// falls back to NoInfo once it stops holding (§4.4.5).
func (e *Engine) recomputeCouldRegister(entry *PimMre) {
	rpfVif, rpfOK := e.rpfInterfaceFor(entry.Source)
	isLocal := rpfOK && entry.HasMribS && entry.MribS.RouteMetric == 0
	iAmDRHere := rpfOK && e.iAmDR.Has(rpfVif)
	desired := entry.IsCouldRegisterSG(isLocal, iAmDRHere, rpfOK)
	switch {
	case desired:
		entry.RegisterTransitionJoin()
	case entry.Register == RegisterJoin:
		entry.Register = RegisterNoInfo
	}
}

// checkSwitchToSpt is only scheduled once RecordTraffic has already observed
// a threshold crossing, so the crossing itself is always true here.
func (e *Engine) checkSwitchToSpt(entry *PimMre) {
	entry.CheckSwitchToSptSG(true, e.sched)
}

// --- MFC dispatch ---

func (e *Engine) actOnMfc(m *PimMfc, actions []trackEntry) {
	for _, a := range actions {
		switch a.Output {
		case OutputIifOlistMfc:
			e.recomputeMfc(m)
		case OutputRpMfc:
			rpAddr, _ := e.rpAddrForGroup(m.SourceGroup.Group)
			m.Rp = rpAddr
		case OutputSptSwitchThresholdChangedMfc:
			e.installThreshold(m)
		}
	}
}

func (e *Engine) recomputeMfc(m *PimMfc) {
	sg := e.tables.FindSG(m.SourceGroup)
	wc := e.tables.FindWC(m.SourceGroup.Group)
	sgRpt := e.tables.FindSGRpt(m.SourceGroup)

	rpfInterfaceS, _ := e.rpfInterfaceFor(m.SourceGroup.Source)
	rpAddr, _ := e.rpAddrForGroup(m.SourceGroup.Group)
	rpfInterfaceRp, _ := e.rpfInterfaceFor(rpAddr)

	m.Recompute(MfcContext{
		SG:             sg,
		WC:             wc,
		RpfInterfaceS:  rpfInterfaceS,
		RpfInterfaceRp: rpfInterfaceRp,
		IAmDR:          e.iAmDR,
	}, sgRpt)
	m.Rp = rpAddr

	if m.Oifs.None() && sg == nil && wc == nil {
		if err := e.programmer.RemoveMfc(m.SourceGroup); err != nil {
			e.cfg.Log.Error("failed to remove mfc", "sg", m.SourceGroup.String(), "error", err)
			return
		}
		metricMfcRemoved.Inc()
		e.tables.removeMfc(m.SourceGroup)
		return
	}
	if err := e.programmer.ProgramMfc(m.SourceGroup, m.Iif, m.Oifs, rpAddr); err != nil {
		e.cfg.Log.Error("failed to program mfc", "sg", m.SourceGroup.String(), "error", err)
		return
	}
	metricMfcProgrammed.Inc()
}

func (e *Engine) installThreshold(m *PimMfc) {
	if e.cfg.SptSwitchThreshold == nil {
		return
	}
	m.Threshold = e.cfg.SptSwitchThreshold
	if err := e.programmer.InstallDataflowThreshold(m.SourceGroup, *e.cfg.SptSwitchThreshold); err != nil {
		e.cfg.Log.Error("failed to install dataflow threshold", "sg", m.SourceGroup.String(), "error", err)
	}
}

// RecordTraffic accumulates one data packet against sg's dataflow monitor,
// and schedules a was_switch_to_spt_desired_sg task the moment the
// configured threshold crosses (§4.4.6, §6.3).
func (e *Engine) RecordTraffic(sg SourceGroup, bytes uint64) {
	m := e.tables.insertMfc(sg)
	m.RecordTraffic(bytes)
	if m.Threshold != nil && m.CrossedThreshold(e.now()) {
		e.AddTaskWasSwitchToSptDesiredSG(sg)
	}
}

// ===========================================================================
// Upward API (§6.2)
// ===========================================================================

func (e *Engine) AddTaskRPChanged(rp Addr) {
	e.sched.AddTask(InputRPChanged, newRPSelector(rp, e.tables))
	e.sched.AddMfcTask(InputRPChanged, e.allMfcEntries()...)
}

// AddTaskMribChanged stages mrib for insertion and schedules every entry for
// recomputation. mrib.Prefix names the change; precise prefix-to-entry
// indexing is not implemented, so every entry is rescanned (correct, not
// maximally efficient — see DESIGN.md).
func (e *Engine) AddTaskMribChanged(mrib Mrib) {
	tid := uint64(e.now().UnixNano())
	e.mrib.Begin(tid)
	e.mrib.AddPendingInsert(tid, mrib)
	e.mrib.Commit(tid)
	e.sched.AddTask(InputMribChanged, e.allEntriesSelector())
	e.sched.AddMfcTask(InputMribChanged, e.allMfcEntries()...)
}

func (e *Engine) AddTaskDeleteMribEntries(prefix netip.Prefix) {
	tid := uint64(e.now().UnixNano())
	e.mrib.Begin(tid)
	e.mrib.AddPendingRemove(tid, prefix)
	e.mrib.Commit(tid)
	e.sched.AddTask(InputDeleteMribEntries, e.allEntriesSelector())
	e.sched.AddMfcTask(InputDeleteMribEntries, e.allMfcEntries()...)
}

func (e *Engine) AddTaskPimNbrChanged(nbr *PimNbr) {
	e.mu.Lock()
	e.nbrs[nbr.Addr] = nbr
	e.mu.Unlock()
	e.sched.AddTask(InputPimNbrChanged, e.allEntriesSelector())
}

func (e *Engine) AddTaskPimNbrGenIDChanged(nbr *PimNbr) {
	e.mu.Lock()
	e.nbrs[nbr.Addr] = nbr
	e.mu.Unlock()
	e.sched.AddTask(InputPimNbrGenIDChanged, e.allEntriesSelector())
}

func (e *Engine) AddTaskReceiveJoinRP(vif int, rp Addr, holdtime time.Duration) {
	e.tables.insertRP(rp).ReceiveJoin(vif, holdtime, e.now(), e.sched)
}

func (e *Engine) AddTaskReceiveJoinWC(vif int, group Addr, holdtime time.Duration) {
	e.tables.insertWC(group).ReceiveJoin(vif, holdtime, e.now(), e.sched)
}

func (e *Engine) AddTaskReceiveJoinSG(vif int, sg SourceGroup, holdtime time.Duration) {
	e.tables.insertSG(sg).ReceiveJoin(vif, holdtime, e.now(), e.sched)
}

func (e *Engine) AddTaskReceiveJoinSGRpt(vif int, sg SourceGroup, holdtime time.Duration) {
	e.tables.insertSGRpt(sg).ReceiveJoin(vif, holdtime, e.now(), e.sched)
}

func (e *Engine) AddTaskReceivePruneRP(vif int, rp Addr, overrideInterval time.Duration, multipleNeighbors bool) {
	e.tables.insertRP(rp).ReceivePrune(vif, overrideInterval, multipleNeighbors, e.now(), e.sched)
}

func (e *Engine) AddTaskReceivePruneWC(vif int, group Addr, overrideInterval time.Duration, multipleNeighbors bool) {
	e.tables.insertWC(group).ReceivePrune(vif, overrideInterval, multipleNeighbors, e.now(), e.sched)
}

func (e *Engine) AddTaskReceivePruneSG(vif int, sg SourceGroup, overrideInterval time.Duration, multipleNeighbors bool) {
	e.tables.insertSG(sg).ReceivePrune(vif, overrideInterval, multipleNeighbors, e.now(), e.sched)
}

func (e *Engine) AddTaskReceivePruneSGRpt(vif int, sg SourceGroup, overrideInterval time.Duration, multipleNeighbors bool) {
	e.tables.insertSGRpt(sg).ReceivePrune(vif, overrideInterval, multipleNeighbors, e.now(), e.sched)
}

// AddTaskSeePruneWC implements see_prune(*,G): an (S,G,rpt) Prune seen in the
// same message as a (*,G) Join is treated as a Prune on the (*,G) entry for
// LAN-suppression purposes (§4.4.1).
func (e *Engine) AddTaskSeePruneWC(vif int, group Addr, overrideInterval time.Duration, multipleNeighbors bool) {
	e.tables.insertWC(group).ReceivePrune(vif, overrideInterval, multipleNeighbors, e.now(), e.sched)
}

func (e *Engine) AddTaskReceiveEndOfMessageSGRpt(sg SourceGroup) {
	if entry := e.tables.FindSGRpt(sg); entry != nil {
		entry.ReceiveEndOfMessageSgRpt(e.sched)
	}
}

// MoveToTmpSGRpt implements the (*,G) Join + (S,G,rpt) Prune interaction:
// the caller moves vif's downstream state under the Tmp layer before it
// reapplies the (S,G,rpt) Prune, so ReceiveEndOfMessageSGRpt can revert it if
// no explicit Prune named this (S,G,rpt).
func (e *Engine) MoveToTmpSGRpt(sg SourceGroup, vif int) {
	if entry := e.tables.FindSGRpt(sg); entry != nil {
		entry.MoveToTmp(vif)
	}
}

func (e *Engine) FirePrunePendingTimerRP(vif int, rp Addr, multipleNeighbors bool) (pruneEcho bool) {
	if entry := e.tables.FindRP(rp); entry != nil {
		return entry.FirePrunePendingTimer(vif, multipleNeighbors, e.sched)
	}
	return false
}

func (e *Engine) FirePrunePendingTimerWC(vif int, group Addr, multipleNeighbors bool) (pruneEcho bool) {
	if entry := e.tables.FindWC(group); entry != nil {
		return entry.FirePrunePendingTimer(vif, multipleNeighbors, e.sched)
	}
	return false
}

func (e *Engine) FirePrunePendingTimerSG(vif int, sg SourceGroup, multipleNeighbors bool) (pruneEcho bool) {
	if entry := e.tables.FindSG(sg); entry != nil {
		return entry.FirePrunePendingTimer(vif, multipleNeighbors, e.sched)
	}
	return false
}

func (e *Engine) FirePrunePendingTimerSGRpt(vif int, sg SourceGroup, multipleNeighbors bool) (pruneEcho bool) {
	if entry := e.tables.FindSGRpt(sg); entry != nil {
		return entry.FirePrunePendingTimer(vif, multipleNeighbors, e.sched)
	}
	return false
}

func (e *Engine) FireExpiryTimerRP(vif int, rp Addr) {
	if entry := e.tables.FindRP(rp); entry != nil {
		entry.FireExpiryTimer(vif, e.sched)
	}
}

func (e *Engine) FireExpiryTimerWC(vif int, group Addr) {
	if entry := e.tables.FindWC(group); entry != nil {
		entry.FireExpiryTimer(vif, e.sched)
	}
}

func (e *Engine) FireExpiryTimerSG(vif int, sg SourceGroup) {
	if entry := e.tables.FindSG(sg); entry != nil {
		entry.FireExpiryTimer(vif, e.sched)
	}
}

func (e *Engine) FireExpiryTimerSGRpt(vif int, sg SourceGroup) {
	if entry := e.tables.FindSGRpt(sg); entry != nil {
		entry.FireExpiryTimer(vif, e.sched)
	}
}

func (e *Engine) AddTaskLocalReceiverIncludeWC(vif int, group Addr, present bool) {
	entry := e.tables.insertWC(group)
	entry.localReceiverInclude[vif] = present
	e.sched.AddTask(InputLocalReceiverIncludeWC, newAddrSelector(entry))
	e.sched.AddMfcTask(InputLocalReceiverIncludeWC, e.allMfcEntries()...)
}

func (e *Engine) AddTaskLocalReceiverIncludeSG(vif int, sg SourceGroup, present bool) {
	entry := e.tables.insertSG(sg)
	entry.localReceiverInclude[vif] = present
	e.sched.AddTask(InputLocalReceiverIncludeSG, newAddrSelector(entry))
	if m := e.tables.FindMfc(sg); m != nil {
		e.sched.AddMfcTask(InputLocalReceiverIncludeSG, m)
	}
}

func (e *Engine) AddTaskLocalReceiverExcludeWC(vif int, group Addr, present bool) {
	entry := e.tables.insertWC(group)
	entry.localReceiverExclude[vif] = present
	e.sched.AddTask(InputLocalReceiverExcludeWC, newAddrSelector(entry))
	e.sched.AddMfcTask(InputLocalReceiverExcludeWC, e.allMfcEntries()...)
}

func (e *Engine) AddTaskLocalReceiverExcludeSG(vif int, sg SourceGroup, present bool) {
	entry := e.tables.insertSG(sg)
	entry.localReceiverExclude[vif] = present
	e.sched.AddTask(InputLocalReceiverExcludeSG, newAddrSelector(entry))
	if m := e.tables.FindMfc(sg); m != nil {
		e.sched.AddMfcTask(InputLocalReceiverExcludeSG, m)
	}
}

// AddTaskAssertStateWC/SG process a received Assert message's metric against
// vif's assert machine and return which of RFC 4601's six actions fired, so
// the caller (wire layer) knows whether to transmit an Assert (§4.4.3, §6.3).
func (e *Engine) AddTaskAssertStateWC(vif int, group Addr, received AssertMetric) AssertAction {
	entry := e.tables.insertWC(group)
	rpAddr, _ := rpAddrOf(entry)
	rpfVif, _ := e.rpfInterfaceFor(rpAddr)
	could := entry.CouldAssertWC(vif, rpfVif)
	my := entry.MyAssertMetric(e.myAddr)
	action := entry.AssertProcess(vif, received, could, my, e.cfg.AssertTime, e.cfg.AssertOverrideInterval, e.now())
	e.countAssertSend(action)
	e.sched.AddTask(InputAssertStateWC, newAddrSelector(entry))
	// An assert winner change on the (*,G) entry can flip immediate_olist_sg
	// for every (S,G) under this group, so its MFC impact isn't confined to
	// one SourceGroup key; rescan all MFC entries rather than try to derive
	// the affected set here.
	e.sched.AddMfcTask(InputAssertStateWC, e.allMfcEntries()...)
	return action
}

func (e *Engine) AddTaskAssertStateSG(vif int, sg SourceGroup, received AssertMetric) AssertAction {
	entry := e.tables.insertSG(sg)
	rpfVif, _ := e.rpfInterfaceFor(sg.Source)
	could := entry.CouldAssertSG(vif, rpfVif)
	my := entry.MyAssertMetric(e.myAddr)
	action := entry.AssertProcess(vif, received, could, my, e.cfg.AssertTime, e.cfg.AssertOverrideInterval, e.now())
	e.countAssertSend(action)
	e.sched.AddTask(InputAssertStateSG, newAddrSelector(entry))
	if m := e.tables.FindMfc(sg); m != nil {
		e.sched.AddMfcTask(InputAssertStateSG, m)
	}
	return action
}

func (e *Engine) countAssertSend(action AssertAction) {
	switch action {
	case AssertActionA1SendAssertBecomeWinner, AssertActionA3RefreshWinner, AssertActionA6BecomeWinnerFromLoser:
		metricAssertsSent.Inc()
	}
}

func (e *Engine) FireAssertTimerWC(vif int, group Addr) (refresh bool) {
	entry := e.tables.FindWC(group)
	if entry == nil {
		return false
	}
	refresh = entry.FireAssertTimer(vif)
	if refresh {
		metricAssertsSent.Inc()
		e.sched.AddTask(InputAssertStateWC, newAddrSelector(entry))
	}
	return refresh
}

func (e *Engine) FireAssertTimerSG(vif int, sg SourceGroup) (refresh bool) {
	entry := e.tables.FindSG(sg)
	if entry == nil {
		return false
	}
	refresh = entry.FireAssertTimer(vif)
	if refresh {
		metricAssertsSent.Inc()
		e.sched.AddTask(InputAssertStateSG, newAddrSelector(entry))
	}
	return refresh
}

func (e *Engine) DataOnWrongIifSG(vif int, sg SourceGroup) (sendAssert bool) {
	entry := e.tables.FindSG(sg)
	if entry == nil {
		return false
	}
	return entry.DataOnWrongIif(vif, e.cfg.AssertRateLimit, e.now())
}

func (e *Engine) FireAssertsRateLimitTimerSG(vif int, sg SourceGroup) {
	if entry := e.tables.FindSG(sg); entry != nil {
		entry.FireAssertsRateLimitTimer(vif)
	}
}

func (e *Engine) AddTaskIAmDR(vif int, isDR bool) {
	e.mu.Lock()
	if isDR {
		e.iAmDR[vif] = true
	} else {
		delete(e.iAmDR, vif)
	}
	e.mu.Unlock()
	e.sched.AddTask(InputIAmDR, e.allEntriesSelector())
}

func (e *Engine) AddTaskMyIPAddress() {
	e.sched.AddTask(InputMyIPAddress, e.allEntriesSelector())
}

func (e *Engine) AddTaskMyIPSubnetAddress() {
	e.sched.AddTask(InputMyIPSubnetAddress, e.allEntriesSelector())
}

func (e *Engine) AddTaskSptSwitchThresholdChanged(t *DataflowThreshold) {
	e.cfg.SptSwitchThreshold = t
	e.sched.AddTask(InputSptSwitchThresholdChanged, e.allEntriesSelector())
	e.sched.AddMfcTask(InputSptSwitchThresholdChanged, e.allMfcEntries()...)
}

func (e *Engine) AddTaskWasSwitchToSptDesiredSG(sg SourceGroup) {
	if entry := e.tables.FindSG(sg); entry != nil {
		e.sched.AddTask(InputWasSwitchToSptDesiredSG, newAddrSelector(entry))
	}
}

func (e *Engine) AddTaskKeepaliveTimerSG(sg SourceGroup, running bool) {
	entry := e.tables.insertSG(sg)
	entry.keepaliveRunning = running
	e.sched.AddTask(InputKeepaliveTimerSG, newAddrSelector(entry))
}

func (e *Engine) AddTaskSptbitSG(sg SourceGroup, bit bool) {
	entry := e.tables.insertSG(sg)
	entry.SptBit = bit
	e.sched.AddTask(InputSptbitSG, newAddrSelector(entry))
	if m := e.tables.FindMfc(sg); m != nil {
		e.sched.AddMfcTask(InputSptbitSG, m)
	}
}

func (e *Engine) AddTaskStartVif(vif int) []ModifiedPrefix {
	e.mu.Lock()
	e.vifs[vif] = struct{}{}
	e.mu.Unlock()
	changed := e.mrib.SetVifUp(vif)
	e.sched.AddTask(InputStartVif, e.allEntriesSelector())
	return changed
}

func (e *Engine) AddTaskStopVif(vif int) {
	e.mu.Lock()
	delete(e.vifs, vif)
	delete(e.iAmDR, vif)
	e.mu.Unlock()
	e.sched.AddTask(InputStopVif, e.allEntriesSelector())
}

// AddTaskAddPimMre inserts a new entry of kind under the appropriate
// container (and, for (S,G)/(S,G,rpt), registers it in the RP's processing
// lists when an RP is already known for its group) and schedules the
// add_task_add_pim_mre recomputation (§4.6).
func (e *Engine) AddTaskAddPimMre(kind EntryKind, sg SourceGroup, rp Addr) *PimMre {
	var entry *PimMre
	switch kind {
	case EntryKindRp:
		entry = e.tables.insertRP(rp)
	case EntryKindWc:
		entry = e.tables.insertWC(sg.Group)
	case EntryKindSg:
		entry = e.tables.insertSG(sg)
		if r, ok := e.rpTable.Find(sg.Group); ok {
			e.rpTable.AddEntry(r.Addr, EntryKindSg, sg)
		}
	case EntryKindSgRpt:
		entry = e.tables.insertSGRpt(sg)
		if r, ok := e.rpTable.Find(sg.Group); ok {
			e.rpTable.AddEntry(r.Addr, EntryKindSgRpt, sg)
		}
	}
	if entry != nil {
		e.sched.AddTask(InputAddPimMre, newAddrSelector(entry))
	}
	return entry
}

func (e *Engine) AddTaskDeletePimMre(entry *PimMre) {
	if entry == nil {
		return
	}
	entry.entryTryRemove(e.sched)
	e.sched.AddTask(InputDeletePimMre, newAddrSelector(entry))
}

func (e *Engine) AddTaskDeletePimMfc(sg SourceGroup) {
	if m := e.tables.FindMfc(sg); m != nil {
		e.sched.AddMfcTask(InputDeletePimMfc, m)
	}
}

// --- Register sub-machine (§4.4.5, §6.3) ---

func (e *Engine) ReceiveRegisterStop(sg SourceGroup, holdtime time.Duration) {
	if entry := e.tables.FindSG(sg); entry != nil {
		entry.ReceiveRegisterStop(holdtime, e.now())
	}
}

func (e *Engine) FireRegisterStopTimer(sg SourceGroup) {
	if entry := e.tables.FindSG(sg); entry != nil {
		entry.FireRegisterStopTimer()
	}
}
