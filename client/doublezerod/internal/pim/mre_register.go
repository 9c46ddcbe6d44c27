package pim

import "time"

// TransitionSGRptUpstream recomputes the three-valued (S,G,rpt) upstream
// machine {RPTNotJoined, Pruned, NotPruned} from IsPruneDesiredSGRpt,
// emitting Join/Prune for target (the source address) via assembler
// (§4.4.2).
func (e *PimMre) TransitionSGRptUpstream(pruneDesired bool, target Addr, assembler *JoinPruneAssembler,
	period, holdtime time.Duration, now time.Time, sched *Scheduler) {
	switch {
	case pruneDesired && e.SgRptUpstream != SgRptPruned:
		e.SgRptUpstream = SgRptPruned
		if assembler != nil {
			assembler.Add(e.Group, JpEntry{Target: target, MaskLen: fullMaskLen(target), Type: JpEntrySgRpt, Action: JpActionPrune, Holdtime: holdtime}, false)
		}
	case !pruneDesired && e.SgRptUpstream == SgRptPruned:
		e.SgRptUpstream = SgRptNotPruned
		if assembler != nil {
			assembler.Add(e.Group, JpEntry{Target: target, MaskLen: fullMaskLen(target), Type: JpEntrySgRpt, Action: JpActionJoin, Holdtime: holdtime}, false)
		}
		e.entryTryRemove(sched)
	}
	e.joinTimer = ifaceTimer{armed: true, deadline: now.Add(period)}
}

// IsCouldRegisterSG implements is_could_register_sg (§4.4.5): the source
// must be directly connected via a local RPF interface where we are DR,
// with keepalive running.
func (e *PimMre) IsCouldRegisterSG(rpfInterfaceSIsLocal, iAmDRHere, directlyConnectedS bool) bool {
	return rpfInterfaceSIsLocal && iAmDRHere && e.keepaliveRunning && directlyConnectedS
}

// RegisterTransitionJoin moves the Register sub-machine into Join when
// is_could_register_sg becomes true — the register-tunnel virtual
// interface is registered as a side effect by the caller (downward API,
// §6.3), not by this method.
func (e *PimMre) RegisterTransitionJoin() {
	if e.Register == RegisterNoInfo || e.Register == RegisterJoinPending {
		e.Register = RegisterJoin
	}
}

// ReceiveRegisterStop implements receive_register_stop (§4.4.5): Join moves
// to Prune and the register-stop timer starts.
func (e *PimMre) ReceiveRegisterStop(holdtime time.Duration, now time.Time) {
	if e.Register == RegisterJoin {
		e.Register = RegisterPrune
		e.registerStopTimer = ifaceTimer{armed: true, deadline: now.Add(holdtime)}
	}
}

// FireRegisterStopTimer moves Prune back to JoinPending so the next data
// packet re-triggers a Register, per RFC 4601 §4.4.1.
func (e *PimMre) FireRegisterStopTimer() {
	if e.Register == RegisterPrune {
		e.Register = RegisterJoinPending
		e.registerStopTimer = ifaceTimer{}
	}
}

// CheckSwitchToSptSG implements check_switch_to_spt_sg (§4.4.6): once the
// dataflow has crossed threshold, the SPT bit is set and dependents
// recompute. Returns true if the bit transitioned.
func (e *PimMre) CheckSwitchToSptSG(thresholdCrossed bool, sched *Scheduler) bool {
	if !thresholdCrossed || e.SptBit {
		return false
	}
	e.SptBit = true
	if sched != nil {
		sched.AddTask(InputSptbitSG, newAddrSelector(e))
	}
	return true
}
