package pim

import "time"

// ReceiveJoin implements the downstream Join/Prune machine's receive_join
// transition (§4.4.1): NoInfo→Join (start expiry=holdtime); Join→Join
// (refresh expiry only if larger, i.e. monotonic refresh); PrunePending→Join
// (cancel prune-pending, refresh expiry).
func (e *PimMre) ReceiveJoin(vif int, holdtime time.Duration, now time.Time, sched *Scheduler) {
	state := e.downstream[vif]
	newDeadline := now.Add(holdtime)

	switch state {
	case DsNoInfo:
		e.setDownstream(vif, DsJoin)
		e.expiryTimer[vif] = ifaceTimer{armed: true, deadline: newDeadline}
	case DsJoin:
		cur, ok := e.expiryTimer[vif]
		if !ok || newDeadline.After(cur.deadline) {
			e.expiryTimer[vif] = ifaceTimer{armed: true, deadline: newDeadline}
		}
	case DsPrunePending:
		e.setDownstream(vif, DsJoin)
		delete(e.prunePendingTimer, vif)
		e.expiryTimer[vif] = ifaceTimer{armed: true, deadline: newDeadline}
	case DsPrune:
		e.setDownstream(vif, DsJoin)
		e.expiryTimer[vif] = ifaceTimer{armed: true, deadline: newDeadline}
	}
	e.postDownstreamTask(sched)
}

// ReceivePrune implements receive_prune (§4.4.1): Join→PrunePending, with
// the prune-pending duration set to the J/P override interval when more
// than one neighbor is present on the interface (so a peer that still wants
// to receive can override before we actually prune), else zero.
func (e *PimMre) ReceivePrune(vif int, overrideInterval time.Duration, multipleNeighbors bool, now time.Time, sched *Scheduler) {
	state := e.downstream[vif]
	switch state {
	case DsJoin:
		d := time.Duration(0)
		if multipleNeighbors {
			d = overrideInterval
		}
		e.setDownstream(vif, DsPrunePending)
		e.prunePendingTimer[vif] = ifaceTimer{armed: true, deadline: now.Add(d)}
	case DsPrunePending:
		// unchanged
	case DsNoInfo:
		// ignored
	}
	e.postDownstreamTask(sched)
}

// FirePrunePendingTimer implements the prune_pending_timer expiry (§4.4.1):
// the interface moves to NoInfo, and if more than one neighbor remains on
// it, a PruneEcho is emitted to keep LAN suppression in effect.
func (e *PimMre) FirePrunePendingTimer(vif int, multipleNeighbors bool, sched *Scheduler) (pruneEcho bool) {
	if e.downstream[vif] != DsPrunePending {
		return false
	}
	e.setDownstream(vif, DsNoInfo)
	delete(e.prunePendingTimer, vif)
	delete(e.expiryTimer, vif)
	e.postDownstreamTask(sched)
	return multipleNeighbors
}

// FireExpiryTimer implements expiry_timer firing: the interface drops to
// NoInfo.
func (e *PimMre) FireExpiryTimer(vif int, sched *Scheduler) {
	e.setDownstream(vif, DsNoInfo)
	delete(e.expiryTimer, vif)
	e.postDownstreamTask(sched)
}

// setDownstream flips vif's state, clearing every sibling encoding for that
// interface atomically (§3.3, §9): this representation stores one state
// value per interface, so "atomic" reduces to a single map write.
func (e *PimMre) setDownstream(vif int, s DownstreamState) {
	e.downstream[vif] = s
}

func (e *PimMre) postDownstreamTask(sched *Scheduler) {
	if sched == nil {
		return
	}
	sched.AddTask(e.downstreamInputState(), newAddrSelector(e))
	if e.tables == nil {
		return
	}
	if e.Variant == VariantSG {
		if m := e.tables.FindMfc(e.sourceGroup()); m != nil {
			sched.AddMfcTask(e.downstreamInputState(), m)
		}
		return
	}
	// A (*,*,RP)/(*,G)/(S,G,rpt) downstream change can shift inherited_olist
	// for every (S,G) under the affected group, so its MFC impact isn't
	// confined to one SourceGroup key; rescan every MFC entry.
	if mfcs := e.tables.allMfc(); len(mfcs) > 0 {
		sched.AddMfcTask(e.downstreamInputState(), mfcs...)
	}
}

func (e *PimMre) downstreamInputState() InputState {
	switch e.Variant {
	case VariantRP:
		return InputDownstreamJPStateRP
	case VariantWC:
		return InputDownstreamJPStateWC
	case VariantSG:
		return InputDownstreamJPStateSG
	case VariantSGRpt:
		return InputDownstreamJPStateSGRpt
	default:
		return InputDownstreamJPStateWC
	}
}

// ReceiveEndOfMessageSgRpt reverts any (S,G,rpt) entries moved to the Tmp
// layer during this J/P message if no explicit (S,G,rpt) Prune for them was
// present in the same message (§4.4.1).
func (e *PimMre) ReceiveEndOfMessageSgRpt(sched *Scheduler) {
	if e.Variant != VariantSGRpt {
		return
	}
	for vif, tmp := range e.downstreamTmp {
		e.setDownstream(vif, tmp)
	}
	e.downstreamTmp = make(map[int]DownstreamState)
	e.postDownstreamTask(sched)
}

// MoveToTmp records vif's current state into the (S,G,rpt) Tmp layer: used
// when a (*,G) Join is seen together with an (S,G,rpt) Prune in the same
// message (§4.4.1).
func (e *PimMre) MoveToTmp(vif int) {
	if e.Variant != VariantSGRpt {
		return
	}
	e.downstreamTmp[vif] = e.downstream[vif]
}
