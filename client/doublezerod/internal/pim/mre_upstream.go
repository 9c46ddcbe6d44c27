package pim

import "time"

// UpstreamContext carries the cross-entry inputs the upstream formulas need
// — resolved siblings and the interfaces RPF-towards-RP/RPF-towards-S
// currently sit on — so PimMre methods stay pure functions of explicit
// arguments rather than reaching into global state.
type UpstreamContext struct {
	RP    *PimMre
	WC    *PimMre
	SG    *PimMre
	SGRpt *PimMre

	IAmDR             VifSet
	RpfInterfaceRp    int
	RpfInterfaceS     int
	RpfpNbrWc         Addr
	RpfpNbrSg         Addr
	KeepaliveRunning  bool
}

// IsJoinDesiredRP implements is_join_desired_rp() = immediate_olist_rp().any(),
// which equals joins_rp() for the (*,*,RP) variant (no assert
// winner contribution at that level).
func (e *PimMre) IsJoinDesiredRP() bool {
	return e.joinsRP().Any()
}

// IsJoinDesiredWC implements is_join_desired_wc() (§4.4.2).
func (e *PimMre) IsJoinDesiredWC(ctx UpstreamContext) bool {
	if e.immediateOlistWC(ctx.IAmDR, ctx.RpfInterfaceRp).Any() {
		return true
	}
	if ctx.RP == nil || !ctx.RP.IsJoinDesiredRP() {
		return false
	}
	_, hasWinner := e.assertWinnerMetric[ctx.RpfInterfaceRp]
	return hasWinner
}

// IsJoinDesiredSG implements is_join_desired_sg() (§4.4.2).
func (e *PimMre) IsJoinDesiredSG(ctx UpstreamContext) bool {
	if e.immediateOlistSG(ctx.IAmDR, ctx.RpfInterfaceS).Any() {
		return true
	}
	if !ctx.KeepaliveRunning {
		return false
	}
	return e.inheritedOlistSG(ctx.RP, ctx.WC, ctx.SGRpt, ctx.IAmDR, ctx.RpfInterfaceRp, ctx.RpfInterfaceS).Any()
}

// IsRptJoinDesiredG reports whether the shared tree is desired for this
// (S,G,rpt)'s group — i.e. the sibling (*,G) wants to join the RP.
func (e *PimMre) IsRptJoinDesiredG(ctx UpstreamContext) bool {
	if ctx.WC == nil {
		return false
	}
	return ctx.WC.IsJoinDesiredWC(ctx)
}

// IsPruneDesiredSGRpt implements is_prune_desired_sg_rpt() (§4.4.2):
// is_rpt_join_desired_g() AND (inherited_olist_sg_rpt().none() OR (the
// corresponding (S,G)'s SPT bit is set AND rpfp_nbr_wc != rpfp_nbr_sg)).
func (e *PimMre) IsPruneDesiredSGRpt(ctx UpstreamContext) bool {
	if !e.IsRptJoinDesiredG(ctx) {
		return false
	}
	olist := e.inheritedOlistSGRpt(ctx.RP, ctx.WC, ctx.SG, ctx.IAmDR, ctx.RpfInterfaceRp, ctx.RpfInterfaceS)
	if olist.None() {
		return true
	}
	if ctx.SG != nil && ctx.SG.SptBit && ctx.RpfpNbrWc.Compare(ctx.RpfpNbrSg) != 0 {
		return true
	}
	return false
}

// TransitionUpstream recomputes the (*,*,RP)/(*,G)/(S,G) upstream
// NotJoined/Joined machine from the current is_join_desired_* value,
// emitting a Join/Prune via the assembler and arming join_timer on a
// Joined transition, per §4.4.2. target is the address carried in the
// join/prune source list (the RP for (*,*,RP)/(*,G), the source for
// (S,G)) — distinct from the RPF' neighbor the caller already resolved to
// pick the assembler.
func (e *PimMre) TransitionUpstream(joinDesired bool, target Addr, assembler *JoinPruneAssembler,
	joinPeriod, holdtime time.Duration, now time.Time, sched *Scheduler) {
	entryType := JpEntryType(e.Variant.Kind())
	switch {
	case joinDesired && e.Upstream == UsNotJoined:
		e.Upstream = UsJoined
		e.joinTimer = ifaceTimer{armed: true, deadline: now.Add(joinPeriod)}
		if assembler != nil {
			assembler.Add(e.Group, JpEntry{Target: target, MaskLen: fullMaskLen(target), Type: entryType, Action: JpActionJoin, Holdtime: holdtime}, false)
		}
	case !joinDesired && e.Upstream == UsJoined:
		e.Upstream = UsNotJoined
		e.joinTimer = ifaceTimer{}
		if assembler != nil {
			assembler.Add(e.Group, JpEntry{Target: target, MaskLen: fullMaskLen(target), Type: entryType, Action: JpActionPrune, Holdtime: holdtime}, false)
		}
		e.entryTryRemove(sched)
	case joinDesired && e.Upstream == UsJoined:
		// periodic refresh: join_timer firing re-sends Join and rearms.
		if assembler != nil {
			assembler.Add(e.Group, JpEntry{Target: target, MaskLen: fullMaskLen(target), Type: entryType, Action: JpActionJoin, Holdtime: holdtime}, false)
		}
		e.joinTimer = ifaceTimer{armed: true, deadline: now.Add(joinPeriod)}
	}
}

func fullMaskLen(a Addr) int {
	if a.Is6() {
		return 128
	}
	return 32
}
