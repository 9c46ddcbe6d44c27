package pim

// The formulas below follow §4.4.4 exactly; each is a pure function of the
// entry's (and, where noted, its weakly-linked siblings') current bitsets.

func (e *PimMre) joinsRP() VifSet {
	return vifSetFromStateMap(e.downstream, DsJoin).Union(vifSetFromStateMap(e.downstream, DsPrunePending))
}

func (e *PimMre) joinsWC() VifSet {
	return vifSetFromStateMap(e.downstream, DsJoin).Union(vifSetFromStateMap(e.downstream, DsPrunePending))
}

func (e *PimMre) joinsSG() VifSet {
	return vifSetFromStateMap(e.downstream, DsJoin).Union(vifSetFromStateMap(e.downstream, DsPrunePending))
}

func (e *PimMre) prunesSGRpt() VifSet {
	return vifSetFromStateMap(e.downstream, DsPrune).Union(vifSetFromStateMap(e.downstreamTmp, DsPrune))
}

func (e *PimMre) lostAssertWC(rpfInterfaceRp int) VifSet {
	out := make(VifSet)
	for vif, s := range e.assertState {
		if s == AssertLoser && vif != rpfInterfaceRp {
			out[vif] = true
		}
	}
	return out
}

func (e *PimMre) lostAssertSG(rpfInterfaceS int) VifSet {
	out := make(VifSet)
	for vif, s := range e.assertState {
		if s != AssertLoser || vif == rpfInterfaceS {
			continue
		}
		winner, ok := e.assertWinnerMetric[vif]
		if !ok {
			continue
		}
		// "assert_winner_metric_sg > spt_assert_metric": the SPT-tree's own
		// route metric/preference, wrapped as a non-rpt AssertMetric.
		sptMetric := AssertMetric{Rpt: false, Preference: e.sptPreference(), RouteMetric: e.sptRouteMetric()}
		if winner.Better(sptMetric) {
			out[vif] = true
		}
	}
	return out
}

func (e *PimMre) lostAssertSGRpt(rpfInterfaceRp, rpfInterfaceS int) VifSet {
	out := make(VifSet)
	for vif, s := range e.assertState {
		if s != AssertLoser || vif == rpfInterfaceRp {
			continue
		}
		if e.SptBit && vif == rpfInterfaceS {
			continue
		}
		out[vif] = true
	}
	return out
}

func (e *PimMre) sptPreference() uint32 {
	if e.HasMribS {
		return e.MribS.MetricPreference
	}
	return 0
}

func (e *PimMre) sptRouteMetric() uint32 {
	if e.HasMribS {
		return e.MribS.RouteMetric
	}
	return 0
}

// pimIncludeWC/SG and pimExcludeSG combine DR/assert-winner membership with
// lost_assert and the local-receiver sets.
func (e *PimMre) pimIncludeWC(iAmDR VifSet, rpfInterfaceRp int) VifSet {
	winners := vifSetFromAssertState(e.assertState, AssertWinner)
	base := iAmDR.Union(winners).Minus(e.lostAssertWC(rpfInterfaceRp))
	return base.Intersect(vifSetFromBoolMap(e.localReceiverInclude))
}

func (e *PimMre) pimIncludeSG(iAmDR VifSet, rpfInterfaceS int) VifSet {
	winners := vifSetFromAssertState(e.assertState, AssertWinner)
	base := iAmDR.Union(winners).Minus(e.lostAssertSG(rpfInterfaceS))
	return base.Intersect(vifSetFromBoolMap(e.localReceiverInclude))
}

func (e *PimMre) pimExcludeSG(iAmDR VifSet, rpfInterfaceS int) VifSet {
	winners := vifSetFromAssertState(e.assertState, AssertWinner)
	base := iAmDR.Union(winners).Minus(e.lostAssertSG(rpfInterfaceS))
	return base.Intersect(vifSetFromBoolMap(e.localReceiverExclude))
}

func (e *PimMre) immediateOlistWC(iAmDR VifSet, rpfInterfaceRp int) VifSet {
	lost := e.lostAssertWC(rpfInterfaceRp)
	return e.joinsWC().Union(e.pimIncludeWC(iAmDR, rpfInterfaceRp)).Minus(lost)
}

func (e *PimMre) immediateOlistSG(iAmDR VifSet, rpfInterfaceS int) VifSet {
	lost := e.lostAssertSG(rpfInterfaceS)
	return e.joinsSG().Union(e.pimIncludeSG(iAmDR, rpfInterfaceS)).Minus(lost)
}

// inheritedOlistSGRpt combines this (S,G,rpt)'s own joinsRP/joinsWC/prunesSGRpt
// with the sibling (*,G)'s pim_include/exclude, per §4.4.4. wc and sg are
// the weakly-linked (*,G) and (S,G) siblings; either may be nil.
func (e *PimMre) inheritedOlistSGRpt(rp, wc, sg *PimMre, iAmDR VifSet, rpfInterfaceRp, rpfInterfaceS int) VifSet {
	var joinsRPSet, joinsWCSet VifSet = make(VifSet), make(VifSet)
	if rp != nil {
		joinsRPSet = rp.joinsRP()
	}
	if wc != nil {
		joinsWCSet = wc.joinsWC()
	}
	prunes := e.prunesSGRpt()

	left := joinsRPSet.Union(joinsWCSet).Minus(prunes)

	var pimIncludeWCSet, pimExcludeSGSet VifSet = make(VifSet), make(VifSet)
	if wc != nil {
		pimIncludeWCSet = wc.pimIncludeWC(iAmDR, rpfInterfaceRp)
	}
	if sg != nil {
		pimExcludeSGSet = sg.pimExcludeSG(iAmDR, rpfInterfaceS)
	}
	right := pimIncludeWCSet.Minus(pimExcludeSGSet)

	lostWC := make(VifSet)
	if wc != nil {
		lostWC = wc.lostAssertWC(rpfInterfaceRp)
	}
	lostSGRpt := e.lostAssertSGRpt(rpfInterfaceRp, rpfInterfaceS)

	return left.Union(right).Minus(lostWC.Union(lostSGRpt))
}

// inheritedOlistSG is inherited_olist_sg_rpt ∪ immediate_olist_sg. When no
// (S,G,rpt) sibling exists, its value is reconstructed inline from (*,G)
// and (*,*,RP), matching invariant §8.1 item 5.
func (e *PimMre) inheritedOlistSG(rp, wc, sgRpt *PimMre, iAmDR VifSet, rpfInterfaceRp, rpfInterfaceS int) VifSet {
	var sgRptOlist VifSet
	if sgRpt != nil {
		sgRptOlist = sgRpt.inheritedOlistSGRpt(rp, wc, e, iAmDR, rpfInterfaceRp, rpfInterfaceS)
	} else {
		synthetic := newPimMre(e.tables, VariantSGRpt, e.Source, e.Group)
		sgRptOlist = synthetic.inheritedOlistSGRpt(rp, wc, e, iAmDR, rpfInterfaceRp, rpfInterfaceS)
	}
	return sgRptOlist.Union(e.immediateOlistSG(iAmDR, rpfInterfaceS))
}
