package pim

import "time"

// MfcProgrammer is the injected downward-API interface that actually
// touches the kernel/forwarding-plane MFC (§6.3). The engine never calls
// kernel syscalls directly, matching netlink.Netlinker's injected-interface
// pattern so the core stays a pure consumer.
type MfcProgrammer interface {
	ProgramMfc(sg SourceGroup, iif int, oifs VifSet, rp Addr) error
	RemoveMfc(sg SourceGroup) error
	InstallDataflowThreshold(sg SourceGroup, t DataflowThreshold) error
}

// PimMfc is the forwarding-plane mirror of one (S,G)'s selected outbound
// interface set (C5, §4.5).
type PimMfc struct {
	SourceGroup SourceGroup

	Iif  int
	Oifs VifSet
	Rp   Addr

	Threshold *DataflowThreshold

	Packets uint64
	Bytes   uint64
	lastReset time.Time

	IsTaskDeletePending bool
}

func newPimMfc(sg SourceGroup) *PimMfc {
	return &PimMfc{SourceGroup: sg, Oifs: make(VifSet)}
}

// MfcContext carries the information Recompute needs about the (S,G) and
// (*,G) RPF state, mirroring UpstreamContext for the olist formulas.
type MfcContext struct {
	SG            *PimMre
	WC            *PimMre
	RpfInterfaceS int
	RpfInterfaceRp int
	IAmDR         VifSet
}

// Recompute implements §4.5's derivation:
//
//	iif = rpf_interface_s if (SPT bit OR no matching (*,G)) else rpf_interface_rp
//	oifs = inherited_olist_sg if SPT else inherited_olist_sg_rpt_forward
func (m *PimMfc) Recompute(ctx MfcContext, sgRpt *PimMre) {
	spt := ctx.SG != nil && ctx.SG.SptBit
	if spt || ctx.WC == nil {
		m.Iif = ctx.RpfInterfaceS
	} else {
		m.Iif = ctx.RpfInterfaceRp
	}

	if ctx.SG == nil {
		m.Oifs = make(VifSet)
		return
	}
	if spt {
		m.Oifs = ctx.SG.inheritedOlistSG(nil, ctx.WC, sgRpt, ctx.IAmDR, ctx.RpfInterfaceRp, ctx.RpfInterfaceS)
		return
	}
	if sgRpt != nil {
		m.Oifs = sgRpt.inheritedOlistSGRpt(nil, ctx.WC, ctx.SG, ctx.IAmDR, ctx.RpfInterfaceRp, ctx.RpfInterfaceS)
		return
	}
	synthetic := newPimMre(ctx.SG.tables, VariantSGRpt, ctx.SG.Source, ctx.SG.Group)
	m.Oifs = synthetic.inheritedOlistSGRpt(nil, ctx.WC, ctx.SG, ctx.IAmDR, ctx.RpfInterfaceRp, ctx.RpfInterfaceS)
}

// CrossedThreshold reports whether the accumulated packets/bytes since the
// last reset satisfy m.Threshold's operator, and resets the counters.
func (m *PimMfc) CrossedThreshold(now time.Time) bool {
	if m.Threshold == nil {
		return false
	}
	if now.Sub(m.lastReset) < m.Threshold.Interval {
		return false
	}
	crossed := false
	switch m.Threshold.Operator {
	case ThresholdGE:
		crossed = m.Packets >= m.Threshold.Packets || m.Bytes >= m.Threshold.Bytes
	case ThresholdLE:
		crossed = m.Packets <= m.Threshold.Packets && m.Bytes <= m.Threshold.Bytes
	}
	m.Packets = 0
	m.Bytes = 0
	m.lastReset = now
	return crossed
}

// RecordTraffic accumulates one data packet's size for dataflow monitoring.
func (m *PimMfc) RecordTraffic(bytes uint64) {
	m.Packets++
	m.Bytes += bytes
}
