package pim

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Variant is the mutually-exclusive type tag an MRE entry carries (§3.1).
// Setting one variant bit clears the others; in this representation the
// variant is fixed at construction instead of a mutable flag set, which
// gives the same exclusivity guarantee without a separate invariant check.
type Variant uint8

const (
	VariantRP Variant = iota
	VariantWC
	VariantSG
	VariantSGRpt
)

func (v Variant) String() string {
	switch v {
	case VariantRP:
		return "(*,*,RP)"
	case VariantWC:
		return "(*,G)"
	case VariantSG:
		return "(S,G)"
	case VariantSGRpt:
		return "(S,G,rpt)"
	default:
		return "unknown"
	}
}

func (v Variant) Kind() EntryKind {
	switch v {
	case VariantRP:
		return EntryKindRp
	case VariantWC:
		return EntryKindWc
	case VariantSG:
		return EntryKindSg
	case VariantSGRpt:
		return EntryKindSgRpt
	default:
		return EntryKindRp
	}
}

// DownstreamState is the per-interface Join/Prune state a downstream
// machine sits in (§4.4.1).
type DownstreamState uint8

const (
	DsNoInfo DownstreamState = iota
	DsJoin
	DsPrunePending
	DsPrune
)

// UpstreamState covers the (*,*,RP)/(*,G)/(S,G) upstream machine.
type UpstreamState uint8

const (
	UsNotJoined UpstreamState = iota
	UsJoined
)

// SgRptUpstreamState covers the three-valued (S,G,rpt) upstream machine.
type SgRptUpstreamState uint8

const (
	SgRptNotJoined SgRptUpstreamState = iota
	SgRptPruned
	SgRptNotPruned
)

// RegisterState is the (S,G)-only Register sub-machine (§4.4.5).
type RegisterState uint8

const (
	RegisterNoInfo RegisterState = iota
	RegisterJoin
	RegisterPrune
	RegisterJoinPending
)

// AssertState is the per-interface Assert machine (§4.4.3).
type AssertState uint8

const (
	AssertNoInfo AssertState = iota
	AssertWinner
	AssertLoser
)

// ifaceTimer is a single deadline, armed/unarmed independently of the
// wall clock so tests can drive it with clockwork.
type ifaceTimer struct {
	armed    bool
	deadline time.Time
}

// PimMre is one entry of exactly one variant (§3.1, §3.2). (S,G) and
// (S,G,rpt) share a key but are distinct entries living in distinct
// MrtTables containers; cross-links between entries are weak — they are
// key/addr pairs resolved through the owning tables on demand, never raw
// pointers (§9 "Cyclic cross-references").
type PimMre struct {
	tables *MrtTables

	Variant Variant
	Source  Addr // ZeroAddr for (*,G) and (*,*,RP)
	Group   Addr // the RP address for (*,*,RP)

	RP      Addr
	HasRP   bool

	MribRp   Mrib
	HasMribRp bool
	MribS    Mrib
	HasMribS bool

	// RpfpNbrWc/Sg/SgRpt are the RPF' neighbors accounting for Assert
	// winners on the respective interface.
	RpfpNbrWc    Addr
	HasRpfpNbrWc bool
	RpfpNbrSg    Addr
	HasRpfpNbrSg bool
	RpfpNbrSgRpt Addr
	HasRpfpNbrSgRpt bool

	downstream      map[int]DownstreamState
	downstreamTmp   map[int]DownstreamState // (S,G,rpt) PruneTmp/PrunePendingTmp layer
	processedWcBySgRpt map[int]bool

	localReceiverInclude map[int]bool
	localReceiverExclude map[int]bool

	assertState       map[int]AssertState
	assertWinnerMetric map[int]AssertMetric
	couldAssert        map[int]bool
	assertTrackingDesired map[int]bool
	assertWinnerBetterThanSpt map[int]bool
	assertsRateLimit   map[int]bool

	expiryTimer       map[int]ifaceTimer
	prunePendingTimer map[int]ifaceTimer
	assertTimer       map[int]ifaceTimer
	assertsRateLimitTimer map[int]ifaceTimer

	Upstream     UpstreamState
	SgRptUpstream SgRptUpstreamState

	joinTimer ifaceTimer // overloaded as override_timer for (S,G,rpt)

	Register           RegisterState
	registerStopTimer  ifaceTimer
	keepaliveTimer     ifaceTimer
	keepaliveRunning   bool

	SptBit bool

	Tags PolicyTags

	IsTaskDeletePending bool
	IsTaskDeleteDone    bool

	// missingBackoff tracks the retry delay for Engine.pollMissing while this
	// entry is stuck on MissingRpfNeighbor/MissingRp; nil once resolved.
	missingBackoff *backoff.ExponentialBackOff
}

func newPimMre(tables *MrtTables, variant Variant, source, group Addr) *PimMre {
	return &PimMre{
		tables:               tables,
		Variant:              variant,
		Source:               source,
		Group:                group,
		downstream:           make(map[int]DownstreamState),
		downstreamTmp:        make(map[int]DownstreamState),
		processedWcBySgRpt:   make(map[int]bool),
		localReceiverInclude: make(map[int]bool),
		localReceiverExclude: make(map[int]bool),
		assertState:          make(map[int]AssertState),
		assertWinnerMetric:   make(map[int]AssertMetric),
		couldAssert:          make(map[int]bool),
		assertTrackingDesired: make(map[int]bool),
		assertWinnerBetterThanSpt: make(map[int]bool),
		assertsRateLimit:     make(map[int]bool),
		expiryTimer:          make(map[int]ifaceTimer),
		prunePendingTimer:    make(map[int]ifaceTimer),
		assertTimer:          make(map[int]ifaceTimer),
		assertsRateLimitTimer: make(map[int]ifaceTimer),
	}
}

func (e *PimMre) sourceGroup() SourceGroup { return SourceGroup{Source: e.Source, Group: e.Group} }

// wcEntry resolves the (*,G) sibling of an (S,G)/(S,G,rpt) entry, or self
// if e already is the (*,G) entry. Returns nil if none exists yet — a
// cache miss that is always safe to retry via table lookup.
func (e *PimMre) wcEntry() *PimMre {
	if e.Variant == VariantWC {
		return e
	}
	if e.tables == nil {
		return nil
	}
	return e.tables.FindWC(e.Group)
}

// rpEntry resolves the (*,*,RP) entry for e's current RP binding. Falls
// through e's own wc entry when e has no direct RP link, matching the XORP
// fallback semantics (pim_mre.hh rp_entry()).
func (e *PimMre) rpEntry() *PimMre {
	if e.Variant == VariantRP {
		return e
	}
	if !e.HasRP || e.tables == nil {
		if wc := e.wcEntry(); wc != nil && wc != e {
			return wc.rpEntry()
		}
		return nil
	}
	return e.tables.FindRP(e.RP)
}

func (e *PimMre) sgEntry() *PimMre {
	if e.Variant == VariantSG {
		return e
	}
	if e.tables == nil {
		return nil
	}
	return e.tables.FindSG(e.sourceGroup())
}

func (e *PimMre) sgRptEntry() *PimMre {
	if e.Variant == VariantSGRpt {
		return e
	}
	if e.tables == nil {
		return nil
	}
	return e.tables.FindSGRpt(e.sourceGroup())
}

// entryCanRemove implements §3.3's entry_can_remove predicate.
func (e *PimMre) entryCanRemove() bool {
	for _, s := range e.downstream {
		if s != DsNoInfo {
			return false
		}
	}
	if e.Upstream != UsNotJoined && e.Variant != VariantSGRpt {
		return false
	}
	if e.Variant == VariantSGRpt && e.SgRptUpstream != SgRptNotJoined {
		return false
	}
	if e.Register != RegisterNoInfo {
		return false
	}
	if e.keepaliveRunning || e.assertTimerRunningAny() {
		return false
	}
	for _, v := range e.localReceiverInclude {
		if v {
			return false
		}
	}
	for _, v := range e.localReceiverExclude {
		if v {
			return false
		}
	}
	return true
}

func (e *PimMre) assertTimerRunningAny() bool {
	for _, t := range e.assertTimer {
		if t.armed {
			return true
		}
	}
	return false
}

// entryTryRemove schedules a delete task rather than dropping the entry
// directly (§3.3), so tasks already iterating over it can finish. The
// actual removal is carried out by the scheduler's delete phase (§4.8).
func (e *PimMre) entryTryRemove(sched *Scheduler) bool {
	if !e.entryCanRemove() {
		return false
	}
	if e.IsTaskDeletePending {
		return true
	}
	e.IsTaskDeletePending = true
	if e.tables != nil {
		e.tables.remove(e)
	}
	if sched != nil {
		sched.enqueueDelete(e)
	}
	return true
}
