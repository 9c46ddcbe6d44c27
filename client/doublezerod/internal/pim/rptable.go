package pim

// EntryKind distinguishes the five MRE/MFC containers an RP's processing
// lists are split into (§4.2, §4.8).
type EntryKind uint8

const (
	EntryKindRp EntryKind = iota
	EntryKindWc
	EntryKindSg
	EntryKindSgRpt
	EntryKindMfc
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindRp:
		return "rp"
	case EntryKindWc:
		return "wc"
	case EntryKindSg:
		return "sg"
	case EntryKindSgRpt:
		return "sg_rpt"
	case EntryKindMfc:
		return "mfc"
	default:
		return "unknown"
	}
}

// rpLists holds, for one RP, the five kind-keyed membership lists plus
// their transient "processing" counterparts used for time-sliced draining.
type rpLists struct {
	live       [5][]SourceGroup
	processing [5][]SourceGroup
}

// RpTable maps groups to their elected RP (externally supplied, since
// BSR/RP-Set election is out of scope, §1) and, for each RP,
// maintains the five processing lists described in §4.2: when a task
// targets "all entries of kind K bound to RP X" it transfers the live list
// into a processing list with InitProcessing, then drains it one entry at a
// time with NextProcessing so a time-sliced interruption leaves exactly the
// remaining work in the processing list.
type RpTable struct {
	rps  []PimRp
	byRp map[Addr]*rpLists
}

func NewRpTable() *RpTable {
	return &RpTable{byRp: make(map[Addr]*rpLists)}
}

// SetRpSet replaces the candidate-RP set, as delivered by the out-of-scope
// BSR/RP-Set election subsystem.
func (t *RpTable) SetRpSet(rps []PimRp) {
	t.rps = rps
}

// Find returns the currently elected RP for group: the most specific
// GroupPrefix match among the configured candidate RPs.
func (t *RpTable) Find(group Addr) (PimRp, bool) {
	best := -1
	bestBits := -1
	for i, rp := range t.rps {
		if !rp.GroupPrefix.Contains(group.Netip()) {
			continue
		}
		if rp.GroupPrefix.Bits() > bestBits {
			bestBits = rp.GroupPrefix.Bits()
			best = i
		}
	}
	if best < 0 {
		return PimRp{}, false
	}
	return t.rps[best], true
}

func (t *RpTable) lists(rp Addr) *rpLists {
	l, ok := t.byRp[rp]
	if !ok {
		l = &rpLists{}
		t.byRp[rp] = l
	}
	return l
}

// AddEntry registers sg under rp's kind-K live list.
func (t *RpTable) AddEntry(rp Addr, kind EntryKind, sg SourceGroup) {
	l := t.lists(rp)
	l.live[kind] = append(l.live[kind], sg)
}

// RemoveEntry removes sg from both the live and processing lists for rp/kind.
func (t *RpTable) RemoveEntry(rp Addr, kind EntryKind, sg SourceGroup) {
	l, ok := t.byRp[rp]
	if !ok {
		return
	}
	l.live[kind] = removeSg(l.live[kind], sg)
	l.processing[kind] = removeSg(l.processing[kind], sg)
}

func removeSg(list []SourceGroup, sg SourceGroup) []SourceGroup {
	for i, e := range list {
		if e == sg {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// InitProcessing moves rp's entire kind-K live list into the processing
// list, leaving the live list empty. Entries already mid-processing (not
// yet pulled back via NextProcessing from a prior slice) are preserved: a
// second InitProcessing call appends rather than discarding.
func (t *RpTable) InitProcessing(rp Addr, kind EntryKind) {
	l := t.lists(rp)
	l.processing[kind] = append(l.processing[kind], l.live[kind]...)
	l.live[kind] = nil
}

// NextProcessing pulls one entry off rp's kind-K processing list, moving it
// back onto the live list (since it is "processed" once a task visits it),
// and returns it. ok is false once the processing list is drained.
func (t *RpTable) NextProcessing(rp Addr, kind EntryKind) (sg SourceGroup, ok bool) {
	l, exists := t.byRp[rp]
	if !exists || len(l.processing[kind]) == 0 {
		return SourceGroup{}, false
	}
	sg = l.processing[kind][0]
	l.processing[kind] = l.processing[kind][1:]
	l.live[kind] = append(l.live[kind], sg)
	return sg, true
}

// ProcessingRemaining reports how many entries remain in rp's kind-K
// processing list, i.e. how much work a time-sliced drain has left.
func (t *RpTable) ProcessingRemaining(rp Addr, kind EntryKind) int {
	l, ok := t.byRp[rp]
	if !ok {
		return 0
	}
	return len(l.processing[kind])
}
