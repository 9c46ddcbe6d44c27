package pim

import "sort"

// MrtTables owns every PimMre/PimMfc entry (C6, §5 "Resource ownership").
// Four MRE containers keyed as §3.1 describes, plus one MFC
// container keyed by (S,G). All cross-entry references elsewhere in the
// package are non-owning lookups against these maps.
type MrtTables struct {
	rp    map[Addr]*PimMre
	wc    map[Addr]*PimMre
	sg    map[SourceGroup]*PimMre
	sgRpt map[SourceGroup]*PimMre
	mfc   map[SourceGroup]*PimMfc

	rpTable *RpTable
}

func NewMrtTables(rpTable *RpTable) *MrtTables {
	return &MrtTables{
		rp:      make(map[Addr]*PimMre),
		wc:      make(map[Addr]*PimMre),
		sg:      make(map[SourceGroup]*PimMre),
		sgRpt:   make(map[SourceGroup]*PimMre),
		mfc:     make(map[SourceGroup]*PimMfc),
		rpTable: rpTable,
	}
}

func (t *MrtTables) FindRP(rp Addr) *PimMre         { return t.rp[rp] }
func (t *MrtTables) FindWC(group Addr) *PimMre       { return t.wc[group] }
func (t *MrtTables) FindSG(sg SourceGroup) *PimMre   { return t.sg[sg] }
func (t *MrtTables) FindSGRpt(sg SourceGroup) *PimMre { return t.sgRpt[sg] }
func (t *MrtTables) FindMfc(sg SourceGroup) *PimMfc  { return t.mfc[sg] }

// insert returns the existing entry on conflict, matching insert(entry) →
// entry's "returns existing" contract (§4.6).
func (t *MrtTables) insertRP(rp Addr) *PimMre {
	if e, ok := t.rp[rp]; ok {
		return e
	}
	e := newPimMre(t, VariantRP, ZeroAddr, rp)
	t.rp[rp] = e
	return e
}

func (t *MrtTables) insertWC(group Addr) *PimMre {
	if e, ok := t.wc[group]; ok {
		return e
	}
	e := newPimMre(t, VariantWC, ZeroAddr, group)
	t.wc[group] = e
	return e
}

func (t *MrtTables) insertSG(sg SourceGroup) *PimMre {
	if e, ok := t.sg[sg]; ok {
		return e
	}
	e := newPimMre(t, VariantSG, sg.Source, sg.Group)
	t.sg[sg] = e
	return e
}

func (t *MrtTables) insertSGRpt(sg SourceGroup) *PimMre {
	if e, ok := t.sgRpt[sg]; ok {
		return e
	}
	e := newPimMre(t, VariantSGRpt, sg.Source, sg.Group)
	t.sgRpt[sg] = e
	return e
}

func (t *MrtTables) insertMfc(sg SourceGroup) *PimMfc {
	if m, ok := t.mfc[sg]; ok {
		return m
	}
	m := newPimMfc(sg)
	t.mfc[sg] = m
	return m
}

// remove drops e from its owning container. Per §5, this happens before
// the delete task runs, so fresh lookups immediately miss while in-flight
// tasks that already hold e keep working with it.
func (t *MrtTables) remove(e *PimMre) {
	switch e.Variant {
	case VariantRP:
		delete(t.rp, e.Group)
	case VariantWC:
		delete(t.wc, e.Group)
	case VariantSG:
		delete(t.sg, e.sourceGroup())
	case VariantSGRpt:
		delete(t.sgRpt, e.sourceGroup())
	}
}

func (t *MrtTables) removeMfc(sg SourceGroup) {
	delete(t.mfc, sg)
}

// allMfc returns every tracked PimMfc, for callers whose input can shift
// more than one (S,G)'s olist (a (*,G)/(*,*,RP)/(S,G,rpt) state change)
// and so cannot narrow the MFC recompute to a single SourceGroup key.
func (t *MrtTables) allMfc() []*PimMfc {
	out := make([]*PimMfc, 0, len(t.mfc))
	for _, m := range t.mfc {
		out = append(out, m)
	}
	return out
}

// GroupByAddr returns every (S,G)/(S,G,rpt) entry for group, sorted by
// source address — the "group_by_addr" range iteration mode (§4.6). kind
// selects which container to scan.
func (t *MrtTables) GroupByAddr(group Addr, kind EntryKind) []*PimMre {
	var out []*PimMre
	var src map[SourceGroup]*PimMre
	switch kind {
	case EntryKindSg:
		src = t.sg
	case EntryKindSgRpt:
		src = t.sgRpt
	default:
		return nil
	}
	for sg, e := range src {
		if sg.Group == group {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source.Less(out[j].Source) })
	return out
}

// SourceByAddr returns every (S,G)/(S,G,rpt) entry for source, sorted by
// group address — the "source_by_addr" range iteration mode.
func (t *MrtTables) SourceByAddr(source Addr, kind EntryKind) []*PimMre {
	var out []*PimMre
	var src map[SourceGroup]*PimMre
	switch kind {
	case EntryKindSg:
		src = t.sg
	case EntryKindSgRpt:
		src = t.sgRpt
	default:
		return nil
	}
	for sg, e := range src {
		if sg.Source == source {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group.Less(out[j].Group) })
	return out
}

// AllSG returns every (S,G) entry sorted by (group, source) — used to
// resume an interrupted time-slice from a saved (source, group) cursor
// (§4.6 "source_group_by_addr_begin").
func (t *MrtTables) AllSG(kind EntryKind) []*PimMre {
	var src map[SourceGroup]*PimMre
	switch kind {
	case EntryKindSg:
		src = t.sg
	case EntryKindSgRpt:
		src = t.sgRpt
	default:
		return nil
	}
	out := make([]*PimMre, 0, len(src))
	for _, e := range src {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sourceGroup().Less(out[j].sourceGroup()) })
	return out
}

// ResumeFrom trims entries, a sorted slice as returned by the *ByAddr or
// All* methods, to those at or after cursor — the resumption contract: the
// suffix from a saved key matches what an uninterrupted scan would have
// produced (§4.6).
func ResumeFrom(entries []*PimMre, cursor SourceGroup) []*PimMre {
	idx := sort.Search(len(entries), func(i int) bool {
		return !entries[i].sourceGroup().Less(cursor)
	})
	return entries[idx:]
}
