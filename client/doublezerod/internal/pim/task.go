package pim

import (
	"net/netip"
	"time"
)

// SelectorKind distinguishes how a Selector resolves to the entries an
// MreTask visits (§4.8 Glossary "Selector").
type SelectorKind uint8

const (
	SelectorDirect SelectorKind = iota
	SelectorPrefix
	SelectorRP
	SelectorNeighbor
)

// Selector scopes an MreTask to a set of entries: a handful of entries
// already in hand (the common case — a state transition on one entry
// enqueues work for just that entry), a prefix range, an RP's processing
// lists, or a neighbor+vif's registered entries.
type Selector struct {
	Kind   SelectorKind
	Prefix netip.Prefix
	RP     Addr
	Nbr    Addr
	Vif    int

	direct map[EntryKind][]*PimMre
}

// newAddrSelector scopes a task to exactly one already-resolved entry.
func newAddrSelector(e *PimMre) *Selector {
	s := &Selector{Kind: SelectorDirect, direct: make(map[EntryKind][]*PimMre)}
	s.direct[e.Variant.Kind()] = []*PimMre{e}
	return s
}

// newEntriesSelector scopes a task to an explicit, already-resolved set of
// entries grouped by kind — used by add_task_add_pim_mre / add_task_delete_pim_mre
// style callers that hand the scheduler a batch directly.
func newEntriesSelector(entries ...*PimMre) *Selector {
	s := &Selector{Kind: SelectorDirect, direct: make(map[EntryKind][]*PimMre)}
	for _, e := range entries {
		s.direct[e.Variant.Kind()] = append(s.direct[e.Variant.Kind()], e)
	}
	return s
}

func newRPSelector(rp Addr, tables *MrtTables) *Selector {
	return &Selector{Kind: SelectorRP, RP: rp, direct: resolveRPSelector(rp, tables)}
}

func resolveRPSelector(rp Addr, tables *MrtTables) map[EntryKind][]*PimMre {
	if tables == nil || tables.rpTable == nil {
		return nil
	}
	out := make(map[EntryKind][]*PimMre)
	for _, kind := range []EntryKind{EntryKindRp, EntryKindWc, EntryKindSg, EntryKindSgRpt} {
		tables.rpTable.InitProcessing(rp, kind)
		for {
			sg, ok := tables.rpTable.NextProcessing(rp, kind)
			if !ok {
				break
			}
			var e *PimMre
			switch kind {
			case EntryKindRp:
				e = tables.FindRP(rp)
			case EntryKindWc:
				e = tables.FindWC(sg.Group)
			case EntryKindSg:
				e = tables.FindSG(sg)
			case EntryKindSgRpt:
				e = tables.FindSGRpt(sg)
			}
			if e != nil {
				out[kind] = append(out[kind], e)
			}
		}
	}
	return out
}

// MreTask is a unit of deferred, time-sliced work (§4.8). It runs in
// nested order RP -> WC -> SG/SG-rpt -> MFC across every selector it
// carries, applying TrackState's action list for its InputState to each
// entry visited, and saves a resumable cursor if its TimeSlice expires
// mid-run.
type MreTask struct {
	Input     InputState
	selectors []*Selector

	mfcEntries []*PimMfc

	// flat ordering, rebuilt lazily on first Run and advanced by cursor.
	flat       []*PimMre
	flatBuilt  bool
	cursor     int
	mfcCursor  int

	deleteList []*PimMre
}

func newMreTask(input InputState, selectors ...*Selector) *MreTask {
	return &MreTask{Input: input, selectors: selectors}
}

// addSelector appends sel to t — how the scheduler implements "coalesce
// into the tail task" (§3.3, §4.9): instead of allocating a new task it
// appends the new entries here.
func (t *MreTask) addSelector(sel *Selector) {
	t.selectors = append(t.selectors, sel)
	t.flatBuilt = false
}

func (t *MreTask) addMfc(m *PimMfc) {
	t.mfcEntries = append(t.mfcEntries, m)
}

func (t *MreTask) enqueueDelete(e *PimMre) {
	t.deleteList = append(t.deleteList, e)
}

func (t *MreTask) buildFlat() {
	if t.flatBuilt {
		return
	}
	order := []EntryKind{EntryKindRp, EntryKindWc, EntryKindSg, EntryKindSgRpt}
	var flat []*PimMre
	for _, kind := range order {
		for _, sel := range t.selectors {
			flat = append(flat, sel.direct[kind]...)
		}
	}
	t.flat = flat
	t.flatBuilt = true
}

// runResult reports what happened in one Run call.
type runResult struct {
	Done          bool
	EntriesVisited int
	Yielded       bool
}

// Run executes entries until the selectors (and MFC list) are drained or
// TimeSlice expires, whichever first; on expiry it saves cursor/mfcCursor
// and returns Yielded=true so the scheduler re-queues it. actOnEntry
// applies TrackState's action list for t.Input to one PimMre; actOnMfc does
// the same for one PimMfc.
func (t *MreTask) Run(ts *TrackState, timeSlice time.Duration, tickEntries int, now func() time.Time,
	actOnEntry func(*PimMre, []trackEntry), actOnMfc func(*PimMfc, []trackEntry)) runResult {
	t.buildFlat()
	actions := ts.Actions(t.Input)

	start := now()
	visited := 0
	for ; t.cursor < len(t.flat); t.cursor++ {
		e := t.flat[t.cursor]
		if e.IsTaskDeleteDone {
			continue
		}
		var scoped []trackEntry
		for _, a := range actions {
			if a.Kind == e.Variant.Kind() {
				scoped = append(scoped, a)
			}
		}
		actOnEntry(e, scoped)
		visited++
		if visited%tickEntries == 0 && now().Sub(start) >= timeSlice {
			t.cursor++
			return runResult{Done: false, EntriesVisited: visited, Yielded: true}
		}
	}

	var mfcActions []trackEntry
	for _, a := range actions {
		if a.Kind == EntryKindMfc {
			mfcActions = append(mfcActions, a)
		}
	}
	for ; t.mfcCursor < len(t.mfcEntries); t.mfcCursor++ {
		actOnMfc(t.mfcEntries[t.mfcCursor], mfcActions)
		visited++
		if visited%tickEntries == 0 && now().Sub(start) >= timeSlice {
			t.mfcCursor++
			return runResult{Done: false, EntriesVisited: visited, Yielded: true}
		}
	}

	for _, e := range t.deleteList {
		e.IsTaskDeleteDone = true
	}

	return runResult{Done: true, EntriesVisited: visited}
}

// inputStateShape reports the InputState the scheduler compares to decide whether a new task coalesces into the tail
// (§3.3, §4.9). Two tasks of the same InputState always coalesce: entries
// are merged by kind regardless of which selector produced them.
func (t *MreTask) inputStateShape() InputState { return t.Input }
