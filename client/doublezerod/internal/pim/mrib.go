package pim

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
	"go4.org/netipx"
)

// Mrib is one multicast-RIB entry: the information MribView.Find returns
// for an address's longest-prefix match (C1).
type Mrib struct {
	Prefix         netip.Prefix
	NextHop        Addr
	RpfVif         int
	RouteMetric    uint32
	MetricPreference uint32
	// IfaceUp reports whether RpfVif is currently usable. Find returns
	// (Mrib{}, false) when the matched entry's interface is down, per
	// down (§4.1).
	IfaceUp bool
}

// ModifiedPrefix is the single change event MribView emits: a coalesced
// prefix covering everything that may have changed in one commit.
type ModifiedPrefix struct {
	Prefix netip.Prefix
}

// mribTxn accumulates pending inserts/removes between begin() and commit().
type mribTxn struct {
	inserts []Mrib
	removes []netip.Prefix
}

// MribView is an incrementally-maintained LPM trie over unicast RPF routes
// (C1), backed by github.com/gaissmai/bart's Table — the same popcount
// trie used across the retrieval pack's routing-table reference code.
// Commits are transactional and coalesce their change notifications with
// go4.org/netipx's IPSetBuilder before returning them to the caller.
type MribView struct {
	mu sync.Mutex

	table *bart.Table[Mrib]

	// deferred holds Mrib entries whose vif didn't exist yet at insert time
	// (§4.1 "deferred and retried when a matching interface appears").
	deferred []Mrib
	// knownVifs tracks which vif indices currently exist, for deferred
	// resolution and for rewriting host routes to the owning interface.
	knownVifs map[int]struct{}
	// ownedHostAddrs maps one of our own addresses to the vif that owns it,
	// used to rewrite a loopback/no-interface next hop for a host route
	// matching a locally-owned address.
	ownedHostAddrs map[netip.Addr]int

	txns map[uint64]*mribTxn
}

func NewMribView() *MribView {
	return &MribView{
		table:          new(bart.Table[Mrib]),
		knownVifs:      make(map[int]struct{}),
		ownedHostAddrs: make(map[netip.Addr]int),
		txns:           make(map[uint64]*mribTxn),
	}
}

// SetVifUp records that vif now exists and resolves any deferred Mrib
// entries pointing at it.
func (m *MribView) SetVifUp(vif int) []ModifiedPrefix {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.knownVifs[vif] = struct{}{}

	var resolved []netip.Prefix
	remaining := m.deferred[:0]
	for _, e := range m.deferred {
		if e.RpfVif == vif {
			m.table.Insert(e.Prefix, e)
			resolved = append(resolved, e.Prefix)
		} else {
			remaining = append(remaining, e)
		}
	}
	m.deferred = remaining
	return coalesce(resolved)
}

// SetOwnedAddr registers addr as locally owned by vif, so a pending MRIB
// whose next hop is unresolved and whose prefix is that host route gets its
// interface rewritten to vif.
func (m *MribView) SetOwnedAddr(addr netip.Addr, vif int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownedHostAddrs[addr] = vif
}

// Find performs longest-prefix match on addr. It returns (Mrib{}, false)
// when there is no match, or when the matched entry's RpfVif is down.
func (m *MribView) Find(addr Addr) (Mrib, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mrib, ok := m.table.Lookup(addr.Netip())
	if !ok {
		return Mrib{}, false
	}
	if !mrib.IfaceUp {
		return Mrib{}, false
	}
	return mrib, true
}

// Begin starts a transaction identified by tid. Reusing a tid that is
// already open replaces the pending transaction.
func (m *MribView) Begin(tid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txns[tid] = &mribTxn{}
}

// AddPendingInsert stages mrib for insertion on Commit.
func (m *MribView) AddPendingInsert(tid uint64, mrib Mrib) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[tid]
	if !ok {
		return
	}

	if host, isHost := hostRoute(mrib.Prefix); isHost && !mrib.IfaceUp {
		if vif, owned := m.ownedHostAddrs[host]; owned {
			mrib.RpfVif = vif
			mrib.IfaceUp = true
		}
	}
	t.inserts = append(t.inserts, mrib)
}

// AddPendingRemove stages the entry at prefix for removal on Commit.
func (m *MribView) AddPendingRemove(tid uint64, prefix netip.Prefix) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[tid]
	if !ok {
		return
	}
	t.removes = append(t.removes, prefix)
}

// Commit applies every pending insert/remove staged under tid and returns
// the coalesced list of prefixes that may have changed.
func (m *MribView) Commit(tid uint64) []ModifiedPrefix {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[tid]
	if !ok {
		return nil
	}
	delete(m.txns, tid)

	var touched []netip.Prefix
	for _, prefix := range t.removes {
		m.table.Delete(prefix)
		touched = append(touched, prefix)
	}
	for _, mrib := range t.inserts {
		if _, vifExists := m.knownVifs[mrib.RpfVif]; !vifExists && mrib.RpfVif != 0 {
			m.deferred = append(m.deferred, mrib)
			continue
		}
		m.table.Insert(mrib.Prefix, mrib)
		touched = append(touched, mrib.Prefix)
	}
	return coalesce(touched)
}

// hostRoute reports whether prefix is a single-address host route and
// returns that address.
func hostRoute(prefix netip.Prefix) (netip.Addr, bool) {
	bits := prefix.Bits()
	if prefix.Addr().Is4() && bits == 32 {
		return prefix.Addr(), true
	}
	if prefix.Addr().Is6() && bits == 128 {
		return prefix.Addr(), true
	}
	return netip.Addr{}, false
}

// coalesce merges overlapping/enclosing prefixes into their enclosing one
// using netipx's IPSetBuilder, then re-expresses the merged set as the
// minimal covering list of prefixes.
func coalesce(prefixes []netip.Prefix) []ModifiedPrefix {
	if len(prefixes) == 0 {
		return nil
	}
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(p)
	}
	set, err := b.IPSet()
	if err != nil {
		out := make([]ModifiedPrefix, len(prefixes))
		for i, p := range prefixes {
			out[i] = ModifiedPrefix{Prefix: p}
		}
		return out
	}

	merged := set.Prefixes()
	out := make([]ModifiedPrefix, len(merged))
	for i, p := range merged {
		out[i] = ModifiedPrefix{Prefix: p}
	}
	return out
}
