package pim

import (
	"fmt"
	"net/netip"
)

// Addr is a family-aware multicast-routing address. The engine is fixed to a
// single address family at startup (IPv4 or IPv6); Family reports which one
// so callers can reject cross-family input early instead of discovering a
// mismatch deep in a derived predicate.
type Addr struct {
	ip netip.Addr
}

// ZeroAddr is the sentinel source address used by (*,G) entries.
var ZeroAddr = Addr{}

// AddrFromNetip wraps a netip.Addr. The zero netip.Addr produces the ZeroAddr
// sentinel.
func AddrFromNetip(ip netip.Addr) Addr {
	return Addr{ip: ip.Unmap()}
}

// MustParseAddr parses s, panicking on a malformed literal. Intended for
// tests and compile-time constant tables, not for wire input.
func MustParseAddr(s string) Addr {
	return AddrFromNetip(netip.MustParseAddr(s))
}

func (a Addr) Netip() netip.Addr { return a.ip }
func (a Addr) IsZero() bool      { return !a.ip.IsValid() || a.ip.IsUnspecified() }
func (a Addr) Is4() bool         { return a.ip.Is4() }
func (a Addr) Is6() bool         { return a.ip.Is6() }

func (a Addr) String() string {
	if a.IsZero() {
		return "0.0.0.0"
	}
	return a.ip.String()
}

// Less provides a total order over addresses so MrtTables can iterate
// deterministically (e.g. resuming a time-sliced scan from a saved key).
func (a Addr) Less(b Addr) bool {
	return a.ip.Less(b.ip)
}

func (a Addr) Compare(b Addr) int {
	return a.ip.Compare(b.ip)
}

// Family identifies the address family the engine was started with.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

func familyOf(a Addr) Family {
	if a.ip.Is6() && !a.ip.Is4In6() {
		return FamilyIPv6
	}
	return FamilyIPv4
}

// SourceGroup is the two-address key shared by (S,G) and (S,G,rpt) entries.
type SourceGroup struct {
	Source Addr
	Group  Addr
}

func (sg SourceGroup) String() string {
	return fmt.Sprintf("(%s,%s)", sg.Source, sg.Group)
}

func (sg SourceGroup) Less(other SourceGroup) bool {
	if c := sg.Group.Compare(other.Group); c != 0 {
		return c < 0
	}
	return sg.Source.Compare(other.Source) < 0
}
