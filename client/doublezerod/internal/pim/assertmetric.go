package pim

import "math"

// AssertMetric is the value type PIM-SM Assert elections order entries by
// (C3): an rpt-bit, a metric-preference, a route-metric, and the
// originating router's address. Comparisons follow RFC 4601's Assert rules.
type AssertMetric struct {
	Rpt         bool
	Preference  uint32
	RouteMetric uint32
	Origin      Addr
}

// InfiniteAssertMetric is the loser-by-default sentinel used where no
// better metric is known (§4.3).
var InfiniteAssertMetric = AssertMetric{
	Rpt:         true,
	Preference:  math.MaxUint32,
	RouteMetric: math.MaxUint32,
	Origin:      ZeroAddr,
}

// Better reports whether a is strictly better than b under the PIM-SM
// Assert total order: a > b iff (!a.rpt && b.rpt), or equal rpt-bit and
// a.preference < b.preference, or equal so far and a.route_metric <
// b.route_metric, or all equal and a.origin > b.origin.
func (a AssertMetric) Better(b AssertMetric) bool {
	if a.Rpt != b.Rpt {
		return !a.Rpt && b.Rpt
	}
	if a.Preference != b.Preference {
		return a.Preference < b.Preference
	}
	if a.RouteMetric != b.RouteMetric {
		return a.RouteMetric < b.RouteMetric
	}
	return a.Origin.Compare(b.Origin) > 0
}

// Equal reports whether a and b compare as the same metric under the
// total order (every field equal).
func (a AssertMetric) Equal(b AssertMetric) bool {
	return a.Rpt == b.Rpt && a.Preference == b.Preference &&
		a.RouteMetric == b.RouteMetric && a.Origin.Compare(b.Origin) == 0
}

// BetterOrEqual reports whether a is at least as good as b.
func (a AssertMetric) BetterOrEqual(b AssertMetric) bool {
	return a.Equal(b) || a.Better(b)
}
