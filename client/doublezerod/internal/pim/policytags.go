package pim

// PolicyTags is an unordered set of policy tag values attached to routing
// information as it flows through the engine (C10). Grounded on XORP's
// policy/backend/policytags.hh: a plain set plus a union and a
// non-empty-intersection test, nothing else.
type PolicyTags struct {
	tags map[uint32]struct{}
}

// NewPolicyTags builds a PolicyTags from zero or more initial values.
func NewPolicyTags(tags ...uint32) PolicyTags {
	pt := PolicyTags{tags: make(map[uint32]struct{}, len(tags))}
	for _, t := range tags {
		pt.tags[t] = struct{}{}
	}
	return pt
}

// Insert adds tag to the set.
func (pt *PolicyTags) Insert(tag uint32) {
	if pt.tags == nil {
		pt.tags = make(map[uint32]struct{})
	}
	pt.tags[tag] = struct{}{}
}

// Contains reports whether tag is a member.
func (pt PolicyTags) Contains(tag uint32) bool {
	_, ok := pt.tags[tag]
	return ok
}

// Len reports the number of tags in the set.
func (pt PolicyTags) Len() int { return len(pt.tags) }

// IsEmpty reports whether the set has no tags.
func (pt PolicyTags) IsEmpty() bool { return len(pt.tags) == 0 }

// ContainsAtLeastOne reports whether pt and other share any tag, mirroring
// PolicyTags::contains_atleast_one.
func (pt PolicyTags) ContainsAtLeastOne(other PolicyTags) bool {
	small, big := pt, other
	if len(small.tags) > len(big.tags) {
		small, big = big, small
	}
	for t := range small.tags {
		if _, ok := big.tags[t]; ok {
			return true
		}
	}
	return false
}

// Union returns a new PolicyTags containing every tag in pt or other.
func (pt PolicyTags) Union(other PolicyTags) PolicyTags {
	out := NewPolicyTags()
	for t := range pt.tags {
		out.Insert(t)
	}
	for t := range other.tags {
		out.Insert(t)
	}
	return out
}

// Slice returns the tags in unspecified order, for logging/snapshots.
func (pt PolicyTags) Slice() []uint32 {
	out := make([]uint32, 0, len(pt.tags))
	for t := range pt.tags {
		out = append(out, t)
	}
	return out
}
