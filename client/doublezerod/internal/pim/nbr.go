package pim

import (
	"net/netip"
	"time"
)

// PimNbr is a PIM neighbor on one of the engine's interfaces. Hello
// processing itself is out of scope (§1 Non-goals); the caller that
// does own Hello parsing populates and updates these fields, and the engine
// only reads them when computing rpf_p(*,G)/rpf_p(S,G), DR priority for
// Assert losing-side behavior, and add_task_pim_nbr_gen_id/add_task_i_am_dr.
type PimNbr struct {
	Addr Addr
	Vif  int

	GenerationID uint32
	DRPriority   uint32
	HasDRPriority bool
	Holdtime     time.Duration

	LastHello time.Time
}

// PimRp describes a single candidate RP entry as selected by the (out of
// scope) BSR/RP-Set election subsystem. The engine treats RP selection as
// externally supplied input: PimRp values arrive via Engine.SetRpSet and
// drive compute_rp/recompute_rp_wc (§4.4.2).
type PimRp struct {
	Addr Addr
	// GroupPrefix is the group range this RP serves (e.g. 224.0.0.0/4 for
	// "all groups").
	GroupPrefix netip.Prefix
}
