package pim

import "errors"

// Sentinel errors for the engine's error kinds. The wire decoders in this
// package (pim.go, assert.go, registerstop.go) return plain errors that do
// not wrap ErrMalformedMessage, and no function in the package returns
// ErrUnknownSelectorTarget, ErrEntryNotRemovable or ErrUnsupportedFamily.
// MissingRpfNeighbor and MissingRp have no sentinel: a failed RPF lookup is
// counted in doublezero_pim_missing_warnings_total and retried through
// Engine.PollMissingWC/PollMissingSG.
var (
	// ErrMalformedMessage is what MalformedMessageError unwraps to: length,
	// address-family, mask-length, or address-class checks failed on a
	// received PIM message.
	ErrMalformedMessage = errors.New("pim: malformed message")

	// ErrUnknownSelectorTarget names a Register-Stop for an (S,G) with no
	// existing state; Engine.ReceiveRegisterStop ignores such a message.
	ErrUnknownSelectorTarget = errors.New("pim: unknown selector target")

	// ErrInvariantViolation marks a programming error: a task dispatch
	// reached an arm that should be unreachable given the entry's variant.
	ErrInvariantViolation = errors.New("pim: invariant violation")

	// ErrEntryNotRemovable names a removal request for which
	// entry_can_remove is false.
	ErrEntryNotRemovable = errors.New("pim: entry cannot be removed")

	// ErrUnsupportedFamily names an address whose family does not match the
	// family the engine was started with.
	ErrUnsupportedFamily = errors.New("pim: unsupported address family")
)

// MalformedMessageError wraps ErrMalformedMessage with the specific check
// that failed, so callers can errors.Is(err, ErrMalformedMessage) while
// still logging the detail.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string { return "pim: malformed message: " + e.Reason }
func (e *MalformedMessageError) Unwrap() error  { return ErrMalformedMessage }

func malformed(reason string) error {
	return &MalformedMessageError{Reason: reason}
}
