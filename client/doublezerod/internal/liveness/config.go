package liveness

const (
	// DefaultLivenessPort is the default port for liveness probes.
	// This is expected to be the same across all clients.
	DefaultLivenessPort = 44880
)
