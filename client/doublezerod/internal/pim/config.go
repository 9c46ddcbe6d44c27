package pim

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default timer values, taken from RFC 4601 §4.11.
const (
	DefaultJoinPruneHoldtime    = 210 * time.Second
	DefaultJoinPrunePeriod      = 60 * time.Second
	DefaultAssertTime           = 180 * time.Second
	DefaultAssertOverrideInterv = 3 * time.Second
	DefaultOverrideInterval     = 3 * time.Second
	DefaultKeepalivePeriod      = 210 * time.Second
	DefaultRegisterStopHoldtime = 60 * time.Second
	DefaultAssertRateLimit      = 1 * time.Second
	DefaultTimeSlice            = 100 * time.Millisecond
	DefaultTickEntries          = 20
	DefaultMaxVifs              = 32

	DefaultMissingPollInterval    = 1 * time.Second
	DefaultMissingPollMaxInterval = 30 * time.Second
)

// Config holds engine-wide tunables. The zero value is not ready to use;
// construct with NewConfig, which applies defaults, then Options.
//
// Mirrors the functional-options pattern used by manager.Option /
// manager.WithPollInterval in internal/manager/manager.go.
type Config struct {
	Log *slog.Logger

	// Clock lets tests drive every per-entry timer deterministically instead
	// of sleeping on wall time (gm.TargetSetConfig.Clock in
	// telemetry/global-monitor/internal/gm/targets.go follows the same
	// pattern).
	Clock clockwork.Clock

	Family Family
	// MaxVifs bounds the size of every per-interface bitset (§3.2). Vif
	// indices passed to the engine must be < MaxVifs.
	MaxVifs int

	JoinPruneHoldtime      time.Duration
	JoinPrunePeriod        time.Duration
	AssertTime             time.Duration
	AssertOverrideInterval time.Duration
	OverrideInterval       time.Duration
	KeepalivePeriod        time.Duration
	RegisterStopHoldtime   time.Duration
	AssertRateLimit        time.Duration

	// SptSwitchThreshold gates check_switch_to_spt_sg (§4.4.6); nil disables
	// the SPT switch entirely (always use the shared tree).
	SptSwitchThreshold *DataflowThreshold

	// TimeSlice is the cooperative quantum a running MreTask is allowed
	// before it must save its cursor and yield (§4.8, Glossary "Time slice").
	TimeSlice time.Duration
	// TickEntries is how many entries a task processes between TimeSlice
	// checks (checked every 20 entries by default).
	TickEntries int

	// MissingPollInterval/MissingPollMaxInterval bound the backoff.Engine.pollMissing
	// uses to re-attempt RPF-neighbor/RP resolution for an entry stuck on
	// MissingRpfNeighbor/MissingRp (§7), mirroring
	// probing.DefaultListenFuncWithRetry's retry shape.
	MissingPollInterval    time.Duration
	MissingPollMaxInterval time.Duration
}

type Option func(*Config)

func WithLogger(log *slog.Logger) Option   { return func(c *Config) { c.Log = log } }
func WithClock(clk clockwork.Clock) Option { return func(c *Config) { c.Clock = clk } }
func WithFamily(f Family) Option           { return func(c *Config) { c.Family = f } }
func WithMaxVifs(n int) Option             { return func(c *Config) { c.MaxVifs = n } }
func WithTimeSlice(d time.Duration) Option { return func(c *Config) { c.TimeSlice = d } }
func WithSptSwitchThreshold(t *DataflowThreshold) Option {
	return func(c *Config) { c.SptSwitchThreshold = t }
}
func WithMissingPollInterval(initial, max time.Duration) Option {
	return func(c *Config) { c.MissingPollInterval = initial; c.MissingPollMaxInterval = max }
}

// NewConfig builds a Config with RFC 4601 default timers and applies opts.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		Log:                    slog.Default(),
		Clock:                  clockwork.NewRealClock(),
		Family:                 FamilyIPv4,
		MaxVifs:                DefaultMaxVifs,
		JoinPruneHoldtime:      DefaultJoinPruneHoldtime,
		JoinPrunePeriod:        DefaultJoinPrunePeriod,
		AssertTime:             DefaultAssertTime,
		AssertOverrideInterval: DefaultAssertOverrideInterv,
		OverrideInterval:       DefaultOverrideInterval,
		KeepalivePeriod:        DefaultKeepalivePeriod,
		RegisterStopHoldtime:   DefaultRegisterStopHoldtime,
		AssertRateLimit:        DefaultAssertRateLimit,
		TimeSlice:              DefaultTimeSlice,
		TickEntries:            DefaultTickEntries,
		MissingPollInterval:    DefaultMissingPollInterval,
		MissingPollMaxInterval: DefaultMissingPollMaxInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Config) Validate() error {
	if c.MaxVifs <= 0 {
		return errors.New("pim: MaxVifs must be greater than 0")
	}
	if c.TimeSlice <= 0 {
		return errors.New("pim: TimeSlice must be greater than 0")
	}
	if c.TickEntries <= 0 {
		return errors.New("pim: TickEntries must be greater than 0")
	}
	return nil
}

// DataflowThreshold is a PimMfc dataflow-monitor trigger (§4.5): fire when
// the observed packet/byte count crosses Value in the direction Operator
// within Interval.
type DataflowThreshold struct {
	Packets  uint64
	Bytes    uint64
	Interval time.Duration
	Operator ThresholdOperator
}

type ThresholdOperator uint8

const (
	ThresholdGE ThresholdOperator = iota
	ThresholdLE
)
