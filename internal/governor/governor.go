// Package governor computes adaptive inter-request delays per adapter from
// its recent success and failure history. It is advisory: callers decide
// whether and how to wait.
package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/telemetry"
)

// Defaults for Config.
const (
	DefaultBaseline = 2 * time.Second
	DefaultCeiling  = 60 * time.Second
	DefaultFactor   = 2.0
	DefaultDecay    = 0.5
)

// Config holds the backoff policy.
type Config struct {
	Baseline time.Duration
	Ceiling  time.Duration
	// Factor multiplies the delay after a failure.
	Factor float64
	// Decay multiplies the delay after a success.
	Decay float64
	// Now is injectable for tests.
	Now func() time.Time
}

// RateState is the per-adapter history.
type RateState struct {
	ConsecutiveFailures int
	Delay               time.Duration
	LastInvocation      time.Time
}

// Governor tracks RateState for every adapter it has seen. It is created per
// run and safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*RateState
}

// New validates cfg, fills defaults, and returns a Governor.
func New(cfg Config) (*Governor, error) {
	if cfg.Baseline == 0 {
		cfg.Baseline = DefaultBaseline
	}
	if cfg.Ceiling == 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Factor == 0 {
		cfg.Factor = DefaultFactor
	}
	if cfg.Decay == 0 {
		cfg.Decay = DefaultDecay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch {
	case cfg.Baseline < 0:
		return nil, fmt.Errorf("governor baseline must be >= 0")
	case cfg.Ceiling < cfg.Baseline:
		return nil, fmt.Errorf("governor ceiling must be >= baseline")
	case cfg.Factor < 1:
		return nil, fmt.Errorf("governor factor must be >= 1")
	case cfg.Decay <= 0 || cfg.Decay > 1:
		return nil, fmt.Errorf("governor decay must be in (0, 1]")
	}
	return &Governor{cfg: cfg, states: make(map[string]*RateState)}, nil
}

// Record folds one invocation outcome into the adapter's state. Skipped
// outcomes only stamp LastInvocation.
func (g *Governor) Record(adapterID string, outcome adapter.Outcome) {
	g.mu.Lock()
	st := g.stateLocked(adapterID)
	st.LastInvocation = g.cfg.Now()
	switch outcome {
	case adapter.OutcomeSuccess:
		st.ConsecutiveFailures = 0
		st.Delay = max(g.cfg.Baseline, scale(st.Delay, g.cfg.Decay))
	case adapter.OutcomeFailed:
		st.ConsecutiveFailures++
		st.Delay = min(g.cfg.Ceiling, scale(st.Delay, g.cfg.Factor))
	}
	delay := st.Delay
	g.mu.Unlock()

	telemetry.ObserveGovernorDelay(adapterID, delay)
}

// DelayFor reports how long to wait before the next call to adapterID.
func (g *Governor) DelayFor(adapterID string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(adapterID).Delay
}

// Snapshot returns a copy of the adapter's state.
func (g *Governor) Snapshot(adapterID string) RateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.stateLocked(adapterID)
}

func (g *Governor) stateLocked(adapterID string) *RateState {
	st, ok := g.states[adapterID]
	if !ok {
		st = &RateState{Delay: g.cfg.Baseline}
		g.states[adapterID] = st
	}
	return st
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}
