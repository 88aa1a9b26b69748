// Package broker executes validated tool calls. Every call produces exactly
// one observation: the broker absorbs retries, timeouts, duplicate
// suppression, circuit breaking and concurrency caps so the rest of the
// pipeline never sees a transport error.
package broker

import (
	"sync"
	"time"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/telemetry"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "OPEN"
	case stateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

func (s breakerState) gauge() float64 {
	switch s {
	case stateOpen:
		return telemetry.BreakerStateOpen
	case stateHalfOpen:
		return telemetry.BreakerStateHalfOpen
	default:
		return telemetry.BreakerStateClosed
	}
}

// circuit tracks one (workspace, tool) pair. failures is a sliding window of
// failure timestamps; entries older than the window age out on every touch.
type circuit struct {
	state    breakerState
	failures []time.Time
	openedAt time.Time

	// probeInFlight serializes the HALF_OPEN probe: exactly one call is
	// admitted until its outcome (or cancellation) is recorded.
	probeInFlight bool
}

// BreakerSet holds the process-wide circuit breakers, keyed by
// (workspace, tool). Mutated only by the broker and the admin force op.
type BreakerSet struct {
	mu       sync.Mutex
	window   time.Duration
	failures int
	cooldown time.Duration
	now      func() time.Time
	emitter  *telemetry.Emitter
	circuits map[string]*circuit
}

// NewBreakerSet creates a BreakerSet on the wall clock.
func NewBreakerSet(cfg config.BreakerConfig, emitter *telemetry.Emitter) *BreakerSet {
	return NewBreakerSetAt(cfg, emitter, time.Now)
}

// NewBreakerSetAt creates a BreakerSet with an injected clock for tests.
func NewBreakerSetAt(cfg config.BreakerConfig, emitter *telemetry.Emitter, now func() time.Time) *BreakerSet {
	return &BreakerSet{
		window:   cfg.Window,
		failures: cfg.FailureThreshold,
		cooldown: cfg.Cooldown,
		now:      now,
		emitter:  emitter,
		circuits: make(map[string]*circuit),
	}
}

// Admit reports whether a call for the key may dispatch. OPEN circuits
// short-circuit until the cooldown elapses, then admit a single HALF_OPEN
// probe; concurrent callers keep short-circuiting until the probe resolves.
func (b *BreakerSet) Admit(workspaceID, tool string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workspaceID, tool)
	switch c.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		b.transition(c, workspaceID, tool, stateHalfOpen)
		c.probeInFlight = true
		return true
	default: // stateHalfOpen
		if c.probeInFlight {
			return false
		}
		c.probeInFlight = true
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure window.
func (b *BreakerSet) RecordSuccess(workspaceID, tool string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workspaceID, tool)
	c.probeInFlight = false
	c.failures = nil
	if c.state != stateClosed {
		b.transition(c, workspaceID, tool, stateClosed)
	}
}

// RecordFailure counts one failure. A failed HALF_OPEN probe reopens the
// circuit; in CLOSED the circuit opens once the windowed count reaches the
// threshold.
func (b *BreakerSet) RecordFailure(workspaceID, tool string) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workspaceID, tool)
	c.probeInFlight = false

	switch c.state {
	case stateHalfOpen:
		c.openedAt = now
		c.failures = nil
		b.transition(c, workspaceID, tool, stateOpen)
	case stateClosed:
		c.failures = pruneOld(c.failures, now.Add(-b.window))
		c.failures = append(c.failures, now)
		if b.failures > 0 && len(c.failures) >= b.failures {
			c.openedAt = now
			c.failures = nil
			b.transition(c, workspaceID, tool, stateOpen)
		}
	}
	// Failures while OPEN are not possible: OPEN never admits.
}

// CancelProbe releases a HALF_OPEN admission whose call aborted before
// dispatch (semaphore timeout, guardrail) so the next caller can probe.
func (b *BreakerSet) CancelProbe(workspaceID, tool string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key(workspaceID, tool)]; ok {
		c.probeInFlight = false
	}
}

// ForceHalfOpen moves the circuit to HALF_OPEN regardless of cooldown so the
// next call probes immediately. Returns the prior state name.
func (b *BreakerSet) ForceHalfOpen(workspaceID, tool string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workspaceID, tool)
	from := c.state
	c.probeInFlight = false
	c.failures = nil
	if c.state != stateHalfOpen {
		b.transition(c, workspaceID, tool, stateHalfOpen)
	}
	return from.String()
}

// StateName reports the current state for the key, for admin introspection.
func (b *BreakerSet) StateName(workspaceID, tool string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key(workspaceID, tool)]; ok {
		return c.state.String()
	}
	return stateClosed.String()
}

// circuit returns the tracked circuit, creating it CLOSED on first touch.
// Callers hold b.mu.
func (b *BreakerSet) circuit(workspaceID, tool string) *circuit {
	k := key(workspaceID, tool)
	c, ok := b.circuits[k]
	if !ok {
		c = &circuit{state: stateClosed}
		b.circuits[k] = c
	}
	return c
}

// transition flips the state and emits the telemetry event. Callers hold b.mu.
func (b *BreakerSet) transition(c *circuit, workspaceID, tool string, to breakerState) {
	from := c.state
	c.state = to
	if b.emitter != nil {
		b.emitter.EmitBreakerTransition(workspaceID, tool, from.String(), to.String(), to.gauge())
	}
}

func pruneOld(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

func key(workspaceID, tool string) string {
	return workspaceID + "\x00" + tool
}
