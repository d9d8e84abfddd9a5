package circuit

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Dispatch halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// GaugeValue maps the state to the value exported on the metrics endpoint
// (0=closed, 1=open, 2=half-open).
func (s BreakerState) GaugeValue() float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold float64       `json:"failure_threshold"` // failure ratio that opens the breaker
	MinCalls         int           `json:"min_calls"`         // window capacity and minimum sample size
	Cooldown         time.Duration `json:"cooldown"`          // open -> half-open delay
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 0.5,
		MinCalls:         20,
		Cooldown:         120 * time.Second,
	}
}

// Breaker guards the downstream dispatch with a rolling window of call
// outcomes. While closed it opens once the window holds MinCalls outcomes
// and the failure ratio reaches FailureThreshold. The open -> half-open
// flip happens lazily inside Allow once the cooldown has elapsed; there is
// no background timer.
//
// Half-open policy: exactly one probe call is admitted. A probe success
// closes the breaker and clears the window; a probe failure re-opens it
// and restarts the cooldown. This is the strict variant: renewed evidence
// of unhealthiness trips immediately rather than waiting for a full new
// window. Outcomes of calls admitted while closed that only complete after
// a trip are recorded into the window, never taken for the probe result.
type Breaker struct {
	config *BreakerConfig

	mu            sync.RWMutex
	state         BreakerState
	window        []bool // true = failure; ring of the last MinCalls outcomes
	windowPos     int
	windowSize    int
	lastOpened    time.Time
	probeInFlight bool
	inFlight      int // closed-state admissions whose outcome is still pending

	onTrip  func(reason string)
	onReset func()

	// now is swappable in tests
	now func() time.Time
}

// NewBreaker creates a circuit breaker in the closed state
func NewBreaker(config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	if config.MinCalls <= 0 {
		config.MinCalls = 20
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
		window: make([]bool, config.MinCalls),
		now:    time.Now,
	}
}

// OnTrip sets the callback invoked when the breaker opens
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets the callback invoked when the breaker closes again
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a dispatch may be attempted. While open it returns
// false until the cooldown has elapsed, at which point the breaker moves to
// half-open and admits a single probe; further calls are rejected until the
// probe outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastOpened) > b.config.Cooldown {
			b.state = StateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		b.inFlight++
		return true
	}
}

// Release drops an admission whose outcome will never be recorded, so the
// window accounting and a pending probe slot are not left waiting for it.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight > 0 {
		b.inFlight--
		return
	}
	if b.state == StateHalfOpen && b.probeInFlight {
		b.probeInFlight = false
	}
}

// RecordSuccess records a successful dispatch outcome
func (b *Breaker) RecordSuccess() {
	b.record(false)
}

// RecordFailure records a failed dispatch outcome
func (b *Breaker) RecordFailure() {
	b.record(true)
}

func (b *Breaker) record(failure bool) {
	b.mu.Lock()

	var tripped, recovered bool
	reason := "failure ratio over threshold"
	// A pending closed-state admission means this outcome is a straggler
	// from before the trip, not the probe's; it goes into the window.
	if b.state == StateHalfOpen && b.inFlight == 0 {
		b.probeInFlight = false
		if failure {
			b.state = StateOpen
			b.lastOpened = b.now()
			tripped = true
			reason = "half-open probe failed"
		} else {
			// Probe succeeded: close and drop stale failures.
			b.state = StateClosed
			b.windowPos = 0
			b.windowSize = 0
			recovered = true
		}
	} else {
		if b.inFlight > 0 {
			b.inFlight--
		}
		b.window[b.windowPos] = failure
		b.windowPos = (b.windowPos + 1) % len(b.window)
		if b.windowSize < len(b.window) {
			b.windowSize++
		}
		tripped = b.evaluate()
	}

	onTrip, onReset := b.onTrip, b.onReset
	b.mu.Unlock()

	if tripped && onTrip != nil {
		onTrip(reason)
	}
	if recovered && onReset != nil {
		onReset()
	}
}

// evaluate applies the closed-state trip rule. Caller must hold b.mu.
func (b *Breaker) evaluate() bool {
	if b.state != StateClosed || b.windowSize < b.config.MinCalls {
		return false
	}

	failures := 0
	for i := 0; i < b.windowSize; i++ {
		if b.window[i] {
			failures++
		}
	}
	if float64(failures)/float64(b.windowSize) >= b.config.FailureThreshold {
		b.state = StateOpen
		b.lastOpened = b.now()
		return true
	}
	return false
}

// ForceReset manually closes the breaker and clears the window
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.windowPos = 0
	b.windowSize = 0
	b.probeInFlight = false
	onReset := b.onReset
	b.mu.Unlock()

	if onReset != nil {
		onReset()
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot of the breaker for the ops endpoints
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	failures := 0
	for i := 0; i < b.windowSize; i++ {
		if b.window[i] {
			failures++
		}
	}

	stats := map[string]interface{}{
		"state":           string(b.state),
		"window_size":     b.windowSize,
		"window_capacity": len(b.window),
		"failures":        failures,
		"probe_in_flight": b.probeInFlight,
	}
	if !b.lastOpened.IsZero() {
		stats["last_opened"] = b.lastOpened
	}
	return stats
}
