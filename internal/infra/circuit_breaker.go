package infra

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the position of a CircuitBreaker guarding event-store writes.
type BreakerState int

const (
	StateClosed   BreakerState = iota // appends flow to the WAL
	StateOpen                         // commands rejected before sequencing
	StateHalfOpen                     // one trial append allowed through
)

var breakerStateNames = [...]string{
	StateClosed:   "CLOSED",
	StateOpen:     "OPEN",
	StateHalfOpen: "HALF_OPEN",
}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(breakerStateNames) {
		return "UNKNOWN"
	}
	return breakerStateNames[s]
}

// CircuitBreakerConfig sizes a breaker. FailureThreshold counts consecutive
// failed appends; SuccessThreshold counts trial appends needed to close.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns the thresholds used for the event store.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// BreakerStatus is a point-in-time view for health reporting.
type BreakerStatus struct {
	State    BreakerState
	Failures int
	Trips    int
	RetryAt  time.Time // zero unless open
}

// CircuitBreaker keeps the sequencer from burning sequence numbers against a
// store that keeps refusing writes. Safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	trips     int
	openedAt  time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether the next append may be attempted. Once the cooldown
// has passed an open breaker lets trial appends through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Before(cb.openedAt.Add(cb.cfg.Timeout)) {
		return false
	}
	cb.moveTo(StateHalfOpen, "cooldown elapsed")
	return true
}

// RecordSuccess notes a durable append.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.SuccessThreshold {
		cb.moveTo(StateClosed, "store recovered")
	}
}

// RecordFailure notes an append the store refused.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.moveTo(StateOpen, "trial append failed")
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.moveTo(StateOpen, "consecutive append failures")
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to BreakerState, reason string) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.trips++
		slog.Warn("Store breaker opened",
			slog.String("name", cb.cfg.Name),
			slog.String("from", from.String()),
			slog.String("reason", reason),
			slog.Int("failures", cb.failures))
	case StateClosed:
		cb.failures = 0
		slog.Info("Store breaker closed", slog.String("name", cb.cfg.Name), slog.String("reason", reason))
	default:
		slog.Info("Store breaker half-open", slog.String("name", cb.cfg.Name), slog.String("reason", reason))
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns the state together with its counters.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := BreakerStatus{State: cb.state, Failures: cb.failures, Trips: cb.trips}
	if cb.state == StateOpen {
		st.RetryAt = cb.openedAt.Add(cb.cfg.Timeout)
	}
	return st
}

// Reset closes the breaker, e.g. after an operator has repaired the store.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed, "manual reset")
}
