// Package resilience keeps one misbehaving utterance sink from flooding the
// logs and stalling the detector loop.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). After
// MaxFailures consecutive failures it opens and rejects calls with
// [ErrCircuitOpen] until ResetTimeout has passed; it then lets trial calls
// through and closes again once HalfOpenMax of them have succeeded. [Sink]
// applies a breaker to an [audio.Sink].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker settings.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 1
)

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields select the
// defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	MaxFailures  int
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close.
	HalfOpenMax int

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trials    int // trials admitted in the current half-open window
	successes int // successful trials in the current half-open window
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open. fn's error is returned
// unchanged and counted as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(trial, err)
	return err
}

// admit decides whether a call may proceed and whether it is a trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials, cb.successes = 0, 0
		slog.Info("circuit breaker half-open", "name", cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.trials++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && trial:
		cb.trip()
		slog.Warn("circuit breaker re-opened", "name", cb.cfg.Name, "err", err)
	case err != nil:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
			cb.trip()
			slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
		}
	case trial:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			cb.state, cb.failures = StateClosed, 0
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}
	default:
		cb.failures = 0
	}
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures, cb.trials, cb.successes = 0, 0, 0
}
