// Package resilience keeps the evaluation pipeline running when a
// speech-to-text or embedding backend misbehaves.
//
// Every backend sits behind its own [CircuitBreaker]. A [FallbackGroup] tries
// the backends of one capability in configured order and skips those whose
// breaker is open. [STTFallback] and [EmbeddingsFallback] adapt a group to the
// provider interfaces so the evaluator never sees the difference.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a bounded number of trial calls through.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name identifies the guarded backend in logs and callbacks.
	Name string

	// MaxFailures consecutive failures open a closed breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before admitting trial calls. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax successful trial calls close the breaker again. It is also the
	// number of trial calls allowed in flight. Default 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. The
	// default counts every error except context.Canceled, which means the
	// caller gave up and says nothing about backend health.
	IsFailure func(error) bool

	// OnStateChange runs after every transition with the breaker lock held.
	// It must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = countsAsFailure
	}
	return c
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker is a three-state breaker guarding one backend. It is safe for
// concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on every transition; stale results are ignored
	failures int    // consecutive failures while closed
	openedAt time.Time
	inFlight int // trial calls admitted while half-open
	passed   int // successful trial calls while half-open
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(gen, err)
	return err
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports, and moves to, [StateHalfOpen].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tick()
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
	cb.failures = 0
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tick()
	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMax {
			return 0, ErrCircuitOpen
		}
		cb.inFlight++
	}
	return cb.gen, nil
}

func (cb *CircuitBreaker) settle(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if gen != cb.gen {
		return
	}

	switch {
	case err == nil:
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenMax {
				cb.moveTo(StateClosed)
			}
			return
		}
		cb.failures = 0

	case !cb.cfg.IsFailure(err):
		if cb.state == StateHalfOpen {
			cb.inFlight--
		}

	case cb.state == StateHalfOpen:
		cb.moveTo(StateOpen)

	default:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.moveTo(StateOpen)
		}
	}
}

// tick moves an expired open breaker to half-open. Called with mu held.
func (cb *CircuitBreaker) tick() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.moveTo(StateHalfOpen)
	}
}

// moveTo switches state and resets the per-state counters. Called with mu held.
func (cb *CircuitBreaker) moveTo(next State) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.gen++
	cb.inFlight, cb.passed = 0, 0
	switch next {
	case StateOpen:
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
	case StateClosed:
		cb.failures = 0
		slog.Info("circuit breaker closed", "name", cb.cfg.Name, "from", prev.String())
	default:
		slog.Info("circuit breaker half-open", "name", cb.cfg.Name)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, next)
	}
}
