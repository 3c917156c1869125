package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/intervox/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels logs and metrics, e.g. "stt" or "embeddings".
	Kind string

	// Permanent reports errors caused by the request rather than the backend.
	// Such an error is returned at once: no other entry is tried and no
	// breaker counts it. Nil treats every error as a backend failure.
	Permanent func(error) bool

	// Metrics receives one sample per attempted entry. Nil disables recording.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of one capability in preference order, each
// behind its own [CircuitBreaker].
//
// Register all entries before sharing the group; calls are safe for
// concurrent use afterwards.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry that is tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	if perm := fg.cfg.Permanent; perm != nil {
		counts := bc.IsFailure
		if counts == nil {
			counts = countsAsFailure
		}
		bc.IsFailure = func(err error) bool { return counts(err) && !perm(err) }
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Available reports whether at least one entry's breaker would admit a call.
func (fg *FallbackGroup[T]) Available() bool {
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute is [ExecuteWithResult] for calls without a result value.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn with each entry in order until one succeeds and
// returns that result. Entries with an open breaker are skipped. It stops with
// ctx's error once ctx is done, returns a permanent error unchanged, and
// otherwise wraps the last error in [ErrAllFailed].
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var res R
		err := e.breaker.Execute(func() (err error) {
			res, err = fn(e.value)
			return err
		})
		switch {
		case err == nil:
			fg.record(ctx, e.name, "ok")
			return res, nil
		case errors.Is(err, ErrCircuitOpen):
			fg.record(ctx, e.name, "circuit_open")
			slog.Debug("provider skipped, circuit open", "kind", fg.cfg.Kind, "provider", e.name)
		case fg.cfg.Permanent != nil && fg.cfg.Permanent(err):
			fg.record(ctx, e.name, "rejected")
			return zero, err
		default:
			fg.record(ctx, e.name, "error")
			slog.Warn("provider failed, trying next", "kind", fg.cfg.Kind, "provider", e.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
}
