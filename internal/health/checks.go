package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Pinger is implemented by dependencies that can verify their connection,
// such as the Postgres record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a [Checker] that pings p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// FileCheck returns a [Checker] that fails when path cannot be opened for
// reading, e.g. after the rubric file was removed from under a running
// server.
func FileCheck(name, path string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		return f.Close()
	}}
}

// ErrUnavailable is reported by [AvailabilityCheck] when every backend of a
// provider group has an open circuit breaker.
var ErrUnavailable = errors.New("no backend available")

// AvailabilityCheck returns a [Checker] that fails with [ErrUnavailable] while
// available reports false.
func AvailabilityCheck(name string, available func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !available() {
			return fmt.Errorf("%s: %w", name, ErrUnavailable)
		}
		return nil
	}}
}
