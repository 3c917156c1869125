// Package health serves the liveness and readiness checks of the evaluation
// service.
//
// GET /healthz answers 200 while the process serves HTTP. GET /readyz runs
// every registered [Checker] concurrently and answers 200 only when all of
// them pass, 503 otherwise. Both return a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Checker is one named readiness check. Check returns nil while the
// dependency is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Report is the body of both health endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == statusOK }

// Handler serves the health endpoints. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a handler running checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: statusOK})
}

// Readyz answers 200 when [Handler.Check] passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeReport(w, status, rep)
}

// Check runs all checkers concurrently, each under its own [checkTimeout]
// derived from ctx, and collects their results.
func (h *Handler) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			results[i] = CheckResult{Status: statusOK, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = statusFail
				results[i].Error = err.Error()
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: statusOK, Checks: make(map[string]CheckResult, len(results))}
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if results[i].Status != statusOK {
			rep.Status = statusFail
		}
	}
	return rep
}

func writeReport(w http.ResponseWriter, status int, rep Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		slog.Error("health: encode response", "err", err)
	}
}
