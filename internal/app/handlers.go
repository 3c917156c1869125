package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/health"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/session"
	"github.com/MrWong99/intervox/internal/store"
)

const (
	// maxUploadBytes caps a multipart audio upload. Three minutes of 48 kHz
	// stereo 16-bit PCM is about 35 MB.
	maxUploadBytes = 64 << 20

	defaultSimilarK = 5
	maxSimilarK     = 50
)

// routes builds the API mux wrapped in tracing and metrics. API handlers run
// under the request deadline.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, withTimeout(a.cfg.Server.RequestTimeout, h))
	}

	api("POST /v1/evaluations", a.handleEvaluate)
	api("GET /v1/evaluations/{id}", a.handleGetEvaluation)
	api("GET /v1/evaluations/{id}/similar", a.handleSimilar)
	api("GET /v1/sessions/{id}/report", a.handleReport)
	api("GET /v1/questions", a.handleQuestions)

	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// withTimeout bounds every request context by d. Zero disables the bound.
func withTimeout(d time.Duration, next http.Handler) http.Handler {
	if d <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ─── Evaluations ─────────────────────────────────────────────────────────────

// handleEvaluate accepts either a JSON [evaluate.Request] naming an audio file
// below the configured audio directory, or a multipart form with an "audio"
// file part and "session_id" / "question_id" fields.
func (a *App) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := decodeEvaluateRequest(w, r, a.cfg.Server.AudioDir)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	defer cleanup()

	rec, err := a.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		status := evaluateStatus(err)
		if rec != nil {
			// Evaluated but not persisted: return the record with the error.
			writeJSON(r.Context(), w, status, struct {
				Error  string        `json:"error"`
				Record *store.Record `json:"record"`
			}{err.Error(), withoutEmbedding(rec)})
			return
		}
		writeError(r.Context(), w, status, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, withoutEmbedding(rec))
}

// withoutEmbedding returns a copy of rec without its answer vector, which is
// internal to scoring and similarity search.
func withoutEmbedding(rec *store.Record) *store.Record {
	out := *rec
	out.Embedding = nil
	return &out
}

func decodeEvaluateRequest(w http.ResponseWriter, r *http.Request, audioDir string) (evaluate.Request, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		var req evaluate.Request
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, noop, fmt.Errorf("decode request body: %w", err)
		}
		path, err := audioPath(audioDir, req.AudioPath)
		if err != nil {
			return req, noop, err
		}
		req.AudioPath = path
		return req, noop, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return evaluate.Request{}, noop, fmt.Errorf("parse upload: %w", err)
	}
	part, _, err := r.FormFile("audio")
	if err != nil {
		return evaluate.Request{}, noop, fmt.Errorf("missing audio file: %w", err)
	}
	defer part.Close()

	tmp, err := os.CreateTemp("", "intervox-*.wav")
	if err != nil {
		return evaluate.Request{}, noop, fmt.Errorf("store upload: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil {
			slog.Warn("remove upload", "path", tmp.Name(), "err", err)
		}
	}
	_, err = io.Copy(tmp, part)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return evaluate.Request{}, noop, fmt.Errorf("store upload: %w", err)
	}

	return evaluate.Request{
		SessionID:  r.FormValue("session_id"),
		QuestionID: r.FormValue("question_id"),
		AudioPath:  tmp.Name(),
	}, cleanup, nil
}

// audioPath resolves a client-supplied audio_path below dir. An empty name is
// passed through so the evaluator reports the missing field.
func audioPath(dir, name string) (string, error) {
	switch {
	case name == "":
		return "", nil
	case dir == "":
		return "", errors.New("audio_path is disabled on this server; upload the file as multipart/form-data")
	case !filepath.IsLocal(name):
		return "", fmt.Errorf("audio_path %q must be a relative path inside the audio directory", name)
	}
	return filepath.Join(dir, name), nil
}

// evaluateStatus maps pipeline errors to HTTP status codes.
func evaluateStatus(err error) int {
	switch {
	case errors.Is(err, evaluate.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, evaluate.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, evaluate.ErrTranscription):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, ErrNoStore)
		return
	}
	rec, err := a.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, storeStatus(err), err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, withoutEmbedding(&rec))
}

// handleSimilar lists earlier answers to the same question ranked by
// embedding similarity to the given evaluation. Query parameter k bounds the
// result count.
func (a *App) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, ErrNoStore)
		return
	}
	searcher, ok := a.store.(store.Searcher)
	if !ok {
		writeError(r.Context(), w, http.StatusNotImplemented, errors.New("record store does not support similarity search"))
		return
	}

	k := defaultSimilarK
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, fmt.Errorf("invalid k %q", s))
			return
		}
		k = min(n, maxSimilarK)
	}

	id := r.PathValue("id")
	rec, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, storeStatus(err), err)
		return
	}
	if len(rec.Embedding) == 0 {
		writeJSON(r.Context(), w, http.StatusOK, []store.Match{})
		return
	}

	// Ask for one extra so the record itself can be dropped.
	matches, err := searcher.SimilarAnswers(r.Context(), rec.QuestionID, rec.Embedding, k+1)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	out := make([]store.Match, 0, k)
	for _, m := range matches {
		if m.Record.ID == id || len(out) == k {
			continue
		}
		m.Record.Embedding = nil
		out = append(out, m)
	}
	writeJSON(r.Context(), w, http.StatusOK, out)
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// handleReport renders the session report as JSON, or as plain text with
// ?format=text.
func (a *App) handleReport(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, ErrNoStore)
		return
	}
	rep, err := session.Build(r.Context(), a.store, r.PathValue("id"), a.evaluator.Questions())
	if err != nil {
		writeError(r.Context(), w, storeStatus(err), err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := rep.WriteText(w); err != nil {
			observe.Logger(r.Context()).Error("write report", "err", err)
		}
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, rep.Summary())
}

// handleQuestions lists the interview questions in position order.
func (a *App) handleQuestions(w http.ResponseWriter, r *http.Request) {
	type question struct {
		Position string `json:"position"`
		Key      string `json:"key"`
		Question string `json:"question"`
	}
	qs := a.evaluator.Questions()
	positions := make(map[string]string, len(qs))
	for pos, q := range qs {
		positions[q.Key] = pos
	}
	out := make([]question, 0, len(qs))
	for _, q := range qs.Ordered() {
		out = append(out, question{Position: positions[q.Key], Key: q.Key, Question: q.Question})
	}
	writeJSON(r.Context(), w, http.StatusOK, out)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func storeStatus(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(ctx).Error("app: encode response", "err", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		observe.Logger(ctx).Error("request failed", "status", status, "err", err)
	}
	writeJSON(ctx, w, status, map[string]string{"error": err.Error()})
}
