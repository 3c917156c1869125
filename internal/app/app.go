// Package app wires all intervox subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the evaluation data,
// opens the record store and builds the evaluator, Run serves the HTTP API,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/health"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/store"
	"github.com/MrWong99/intervox/internal/store/file"
	"github.com/MrWong99/intervox/internal/store/postgres"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/internal/transcript/fuzzy"
	"github.com/MrWong99/intervox/internal/transcript/spell"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// ErrNoStore is returned by operations that need the record store when the
// store backend is "none".
var ErrNoStore = errors.New("app: no record store configured")

// App owns all subsystem lifetimes and serves the evaluation API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store     store.Store
	evaluator *evaluate.Evaluator
	metrics   *observe.Metrics
	level     *slog.LevelVar
	checkers  []health.Checker
	evalOpts  []evaluate.Option
	server    *http.Server
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel attaches the level variable of the process logger so config
// reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithEvaluatorOptions appends options passed to [evaluate.New] after the
// ones derived from config.
func WithEvaluatorOptions(opts ...evaluate.Option) Option {
	return func(a *App) { a.evalOpts = append(a.evalOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; providers.STT must be set.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.STT == nil {
		return nil, fmt.Errorf("app: %w", evaluate.ErrNoSTT)
	}

	// ── 1. Evaluation data ───────────────────────────────────────────────
	data, err := LoadData(cfg.Evaluation)
	if err != nil {
		return nil, fmt.Errorf("app: load evaluation data: %w", err)
	}

	// ── 2. Record store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Evaluator ─────────────────────────────────────────────────────
	evalOpts := []evaluate.Option{
		evaluate.WithScorer(scoring.New(providers.Embeddings)),
		evaluate.WithNormalizer(data.Normalizer),
		evaluate.WithRubric(data.Rubric),
		evaluate.WithQuestions(data.Questions),
		evaluate.WithMetrics(a.metrics),
		evaluate.WithMaxAudio(cfg.Evaluation.MaxAudio()),
		evaluate.WithMaxConcurrency(cfg.Evaluation.MaxConcurrency),
		evaluate.WithSTTOptions(stt.Options{
			Language: cfg.Evaluation.Language,
			Prompt:   cfg.Evaluation.Prompt,
		}),
	}
	if a.store != nil {
		evalOpts = append(evalOpts, evaluate.WithStore(a.store))
	}
	a.evaluator, err = evaluate.New(providers.STT, append(evalOpts, a.evalOpts...)...)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init evaluator: %w", err)
	}
	a.closers = append(a.closers, providers.Close)

	// ── 4. Readiness checks + HTTP handler ───────────────────────────────
	a.initChecks()
	a.handler = a.routes()

	slog.Info("evaluator ready",
		"rubric_entries", len(data.Rubric),
		"questions", len(data.Questions),
		"store", string(cfg.Store.Backend),
		"embeddings", providers.Embeddings != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the record store selected by store.backend unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st, err := OpenStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	if st == nil {
		slog.Warn("no record store configured, evaluations are not persisted")
		return nil
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	if p, ok := st.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.PingCheck("store", p))
	} else if a.cfg.Store.Backend == config.StoreFile {
		a.checkers = append(a.checkers, health.FileCheck("store", filepath.Dir(a.cfg.Store.FilePath)))
	}
	return nil
}

// OpenStore opens the record store selected by cfg.Backend. It returns a nil
// store for the "none" backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorePostgres:
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreFile:
		st, err := file.New(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// initChecks registers readiness checks for the data files and providers.
func (a *App) initChecks() {
	a.checkers = append(a.checkers, health.FileCheck("rubric", a.cfg.Evaluation.RubricFile))
	for _, kind := range []string{"stt", "embeddings"} {
		if available, ok := a.providers.availability[kind]; ok {
			a.checkers = append(a.checkers, health.AvailabilityCheck(kind, available))
		}
	}
}

// Data is the evaluation data loaded from the files named in
// [config.EvaluationConfig].
type Data struct {
	Rubric     scoring.Rubric
	Questions  scoring.Questions
	Normalizer *transcript.Normalizer
}

// LoadData reads the rubric, the optional question list, and builds the
// transcript normalizer from the configured vocabulary and wordlist.
func LoadData(ev config.EvaluationConfig) (Data, error) {
	var d Data
	rubric, err := LoadRubric(ev.RubricFile)
	if err != nil {
		return d, err
	}
	d.Rubric = rubric

	if ev.QuestionsFile != "" {
		if d.Questions, err = scoring.LoadQuestions(ev.QuestionsFile); err != nil {
			return d, err
		}
	}

	if d.Normalizer, err = BuildNormalizer(ev); err != nil {
		return d, err
	}
	return d, nil
}

// LoadRubric reads and validates the rubric at path.
func LoadRubric(path string) (scoring.Rubric, error) {
	r, err := scoring.LoadRubric(path)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("app: rubric %s: %w", path, err)
	}
	return r, nil
}

// defaultSpell trains the spell model for the embedded wordlist once per
// process. Words below the count threshold stay known but are never
// suggested, which keeps the model small.
var defaultSpell = sync.OnceValue(func() *spell.Checker {
	return spell.New(transcript.DefaultWordlist(), spell.WithMinCount(defaultSpellMinCount))
})

// defaultSpellMinCount limits suggestions to words ranked in the embedded
// frequency list.
const defaultSpellMinCount = 2

// BuildNormalizer creates a transcript normalizer with spell and domain-term
// correction. The embedded English wordlist and the default vocabulary are
// used unless files are configured.
func BuildNormalizer(ev config.EvaluationConfig) (*transcript.Normalizer, error) {
	vocab := transcript.DefaultVocabulary
	if ev.VocabularyFile != "" {
		var err error
		if vocab, err = transcript.LoadTerms(ev.VocabularyFile); err != nil {
			return nil, err
		}
	}

	var (
		words   map[string]int
		checker *spell.Checker
	)
	if ev.WordlistFile != "" {
		var err error
		if words, err = transcript.LoadWordlist(ev.WordlistFile); err != nil {
			return nil, err
		}
		checker = spell.New(words, spell.WithKnownWords(vocab...))
	} else {
		words = transcript.DefaultWordlist()
		checker = defaultSpell().Extend(vocab...)
	}

	return transcript.New(
		transcript.WithSpellChecker(checker),
		transcript.WithTermMatcher(fuzzy.New()),
		transcript.WithVocabulary(vocab),
		transcript.WithWordlist(words),
	), nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Evaluator returns the evaluation pipeline.
func (a *App) Evaluator() *evaluate.Evaluator { return a.evaluator }

// Store returns the record store, nil when persistence is disabled.
func (a *App) Store() store.Store { return a.store }

// Handler returns the HTTP handler serving the API, health and metrics
// endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a changed config: the log
// level, the rubric, the question list and the transcript normalizer.
// Settings that need a restart are logged and ignored. It is meant to be the
// [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}

	if d.RubricChanged {
		r, err := LoadRubric(new.Evaluation.RubricFile)
		if err != nil {
			slog.Error("rubric reload failed, keeping previous rubric", "err", err)
		} else {
			a.evaluator.SetRubric(r)
			slog.Info("rubric reloaded", "entries", len(r))
		}
	}

	if d.QuestionsChanged {
		q := scoring.Questions{}
		var err error
		if new.Evaluation.QuestionsFile != "" {
			q, err = scoring.LoadQuestions(new.Evaluation.QuestionsFile)
		}
		if err != nil {
			slog.Error("question reload failed, keeping previous questions", "err", err)
		} else {
			a.evaluator.SetQuestions(q)
			slog.Info("questions reloaded", "count", len(q))
		}
	}

	if d.VocabularyChanged {
		n, err := BuildNormalizer(new.Evaluation)
		if err != nil {
			slog.Error("vocabulary reload failed, keeping previous normalizer", "err", err)
		} else {
			a.evaluator.SetNormalizer(n)
			slog.Info("transcript normalizer rebuilt")
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that require a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on server.listen_addr and blocks until ctx is
// cancelled or the listener fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause); call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, waiting for in-flight evaluations, and then
// tears down all subsystems in init order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
