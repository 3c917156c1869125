// Package evaluate runs one recorded interview answer through the full
// pipeline and produces a [store.Record].
//
// The stages are, in order: decode the audio file, cap its length, analyse
// delivery and transcribe concurrently, normalise the transcript, then
// estimate confidence and score it against the rubric. Only decoding and
// transcription failures abort an evaluation; every other failure is folded
// into the record (see [delivery.Metrics.Error] and [store.Record.ScoreError]).
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervox/internal/delivery"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/store"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// DefaultMaxAudio caps how much of an answer is analysed.
const DefaultMaxAudio = 180 * time.Second

var (
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("evaluate: invalid request")

	// ErrDecode wraps audio decoding failures.
	ErrDecode = errors.New("evaluate: decode audio")

	// ErrTranscription wraps speech-to-text failures.
	ErrTranscription = errors.New("evaluate: transcription failed")

	// ErrStore wraps persistence failures. The record is still returned.
	ErrStore = errors.New("evaluate: save record")

	// ErrNoSTT is returned by [New] when no STT provider was supplied.
	ErrNoSTT = errors.New("evaluate: no STT provider")
)

// Request identifies one answer to evaluate.
type Request struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	AudioPath  string `json:"audio_path"`
}

// Result pairs a request with its outcome in [Evaluator.EvaluateAll].
type Result struct {
	Request Request
	Record  *store.Record
	Err     error
}

// Analyzer computes delivery metrics. [*delivery.Analyzer] implements it.
type Analyzer interface {
	Analyze(sig audio.Signal) delivery.Metrics
}

// Normalizer cleans up a raw transcript. [*transcript.Normalizer] implements it.
type Normalizer interface {
	Correct(raw string) transcript.Normalized
}

// Scorer grades a transcript against a rubric entry. [*scoring.Scorer]
// implements it.
type Scorer interface {
	Score(ctx context.Context, questionID, questionText, text string, entry scoring.Entry) scoring.Result
}

// Option is a functional option for configuring an [Evaluator].
type Option func(*Evaluator)

// WithDecoder replaces the default [audio.WAVDecoder].
func WithDecoder(d audio.Decoder) Option {
	return func(e *Evaluator) { e.decoder = d }
}

// WithAnalyzer replaces the default delivery analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Evaluator) { e.analyzer = a }
}

// WithNormalizer sets the transcript normalizer. The default is a
// [transcript.Normalizer] without spell or term matching capabilities.
func WithNormalizer(n Normalizer) Option {
	return func(e *Evaluator) { e.SetNormalizer(n) }
}

// WithScorer sets the rubric scorer. The default has no embedding provider
// and therefore reports an error score for every relevant answer.
func WithScorer(s Scorer) Option {
	return func(e *Evaluator) { e.scorer = s }
}

// WithRubric sets the rubric used for scoring.
func WithRubric(r scoring.Rubric) Option {
	return func(e *Evaluator) { e.SetRubric(r) }
}

// WithQuestions sets the question list used to fill [store.Record.Question].
func WithQuestions(q scoring.Questions) Option {
	return func(e *Evaluator) { e.SetQuestions(q) }
}

// WithStore persists every record after evaluation.
func WithStore(s store.Store) Option {
	return func(e *Evaluator) { e.store = s }
}

// WithMetrics records pipeline metrics. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithMaxAudio caps the analysed audio length. Zero or negative disables the
// cap. Defaults to [DefaultMaxAudio].
func WithMaxAudio(d time.Duration) Option {
	return func(e *Evaluator) { e.maxAudio = d }
}

// WithSTTOptions sets the language and prompt passed to the STT provider.
func WithSTTOptions(o stt.Options) Option {
	return func(e *Evaluator) { e.sttOpts = o }
}

// WithMaxConcurrency bounds [Evaluator.EvaluateAll]. Defaults to 4.
func WithMaxConcurrency(n int) Option {
	return func(e *Evaluator) { e.maxConcurrency = n }
}

// WithClock replaces time.Now for CreatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithIDGenerator replaces the random UUID record IDs.
func WithIDGenerator(f func() string) Option {
	return func(e *Evaluator) { e.newID = f }
}

// Evaluator runs the evaluation pipeline. It is safe for concurrent use; the
// rubric, question list and normalizer may be swapped at runtime.
type Evaluator struct {
	decoder        audio.Decoder
	analyzer       Analyzer
	stt            stt.Provider
	scorer         Scorer
	store          store.Store
	metrics        *observe.Metrics
	maxAudio       time.Duration
	sttOpts        stt.Options
	maxConcurrency int
	now            func() time.Time
	newID          func() string

	normalizer atomic.Pointer[Normalizer]
	rubric     atomic.Pointer[scoring.Rubric]
	questions  atomic.Pointer[scoring.Questions]
}

// New creates an [Evaluator] that transcribes with provider.
func New(provider stt.Provider, opts ...Option) (*Evaluator, error) {
	if provider == nil {
		return nil, ErrNoSTT
	}
	e := &Evaluator{
		decoder:        audio.WAVDecoder{},
		analyzer:       delivery.New(),
		stt:            provider,
		scorer:         scoring.New(nil),
		maxAudio:       DefaultMaxAudio,
		maxConcurrency: 4,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	e.SetNormalizer(transcript.New())
	e.SetRubric(scoring.Rubric{})
	e.SetQuestions(scoring.Questions{})
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// SetRubric atomically replaces the rubric. A nil rubric is stored as empty.
func (e *Evaluator) SetRubric(r scoring.Rubric) {
	if r == nil {
		r = scoring.Rubric{}
	}
	e.rubric.Store(&r)
}

// Rubric returns the rubric currently in use.
func (e *Evaluator) Rubric() scoring.Rubric { return *e.rubric.Load() }

// SetQuestions atomically replaces the question list.
func (e *Evaluator) SetQuestions(q scoring.Questions) {
	if q == nil {
		q = scoring.Questions{}
	}
	e.questions.Store(&q)
}

// Questions returns the question list currently in use.
func (e *Evaluator) Questions() scoring.Questions { return *e.questions.Load() }

// SetNormalizer atomically replaces the transcript normalizer. Nil is ignored.
func (e *Evaluator) SetNormalizer(n Normalizer) {
	if n == nil {
		return
	}
	e.normalizer.Store(&n)
}

// Evaluate runs req through the pipeline and returns the resulting record.
//
// Decoding and transcription failures return a nil record with an error
// wrapping [ErrDecode] or [ErrTranscription]. A failed save returns the
// record together with an error wrapping [ErrStore].
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (rec *store.Record, err error) {
	ctx = observe.WithEvaluation(ctx, req.SessionID, req.QuestionID)
	ctx, span := observe.StartSpan(ctx, "evaluate.Evaluate")
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	e.metrics.EvaluationStarted(ctx)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.EvaluationFinished(ctx, status, time.Since(start))
	}()

	if req.AudioPath == "" || req.QuestionID == "" {
		return nil, fmt.Errorf("%w: audio_path and question_id are required", ErrInvalidRequest)
	}

	sig, err := e.decoder.Decode(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	e.metrics.RecordAudio(ctx, sig.Duration())
	if e.maxAudio > 0 && sig.Duration() > e.maxAudio.Seconds() {
		log.Info("truncating long answer", "duration_s", sig.Duration(), "max_s", e.maxAudio.Seconds())
		sig = sig.Truncate(e.maxAudio)
	}

	metrics, raw, err := e.analyseAndTranscribe(ctx, sig)
	if err != nil {
		return nil, err
	}
	if metrics.Failed() {
		log.Warn("delivery analysis failed", "err", metrics.Error)
	}

	norm := (*e.normalizer.Load()).Correct(raw)
	e.countCorrections(ctx, norm.Corrections)

	question, _ := e.Questions().ByKey(req.QuestionID)
	result, confidence := e.score(ctx, req.QuestionID, question.Question, norm.Text)
	if result.Err != nil {
		log.Warn("scoring failed", "err", result.Err)
	}

	rec = &store.Record{
		ID:            e.newID(),
		SessionID:     req.SessionID,
		QuestionID:    req.QuestionID,
		Question:      question.Question,
		RawTranscript: norm.Raw,
		Transcript:    norm.Text,
		Corrections:   norm.Corrections,
		Delivery:      metrics,
		Score:         result,
		Confidence:    confidence,
		CreatedAt:     e.now().UTC(),
		Embedding:     result.Embedding,
	}
	if result.Err != nil {
		rec.ScoreError = result.Err.Error()
	}
	span.SetAttributes(
		attribute.String("record_id", rec.ID),
		attribute.Int("score", result.Score),
	)
	log.Info("answer evaluated",
		"record_id", rec.ID,
		"score", result.Score,
		"confidence", confidence,
		"delivery", metrics.Summary,
	)

	if e.store != nil {
		if serr := e.store.Save(ctx, *rec); serr != nil {
			return rec, fmt.Errorf("%w: %w", ErrStore, serr)
		}
	}
	return rec, nil
}

// EvaluateAll evaluates independent requests concurrently, at most
// maxConcurrency at a time. Results are returned in request order and each
// carries its own error; one failing request does not cancel the others.
func (e *Evaluator) EvaluateAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			rec, err := e.Evaluate(gctx, req)
			results[i] = Result{Request: req, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// analyseAndTranscribe runs delivery analysis and transcription in parallel.
func (e *Evaluator) analyseAndTranscribe(ctx context.Context, sig audio.Signal) (delivery.Metrics, string, error) {
	var (
		metrics delivery.Metrics
		raw     string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := observe.StartSpan(gctx, "evaluate.analyze")
		defer span.End()
		start := time.Now()
		metrics = e.analyzer.Analyze(sig)
		e.metrics.RecordStage(gctx, observe.StageAnalysis, time.Since(start))
		return nil
	})
	g.Go(func() error {
		sctx, span := observe.StartSpan(gctx, "evaluate.transcribe")
		defer span.End()
		start := time.Now()
		segs, err := e.stt.Transcribe(sctx, sig, e.sttOpts)
		e.metrics.RecordStage(sctx, observe.StageSTT, time.Since(start))
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: %w", ErrTranscription, err)
		}
		raw = stt.Text(segs)
		span.SetAttributes(attribute.Int("segments", len(segs)))
		return nil
	})
	if err := g.Wait(); err != nil {
		return delivery.Metrics{}, "", err
	}
	return metrics, raw, nil
}

// score computes confidence and the rubric score for text.
func (e *Evaluator) score(ctx context.Context, questionID, questionText, text string) (scoring.Result, float64) {
	ctx, span := observe.StartSpan(ctx, "evaluate.score")
	defer span.End()
	start := time.Now()
	confidence := scoring.Confidence(text)
	result := e.scorer.Score(ctx, questionID, questionText, text, e.Rubric().Entry(questionID))
	e.metrics.RecordStage(ctx, observe.StageScoring, time.Since(start))
	e.metrics.RecordScore(ctx, result.Score)
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	return result, confidence
}

func (e *Evaluator) countCorrections(ctx context.Context, corrections []transcript.Correction) {
	byMethod := make(map[string]int)
	for _, c := range corrections {
		byMethod[c.Method]++
	}
	for method, n := range byMethod {
		e.metrics.RecordCorrection(ctx, method, n)
	}
}
