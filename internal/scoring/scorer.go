package scoring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/intervox/pkg/provider/embeddings"
)

const (
	// DefaultHitThreshold is the cosine similarity at which an indicator
	// counts as covered by the answer.
	DefaultHitThreshold = 0.40

	// MinAnswerWords is the shortest answer that is graded at all.
	MinAnswerWords = 5

	// EmbedderFailedFeedback is reported when no embedding could be made.
	EmbedderFailedFeedback = "Error: Embedding model failed to load."

	unansweredFeedback = "Unanswered"
	vagueFeedback      = "Minimal or Vague Response"
)

// ErrNoEmbedder is set on [Result.Err] when the scorer has no embedding
// provider.
var ErrNoEmbedder = errors.New("scoring: no embedding provider")

// Result is the outcome of grading one answer.
type Result struct {
	// Score is the awarded level, 0–4.
	Score int `json:"score"`

	// Feedback is the first indicator phrase of the awarded level or a fixed
	// fallback. Never empty.
	Feedback string `json:"feedback"`

	// Hits holds the number of matching indicators for every level that was
	// evaluated.
	Hits map[int]int `json:"hits,omitempty"`

	// Embedding is the answer vector, nil when the answer was not embedded.
	Embedding []float32 `json:"-"`

	// Err is non-nil when the embedding capability was missing or failed. The
	// score is then 0 with [EmbedderFailedFeedback].
	Err error `json:"-"`
}

// level is one row of the grading policy.
type level struct {
	score   int
	minHits func(indicators int) int
}

func proportion(f float64) func(int) int {
	return func(n int) int { return max(1, int(float64(n)*f)) }
}

func atLeastOne(int) int { return 1 }

// policy is tried in order; the first satisfied level wins.
var policy = []level{
	{score: 4, minHits: proportion(0.6)},
	{score: 3, minHits: proportion(0.5)},
	{score: 2, minHits: atLeastOne},
	{score: 1, minHits: atLeastOne},
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithHitThreshold overrides [DefaultHitThreshold].
func WithHitThreshold(t float64) Option {
	return func(s *Scorer) { s.threshold = t }
}

// Scorer grades answers against rubric entries. It is safe for concurrent
// use when its embedding provider is.
type Scorer struct {
	embedder  embeddings.Provider
	threshold float64
}

// New returns a [Scorer] backed by embedder. A nil embedder is accepted;
// every Score call then reports [ErrNoEmbedder].
func New(embedder embeddings.Provider, opts ...Option) *Scorer {
	s := &Scorer{embedder: embedder, threshold: DefaultHitThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score grades transcript for the question identified by questionID using
// entry. questionText is informational only.
func (s *Scorer) Score(ctx context.Context, questionID, questionText, transcript string, entry Entry) Result {
	if s.embedder == nil {
		return failedResult(ErrNoEmbedder)
	}

	answer := strings.TrimSpace(transcript)
	if IsNonRelevant(answer) || len(strings.Fields(answer)) < MinAnswerWords {
		return Result{Score: 0, Feedback: entry.feedback(0, unansweredFeedback)}
	}

	vec, err := s.embedder.Embed(ctx, strings.ToLower(answer))
	if err != nil {
		return failedResult(fmt.Errorf("scoring: embed answer to %q: %w", questionID, err))
	}

	res := Result{Hits: make(map[int]int, len(policy)), Embedding: vec}
	for _, lvl := range policy {
		indicators := entry.Indicators(lvl.score)
		if len(indicators) == 0 {
			continue
		}
		hits, err := s.countHits(ctx, vec, indicators)
		if err != nil {
			return failedResult(fmt.Errorf("scoring: level %d of %q: %w", lvl.score, questionID, err))
		}
		res.Hits[lvl.score] = hits
		if hits >= lvl.minHits(len(indicators)) {
			res.Score = lvl.score
			res.Feedback = entry.feedback(lvl.score, "Score "+strconv.Itoa(lvl.score)+" achieved")
			return res
		}
	}

	res.Score = 1
	res.Feedback = entry.feedback(1, vagueFeedback)
	return res
}

// countHits embeds indicators in one batch and counts those whose cosine
// similarity to answer reaches the threshold.
func (s *Scorer) countHits(ctx context.Context, answer []float32, indicators []string) (int, error) {
	texts := make([]string, len(indicators))
	for i, ind := range indicators {
		texts[i] = strings.ToLower(ind)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed indicators: %w", err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embed indicators: got %d vectors for %d texts", len(vecs), len(texts))
	}
	var hits int
	for _, v := range vecs {
		sim, err := embeddings.Cosine(answer, v)
		if err != nil {
			return 0, err
		}
		if sim >= s.threshold {
			hits++
		}
	}
	return hits, nil
}

func failedResult(err error) Result {
	return Result{Score: 0, Feedback: EmbedderFailedFeedback, Err: err}
}
