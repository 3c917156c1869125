package scoring_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/pkg/provider/embeddings/mock"
)

const answer = "we use backpropagation to compute gradients"

func entryWith(points map[string][]string) scoring.Entry {
	return scoring.Entry{IdealPoints: points}
}

func TestScorer_SingleHitAwardsLevelFour(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Vectors: map[string][]float32{
			answer:             {1, 0, 0},
			"backpropagation":  {1, 0, 0},
			"gradient descent": {0, 1, 0},
			"chain rule":       {0, 0, 1},
		},
	}
	entry := entryWith(map[string][]string{
		"4": {"Backpropagation", "Gradient Descent", "Chain Rule"},
	})

	res := scoring.New(p).Score(context.Background(), "q1", "Explain training.", answer, entry)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Score != 4 {
		t.Errorf("Score = %d, want 4", res.Score)
	}
	if res.Feedback != "Backpropagation" {
		t.Errorf("Feedback = %q, want %q", res.Feedback, "Backpropagation")
	}
	if res.Hits[4] != 1 {
		t.Errorf("Hits[4] = %d, want 1", res.Hits[4])
	}
	if len(res.Embedding) != 3 {
		t.Errorf("Embedding length = %d, want 3", len(res.Embedding))
	}

	// Indicators are lower-cased and embedded in one batch.
	if len(p.EmbedBatchCalls) != 1 {
		t.Fatalf("EmbedBatch calls = %d, want 1", len(p.EmbedBatchCalls))
	}
	if got := p.EmbedBatchCalls[0][1]; got != "gradient descent" {
		t.Errorf("batch text = %q, want lower-cased", got)
	}
}

func TestScorer_Cascade(t *testing.T) {
	t.Parallel()

	near := []float32{1, 0}
	far := []float32{0, 1}
	p := &mock.Provider{
		Vectors: map[string][]float32{
			answer: near,
			"a4":   near,
			"b4":   near,
			"a3":   near,
			"b3":   near,
			"a2":   near,
		},
		Fallback: far,
	}

	tests := []struct {
		name       string
		points     map[string][]string
		wantScore  int
		wantFeed   string
		wantLevels []int
	}{
		{
			name: "level 4 needs three of five",
			points: map[string][]string{
				"4": {"a4", "b4", "c4", "d4", "e4"},
				"3": {"a3", "b3", "c3", "d3"},
			},
			wantScore:  3,
			wantFeed:   "a3",
			wantLevels: []int{4, 3},
		},
		{
			name: "empty levels are skipped",
			points: map[string][]string{
				"4": {},
				"2": {"a2"},
			},
			wantScore:  2,
			wantFeed:   "a2",
			wantLevels: []int{2},
		},
		{
			name: "nothing satisfied falls back to level 1 text",
			points: map[string][]string{
				"4": {"c4"},
				"1": {"x1", "y1"},
			},
			wantScore:  1,
			wantFeed:   "x1",
			wantLevels: []int{4, 1},
		},
		{
			name:      "missing rubric",
			points:    nil,
			wantScore: 1,
			wantFeed:  "Minimal or Vague Response",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := scoring.New(p).Score(context.Background(), "q", "", answer, entryWith(tc.points))
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if res.Score != tc.wantScore || res.Feedback != tc.wantFeed {
				t.Errorf("got %d %q, want %d %q", res.Score, res.Feedback, tc.wantScore, tc.wantFeed)
			}
			if len(res.Hits) != len(tc.wantLevels) {
				t.Errorf("Hits = %v, want levels %v", res.Hits, tc.wantLevels)
			}
			for _, l := range tc.wantLevels {
				if _, ok := res.Hits[l]; !ok {
					t.Errorf("Hits missing level %d: %v", l, res.Hits)
				}
			}
		})
	}
}

func TestScorer_NonRelevantScoresZero(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Vectors: map[string][]float32{}}
	s := scoring.New(p)
	entry := entryWith(map[string][]string{"0": {"No relevant answer given"}, "4": {"x"}})

	tests := []struct {
		transcript string
		want       string
	}{
		{"", "No relevant answer given"},
		{"Sorry, I don't know the answer to this question.", "No relevant answer given"},
		{"backpropagation uses gradients", "No relevant answer given"},
	}
	for _, tc := range tests {
		res := s.Score(context.Background(), "q", "", tc.transcript, entry)
		if res.Score != 0 || res.Feedback != tc.want {
			t.Errorf("Score(%q) = %d %q, want 0 %q", tc.transcript, res.Score, res.Feedback, tc.want)
		}
	}
	if len(p.EmbedCalls) != 0 {
		t.Errorf("Embed called %d times for non-relevant answers", len(p.EmbedCalls))
	}

	res := s.Score(context.Background(), "q", "", "", scoring.Entry{})
	if res.Feedback != "Unanswered" {
		t.Errorf("Feedback = %q, want %q", res.Feedback, "Unanswered")
	}
}

func TestScorer_EmbedderFailures(t *testing.T) {
	t.Parallel()

	entry := entryWith(map[string][]string{"4": {"x"}})

	tests := []struct {
		name    string
		scorer  *scoring.Scorer
		wantErr error
	}{
		{"no embedder", scoring.New(nil), scoring.ErrNoEmbedder},
		{"embed error", scoring.New(&mock.Provider{EmbedErr: errors.New("offline")}), nil},
		{"batch error", scoring.New(&mock.Provider{
			EmbedResult:   []float32{1},
			EmbedBatchErr: errors.New("offline"),
		}), nil},
		{"dimension mismatch", scoring.New(&mock.Provider{
			EmbedResult:      []float32{1},
			EmbedBatchResult: [][]float32{{1, 0}},
		}), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := tc.scorer.Score(context.Background(), "q", "", answer, entry)
			if res.Err == nil {
				t.Fatal("expected Err")
			}
			if tc.wantErr != nil && !errors.Is(res.Err, tc.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tc.wantErr)
			}
			if res.Score != 0 || res.Feedback != scoring.EmbedderFailedFeedback {
				t.Errorf("got %d %q, want sentinel result", res.Score, res.Feedback)
			}
		})
	}
}

func TestScorer_HitThresholdOption(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Vectors: map[string][]float32{
			answer: {1, 0},
			"x":    {1, 1}, // cosine ~0.707
		},
	}
	entry := entryWith(map[string][]string{"4": {"x"}})

	if res := scoring.New(p).Score(context.Background(), "q", "", answer, entry); res.Score != 4 {
		t.Errorf("default threshold: Score = %d, want 4", res.Score)
	}
	if res := scoring.New(p, scoring.WithHitThreshold(0.9)).Score(context.Background(), "q", "", answer, entry); res.Score != 1 {
		t.Errorf("threshold 0.9: Score = %d, want 1", res.Score)
	}
}
