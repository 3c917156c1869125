// Package store persists evaluation records.
//
// A [Record] is the complete outcome of evaluating one recorded answer. A
// [Store] appends records and lists them back per interview session, which is
// all the session report needs. Backends that keep the answer embedding also
// implement [Searcher] to find earlier answers to the same question that are
// semantically close.
//
// Backends live in sub-packages: postgres (pgx + pgvector), file (JSON lines)
// and mock (in-memory test double). Every implementation must be safe for
// concurrent use.
package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/intervox/internal/delivery"
	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/pkg/provider/embeddings"
)

// ErrNotFound is returned when a record or session does not exist.
var ErrNotFound = errors.New("store: not found")

// Record is the outcome of evaluating one answer.
type Record struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Question   string `json:"question,omitempty"`

	// RawTranscript is the STT output, Transcript the normalised text that
	// was scored.
	RawTranscript string                  `json:"raw_transcript"`
	Transcript    string                  `json:"transcript"`
	Corrections   []transcript.Correction `json:"corrections"`

	Delivery delivery.Metrics `json:"delivery"`
	Score    scoring.Result   `json:"score"`

	// ScoreError is the message of Score.Err, which does not survive
	// serialisation on its own.
	ScoreError string `json:"score_error,omitempty"`

	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`

	// Embedding is the answer vector used for scoring. Nil when the answer
	// was not embedded.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Store persists evaluation records.
type Store interface {
	// Save appends rec. Saving a record with an existing ID replaces it.
	Save(ctx context.Context, rec Record) error

	// Get returns the record with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// ListSession returns all records of sessionID ordered by CreatedAt.
	// Returns [ErrNotFound] when the session has no records.
	ListSession(ctx context.Context, sessionID string) ([]Record, error)

	// Close releases resources held by the store.
	Close() error
}

// Match is a stored record together with its cosine similarity to a query
// embedding.
type Match struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Searcher is implemented by stores that can rank earlier answers by
// embedding similarity.
type Searcher interface {
	// SimilarAnswers returns up to k records for questionID whose embeddings
	// are closest to embedding, most similar first.
	SimilarAnswers(ctx context.Context, questionID string, embedding []float32, k int) ([]Match, error)
}

// Rank scores every record of questionID that carries an embedding of the
// same length as query and returns the k best, most similar first. Ties keep
// CreatedAt order. Backends without a vector index use it for [Searcher].
func Rank(records []Record, questionID string, query []float32, k int) []Match {
	matches := []Match{}
	if k <= 0 || len(query) == 0 {
		return matches
	}
	for _, rec := range records {
		if rec.QuestionID != questionID || len(rec.Embedding) != len(query) {
			continue
		}
		sim, err := embeddings.Cosine(query, rec.Embedding)
		if err != nil {
			continue
		}
		matches = append(matches, Match{Record: rec, Similarity: sim})
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return a.Record.CreatedAt.Compare(b.Record.CreatedAt)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// SortByCreated orders records chronologically in place.
func SortByCreated(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
