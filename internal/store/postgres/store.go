package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/intervox/internal/store"
)

// Compile-time interface checks.
var (
	_ store.Store    = (*Store)(nil)
	_ store.Searcher = (*Store)(nil)
)

// Store is the PostgreSQL-backed record store. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dimensions: embeddingDimensions}, nil
}

// Ping checks connectivity. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements [store.Store]. An existing row with the same ID is
// replaced. Embeddings whose length differs from the column dimension are
// stored as NULL.
func (s *Store) Save(ctx context.Context, rec store.Record) error {
	const q = `
		INSERT INTO evaluations
		    (id, session_id, question_id, question, raw_transcript, transcript,
		     corrections, delivery, score, feedback, hits, score_error,
		     confidence, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
		    session_id     = EXCLUDED.session_id,
		    question_id    = EXCLUDED.question_id,
		    question       = EXCLUDED.question,
		    raw_transcript = EXCLUDED.raw_transcript,
		    transcript     = EXCLUDED.transcript,
		    corrections    = EXCLUDED.corrections,
		    delivery       = EXCLUDED.delivery,
		    score          = EXCLUDED.score,
		    feedback       = EXCLUDED.feedback,
		    hits           = EXCLUDED.hits,
		    score_error    = EXCLUDED.score_error,
		    confidence     = EXCLUDED.confidence,
		    embedding      = EXCLUDED.embedding,
		    created_at     = EXCLUDED.created_at`

	corrections, err := json.Marshal(rec.Corrections)
	if err != nil {
		return fmt.Errorf("postgres store: marshal corrections: %w", err)
	}
	delivery, err := json.Marshal(rec.Delivery)
	if err != nil {
		return fmt.Errorf("postgres store: marshal delivery: %w", err)
	}
	hits, err := json.Marshal(rec.Score.Hits)
	if err != nil {
		return fmt.Errorf("postgres store: marshal hits: %w", err)
	}

	_, err = s.pool.Exec(ctx, q,
		rec.ID,
		rec.SessionID,
		rec.QuestionID,
		rec.Question,
		rec.RawTranscript,
		rec.Transcript,
		corrections,
		delivery,
		rec.Score.Score,
		rec.Score.Feedback,
		hits,
		rec.ScoreError,
		rec.Confidence,
		s.vector(rec),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save: %w", err)
	}
	return nil
}

// vector returns the embedding column value for rec, or nil for NULL.
func (s *Store) vector(rec store.Record) *pgvector.Vector {
	if len(rec.Embedding) == 0 {
		return nil
	}
	if len(rec.Embedding) != s.dimensions {
		slog.Warn("postgres store: embedding dimension mismatch, storing without vector",
			"id", rec.ID, "got", len(rec.Embedding), "want", s.dimensions)
		return nil
	}
	v := pgvector.NewVector(rec.Embedding)
	return &v
}

const selectColumns = `
		SELECT id, session_id, question_id, question, raw_transcript, transcript,
		       corrections, delivery, score, feedback, hits, score_error,
		       confidence, embedding, created_at`

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	rows, err := s.pool.Query(ctx, selectColumns+`
		FROM   evaluations
		WHERE  id = $1`, id)
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, fmt.Errorf("postgres store: record %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return rec, nil
}

// ListSession implements [store.Store].
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]store.Record, error) {
	rows, err := s.pool.Query(ctx, selectColumns+`
		FROM   evaluations
		WHERE  session_id = $1
		ORDER  BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list session: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("postgres store: session %q: %w", sessionID, store.ErrNotFound)
	}
	return records, nil
}

// SimilarAnswers implements [store.Searcher] using the HNSW cosine index.
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) SimilarAnswers(ctx context.Context, questionID string, embedding []float32, k int) ([]store.Match, error) {
	if k <= 0 || len(embedding) != s.dimensions {
		return []store.Match{}, nil
	}
	rows, err := s.pool.Query(ctx, selectColumns+`,
		       embedding <=> $1 AS distance
		FROM   evaluations
		WHERE  question_id = $2
		  AND  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`, pgvector.NewVector(embedding), questionID, k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar answers: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Match, error) {
		var (
			m        store.Match
			distance float64
		)
		rec, err := scanRecordExtra(row, &distance)
		if err != nil {
			return store.Match{}, err
		}
		m.Record = rec
		m.Similarity = 1 - distance
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []store.Match{}
	}
	return matches, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (store.Record, error) {
	return scanRecordExtra(row)
}

// scanRecordExtra scans the selectColumns followed by any extra destinations.
func scanRecordExtra(row pgx.CollectableRow, extra ...any) (store.Record, error) {
	var (
		rec                         store.Record
		corrections, delivery, hits []byte
		vec                         *pgvector.Vector
	)
	dest := []any{
		&rec.ID,
		&rec.SessionID,
		&rec.QuestionID,
		&rec.Question,
		&rec.RawTranscript,
		&rec.Transcript,
		&corrections,
		&delivery,
		&rec.Score.Score,
		&rec.Score.Feedback,
		&hits,
		&rec.ScoreError,
		&rec.Confidence,
		&vec,
		&rec.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return store.Record{}, err
	}
	if err := json.Unmarshal(corrections, &rec.Corrections); err != nil {
		return store.Record{}, fmt.Errorf("decode corrections: %w", err)
	}
	if err := json.Unmarshal(delivery, &rec.Delivery); err != nil {
		return store.Record{}, fmt.Errorf("decode delivery: %w", err)
	}
	if err := json.Unmarshal(hits, &rec.Score.Hits); err != nil {
		return store.Record{}, fmt.Errorf("decode hits: %w", err)
	}
	if vec != nil {
		rec.Embedding = vec.Slice()
		rec.Score.Embedding = rec.Embedding
	}
	return rec, nil
}
