// Package postgres provides a PostgreSQL-backed [store.Store] for evaluation
// records.
//
// Records live in a single evaluations table. Delivery metrics, corrections
// and per-level hit counts are JSONB columns; the answer embedding is a
// pgvector column with an HNSW cosine index that serves
// [Store.SimilarAnswers]. The pgvector extension must be available in the
// target database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn, 384)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.Save(ctx, rec)
//	records, _ := s.ListSession(ctx, rec.SessionID)
//	similar, _ := s.SimilarAnswers(ctx, rec.QuestionID, rec.Embedding, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlEvaluations returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlEvaluations(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS evaluations (
    id              TEXT              PRIMARY KEY,
    session_id      TEXT              NOT NULL,
    question_id     TEXT              NOT NULL,
    question        TEXT              NOT NULL DEFAULT '',
    raw_transcript  TEXT              NOT NULL DEFAULT '',
    transcript      TEXT              NOT NULL DEFAULT '',
    corrections     JSONB             NOT NULL DEFAULT '[]',
    delivery        JSONB             NOT NULL DEFAULT '{}',
    score           SMALLINT          NOT NULL,
    feedback        TEXT              NOT NULL DEFAULT '',
    hits            JSONB             NOT NULL DEFAULT '{}',
    score_error     TEXT              NOT NULL DEFAULT '',
    confidence      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    embedding       vector(%d),
    created_at      TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_evaluations_session_created
    ON evaluations (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_evaluations_question_id
    ON evaluations (question_id);

CREATE INDEX IF NOT EXISTS idx_evaluations_embedding
    ON evaluations USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the evaluations table, its indexes and the
// vector extension exist. It is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 384 for all-minilm, 1536 for text-embedding-3-small).
// Changing this value after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlEvaluations(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
