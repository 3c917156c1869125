package postgres_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/intervox/internal/delivery"
	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/store"
	"github.com/MrWong99/intervox/internal/store/postgres"
	"github.com/MrWong99/intervox/internal/transcript"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if INTERVOX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("INTERVOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTERVOX_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS evaluations CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	s, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(id, session, question string, at time.Time, emb []float32) store.Record {
	return store.Record{
		ID:            id,
		SessionID:     session,
		QuestionID:    question,
		Question:      "What is overfitting?",
		RawTranscript: "um overfitting is when the model memorises",
		Transcript:    "Overfitting is when the model memorises.",
		Corrections:   []transcript.Correction{{Original: "memorizes", Corrected: "memorises", Method: transcript.MethodSpell}},
		Delivery: delivery.Metrics{
			TempoBPM:     129.2,
			PausePercent: 30,
			Summary:      "fast tempo and minimal pauses",
		},
		Score: scoring.Result{
			Score:    3,
			Feedback: "Explains the train/validation gap",
			Hits:     map[int]int{4: 1, 3: 2},
		},
		Confidence: 0.7,
		CreatedAt:  at,
		Embedding:  emb,
	}
}

func TestStore_SaveGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	second := sampleRecord("r2", "sess", "q2", base.Add(time.Minute), nil)
	first := sampleRecord("r1", "sess", "q1", base, []float32{1, 0, 0, 0})
	for _, r := range []store.Record{second, first} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save(%s): %v", r.ID, err)
		}
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Score.Hits[3] != 2 || got.Delivery.Summary != first.Delivery.Summary || len(got.Corrections) != 1 {
		t.Errorf("Get = %+v", got)
	}
	if len(got.Embedding) != testEmbeddingDim {
		t.Errorf("Embedding = %v", got.Embedding)
	}

	list, err := s.ListSession(ctx, "sess")
	if err != nil {
		t.Fatalf("ListSession: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r1" || list[1].ID != "r2" {
		t.Errorf("ListSession order = %v", list)
	}
	if list[1].Embedding != nil {
		t.Errorf("record without embedding came back with %v", list[1].Embedding)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
	if _, err := s.ListSession(ctx, "none"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ListSession(none) err = %v", err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("r", "sess", "q", time.Now().UTC(), nil)
	_ = s.Save(ctx, rec)
	rec.Score.Score = 4
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := s.Get(ctx, "r")
	if got.Score.Score != 4 {
		t.Errorf("Score = %d, want 4", got.Score.Score)
	}
}

func TestStore_DimensionMismatchStoresNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("r", "sess", "q", time.Now().UTC(), []float32{1, 2})
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ := s.Get(ctx, "r")
	if got.Embedding != nil {
		t.Errorf("Embedding = %v, want nil", got.Embedding)
	}
}

func TestStore_SimilarAnswers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.Save(ctx, sampleRecord("near", "a", "q", now, []float32{1, 0.1, 0, 0}))
	_ = s.Save(ctx, sampleRecord("far", "b", "q", now, []float32{0, 0, 1, 0}))
	_ = s.Save(ctx, sampleRecord("other", "c", "q2", now, []float32{1, 0, 0, 0}))

	got, err := s.SimilarAnswers(ctx, "q", []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SimilarAnswers: %v", err)
	}
	if len(got) != 2 || got[0].Record.ID != "near" || got[1].Record.ID != "far" {
		t.Fatalf("SimilarAnswers = %+v", got)
	}
	if math.Abs(got[1].Similarity) > 1e-6 {
		t.Errorf("orthogonal similarity = %v, want 0", got[1].Similarity)
	}

	if got, _ := s.SimilarAnswers(ctx, "q", []float32{1}, 5); len(got) != 0 {
		t.Errorf("wrong dimension query returned %v", got)
	}
}

func TestNewStore_InvalidDSN(t *testing.T) {
	if _, err := postgres.NewStore(context.Background(), "://bad", testEmbeddingDim); err == nil {
		t.Fatal("expected error for invalid DSN")
	}
}
