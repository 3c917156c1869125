// Package file provides a [store.Store] that keeps evaluation records as
// append-only JSON lines in a local file. It suits single-process use such as
// the CLI or a small deployment without PostgreSQL.
//
// Saving a record whose ID already exists appends a new line; readers keep the
// last line per ID.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/intervox/internal/store"
)

// Compile-time interface checks.
var (
	_ store.Store    = (*Store)(nil)
	_ store.Searcher = (*Store)(nil)
)

// maxLine bounds a single JSON line. Records with embeddings run to tens of
// kilobytes.
const maxLine = 4 << 20

// Store persists records as JSON lines. Safe for concurrent use within one
// process.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a Store that writes to path. Parent directories are created;
// the file itself is created on the first Save.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Save appends rec to the file.
func (s *Store) Save(_ context.Context, rec store.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file store: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("file store: write: %w", err)
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return store.Record{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return store.Record{}, fmt.Errorf("file store: record %q: %w", id, store.ErrNotFound)
}

// ListSession implements [store.Store].
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]store.Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Record
	for _, rec := range records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("file store: session %q: %w", sessionID, store.ErrNotFound)
	}
	store.SortByCreated(out)
	return out, nil
}

// SimilarAnswers implements [store.Searcher] with a linear scan.
func (s *Store) SimilarAnswers(ctx context.Context, questionID string, embedding []float32, k int) ([]store.Match, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return store.Rank(records, questionID, embedding, k), nil
}

// Close implements [store.Store]. The file is opened per write, so there is
// nothing to release.
func (s *Store) Close() error { return nil }

// load reads every record, keeping the last line per ID in first-seen order.
// Malformed lines are logged and skipped.
func (s *Store) load(ctx context.Context) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: open file: %w", err)
	}
	defer f.Close()

	var (
		records []store.Record
		index   = map[string]int{}
		line    int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec store.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			slog.Warn("file store: skipping malformed line", "path", s.path, "line", line, "err", err)
			continue
		}
		if i, ok := index[rec.ID]; ok {
			records[i] = rec
			continue
		}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	return records, nil
}
