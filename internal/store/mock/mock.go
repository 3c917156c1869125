// Package mock provides an in-memory [store.Store] test double.
//
// Store keeps records in memory, records every call, and can be told to fail
// through the *Err fields.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/intervox/internal/store"
)

// Compile-time interface checks.
var (
	_ store.Store    = (*Store)(nil)
	_ store.Searcher = (*Store)(nil)
)

// Store is a mock implementation of store.Store and store.Searcher.
type Store struct {
	mu      sync.Mutex
	records []store.Record

	// SaveErr, if non-nil, is returned by Save and nothing is stored.
	SaveErr error

	// ListErr, if non-nil, is returned by Get, ListSession and SimilarAnswers.
	ListErr error

	// SaveCalls records every record passed to Save.
	SaveCalls []store.Record

	// Closed reports whether Close was called.
	Closed bool
}

// Save implements store.Store.
func (s *Store) Save(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = append(s.SaveCalls, rec)
	if s.SaveErr != nil {
		return s.SaveErr
	}
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return store.Record{}, s.ListErr
	}
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Record{}, fmt.Errorf("mock store: %q: %w", id, store.ErrNotFound)
}

// ListSession implements store.Store.
func (s *Store) ListSession(_ context.Context, sessionID string) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []store.Record
	for _, r := range s.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mock store: session %q: %w", sessionID, store.ErrNotFound)
	}
	store.SortByCreated(out)
	return out, nil
}

// SimilarAnswers implements store.Searcher.
func (s *Store) SimilarAnswers(_ context.Context, questionID string, embedding []float32, k int) ([]store.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return store.Rank(s.records, questionID, embedding, k), nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Records returns a copy of the stored records. Thread-safe.
func (s *Store) Records() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Reset clears stored records and call history. Thread-safe.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.SaveCalls = nil
	s.Closed = false
}
