// Package mock provides an in-memory [embeddings.Provider] for tests.
//
// Vectors answers per text, so a scoring test can place an answer close to
// some rubric indicators and far from others:
//
//	p := &mock.Provider{
//	    Vectors: map[string][]float32{
//	        "gradient descent": {1, 0},
//	        "chain rule":       {0, 1},
//	    },
//	    Fallback:        []float32{0.5, 0.5},
//	    DimensionsValue: 2,
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider returns canned vectors and records the texts it was asked to
// embed. Fields may be set before first use only; call records are guarded
// by an internal lock.
type Provider struct {
	// Vectors maps text to its vector. Texts not in the map get Fallback.
	// When Vectors is nil, Embed returns EmbedResult and EmbedBatch returns
	// EmbedBatchResult.
	Vectors  map[string][]float32
	Fallback []float32

	EmbedResult      []float32
	EmbedBatchResult [][]float32 // nil yields one nil vector per text

	EmbedErr      error
	EmbedBatchErr error

	DimensionsValue int
	ModelIDValue    string

	mu sync.Mutex
	// EmbedCalls holds the text of every Embed call in order.
	EmbedCalls []string
	// EmbedBatchCalls holds a copy of the texts of every EmbedBatch call.
	EmbedBatchCalls [][]string
}

// Embed records text and returns its canned vector or EmbedErr.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	p.mu.Unlock()

	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.Vectors == nil {
		return p.EmbedResult, nil
	}
	return p.vector(text), nil
}

// EmbedBatch records texts and returns one canned vector per text or
// EmbedBatchErr.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, slices.Clone(texts))
	p.mu.Unlock()

	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.Vectors == nil && p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	out := make([][]float32, len(texts))
	if p.Vectors != nil {
		for i, t := range texts {
			out[i] = p.vector(t)
		}
	}
	return out, nil
}

func (p *Provider) vector(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	return p.Fallback
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Reset forgets the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}
