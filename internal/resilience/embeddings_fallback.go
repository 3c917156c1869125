package resilience

import (
	"context"

	"github.com/MrWong99/intervox/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several embedding backends. Dimensions and ModelID always report the
// primary, so fallbacks must serve the same model to keep vectors comparable.
type EmbeddingsFallback struct {
	primary embeddings.Provider
	group   *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		primary: primary,
		group:   NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embeddings provider as a fallback.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed computes a single vector using the first healthy provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes vectors for texts using the first healthy provider.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary provider's vector length.
func (f *EmbeddingsFallback) Dimensions() int { return f.primary.Dimensions() }

// ModelID returns the primary provider's model identifier.
func (f *EmbeddingsFallback) ModelID() string { return f.primary.ModelID() }

// Available reports whether any backend's circuit breaker is not open.
func (f *EmbeddingsFallback) Available() bool { return f.group.Available() }
