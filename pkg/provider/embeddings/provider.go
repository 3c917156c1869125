// Package embeddings defines the Provider interface for text embedding
// backends and the helpers built on it: [Cosine] similarity and an LRU
// [Cache].
//
// The rubric scorer embeds a corrected answer together with every indicator
// phrase of its rubric entry, and the record store keeps the answer vector so
// later answers to the same question can be ranked against it.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector from one Provider has length Dimensions(). Vectors of different
// models live in different spaces and must not be compared.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for one text. The text is sent verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The i-th result belongs to
	// texts[i]. On error no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector length, or 0 while it is still unknown.
	Dimensions() int

	// ModelID names the model, e.g. "all-minilm" or "text-embedding-3-small".
	ModelID() string
}
