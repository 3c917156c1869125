package embeddings

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

var _ Provider = (*Cache)(nil)

// Cache memoises the vectors of a Provider by exact input text, evicting the
// least recently used entry beyond its capacity. Rubric indicator phrases are
// embedded for every answer to the same question, so after the first answer
// they are served from memory.
//
// A Cache must wrap exactly one model: vectors from different models are not
// comparable. Cache is safe for concurrent use.
type Cache struct {
	p       Provider
	entries *lru.Cache[string, []float32] // nil when disabled
}

// NewCache wraps p with an LRU cache holding up to capacity vectors. A
// capacity below one disables caching.
func NewCache(p Provider, capacity int) *Cache {
	c := &Cache{p: p}
	if capacity > 0 {
		// lru.New only fails for non-positive sizes.
		c.entries, _ = lru.New[string, []float32](capacity)
	}
	return c
}

// Embed returns the cached vector for text or embeds it.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.get(text); ok {
		return v, nil
	}
	v, err := c.p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(text, v)
	return v, nil
}

// EmbedBatch forwards only the uncached texts, deduplicated, in one call to
// the wrapped provider. The result is in input order.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missing []string
	for i, t := range texts {
		if v, ok := c.get(t); ok {
			out[i] = v
		} else if !slices.Contains(missing, t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.p.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, ErrBatchLength
	}
	fresh := make(map[string][]float32, len(missing))
	for i, t := range missing {
		fresh[t] = vecs[i]
		c.put(t, vecs[i])
	}
	for i, t := range texts {
		if out[i] == nil {
			out[i] = fresh[t]
		}
	}
	return out, nil
}

// Dimensions returns the wrapped provider's dimensions.
func (c *Cache) Dimensions() int { return c.p.Dimensions() }

// ModelID returns the wrapped provider's model.
func (c *Cache) ModelID() string { return c.p.ModelID() }

// Len reports the number of cached vectors.
func (c *Cache) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Unwrap returns the wrapped provider.
func (c *Cache) Unwrap() Provider { return c.p }

func (c *Cache) get(text string) ([]float32, bool) {
	if c.entries == nil {
		return nil, false
	}
	return c.entries.Get(text)
}

func (c *Cache) put(text string, vec []float32) {
	if c.entries == nil || len(vec) == 0 {
		return
	}
	c.entries.Add(text, vec)
}
