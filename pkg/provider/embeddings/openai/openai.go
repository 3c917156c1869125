// Package openai provides an embeddings provider for the OpenAI API and
// compatible servers.
//
// The text-embedding-3 models can shorten their vectors on request; use
// [WithDimensions] to match the width of an existing pgvector column.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/intervox/pkg/provider/embeddings"
)

// DefaultModel is used when New gets an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// nativeDimensions lists the full vector width of the hosted models and
// whether they can be shortened.
var nativeDimensions = map[string]struct {
	dims      int
	shortable bool
}{
	oai.EmbeddingModelTextEmbedding3Small: {1536, true},
	oai.EmbeddingModelTextEmbedding3Large: {3072, true},
	oai.EmbeddingModelTextEmbeddingAda002: {1536, false},
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through the OpenAI embeddings endpoint.
type Provider struct {
	client    oai.Client
	model     string
	requested int // shortened width sent with each request, 0 for native

	// dims is the expected vector length; 0 until known for unlisted models.
	dims atomic.Int64
}

type settings struct {
	reqOpts    []option.RequestOption
	dimensions int
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header with every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxRetries sets how often the client retries a failed request.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithMaxRetries(n)) }
}

// WithDimensions requests vectors shortened to dims. Only the
// text-embedding-3 models honour it.
func WithDimensions(dims int) Option {
	return func(s *settings) { s.dimensions = dims }
}

// New returns a provider for model, or [DefaultModel] when model is empty. It
// rejects a requested width the model cannot produce.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}

	p := &Provider{model: model}
	native, known := nativeDimensions[model]
	switch {
	case s.dimensions < 0:
		return nil, fmt.Errorf("openai embeddings: dimensions %d must not be negative", s.dimensions)
	case s.dimensions > 0 && known && !native.shortable:
		return nil, fmt.Errorf("openai embeddings: model %s does not support custom dimensions", model)
	case s.dimensions > 0 && known && s.dimensions > native.dims:
		return nil, fmt.Errorf("openai embeddings: dimensions %d exceed %d of model %s", s.dimensions, native.dims, model)
	case s.dimensions > 0:
		p.requested = s.dimensions
		p.dims.Store(int64(s.dimensions))
	case known:
		p.dims.Store(int64(native.dims))
	}
	p.client = oai.NewClient(s.reqOpts...)
	return p, nil
}

// Embed returns the vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Results are ordered by the index
// the server reports, not by response order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return p.embed(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
}

func (p *Provider) embed(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.requested > 0 {
		params.Dimensions = param.NewOpt(int64(p.requested))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("openai embeddings: %w: want %d, got %d", embeddings.ErrBatchLength, n, len(resp.Data))
	}

	out := make([][]float32, n)
	for _, e := range resp.Data {
		i := int(e.Index)
		if i < 0 || i >= n || out[i] != nil {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		vec := toFloat32(e.Embedding)
		want := int(p.dims.Load())
		if want == 0 {
			p.dims.CompareAndSwap(0, int64(len(vec)))
			want = int(p.dims.Load())
		}
		if len(vec) != want {
			return nil, fmt.Errorf("openai embeddings: %w: want %d, got %d", embeddings.ErrDimensionMismatch, want, len(vec))
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions reports the vector length. For models outside the known list it
// is 0 until the first response.
func (p *Provider) Dimensions() int { return int(p.dims.Load()) }

// ModelID returns the model name.
func (p *Provider) ModelID() string { return p.model }

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
