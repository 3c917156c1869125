// Package ollama embeds text with a sentence-transformer model served by a
// local Ollama instance (https://ollama.com) through its /api/embed endpoint.
//
// The default model is all-minilm, the model the rubric hit threshold is
// tuned against. Other models work but may need a different threshold.
//
//	p, err := ollama.New("", "") // all-minilm on http://localhost:11434
//	vec, err := p.Embed(ctx, "dropout randomly disables neurons")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intervox/pkg/provider/embeddings"
)

const (
	// DefaultBaseURL is where a local Ollama listens.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when New is given an empty model name.
	DefaultModel = "all-minilm"

	discoverTimeout = 30 * time.Second
	maxErrorBody = 4 << 10
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through Ollama. Safe for concurrent use.
//
// The vector length comes from WithDimensions, else from a table of well
// known models, else from one discovery request on the first Dimensions call.
// Once known, every returned vector is checked against it.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client

	mu         sync.Mutex
	dimensions int
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout bounds every HTTP request. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithDimensions sets the expected vector length.
func WithDimensions(dims int) Option {
	return func(p *Provider) { p.dimensions = dims }
}

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request, as an Ollama duration such as "10m" or "-1" for forever. Empty
// uses the server default of five minutes.
func WithKeepAlive(d string) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// WithHTTPClient replaces the HTTP client. Options applied before it that
// configure the client are lost.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New returns a Provider for model on the Ollama server at baseURL. Empty
// arguments select [DefaultBaseURL] and [DefaultModel].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("ollama embeddings: base URL %q must start with http:// or https://", baseURL)
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.dimensions < 0 {
		return nil, fmt.Errorf("ollama embeddings: negative dimensions %d", p.dimensions)
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

// Embed returns the vector for text. Text is sent verbatim; the scorer
// lower-cases answers and indicators before embedding.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in order, from a single request.
// An empty input returns (nil, nil) without a request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

// Dimensions returns the vector length, querying the server once when the
// model is unknown. It returns 0 while the length cannot be determined; a
// failed discovery is retried on the next call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	dims := p.dimensions
	p.mu.Unlock()
	if dims != 0 {
		return dims
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()
	if _, err := p.embed(ctx, []string{"dimension discovery"}); err != nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimensions
}

// ModelID returns the Ollama model name.
func (p *Provider) ModelID() string { return p.model }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// embed posts texts to /api/embed and validates the result count and vector
// lengths. The first successful response fixes an unknown dimension.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", embeddings.ErrBatchLength, len(texts), len(result.Embeddings))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	want := p.dimensions
	for i, v := range result.Embeddings {
		if want == 0 {
			want = len(v)
		}
		if len(v) != want {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", embeddings.ErrDimensionMismatch, i, len(v), want)
		}
	}
	p.dimensions = want
	return result.Embeddings, nil
}

// statusError turns a non-200 response into an error carrying Ollama's
// message, e.g. a model that has not been pulled.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	return errors.New("status " + resp.Status)
}

// knownDimensions maps common Ollama embedding models to their vector length.
// A tag suffix ("all-minilm:l6-v2") is ignored. Unknown models return 0.
func knownDimensions(model string) int {
	name, _, _ := strings.Cut(strings.ToLower(model), ":")
	name = name[strings.LastIndex(name, "/")+1:]
	switch name {
	case "all-minilm", "paraphrase-multilingual":
		return 384
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "bge-m3", "bge-large", "snowflake-arctic-embed":
		return 1024
	}
	return 0
}
