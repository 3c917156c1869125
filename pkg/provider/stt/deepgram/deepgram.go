// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface by
// streaming a complete answer as linear16 PCM and collecting the final
// results until the server closes the stream.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSamples is the number of samples per binary frame (100 ms at 16 kHz).
	chunkSamples = 1600

	closeStreamMsg = `{"type":"CloseStream"}`
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Keyword is a term whose recognition Deepgram should boost.
type Keyword struct {
	Term  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts domain terms on every request.
func WithKeywords(kws ...Keyword) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, kws...)
	}
}

// WithEndpoint overrides the streaming endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
// Every Transcribe call opens its own connection.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []Keyword
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams sig to Deepgram and returns the final results in order.
func (p *Provider) Transcribe(ctx context.Context, sig audio.Signal, opts stt.Options) ([]stt.Segment, error) {
	if len(sig.Samples) == 0 {
		return nil, nil
	}

	wsURL, err := p.buildURL(sig.SampleRate, opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	pcm := audio.Float32ToPCM16(sig.Samples)
	segs := []stt.Segment{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sendAudio(gctx, conn, pcm)
	})
	g.Go(func() error {
		var err error
		segs, err = readResults(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	conn.Close(websocket.StatusNormalClosure, "done")
	return segs, nil
}

// sendAudio writes pcm in fixed-size binary frames and then asks Deepgram to
// flush and close the stream.
func sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	const frame = chunkSamples * 2
	for off := 0; off < len(pcm); off += frame {
		end := min(off+frame, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(closeStreamMsg)); err != nil {
		return fmt.Errorf("write close stream: %w", err)
	}
	return nil
}

// readResults collects final results until Deepgram sends its closing
// Metadata message or closes the connection normally.
func readResults(ctx context.Context, conn *websocket.Conn) ([]stt.Segment, error) {
	segs := []stt.Segment{}
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return segs, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}
		if head.Type == "Metadata" {
			return segs, nil
		}

		if seg, ok := parseDeepgramResponse(msg); ok {
			segs = append(segs, seg)
		}
	}
}

// buildURL constructs the Deepgram streaming endpoint URL for one request.
func (p *Provider) buildURL(sampleRate int, opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "backpropagation:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Term, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Segment. Returns false for anything other than a non-empty final result.
func parseDeepgramResponse(data []byte) (stt.Segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Segment{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal {
		return stt.Segment{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Segment{}, false
	}

	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return stt.Segment{}, false
	}
	return stt.Segment{
		Text:       text,
		Start:      stt.Seconds(resp.Start),
		End:        stt.Seconds(resp.Start + resp.Duration),
		Confidence: alt.Confidence,
	}, true
}
