// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model. It is the only
// model that reports segment timings.
const DefaultModel = "whisper-1"

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries a failed request.
// Negative values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI STT Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// verboseTranscription is the verbose_json body. The SDK type only exposes
// the text, so segments are read from the raw response.
type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe implements stt.Provider. The signal is uploaded as a 16-bit mono
// WAV file.
func (p *Provider) Transcribe(ctx context.Context, sig audio.Signal, opts stt.Options) ([]stt.Segment, error) {
	if len(sig.Samples) == 0 {
		return nil, nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeSignalWAV(sig)), "answer.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if p.model == DefaultModel {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
		params.TimestampGranularities = []string{"segment"}
	} else {
		params.ResponseFormat = oai.AudioResponseFormatJSON
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if opts.Prompt != "" {
		params.Prompt = param.NewOpt(opts.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return parseTranscription(resp.RawJSON(), resp.Text, sig.Duration())
}

// parseTranscription extracts segments from a verbose response and falls back
// to a single segment spanning the whole answer.
func parseTranscription(raw, text string, duration float64) ([]stt.Segment, error) {
	var v verboseTranscription
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("openai stt: parse response: %w", err)
		}
	}

	if len(v.Segments) == 0 {
		text = strings.TrimSpace(text)
		if text == "" {
			return []stt.Segment{}, nil
		}
		return []stt.Segment{{Text: text, End: stt.Seconds(duration)}}, nil
	}

	segs := make([]stt.Segment, 0, len(v.Segments))
	for _, s := range v.Segments {
		segs = append(segs, stt.Segment{
			Text:       strings.TrimSpace(s.Text),
			Start:      stt.Seconds(s.Start),
			End:        stt.Seconds(s.End),
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	return segs, nil
}

// logprobConfidence maps a segment's mean token log-probability to 0–1. A
// zero value means the field was absent.
func logprobConfidence(avg float64) float64 {
	if avg == 0 {
		return 0
	}
	return min(1, math.Exp(avg))
}
