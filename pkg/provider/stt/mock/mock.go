// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to return pre-canned segments without a live backend and to
// verify which signals and options were submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Segments: []stt.Segment{{Text: "dropout reduces overfitting"}},
//	}
//	segs, _ := p.Transcribe(ctx, sig, stt.Options{Language: "en"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Signal is the audio passed to Transcribe.
	Signal audio.Signal
	// Opts are the options passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Segments is returned by Transcribe.
	Segments []stt.Segment

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, overrides Segments and TranscribeErr.
	TranscribeFunc func(ctx context.Context, sig audio.Signal, opts stt.Options) ([]stt.Segment, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, sig audio.Signal, opts stt.Options) ([]stt.Segment, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Signal: sig, Opts: opts})
	fn, segs, err := p.TranscribeFunc, p.Segments, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, sig, opts)
	}
	if err != nil {
		return nil, err
	}
	return segs, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
