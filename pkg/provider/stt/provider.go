// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider transcribes one complete recorded answer at a time and returns the
// recognised speech as ordered [Segment] values. Backends range from a local
// whisper.cpp model (in-process or behind whisper-server) to hosted APIs such
// as OpenAI and Deepgram. Audio is always handed over as a decoded mono
// [audio.Signal]; providers convert it to whatever wire format they need.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/intervox/pkg/audio"
)

// ErrEmptyAudio is returned by providers that refuse to transcribe a signal
// without samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Options carries per-request recognition hints.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// An empty string uses the provider's configured default.
	Language string

	// Prompt is free text that biases recognition towards expected vocabulary
	// (e.g., domain terms). Providers without prompt support ignore it.
	Prompt string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; independent answers may be
// transcribed in parallel.
type Provider interface {
	// Transcribe recognises speech in sig and returns the segments in
	// chronological order. A signal that contains no speech yields an empty
	// slice and a nil error.
	//
	// Returns an error if the backend cannot be reached, rejects the request,
	// or ctx is cancelled.
	Transcribe(ctx context.Context, sig audio.Signal, opts Options) ([]Segment, error)
}
