// Package audio holds the decoded waveform type shared by the evaluation
// pipeline together with WAV decoding, encoding and format conversion helpers.
//
// Every analysis stage works on a [Signal]: mono float32 samples normalised to
// [-1, 1] at a fixed sample rate (16 kHz unless stated otherwise).
package audio

import "time"

// DefaultSampleRate is the rate every decoded response is converted to before
// analysis and transcription.
const DefaultSampleRate = 16000

// Signal is a decoded mono waveform. It is immutable once produced by a
// [Decoder]; analysis code must not modify Samples in place.
type Signal struct {
	// Samples are mono PCM samples normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the signal length in seconds. Zero for an empty signal or
// an invalid sample rate.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Truncate returns a Signal limited to at most max. A non-positive max or a
// signal already shorter than max is returned unchanged. The sample slice is
// shared, not copied.
func (s Signal) Truncate(max time.Duration) Signal {
	if max <= 0 || s.SampleRate <= 0 {
		return s
	}
	n := int(max.Seconds() * float64(s.SampleRate))
	if n >= len(s.Samples) {
		return s
	}
	return Signal{Samples: s.Samples[:n], SampleRate: s.SampleRate}
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
