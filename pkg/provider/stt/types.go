package stt

import (
	"strings"
	"time"
)

// Segment is one contiguous piece of recognised speech.
type Segment struct {
	// Text is the transcribed speech content.
	Text string

	// Start and End are offsets from the beginning of the recording.
	Start time.Duration
	End   time.Duration

	// Confidence is the provider's confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64
}

// Text joins the trimmed text of segs with single spaces, skipping blank
// segments.
func Text(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Seconds converts fractional seconds, as reported by most STT APIs, into a
// [time.Duration].
func Seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
