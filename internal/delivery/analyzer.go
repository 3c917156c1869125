// Package delivery measures how a spoken answer was delivered: speaking pace
// and the share of the recording spent in silence.
//
// An [Analyzer] combines two capabilities. A [TempoEstimator] reports the
// dominant tempo of the recording in beats per minute and an [EnergyFunc]
// produces short-time RMS energy frames from which pause time is derived.
// Both are pluggable so the analysis thresholds can be tested without real
// audio.
//
// Analysis never fails outward. Any capability error or panic produces a
// [Metrics] value whose Summary is "Analysis failed" and whose numeric fields
// are zero.
package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/intervox/pkg/audio"
)

const (
	// DefaultTempo is used when the tempo capability yields no estimate.
	DefaultTempo = 100.0

	// FrameLength and HopLength define the RMS analysis window in samples.
	FrameLength = 2048
	HopLength   = 512

	// SilenceThreshold is the RMS level below which a frame counts as silent.
	SilenceThreshold = 0.015

	// FailedSummary is reported when analysis could not be completed.
	FailedSummary = "Analysis failed"
)

// ErrNoTempo is returned by a [TempoEstimator] that found no periodicity in
// the signal. The analyzer substitutes [DefaultTempo].
var ErrNoTempo = errors.New("delivery: no tempo estimate")

// TempoEstimator estimates the dominant tempo of a signal in beats per minute.
//
// Implementations must be safe for concurrent use.
type TempoEstimator interface {
	EstimateTempo(sig audio.Signal) (float64, error)
}

// EnergyFunc returns one RMS value per analysis frame of samples.
type EnergyFunc func(samples []float32, frameLength, hopLength int) []float64

// Metrics describes speaking pace and pause behaviour for one response.
type Metrics struct {
	TempoBPM          float64 `json:"tempo_bpm"`
	PausePercent      float64 `json:"pause_percent"`
	TotalPauseSeconds float64 `json:"total_pause_seconds"`
	DurationSeconds   float64 `json:"duration_seconds"`
	Summary           string  `json:"summary"`

	// Error is non-empty when analysis failed. All numeric fields are zero
	// in that case.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the metrics describe a failed analysis.
func (m Metrics) Failed() bool { return m.Error != "" }

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithTempoEstimator sets the tempo capability. Default: [OnsetTempo].
func WithTempoEstimator(t TempoEstimator) Option {
	return func(a *Analyzer) { a.tempo = t }
}

// WithEnergyFunc sets the frame energy capability. Default: [RMS].
func WithEnergyFunc(f EnergyFunc) Option {
	return func(a *Analyzer) { a.energy = f }
}

// Analyzer computes [Metrics] for decoded signals. It holds no mutable state
// after construction and is safe for concurrent use.
type Analyzer struct {
	tempo  TempoEstimator
	energy EnergyFunc
}

// New returns an [Analyzer] configured with opts.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		tempo:  OnsetTempo{},
		energy: RMS,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze computes delivery metrics for sig.
func (a *Analyzer) Analyze(sig audio.Signal) (m Metrics) {
	defer func() {
		if r := recover(); r != nil {
			m = failed(fmt.Errorf("delivery: panic during analysis: %v", r))
		}
	}()

	res, err := a.analyze(sig)
	if err != nil {
		return failed(err)
	}
	return res
}

func (a *Analyzer) analyze(sig audio.Signal) (Metrics, error) {
	if sig.SampleRate <= 0 {
		return Metrics{}, fmt.Errorf("delivery: invalid sample rate %d", sig.SampleRate)
	}

	tempo := DefaultTempo
	if a.tempo != nil {
		bpm, err := a.tempo.EstimateTempo(sig)
		switch {
		case errors.Is(err, ErrNoTempo):
		case err != nil:
			return Metrics{}, fmt.Errorf("delivery: estimate tempo: %w", err)
		case bpm > 0 && !math.IsInf(bpm, 0) && !math.IsNaN(bpm):
			tempo = bpm
		}
	}

	var silent int
	if a.energy != nil {
		for _, e := range a.energy(sig.Samples, FrameLength, HopLength) {
			if e < SilenceThreshold {
				silent++
			}
		}
	}

	duration := sig.Duration()
	pause := float64(silent) * HopLength / float64(sig.SampleRate)
	var pct float64
	if duration > 0 {
		pct = pause / duration * 100
	}

	return Metrics{
		TempoBPM:          tempo,
		PausePercent:      pct,
		TotalPauseSeconds: pause,
		DurationSeconds:   duration,
		Summary:           fmt.Sprintf("%s tempo and %s", tempoLabel(tempo), pauseLabel(pct)),
	}, nil
}

func failed(err error) Metrics {
	slog.Warn("delivery: analysis failed", "err", err)
	return Metrics{Summary: FailedSummary, Error: err.Error()}
}

func tempoLabel(bpm float64) string {
	switch {
	case bpm > 150:
		return "too fast"
	case bpm >= 125:
		return "fast"
	default:
		return "slow"
	}
}

func pauseLabel(pct float64) string {
	switch {
	case pct > 45:
		return "too many pauses"
	case pct <= 35:
		return "minimal pauses"
	default:
		return "normal pauses"
	}
}
