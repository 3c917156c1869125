package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over between backends.
//
// [stt.ErrEmptyAudio] is permanent unless cfg.Permanent says otherwise: a
// signal one backend refuses as empty is empty for all of them.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, stt.ErrEmptyAudio) }
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after the earlier ones.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Transcribe returns the segments of the first backend that succeeds.
func (f *STTFallback) Transcribe(ctx context.Context, sig audio.Signal, opts stt.Options) ([]stt.Segment, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) ([]stt.Segment, error) {
		return p.Transcribe(ctx, sig, opts)
	})
}

// Available reports whether any backend would accept a call.
func (f *STTFallback) Available() bool { return f.group.Available() }
