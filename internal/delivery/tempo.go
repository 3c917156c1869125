package delivery

import (
	"math"

	"github.com/MrWong99/intervox/pkg/audio"
)

const (
	minTempo   = 30.0
	maxTempo   = 300.0
	priorTempo = 120.0
)

// OnsetTempo estimates tempo from the periodicity of energy onsets.
//
// The onset envelope is the positive first difference of log-compressed RMS
// frames. Its autocorrelation is searched over lags between 30 and 300 bpm,
// weighted by a log-normal prior centred on 120 bpm with a one-octave
// standard deviation, and the best lag is converted back to bpm.
//
// The zero value is ready to use.
type OnsetTempo struct{}

var _ TempoEstimator = OnsetTempo{}

// EstimateTempo implements [TempoEstimator]. It returns [ErrNoTempo] when the
// signal is too short or contains no onsets.
func (OnsetTempo) EstimateTempo(sig audio.Signal) (float64, error) {
	if sig.SampleRate <= 0 {
		return 0, ErrNoTempo
	}
	env := onsetEnvelope(sig.Samples)

	framesPerSec := float64(sig.SampleRate) / HopLength
	minLag := max(1, int(math.Floor(60*framesPerSec/maxTempo)))
	maxLag := int(math.Ceil(60 * framesPerSec / minTempo))
	if len(env) <= minLag+1 {
		return 0, ErrNoTempo
	}
	maxLag = min(maxLag, len(env)-1)

	var (
		bestLag   int
		bestScore float64
	)
	for lag := minLag; lag <= maxLag; lag++ {
		var ac float64
		for i := lag; i < len(env); i++ {
			ac += env[i] * env[i-lag]
		}
		if ac <= 0 {
			continue
		}
		bpm := 60 * framesPerSec / float64(lag)
		z := math.Log2(bpm / priorTempo)
		score := ac * math.Exp(-0.5*z*z)
		if score > bestScore {
			bestScore, bestLag = score, lag
		}
	}
	if bestLag == 0 {
		return 0, ErrNoTempo
	}
	return 60 * framesPerSec / float64(bestLag), nil
}

func onsetEnvelope(samples []float32) []float64 {
	frames := RMS(samples, FrameLength, HopLength)
	if len(frames) < 2 {
		return nil
	}
	env := make([]float64, len(frames))
	prev := math.Log1p(100 * frames[0])
	for i := 1; i < len(frames); i++ {
		cur := math.Log1p(100 * frames[i])
		if d := cur - prev; d > 0 {
			env[i] = d
		}
		prev = cur
	}
	return env
}
