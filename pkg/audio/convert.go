package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PCM16ToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Float32ToPCM16 converts normalised float32 samples to 16-bit signed
// little-endian PCM. Values outside [-1, 1] are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DownmixMono averages interleaved multi-channel samples into one channel.
// When channels <= 1 the input is returned unchanged.
func DownmixMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is invalid, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// ToSignal downmixes and resamples interleaved samples in format from into a
// mono [Signal] at targetRate. Resampling runs after the downmix so only one
// channel is interpolated.
func ToSignal(interleaved []float32, from Format, targetRate int) (Signal, error) {
	if from.SampleRate <= 0 {
		return Signal{}, fmt.Errorf("audio: invalid sample rate %d", from.SampleRate)
	}
	if from.Channels <= 0 {
		return Signal{}, fmt.Errorf("audio: invalid channel count %d", from.Channels)
	}
	if targetRate <= 0 {
		targetRate = DefaultSampleRate
	}
	mono := DownmixMono(interleaved, from.Channels)
	return Signal{
		Samples:    Resample(mono, from.SampleRate, targetRate),
		SampleRate: targetRate,
	}, nil
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(f Format) string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
