package delivery

import "math"

// RMS computes centred short-time root-mean-square energy. The signal is
// zero padded by frameLength/2 on both sides so frame i is centred on sample
// i*hopLength, giving 1 + len(samples)/hopLength frames. An empty signal has
// no frames.
func RMS(samples []float32, frameLength, hopLength int) []float64 {
	if len(samples) == 0 || frameLength <= 0 || hopLength <= 0 {
		return nil
	}
	half := frameLength / 2
	n := 1 + len(samples)/hopLength
	out := make([]float64, n)
	for i := range n {
		start := i*hopLength - half
		var sum float64
		for j := max(start, 0); j < min(start+frameLength, len(samples)); j++ {
			v := float64(samples[j])
			sum += v * v
		}
		out[i] = math.Sqrt(sum / float64(frameLength))
	}
	return out
}
