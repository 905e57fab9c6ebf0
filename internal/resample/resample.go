// Package resample converts between arbitrary PCM sample rates using simple
// box (downsample) and linear (upsample) filters. No spectral pre-filtering
// is attempted; callers wanting perceptual quality must filter beforehand.
package resample

import "math"

// Samples converts audio from inRate to outRate.
//
// If the rates are equal, the input slice is returned unchanged (not a copy).
// When downsampling, each output sample is the arithmetic mean of every input
// sample whose fractional position falls in [i*r, (i+1)*r) where r = in/out.
// When upsampling, each output sample linearly interpolates between
// floor(i*r) and floor(i*r)+1, using the fractional remainder; the tail
// repeats the last input sample.
func Samples(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	if inRate > outRate {
		return downsample(in, float64(inRate), float64(outRate))
	}
	return upsample(in, float64(inRate), float64(outRate))
}

func outputLen(inLen int, inRate, outRate float64) int {
	return int(float64(inLen) * outRate / inRate)
}

func downsample(in []float32, inRate, outRate float64) []float32 {
	n := len(in)
	outLen := outputLen(n, inRate, outRate)
	out := make([]float32, outLen)
	ratio := inRate / outRate

	for i := 0; i < outLen; i++ {
		startPos := float64(i) * ratio
		endPos := float64(i+1) * ratio

		startIdx := int(math.Ceil(startPos))
		endIdx := int(math.Ceil(endPos))
		if endIdx > n {
			endIdx = n
		}
		if startIdx >= endIdx {
			startIdx = endIdx - 1
		}

		var sum float64
		count := 0
		for j := startIdx; j < endIdx; j++ {
			sum += float64(in[j])
			count++
		}
		if count > 0 {
			out[i] = float32(sum / float64(count))
		}
	}
	return out
}

func upsample(in []float32, inRate, outRate float64) []float32 {
	n := len(in)
	outLen := outputLen(n, inRate, outRate)
	out := make([]float32, outLen)
	ratio := inRate / outRate

	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		if idx >= n-1 {
			out[i] = in[n-1]
			continue
		}
		s0, s1 := in[idx], in[idx+1]
		out[i] = s0 + frac*(s1-s0)
	}
	return out
}
