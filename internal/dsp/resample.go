package dsp

import (
	"fmt"
	"math"
)

// antiAliasRatio is the fraction of the target Nyquist kept by the anti-alias filter.
const antiAliasRatio = 0.9

// ResampledLength returns the number of samples n samples at sf occupy at target.
func ResampledLength(n int, sf, target float64) int {
	return int(math.Floor(float64(n) * target / sf))
}

// Resample converts x from sf to target. Downsampling low-passes a copy first, then both
// directions interpolate linearly between neighbouring samples.
func Resample(x []float64, sf, target float64) ([]float64, error) {
	if sf <= 0 || target <= 0 {
		return nil, fmt.Errorf("invalid resampling %g Hz -> %g Hz", sf, target)
	}
	if sf == target {
		return x, nil
	}

	src := x
	if target < sf && len(x) > 1 {
		src = make([]float64, len(x))
		copy(src, x)
		if err := BandPass(src, sf, Band{High: antiAliasRatio * target / 2}, DefaultOrder); err != nil {
			return nil, fmt.Errorf("anti-alias filter: %w", err)
		}
	}

	n := ResampledLength(len(x), sf, target)
	out := make([]float64, n)
	ratio := sf / target
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(src)-1 {
			out[i] = src[len(src)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = src[j]*(1-frac) + src[j+1]*frac
	}
	return out, nil
}
