package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

var ErrNoFiniteValues = errors.New("no finite values")

// TrimmedBounds returns the trimperc and 100-trimperc percentiles of the finite values.
// A trimperc of zero returns the plain minimum and maximum.
func TrimmedBounds(values []float64, trimperc float64) (lo, hi float64, err error) {
	if trimperc < 0 || trimperc >= 50 {
		return 0, 0, fmt.Errorf("trim percentage %g outside [0, 50)", trimperc)
	}

	finite := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0, ErrNoFiniteValues
	}

	if trimperc == 0 {
		if lo, err = finite.Min(); err != nil {
			return 0, 0, err
		}
		if hi, err = finite.Max(); err != nil {
			return 0, 0, err
		}
		return lo, hi, nil
	}

	if lo, err = stats.Percentile(finite, trimperc); err != nil {
		return 0, 0, fmt.Errorf("lower percentile: %w", err)
	}
	if hi, err = stats.Percentile(finite, 100-trimperc); err != nil {
		return 0, 0, fmt.Errorf("upper percentile: %w", err)
	}
	return lo, hi, nil
}

// AverageReference subtracts the mean across ref channels from every channel in picks.
func AverageReference(data [][]float64, ref, picks []int) {
	if len(ref) == 0 || len(data) == 0 {
		return
	}

	mean := make([]float64, len(data[ref[0]]))
	for _, c := range ref {
		for i, v := range data[c] {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(ref))
	}

	for _, c := range picks {
		for i := range data[c] {
			data[c][i] -= mean[i]
		}
	}
}
