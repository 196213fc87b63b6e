// Package dsp contains the numeric routines the pipeline stages delegate to: zero-phase
// filtering, resampling, Welch and multitaper spectral estimates.
package dsp

import (
	"fmt"
	"math"
	"slices"

	"github.com/jfcg/butter"
)

// DefaultOrder is the number of first-order sections cascaded in each direction.
const DefaultOrder = 2

// DefaultNotchQ is the quality factor of the notch filter.
const DefaultNotchQ = 30.0

type section func(float64) float64

type filterKind int

const (
	lowPass filterKind = iota
	highPass
)

func newSection(kind filterKind, cutoff, sf float64) (section, error) {
	wc := 2 * math.Pi * cutoff / sf

	switch kind {
	case highPass:
		f := butter.NewHighPass1(wc)
		if f == nil {
			return nil, fmt.Errorf("invalid high-pass filter at %g Hz (attempted wc=%f, but expect .0001 < wc && wc < 3.1415)", cutoff, wc)
		}
		return f.Next, nil

	default:
		f := butter.NewLowPass1(wc)
		if f == nil {
			return nil, fmt.Errorf("invalid low-pass filter at %g Hz (attempted wc=%f, but expect .0001 < wc && wc < 3.1415)", cutoff, wc)
		}
		return f.Next, nil
	}
}

// Band describes a filter pass band. A zero Low disables the high-pass edge and a zero
// High disables the low-pass edge.
type Band struct {
	Low  float64
	High float64
}

// Validate checks the band against the sampling frequency.
func (b Band) Validate(sf float64) error {
	switch {
	case b.Low < 0 || b.High < 0:
		return fmt.Errorf("negative cutoff in band %v", b)
	case b.Low == 0 && b.High == 0:
		return fmt.Errorf("band has neither low nor high cutoff")
	case b.High > 0 && b.Low >= b.High:
		return fmt.Errorf("low cutoff %g Hz must be below high cutoff %g Hz", b.Low, b.High)
	case b.High >= sf/2:
		return fmt.Errorf("high cutoff %g Hz must be below Nyquist %g Hz", b.High, sf/2)
	}
	return nil
}

// BandPass filters x in place with a zero-phase Butterworth cascade.
func BandPass(x []float64, sf float64, band Band, order int) error {
	if err := band.Validate(sf); err != nil {
		return err
	}
	if order <= 0 {
		order = DefaultOrder
	}

	var kinds []filterKind
	var cutoffs []float64
	if band.Low > 0 {
		kinds = append(kinds, highPass)
		cutoffs = append(cutoffs, band.Low)
	}
	if band.High > 0 {
		kinds = append(kinds, lowPass)
		cutoffs = append(cutoffs, band.High)
	}

	build := func() ([]section, error) {
		var out []section
		for i, kind := range kinds {
			for range order {
				s, err := newSection(kind, cutoffs[i], sf)
				if err != nil {
					return nil, err
				}
				out = append(out, s)
			}
		}
		return out, nil
	}

	lowest := slices.Min(cutoffs)
	return filtfilt(x, padLength(len(x), sf, lowest), func() (func(float64) float64, error) {
		sections, err := build()
		if err != nil {
			return nil, err
		}
		return func(v float64) float64 {
			for _, s := range sections {
				v = s(v)
			}
			return v
		}, nil
	})
}

// Notch removes a narrow band around each frequency with a second order IIR notch,
// applied forward and backward.
func Notch(x []float64, sf float64, freqs []float64, q float64) error {
	if q <= 0 {
		q = DefaultNotchQ
	}
	for _, f0 := range freqs {
		if f0 <= 0 || f0 >= sf/2 {
			return fmt.Errorf("notch frequency %g Hz outside (0, %g) Hz", f0, sf/2)
		}
		err := filtfilt(x, padLength(len(x), sf, f0/q), func() (func(float64) float64, error) {
			return newBiquadNotch(f0, sf, q), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// newBiquadNotch follows the RBJ audio EQ cookbook notch.
func newBiquadNotch(f0, sf, q float64) func(float64) float64 {
	w0 := 2 * math.Pi * f0 / sf
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)

	a0 := 1 + alpha
	b0, b1, b2 := 1/a0, -2*cosw/a0, 1/a0
	a1, a2 := -2*cosw/a0, (1-alpha)/a0

	var x1, x2, y1, y2 float64
	return func(x float64) float64 {
		y := b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		return y
	}
}

func padLength(n int, sf, cutoff float64) int {
	if n < 2 {
		return 0
	}
	pad := int(3 * sf / math.Max(cutoff, 0.01))
	return min(pad, n-1)
}

// filtfilt runs a causal filter forward and backward over an odd-reflected copy of x
// and writes the centre back into x.
func filtfilt(x []float64, pad int, newFilter func() (func(float64) float64, error)) error {
	n := len(x)
	if n == 0 {
		return nil
	}

	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[n+pad+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	for range 2 {
		f, err := newFilter()
		if err != nil {
			return err
		}
		for i, v := range ext {
			ext[i] = f(v)
		}
		slices.Reverse(ext)
	}

	copy(x, ext[pad:pad+n])
	return nil
}
