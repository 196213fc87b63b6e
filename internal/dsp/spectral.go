package dsp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// DefaultWelchWindow is the Welch segment length in seconds.
const DefaultWelchWindow = 4.0

// DefaultTapers is the number of sine tapers used by the spectrogram.
const DefaultTapers = 3

var ErrTooShort = errors.New("signal shorter than one window")

// PSD is a one-sided power spectral density in units^2/Hz.
type PSD struct {
	Freqs []float64
	Power []float64
}

// Welch estimates the PSD of x with Hann windowed segments of winSec seconds and 50%
// overlap. The segment length is fixed so every estimate at one sampling frequency
// shares its frequency grid; an x shorter than one segment yields an empty PSD.
func Welch(x []float64, sf, winSec, fmin, fmax float64) PSD {
	if winSec <= 0 {
		winSec = DefaultWelchWindow
	}

	nperseg := max(int(winSec*sf), 1)
	if len(x) < nperseg {
		return PSD{}
	}
	step := max(nperseg/2, 1)
	window := hann(nperseg)
	scale := 1 / (sf * floats.Dot(window, window))

	fft := fourier.NewFFT(nperseg)
	nfreq := nperseg/2 + 1
	acc := make([]float64, nfreq)
	seg := make([]float64, nperseg)
	var coeffs []complex128

	var segments int
	for start := 0; start+nperseg <= len(x); start += step {
		copy(seg, x[start:start+nperseg])
		detrend(seg)
		floats.Mul(seg, window)

		coeffs = fft.Coefficients(coeffs, seg)
		for i, c := range coeffs {
			acc[i] += real(c)*real(c) + imag(c)*imag(c)
		}
		segments++
	}

	power := make([]float64, nfreq)
	for i := range acc {
		power[i] = acc[i] * scale / float64(segments)
		if i > 0 && !(nperseg%2 == 0 && i == nfreq-1) {
			power[i] *= 2
		}
	}

	freqs := make([]float64, nfreq)
	for i := range freqs {
		freqs[i] = fft.Freq(i) * sf
	}
	return cropPSD(freqs, power, fmin, fmax)
}

func cropPSD(freqs, power []float64, fmin, fmax float64) PSD {
	var out PSD
	for i, f := range freqs {
		if f < fmin || (fmax > 0 && f > fmax) {
			continue
		}
		out.Freqs = append(out.Freqs, f)
		out.Power = append(out.Power, power[i])
	}
	return out
}

// Spectrogram is a time-frequency power map. Power is indexed [frequency][time].
type Spectrogram struct {
	Freqs []float64
	Times []float64 // window centres in seconds
	Power [][]float64
}

// MultitaperSpectrogram estimates power over consecutive non-overlapping windows of
// winSec seconds, averaging tapers sine-tapered periodograms per window.
func MultitaperSpectrogram(x []float64, sf, winSec, fmin, fmax float64, tapers int) (*Spectrogram, error) {
	if winSec <= 0 {
		return nil, fmt.Errorf("invalid window length %g s", winSec)
	}
	if tapers <= 0 {
		tapers = DefaultTapers
	}

	nperseg := int(winSec * sf)
	if nperseg < 2 || len(x) < nperseg {
		return nil, ErrTooShort
	}
	nwin := len(x) / nperseg

	tp := sineTapers(nperseg, tapers)
	fft := fourier.NewFFT(nperseg)
	nfreq := nperseg/2 + 1

	var keep []int
	spec := &Spectrogram{}
	for i := range nfreq {
		f := fft.Freq(i) * sf
		if f < fmin || (fmax > 0 && f > fmax) {
			continue
		}
		keep = append(keep, i)
		spec.Freqs = append(spec.Freqs, f)
	}
	spec.Power = make([][]float64, len(keep))
	for i := range spec.Power {
		spec.Power[i] = make([]float64, nwin)
	}

	seg := make([]float64, nperseg)
	tapered := make([]float64, nperseg)
	acc := make([]float64, nfreq)
	var coeffs []complex128

	for w := range nwin {
		copy(seg, x[w*nperseg:(w+1)*nperseg])
		detrend(seg)
		clear(acc)

		for _, taper := range tp {
			floats.MulTo(tapered, seg, taper)
			coeffs = fft.Coefficients(coeffs, tapered)
			for i, c := range coeffs {
				acc[i] += real(c)*real(c) + imag(c)*imag(c)
			}
		}

		for k, i := range keep {
			p := acc[i] / (float64(len(tp)) * sf)
			if i > 0 && !(nperseg%2 == 0 && i == nfreq-1) {
				p *= 2
			}
			spec.Power[k][w] = p
		}
		spec.Times = append(spec.Times, (float64(w)+0.5)*winSec)
	}
	return spec, nil
}

// DB converts power to decibels in place.
func DB(power []float64) {
	for i, p := range power {
		power[i] = 10 * math.Log10(p)
	}
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func sineTapers(n, k int) [][]float64 {
	out := make([][]float64, k)
	norm := math.Sqrt(2 / float64(n+1))
	for t := range out {
		out[t] = make([]float64, n)
		for j := range out[t] {
			out[t][j] = norm * math.Sin(math.Pi*float64(t+1)*float64(j+1)/float64(n+1))
		}
	}
	return out
}

func detrend(x []float64) {
	floats.AddConst(-floats.Sum(x)/float64(len(x)), x)
}
