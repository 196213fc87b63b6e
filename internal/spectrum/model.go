// Package spectrum holds per-sleep-stage power spectra and their on-disk form.
package spectrum

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

var ErrNoSpectra = errors.New("no spectra available")

// StageSpectrum is the Welch power spectral density of the samples labelled with one
// sleep stage. An empty spectrum (no matching samples) has no frequencies.
type StageSpectrum struct {
	Stage    string      `json:"stage"`    // configured stage name, e.g. "N2"
	Index    hypno.Stage `json:"index"`    // hypnogram code the stage was selected by
	Channels []string    `json:"channels"` // rows of PSD
	Freqs    []float64   `json:"freqs"`    // Hz
	PSD      [][]float64 `json:"psd"`      // channels x freqs, uV^2/Hz
	NSamples int         `json:"nSamples"` // samples that contributed
	Fraction float64     `json:"fraction"` // NSamples relative to the recording length
}

// Empty reports whether the spectrum has no support.
func (s *StageSpectrum) Empty() bool {
	return s == nil || len(s.Freqs) == 0 || len(s.PSD) == 0
}

// Mean returns the PSD averaged over channels.
func (s *StageSpectrum) Mean() []float64 {
	if s.Empty() {
		return nil
	}
	out := make([]float64, len(s.Freqs))
	for _, row := range s.PSD {
		for i, v := range row {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(s.PSD))
	}
	return out
}

// Percent is the stage share of the recording, in percent.
func (s *StageSpectrum) Percent() float64 {
	return 100 * s.Fraction
}

func (s *StageSpectrum) validate() error {
	if s.Empty() {
		return nil
	}
	if len(s.PSD) != len(s.Channels) {
		return fmt.Errorf("stage %s: %d PSD rows for %d channels", s.Stage, len(s.PSD), len(s.Channels))
	}
	for c, row := range s.PSD {
		if len(row) != len(s.Freqs) {
			return fmt.Errorf("stage %s: channel %s has %d bins for %d frequencies",
				s.Stage, s.Channels[c], len(row), len(s.Freqs))
		}
	}
	return nil
}

// Combine averages member spectra of one stage, weighting each by its sample count.
// Empty members do not contribute; all members empty gives an empty spectrum. Members
// with support must share channels and frequency grid.
func Combine(stage string, index hypno.Stage, members []*StageSpectrum) (*StageSpectrum, error) {
	out := &StageSpectrum{Stage: stage, Index: index}
	if len(members) == 0 {
		return out, nil
	}

	var fractions float64
	for _, m := range members {
		if m != nil {
			fractions += m.Fraction
		}
	}
	out.Fraction = fractions / float64(len(members))

	for i, m := range members {
		if m.Empty() {
			continue
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}

		if out.Empty() {
			out.Channels = slices.Clone(m.Channels)
			out.Freqs = slices.Clone(m.Freqs)
			out.PSD = make([][]float64, len(m.Channels))
			for c := range out.PSD {
				out.PSD[c] = make([]float64, len(m.Freqs))
			}
		} else {
			if !slices.Equal(out.Channels, m.Channels) {
				return nil, fmt.Errorf("member %d: channels %v differ from %v", i, m.Channels, out.Channels)
			}
			if !slices.Equal(out.Freqs, m.Freqs) {
				return nil, fmt.Errorf("member %d: frequency grid differs", i)
			}
		}

		w := float64(m.NSamples)
		for c, row := range m.PSD {
			for f, v := range row {
				out.PSD[c][f] += w * v
			}
		}
		out.NSamples += m.NSamples
	}

	if out.NSamples == 0 {
		return &StageSpectrum{Stage: stage, Index: index, Fraction: out.Fraction}, nil
	}
	for _, row := range out.PSD {
		for f := range row {
			row[f] /= float64(out.NSamples)
		}
	}
	return out, nil
}
