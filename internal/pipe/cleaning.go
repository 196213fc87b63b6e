package pipe

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/sleepeeg/internal/dsp"
	"github.com/roman-kulish/sleepeeg/internal/eeg"
)

const powerLineStep = 50.0

// NotchSelector chooses the frequencies a notch filter removes.
type NotchSelector interface {
	Frequencies(sf float64) []float64
	String() string
}

type powerLine struct {
	mains float64
}

// PowerLine50 selects the harmonics of 50 Hz mains below Nyquist.
func PowerLine50() NotchSelector {
	return powerLine{mains: 50}
}

// PowerLine60 selects power-line harmonics below Nyquist for 60 Hz regions. The
// harmonics are taken in 50 Hz steps, so it yields the same set as PowerLine50. Use
// NotchAt for an explicit 60 Hz series.
func PowerLine60() NotchSelector {
	return powerLine{mains: 60}
}

func (p powerLine) Frequencies(sf float64) []float64 {
	var freqs []float64
	for f := powerLineStep; f < math.Floor(sf/2); f += powerLineStep {
		freqs = append(freqs, f)
	}
	return freqs
}

func (p powerLine) String() string {
	return fmt.Sprintf("%gs", p.mains)
}

type explicitFreqs []float64

// NotchAt selects the given frequencies.
func NotchAt(freqs ...float64) NotchSelector {
	return explicitFreqs(slices.Clone(freqs))
}

func (e explicitFreqs) Frequencies(float64) []float64 {
	return slices.Clone(e)
}

func (e explicitFreqs) String() string {
	return fmt.Sprint([]float64(e))
}

// ResampleOptions control CleaningPipe.Resample.
type ResampleOptions struct {
	Save      bool // snapshot to saved_raw/resampled_{sfreq}hz_raw.edf
	Overwrite bool
}

// FilterOptions describe a band filter. A zero edge is not filtered.
type FilterOptions struct {
	Low   float64  `yaml:"low"`
	High  float64  `yaml:"high"`
	Picks []string `yaml:"picks"` // empty means every good channel
	Order int      `yaml:"order"`
}

// DefaultFilterOptions high-passes at 0.3 Hz.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{Low: 0.3}
}

// NotchOptions control CleaningPipe.Notch.
type NotchOptions struct {
	Picks []string `yaml:"picks"`
	Q     float64  `yaml:"q"`
}

// InterpolateOptions control CleaningPipe.InterpolateBads.
type InterpolateOptions struct {
	ResetBads bool `yaml:"resetBads"` // clear the bad channel list afterwards
}

// CleaningPipe resamples, filters and marks the recording in place.
type CleaningPipe struct {
	*base
}

func NewCleaningPipe(opts Options, options ...Option) (*CleaningPipe, error) {
	b, err := newBase("CleaningPipe", opts, options...)
	if err != nil {
		return nil, err
	}
	return &CleaningPipe{base: b}, nil
}

// Resample converts every channel to sfreq.
func (p *CleaningPipe) Resample(sfreq float64, opts ResampleOptions) error {
	raw, err := p.Raw()
	if err != nil {
		return err
	}

	from := raw.Info.SFreq
	for c := range raw.Data {
		if raw.Data[c], err = dsp.Resample(raw.Data[c], from, sfreq); err != nil {
			return fmt.Errorf("resampling %s: %w", raw.Labels[c], err)
		}
	}
	raw.Info.SFreq = sfreq
	raw.Info.Lowpass = math.Min(raw.Info.Lowpass, sfreq/2)
	p.logger.Info("resampled",
		slog.Float64("from", from),
		slog.Float64("to", sfreq),
		slog.String("samples", humanize.Comma(int64(raw.NSamples()))),
	)

	if opts.Save {
		name := fmt.Sprintf("resampled_%shz_raw.edf", humanize.Ftoa(sfreq))
		if _, err = p.SaveRaw(name, opts.Overwrite); err != nil {
			return err
		}
	}
	return nil
}

// Filter band-filters the picked channels in place and records the new cutoffs.
func (p *CleaningPipe) Filter(opts FilterOptions) error {
	raw, err := p.Raw()
	if err != nil {
		return err
	}
	return filterRaw(raw, opts, p.logger)
}

func filterRaw(raw *eeg.Raw, opts FilterOptions, logger *slog.Logger) error {
	band := dsp.Band{Low: opts.Low, High: opts.High}
	if err := band.Validate(raw.Info.SFreq); err != nil {
		return err
	}
	if opts.Order <= 0 {
		opts.Order = dsp.DefaultOrder
	}
	picks, err := raw.Picks(opts.Picks)
	if err != nil {
		return err
	}

	for _, c := range picks {
		if err = dsp.BandPass(raw.Data[c], raw.Info.SFreq, band, opts.Order); err != nil {
			return fmt.Errorf("filtering %s: %w", raw.Labels[c], err)
		}
	}
	if band.Low > 0 {
		raw.Info.Highpass = band.Low
	}
	if band.High > 0 {
		raw.Info.Lowpass = band.High
	}
	logger.Info("filtered",
		slog.Float64("low", band.Low),
		slog.Float64("high", band.High),
		slog.Int("channels", len(picks)),
	)
	return nil
}

// Notch removes the frequencies chosen by sel from the picked channels.
func (p *CleaningPipe) Notch(sel NotchSelector, opts NotchOptions) error {
	if sel == nil {
		return NewConfigError("notch frequencies are required")
	}
	raw, err := p.Raw()
	if err != nil {
		return err
	}

	freqs := sel.Frequencies(raw.Info.SFreq)
	if len(freqs) == 0 {
		p.logger.Warn("no notch frequencies below Nyquist", slog.String("selector", sel.String()))
		return nil
	}
	picks, err := raw.Picks(opts.Picks)
	if err != nil {
		return err
	}

	for _, c := range picks {
		if err = dsp.Notch(raw.Data[c], raw.Info.SFreq, freqs, opts.Q); err != nil {
			return fmt.Errorf("notch filtering %s: %w", raw.Labels[c], err)
		}
	}
	p.logger.Info("notch filtered", slog.String("selector", sel.String()), slog.Any("freqs", freqs))
	return nil
}

func (p *CleaningPipe) defaultPath(path, name string) string {
	if path != "" {
		return path
	}
	return filepath.Join(p.Dir(), name)
}

// ReadBadChannels marks the channels listed in path as bad. The default path is
// {Dir}/bad_channels.txt.
func (p *CleaningPipe) ReadBadChannels(path string) error {
	path = p.defaultPath(path, "bad_channels.txt")
	raw, err := p.Raw()
	if err != nil {
		return err
	}

	names, err := eeg.ReadBadChannels(path)
	if err != nil {
		p.logger.Error("reading bad channels", slog.String("error", err.Error()))
		return err
	}
	if err = raw.SetBads(names); err != nil {
		return err
	}
	p.logger.Info("bad channels set", slog.Any("bads", names))
	return nil
}

// ReadAnnotations replaces the annotations with the ones in path. The default path is
// {Dir}/annotations.txt.
func (p *CleaningPipe) ReadAnnotations(path string) error {
	path = p.defaultPath(path, "annotations.txt")
	raw, err := p.Raw()
	if err != nil {
		return err
	}

	annotations, err := eeg.ReadAnnotations(path)
	if err != nil {
		p.logger.Error("reading annotations", slog.String("error", err.Error()))
		return err
	}
	raw.Annotations = annotations
	p.logger.Info("annotations set", slog.Int("count", len(annotations)))
	return nil
}

// InterpolateBads replaces every bad channel with the mean of the good channels.
func (p *CleaningPipe) InterpolateBads(opts InterpolateOptions) error {
	raw, err := p.Raw()
	if err != nil {
		return err
	}
	bads := slices.Clone(raw.Info.Bads)
	if len(bads) == 0 {
		p.logger.Info("no bad channels to interpolate")
		return nil
	}

	good, err := raw.Picks(nil)
	if err != nil {
		return err
	}
	if len(good) == 0 {
		return errors.New("no good channels to interpolate from")
	}

	mean := make([]float64, raw.NSamples())
	for _, c := range good {
		for i, v := range raw.Data[c] {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(good))
	}
	for _, name := range bads {
		copy(raw.Data[raw.Index(name)], mean)
	}

	if opts.ResetBads {
		raw.Info.Bads = nil
	}
	p.logger.Info("interpolated channels", slog.Any("bads", bads))
	return nil
}
