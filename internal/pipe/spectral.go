package pipe

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"slices"

	"github.com/roman-kulish/sleepeeg/internal/dsp"
	"github.com/roman-kulish/sleepeeg/internal/eeg"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/render"
	"github.com/roman-kulish/sleepeeg/internal/spectrum"
)

// ReferenceAverage re-references to the mean of the good channels.
const ReferenceAverage = "average"

// StageAggregator holds one spectrum per configured stage, in configuration order.
type StageAggregator struct {
	stages  []hypno.StageIndex
	spectra map[string]*spectrum.StageSpectrum
}

// NewStageAggregator returns an aggregator over stages, DefaultStages when empty.
func NewStageAggregator(stages []hypno.StageIndex) (*StageAggregator, error) {
	if len(stages) == 0 {
		stages = hypno.DefaultStages()
	}
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, NewConfigError("stage name is required")
		}
		if seen[s.Name] {
			return nil, NewConfigError(fmt.Sprintf("stage %q configured twice", s.Name))
		}
		seen[s.Name] = true
	}
	return &StageAggregator{
		stages:  slices.Clone(stages),
		spectra: make(map[string]*spectrum.StageSpectrum, len(stages)),
	}, nil
}

func (a *StageAggregator) Stages() []hypno.StageIndex {
	return slices.Clone(a.stages)
}

// Set stores the spectrum of a configured stage.
func (a *StageAggregator) Set(s *spectrum.StageSpectrum) error {
	if !slices.ContainsFunc(a.stages, func(si hypno.StageIndex) bool { return si.Name == s.Stage }) {
		return fmt.Errorf("stage %q is not configured", s.Stage)
	}
	a.spectra[s.Stage] = s
	return nil
}

// Spectrum returns the spectrum of a stage, nil when not computed.
func (a *StageAggregator) Spectrum(stage string) *spectrum.StageSpectrum {
	return a.spectra[stage]
}

// Spectra returns the computed spectra in configuration order.
func (a *StageAggregator) Spectra() []*spectrum.StageSpectrum {
	out := make([]*spectrum.StageSpectrum, 0, len(a.spectra))
	for _, s := range a.stages {
		if sp, ok := a.spectra[s.Name]; ok {
			out = append(out, sp)
		}
	}
	return out
}

// PSDOptions control SpectralPipe.ComputePSDsPerStage.
type PSDOptions struct {
	Stages             []hypno.StageIndex `yaml:"stages"`
	Reference          string             `yaml:"reference"` // "average", a channel name or empty for none
	FMin               float64            `yaml:"fmin"`
	FMax               float64            `yaml:"fmax"`
	Picks              []string           `yaml:"picks"`
	RejectByAnnotation bool               `yaml:"rejectByAnnotation"`
	WinSec             float64            `yaml:"winSec"`
	Save               bool               `yaml:"save"`
	Overwrite          bool               `yaml:"overwrite"`
}

func DefaultPSDOptions() PSDOptions {
	return PSDOptions{
		Stages:             hypno.DefaultStages(),
		FMax:               60,
		RejectByAnnotation: true,
		WinSec:             dsp.DefaultWelchWindow,
	}
}

// SpectralPipe estimates power spectra per sleep stage and draws spectrograms.
type SpectralPipe struct {
	*hypnoPipe
	psds *StageAggregator
}

func NewSpectralPipe(opts Options, hopts HypnoOptions, options ...Option) (*SpectralPipe, error) {
	hp, err := newHypnoPipe("SpectralPipe", opts, hopts, options...)
	if err != nil {
		return nil, err
	}
	return &SpectralPipe{hypnoPipe: hp}, nil
}

// PSDs returns the spectra of the last ComputePSDsPerStage, nil before that.
func (p *SpectralPipe) PSDs() *StageAggregator {
	return p.psds
}

// ComputePSDsPerStage estimates a Welch PSD per channel over the samples of every
// configured stage. A stage without samples gets an empty spectrum. The recording itself
// is not re-referenced.
func (p *SpectralPipe) ComputePSDsPerStage(opts PSDOptions) (*StageAggregator, error) {
	agg, err := NewStageAggregator(opts.Stages)
	if err != nil {
		return nil, err
	}
	if opts.FMax > 0 && opts.FMax <= opts.FMin {
		return nil, NewConfigError(fmt.Sprintf("invalid frequency range %g-%g Hz", opts.FMin, opts.FMax))
	}

	shared, err := p.Raw()
	if err != nil {
		return nil, err
	}
	labels, err := p.hypno.aligned(shared.NSamples())
	if err != nil {
		return nil, err
	}

	raw := shared.Copy()
	picks, err := raw.Picks(opts.Picks)
	if err != nil {
		return nil, err
	}
	if err = reference(raw, opts.Reference, picks); err != nil {
		return nil, err
	}

	var reject []bool
	if opts.RejectByAnnotation {
		reject = raw.RejectMask()
	}

	total := raw.NSamples()
	for _, si := range agg.stages {
		idx := make([]int, 0)
		for i, l := range labels {
			if l == si.Stage && (reject == nil || !reject[i]) {
				idx = append(idx, i)
			}
		}

		s := &spectrum.StageSpectrum{Stage: si.Name, Index: si.Stage, NSamples: len(idx)}
		if total > 0 {
			s.Fraction = float64(len(idx)) / float64(total)
		}
		if len(idx) > 0 {
			buf := make([]float64, len(idx))
			for _, c := range picks {
				for k, i := range idx {
					buf[k] = raw.Data[c][i]
				}
				psd := dsp.Welch(buf, raw.Info.SFreq, opts.WinSec, opts.FMin, opts.FMax)
				if len(psd.Freqs) == 0 {
					// shorter than one window
					s.Channels, s.PSD = nil, nil
					break
				}
				if s.Freqs == nil {
					s.Freqs = psd.Freqs
				}
				s.Channels = append(s.Channels, raw.Labels[c])
				s.PSD = append(s.PSD, psd.Power)
			}
		}
		if err = agg.Set(s); err != nil {
			return nil, err
		}
		p.logger.Info("stage spectrum",
			slog.String("stage", si.Name),
			slog.Int("samples", s.NSamples),
			slog.Bool("empty", s.Empty()),
		)

		if opts.Save {
			path := filepath.Join(p.Dir(), spectrum.FileName(si.Name))
			if err = spectrum.WriteParquet(path, s, opts.Overwrite); err != nil {
				return nil, fmt.Errorf("saving %s spectrum: %w", si.Name, err)
			}
		}
	}

	p.psds = agg
	return agg, nil
}

// ReadSpectra loads the spectra saved in dir, {Dir} when empty, and makes them the
// pipe's current spectra.
func (p *SpectralPipe) ReadSpectra(dir string) (*StageAggregator, error) {
	if dir == "" {
		dir = p.Dir()
	}
	spectra, err := spectrum.ReadDir(dir)
	if err != nil {
		p.logger.Error("reading spectra", slog.String("dir", dir), slog.String("error", err.Error()))
		return nil, err
	}

	stages := make([]hypno.StageIndex, len(spectra))
	for i, s := range spectra {
		stages[i] = hypno.StageIndex{Name: s.Stage, Stage: s.Index}
	}
	agg, err := NewStageAggregator(stages)
	if err != nil {
		return nil, err
	}
	for _, s := range spectra {
		if err = agg.Set(s); err != nil {
			return nil, err
		}
	}
	p.psds = agg
	return agg, nil
}

// PSDPlotOptions control PlotPSDPerStage.
type PSDPlotOptions struct {
	Stages    []string // empty plots every stage with support
	Linear    bool     // power in uV^2/Hz rather than decibels
	Save      bool     // write {Dir}/psd.png
	Overwrite bool
	Width     int
	Height    int
}

// PlotPSDPerStage draws the channel-averaged spectrum of each stage as PNG.
func (p *SpectralPipe) PlotPSDPerStage(opts PSDPlotOptions) ([]byte, error) {
	if p.psds == nil {
		return nil, fmt.Errorf("%s: %w", p.name, spectrum.ErrNoSpectra)
	}
	return plotPSDs(p.psds.Spectra(), opts, filepath.Join(p.Dir(), "psd.png"), p.logger)
}

func plotPSDs(spectra []*spectrum.StageSpectrum, opts PSDPlotOptions, path string, logger *slog.Logger) ([]byte, error) {
	var series []render.Series
	for _, s := range spectra {
		if s.Empty() || (len(opts.Stages) > 0 && !slices.Contains(opts.Stages, s.Stage)) {
			continue
		}
		y := s.Mean()
		if !opts.Linear {
			dsp.DB(y)
		}
		series = append(series, render.Series{
			Name: fmt.Sprintf("%s %.1f%%", s.Stage, s.Percent()),
			X:    s.Freqs,
			Y:    y,
		})
	}
	if len(series) == 0 {
		return nil, spectrum.ErrNoSpectra
	}

	ylabel := "Power (dB)"
	if opts.Linear {
		ylabel = "Power (uV^2/Hz)"
	}
	var buf bytes.Buffer
	err := render.LineChart(&buf, series, render.ChartOptions{
		Title:  "Power spectral density per stage",
		XLabel: "Frequency (Hz)",
		YLabel: ylabel,
		Width:  opts.Width,
		Height: opts.Height,
	})
	if err != nil {
		return nil, err
	}
	if opts.Save {
		if err = saveBytes(path, buf.Bytes(), opts.Overwrite); err != nil {
			return nil, err
		}
		logger.Info("spectra plotted", slog.String("path", path))
	}
	return buf.Bytes(), nil
}

// SpectrogramOptions control PlotHypnospectrogram.
type SpectrogramOptions struct {
	Pick      string              `yaml:"pick"` // channel, the first good one when empty
	WinSec    float64             `yaml:"winSec"`
	TrimPerc  float64             `yaml:"trimPerc"`
	FMin      float64             `yaml:"fmin"`
	FMax      float64             `yaml:"fmax"`
	Theme     render.ColorTheme   `yaml:"theme"`
	Overlap   bool                `yaml:"overlap"` // draw the hypnogram over the spectrogram
	Borders   render.BorderConfig `yaml:"-"`
	Save      bool                `yaml:"save"`
	Overwrite bool                `yaml:"overwrite"`
}

func DefaultSpectrogramOptions() SpectrogramOptions {
	return SpectrogramOptions{
		WinSec:   30,
		TrimPerc: 2.5,
		FMax:     40,
		Theme:    render.EnhancedTheme,
	}
}

// PlotHypnospectrogram draws a multitaper spectrogram of one channel with the hypnogram.
// Samples under bad annotations are left out of the colour scale.
func (p *SpectralPipe) PlotHypnospectrogram(opts SpectrogramOptions) (*image.RGBA, error) {
	if opts.WinSec <= 0 {
		opts.WinSec = 30
	}
	theme, err := render.ParseTheme(string(opts.Theme))
	if err != nil {
		return nil, NewConfigError(err.Error())
	}
	raw, err := p.Raw()
	if err != nil {
		return nil, err
	}

	pick := opts.Pick
	if pick == "" {
		picks, pErr := raw.Picks(nil)
		if pErr != nil {
			return nil, pErr
		}
		if len(picks) == 0 {
			return nil, errors.New("no good channels")
		}
		pick = raw.Labels[picks[0]]
	}
	x, err := raw.Channel(pick)
	if err != nil {
		return nil, err
	}

	spec, err := dsp.MultitaperSpectrogram(x, raw.Info.SFreq, opts.WinSec, opts.FMin, opts.FMax, dsp.DefaultTapers)
	if err != nil {
		return nil, fmt.Errorf("spectrogram of %s: %w", pick, err)
	}
	maskBadWindows(spec, raw, opts.WinSec)
	for _, row := range spec.Power {
		dsp.DB(row)
	}

	h := render.Hypnospectrogram{
		Spectrogram: spec,
		Theme:       theme,
		TrimPerc:    opts.TrimPerc,
		Title:       pick,
		Borders:     opts.Borders,
		Layout:      render.Stacked,
	}
	if !p.hypno.Absent() {
		h.Hypno = p.hypno.Labels
		h.SFHypno = p.hypno.SFHypno
		if opts.Overlap {
			h.Layout = render.Overlay
		}
	}

	img, err := render.RenderHypnospectrogram(h)
	if err != nil {
		return nil, err
	}
	p.logger.Info("spectrogram rendered", slog.String("channel", pick), slog.String("layout", h.Layout.String()))

	if opts.Save {
		path := filepath.Join(p.Dir(), "spectrogram.png")
		if err = render.SavePNG(path, img, opts.Overwrite); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// maskBadWindows sets the power of windows overlapping a bad annotation to NaN.
func maskBadWindows(spec *dsp.Spectrogram, raw *eeg.Raw, winSec float64) {
	reject := raw.RejectMask()
	n := int(winSec * raw.Info.SFreq)
	for w := range spec.Times {
		from, to := w*n, min((w+1)*n, len(reject))
		if from >= to || !slices.Contains(reject[from:to], true) {
			continue
		}
		for f := range spec.Power {
			spec.Power[f][w] = math.NaN()
		}
	}
}

// reference re-references the picked channels of raw in place. Bad channels never
// contribute to the average; a single reference channel ends up flat when picked.
func reference(raw *eeg.Raw, ref string, picks []int) error {
	switch ref {
	case "":
		return nil
	case ReferenceAverage:
		good, err := raw.Picks(nil)
		if err != nil {
			return err
		}
		dsp.AverageReference(raw.Data, good, picks)
		return nil
	default:
		c := raw.Index(ref)
		if c < 0 {
			return fmt.Errorf("reference: %w: %s", eeg.ErrChannelNotFound, ref)
		}
		dsp.AverageReference(raw.Data, []int{c}, picks)
		return nil
	}
}

func saveBytes(path string, data []byte, overwrite bool) error {
	return render.SaveChart(path, overwrite, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
