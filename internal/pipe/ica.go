package pipe

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/roman-kulish/sleepeeg/internal/eeg"
	"github.com/roman-kulish/sleepeeg/internal/ica"
	"github.com/roman-kulish/sleepeeg/internal/render"
)

// fitHighpass is the high-pass below which a decomposition is fitted on a filtered copy.
const fitHighpass = 1.0

// Decomposer separates a recording into components and removes some of them.
type Decomposer interface {
	Fit(data [][]float64, channels []string) error
	Sources(data [][]float64) ([][]float64, error)
	Apply(data [][]float64, exclude []int) error
	Save(path string, overwrite bool) error
	Fitted() bool
	ChannelNames() []string
	Excluded() []int
}

// ICAOptions configure the decomposition of an ICAPipe.
type ICAOptions struct {
	Method      ica.Method    `yaml:"method"`
	NComponents int           `yaml:"nComponents"`
	FitParams   ica.FitParams `yaml:"fitParams"`
	PathToICA   string        `yaml:"pathToICA"` // continue with a saved decomposition
	Decomposer  Decomposer    `yaml:"-"`         // overrides Method and PathToICA
}

// FitOptions control ICAPipe.Fit.
type FitOptions struct {
	Filter *FilterOptions // filter of the copy fitted on; high-pass at 1 Hz when nil
	Picks  []string       // channels to decompose, every good channel when empty
}

// ICAPipe removes artefact components from the recording.
type ICAPipe struct {
	*base
	ica Decomposer
}

// NewICAPipe loads the recording into memory and prepares the decomposition, loading
// it from PathToICA when given.
func NewICAPipe(opts Options, icaOpts ICAOptions, options ...Option) (*ICAPipe, error) {
	b, err := newBase("ICAPipe", opts, options...)
	if err != nil {
		return nil, err
	}

	d := icaOpts.Decomposer
	switch {
	case d != nil:
	case icaOpts.PathToICA != "":
		if d, err = ica.Load(icaOpts.PathToICA); err != nil {
			b.logger.Error("loading decomposition", slog.String("error", err.Error()))
			return nil, err
		}
		b.logger.Info("decomposition loaded", slog.String("path", icaOpts.PathToICA))
	default:
		if d, err = ica.New(icaOpts.Method, icaOpts.NComponents, icaOpts.FitParams); err != nil {
			return nil, err
		}
	}

	if _, err = b.Raw(); err != nil {
		return nil, err
	}
	return &ICAPipe{base: b, ica: d}, nil
}

func (p *ICAPipe) Decomposer() Decomposer {
	return p.ica
}

// Fit estimates the decomposition. A recording high-passed below 1 Hz is fitted on a
// filtered copy; otherwise the shared recording is used as is.
func (p *ICAPipe) Fit(opts FitOptions) error {
	raw, err := p.Raw()
	if err != nil {
		return err
	}

	fitRaw := raw
	if raw.Info.Highpass < fitHighpass {
		filter := FilterOptions{Low: fitHighpass}
		if opts.Filter != nil {
			filter = *opts.Filter
		}
		fitRaw = raw.Copy()
		if err = filterRaw(fitRaw, filter, p.logger); err != nil {
			return fmt.Errorf("filtering copy: %w", err)
		}
	}

	picks, err := fitRaw.Picks(opts.Picks)
	if err != nil {
		return err
	}
	data, channels := rows(fitRaw, picks)
	if err = p.ica.Fit(data, channels); err != nil {
		return fmt.Errorf("fitting decomposition: %w", err)
	}
	p.logger.Info("decomposition fitted", slog.Int("channels", len(channels)), slog.Bool("copy", fitRaw != raw))
	return nil
}

// Apply removes the union of exclude and the decomposition's own exclusions from the
// recording.
func (p *ICAPipe) Apply(exclude ...int) error {
	raw, err := p.Raw()
	if err != nil {
		return err
	}

	merged := append(slices.Clone(exclude), p.ica.Excluded()...)
	slices.Sort(merged)
	merged = slices.Compact(merged)
	p.logger.Info("excluded components", slog.Any("exclude", merged))

	data, err := decomposedRows(raw, p.ica)
	if err != nil {
		return err
	}
	if err = p.ica.Apply(data, merged); err != nil {
		return fmt.Errorf("applying decomposition: %w", err)
	}
	return nil
}

// Save writes the decomposition to {Dir}/{name}, data-ica.json by default.
func (p *ICAPipe) Save(name string, overwrite bool) (string, error) {
	if name == "" {
		name = "data-ica.json"
	}
	path := filepath.Join(p.Dir(), name)
	if err := p.ica.Save(path, overwrite); err != nil {
		return "", fmt.Errorf("saving decomposition: %w", err)
	}
	p.logger.Info("decomposition saved", slog.String("path", path))
	return path, nil
}

// SourcesPlotOptions control ICAPipe.PlotSources.
type SourcesPlotOptions struct {
	Start     float64 // seconds
	Duration  float64 // seconds, 20 when zero
	Save      bool    // write {Dir}/sources.png
	Overwrite bool
}

// PlotSources renders the component time courses of a stretch of the recording as PNG.
func (p *ICAPipe) PlotSources(opts SourcesPlotOptions) ([]byte, error) {
	if opts.Duration <= 0 {
		opts.Duration = 20
	}
	raw, err := p.Raw()
	if err != nil {
		return nil, err
	}
	data, err := decomposedRows(raw, p.ica)
	if err != nil {
		return nil, err
	}

	sf := raw.Info.SFreq
	from := max(0, min(raw.NSamples(), int(opts.Start*sf)))
	to := max(from, min(raw.NSamples(), int((opts.Start+opts.Duration)*sf)))
	if to-from < 2 {
		return nil, fmt.Errorf("no samples between %g s and %g s", opts.Start, opts.Start+opts.Duration)
	}
	window := make([][]float64, len(data))
	for c := range data {
		window[c] = data[c][from:to]
	}

	sources, err := p.ica.Sources(window)
	if err != nil {
		return nil, fmt.Errorf("computing sources: %w", err)
	}
	times := make([]float64, to-from)
	for i := range times {
		times[i] = float64(from+i) / sf
	}
	names := make([]string, len(sources))
	for k := range names {
		names[k] = fmt.Sprintf("ICA%03d", k)
	}

	var buf bytes.Buffer
	err = render.SourcesChart(&buf, times, sources, names, render.ChartOptions{
		Title:  "Component sources",
		XLabel: "Time (s)",
	})
	if err != nil {
		return nil, err
	}
	if opts.Save {
		path := filepath.Join(p.Dir(), "sources.png")
		if err = saveBytes(path, buf.Bytes(), opts.Overwrite); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// rows returns the picked channels of raw, sharing its sample slices.
func rows(raw *eeg.Raw, picks []int) ([][]float64, []string) {
	data := make([][]float64, len(picks))
	names := make([]string, len(picks))
	for i, c := range picks {
		data[i] = raw.Data[c]
		names[i] = raw.Labels[c]
	}
	return data, names
}

func decomposedRows(raw *eeg.Raw, d Decomposer) ([][]float64, error) {
	if !d.Fitted() {
		return nil, ica.ErrNotFitted
	}
	picks, err := raw.Picks(d.ChannelNames())
	if err != nil {
		return nil, err
	}
	data, _ := rows(raw, picks)
	return data, nil
}
