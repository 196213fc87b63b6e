package pipe

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/roman-kulish/sleepeeg/internal/detect"
	"github.com/roman-kulish/sleepeeg/internal/fsutil"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/render"
)

var errNoResults = errors.New("nothing detected yet")

// DetectOptions are shared by the multichannel detectors.
type DetectOptions struct {
	Picks     []string      `yaml:"picks"`     // every good channel when empty
	Reference string        `yaml:"reference"` // applied to a copy of the recording
	Include   []hypno.Stage `yaml:"include"`   // stages searched, ignored without a hypnogram
	Save      bool          `yaml:"save"`
	Overwrite bool          `yaml:"overwrite"`
}

// eventPipe runs one detector and keeps the events of the last run.
type eventPipe[T detect.Event] struct {
	*hypnoPipe
	kind     string
	results  []T
	channels []string
	minutes  float64 // searched signal time
	detected bool
}

func newEventPipe[T detect.Event](name, kind string, opts Options, hopts HypnoOptions, options ...Option) (*eventPipe[T], error) {
	hp, err := newHypnoPipe(name, opts, hopts, options...)
	if err != nil {
		return nil, err
	}
	return &eventPipe[T]{hypnoPipe: hp, kind: kind}, nil
}

// Results returns the events of the last detection.
func (p *eventPipe[T]) Results() []T {
	return p.results
}

// Kind names the events, as used in file and table names.
func (p *eventPipe[T]) Kind() string {
	return p.kind
}

// Summary counts the detected events per channel and stage.
func (p *eventPipe[T]) Summary() []detect.Count {
	return detect.Summarize(p.results)
}

// Save writes the events of the last detection to {Dir}/{kind}.csv.
func (p *eventPipe[T]) Save(overwrite bool) (path string, err error) {
	if !p.detected {
		return "", fmt.Errorf("%s: %w", p.name, errNoResults)
	}

	path = filepath.Join(p.Dir(), p.kind+".csv")
	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return "", err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = detect.WriteCSV(f, p.results); err != nil {
		return "", fmt.Errorf("writing %s: %w", p.kind, err)
	}
	p.logger.Info("events saved", slog.String("path", path), slog.Int("count", len(p.results)))
	return path, nil
}

// input prepares the detector input from a re-referenced copy of the picked channels.
// Without a hypnogram the whole recording is searched.
func (p *eventPipe[T]) input(picks []string, ref string, include []hypno.Stage) (detect.Input, error) {
	shared, err := p.Raw()
	if err != nil {
		return detect.Input{}, err
	}
	labels, err := p.hypno.aligned(shared.NSamples())
	if err != nil {
		return detect.Input{}, err
	}

	raw := shared.Copy()
	idx, err := raw.Picks(picks)
	if err != nil {
		return detect.Input{}, err
	}
	if len(idx) == 0 {
		return detect.Input{}, errors.New("no channels to search")
	}
	if err = reference(raw, ref, idx); err != nil {
		return detect.Input{}, err
	}
	data, channels := rows(raw, idx)

	in := detect.Input{SF: raw.Info.SFreq, Channels: channels, Data: data}
	if !p.hypno.Absent() {
		in.Hypno = labels
		in.Include = include
	}
	return in, nil
}

func (p *eventPipe[T]) finish(in detect.Input, events []T, save, overwrite bool) error {
	p.results = events
	p.channels = in.Channels
	p.minutes = searchedMinutes(in)
	p.detected = true
	p.logger.Info("detection done",
		slog.String("kind", p.kind),
		slog.Int("count", len(events)),
		slog.Float64("minutes", p.minutes),
	)
	if save {
		if _, err := p.Save(overwrite); err != nil {
			return err
		}
	}
	return nil
}

func searchedMinutes(in detect.Input) float64 {
	if len(in.Data) == 0 {
		return 0
	}
	n := len(in.Data[0])
	if in.Hypno != nil && len(in.Include) > 0 {
		n = 0
		for _, l := range in.Hypno {
			if slices.Contains(in.Include, l) {
				n++
			}
		}
	}
	return float64(n) / in.SF / 60
}

// TopomapOptions control PlotTopomap.
type TopomapOptions struct {
	Save      bool // write {Dir}/topomap.png
	Overwrite bool
	Width     int
	Height    int
}

// TopomapPlotter draws the scalp distribution of detected events.
type TopomapPlotter interface {
	PlotTopomap(opts TopomapOptions) ([]byte, error)
}

// PlotTopomap draws the event distribution of p, failing with *UnsupportedError when p
// cannot draw one.
func PlotTopomap(p Pipe, opts TopomapOptions) ([]byte, error) {
	tp, ok := p.(TopomapPlotter)
	if !ok {
		return nil, NewUnsupportedError(p.Name(), "PlotTopomap")
	}
	return tp.PlotTopomap(opts)
}

// plotDensity charts events per minute of searched time for every searched channel.
func (p *eventPipe[T]) plotDensity(opts TopomapOptions) ([]byte, error) {
	if !p.detected {
		return nil, fmt.Errorf("%s: %w", p.name, errNoResults)
	}
	if p.minutes <= 0 {
		return nil, fmt.Errorf("%s: no signal was searched", p.name)
	}

	counts := detect.PerChannel(p.results)
	density := make([]float64, len(p.channels))
	for i, ch := range p.channels {
		density[i] = float64(counts[ch]) / p.minutes
	}

	var buf bytes.Buffer
	err := render.BarChart(&buf, p.channels, density, render.ChartOptions{
		Title:  fmt.Sprintf("%s density", p.kind),
		YLabel: "Events per minute",
		Width:  opts.Width,
		Height: opts.Height,
	})
	if err != nil {
		return nil, err
	}
	if opts.Save {
		path := filepath.Join(p.Dir(), "topomap.png")
		if err = saveBytes(path, buf.Bytes(), opts.Overwrite); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func defaultInclude() []hypno.Stage {
	return []hypno.Stage{hypno.N1, hypno.N2, hypno.N3}
}

// SpindleOptions control SpindlesPipe.Detect.
type SpindleOptions struct {
	DetectOptions `yaml:",inline"`
	Params        detect.SpindleParams `yaml:",inline"`
}

func DefaultSpindleOptions() SpindleOptions {
	return SpindleOptions{
		DetectOptions: DetectOptions{Reference: ReferenceAverage, Include: defaultInclude()},
		Params:        detect.DefaultSpindleParams(),
	}
}

// SpindlesPipe detects sleep spindles.
type SpindlesPipe struct {
	*eventPipe[detect.Spindle]
}

func NewSpindlesPipe(opts Options, hopts HypnoOptions, options ...Option) (*SpindlesPipe, error) {
	ep, err := newEventPipe[detect.Spindle]("SpindlesPipe", "spindles", opts, hopts, options...)
	if err != nil {
		return nil, err
	}
	return &SpindlesPipe{eventPipe: ep}, nil
}

// Detect replaces the results with the spindles found under opts.
func (p *SpindlesPipe) Detect(opts SpindleOptions) ([]detect.Spindle, error) {
	in, err := p.input(opts.Picks, opts.Reference, opts.Include)
	if err != nil {
		return nil, err
	}
	events, err := detect.Spindles(in, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("detecting spindles: %w", err)
	}
	return events, p.finish(in, events, opts.Save, opts.Overwrite)
}

func (p *SpindlesPipe) PlotTopomap(opts TopomapOptions) ([]byte, error) {
	return p.plotDensity(opts)
}

// SlowWaveOptions control SlowWavesPipe.Detect.
type SlowWaveOptions struct {
	DetectOptions `yaml:",inline"`
	Params        detect.SlowWaveParams `yaml:",inline"`
}

func DefaultSlowWaveOptions() SlowWaveOptions {
	return SlowWaveOptions{
		DetectOptions: DetectOptions{Reference: ReferenceAverage, Include: defaultInclude()},
		Params:        detect.DefaultSlowWaveParams(),
	}
}

// SlowWavesPipe detects slow oscillations.
type SlowWavesPipe struct {
	*eventPipe[detect.SlowWave]
}

func NewSlowWavesPipe(opts Options, hopts HypnoOptions, options ...Option) (*SlowWavesPipe, error) {
	ep, err := newEventPipe[detect.SlowWave]("SlowWavesPipe", "slow_waves", opts, hopts, options...)
	if err != nil {
		return nil, err
	}
	return &SlowWavesPipe{eventPipe: ep}, nil
}

// Detect replaces the results with the slow waves found under opts.
func (p *SlowWavesPipe) Detect(opts SlowWaveOptions) ([]detect.SlowWave, error) {
	in, err := p.input(opts.Picks, opts.Reference, opts.Include)
	if err != nil {
		return nil, err
	}
	events, err := detect.SlowWaves(in, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("detecting slow waves: %w", err)
	}
	return events, p.finish(in, events, opts.Save, opts.Overwrite)
}

func (p *SlowWavesPipe) PlotTopomap(opts TopomapOptions) ([]byte, error) {
	return p.plotDensity(opts)
}

// REMOptions control RapidEyeMovementsPipe.Detect.
type REMOptions struct {
	LOC       string           `yaml:"loc"`
	ROC       string           `yaml:"roc"`
	Reference string           `yaml:"reference"` // applied to a copy of the recording
	Include   []hypno.Stage    `yaml:"include"`
	Params    detect.REMParams `yaml:",inline"`
	Save      bool             `yaml:"save"`
	Overwrite bool             `yaml:"overwrite"`
}

func DefaultREMOptions() REMOptions {
	return REMOptions{
		LOC:     "E46",
		ROC:       "E238",
		Reference: ReferenceAverage,
		Include:   []hypno.Stage{hypno.REM},
		Params:    detect.DefaultREMParams(),
	}
}

// RapidEyeMovementsPipe detects rapid eye movements on a pair of EOG channels.
type RapidEyeMovementsPipe struct {
	*eventPipe[detect.REM]
}

func NewRapidEyeMovementsPipe(opts Options, hopts HypnoOptions, options ...Option) (*RapidEyeMovementsPipe, error) {
	ep, err := newEventPipe[detect.REM]("RapidEyeMovementsPipe", "rems", opts, hopts, options...)
	if err != nil {
		return nil, err
	}
	return &RapidEyeMovementsPipe{eventPipe: ep}, nil
}

// Detect replaces the results with the eye movements found on the LOC and ROC
// channels.
func (p *RapidEyeMovementsPipe) Detect(opts REMOptions) ([]detect.REM, error) {
	if opts.LOC == "" || opts.ROC == "" {
		return nil, NewConfigError("LOC and ROC channels are required")
	}
	in, err := p.input([]string{opts.LOC, opts.ROC}, opts.Reference, opts.Include)
	if err != nil {
		return nil, err
	}
	events, err := detect.REMs(in, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("detecting eye movements: %w", err)
	}
	return events, p.finish(in, events, opts.Save, opts.Overwrite)
}
