package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/pipe"
	"github.com/roman-kulish/sleepeeg/internal/render"
	"github.com/roman-kulish/sleepeeg/internal/storage"
)

// state is what flows through the step sequence of one run. Pipes are created when a
// step first needs them and chained onto the most recent one.
type state struct {
	recipe *Recipe
	theme  render.ColorTheme
	logger *slog.Logger
	store  storage.Store // nil when results are not persisted
	runID  string

	last      pipe.Pipe
	cleaning  *pipe.CleaningPipe
	ica       *pipe.ICAPipe
	spectral  *pipe.SpectralPipe
	spindles  *pipe.SpindlesPipe
	slowWaves *pipe.SlowWavesPipe
	rems      *pipe.RapidEyeMovementsPipe
	stats     []hypno.Statistic
}

func (st *state) options() pipe.Options {
	if st.last != nil {
		return pipe.Options{Prev: st.last}
	}
	return pipe.Options{Path: st.recipe.Recording, OutputDir: st.recipe.OutputDir}
}

func (st *state) hypnoOptions() pipe.HypnoOptions {
	return pipe.HypnoOptions{Path: st.recipe.Hypnogram.Path, SFHypno: st.recipe.Hypnogram.SFHypno}
}

func (st *state) cleaningPipe() (*pipe.CleaningPipe, error) {
	if st.cleaning == nil {
		p, err := pipe.NewCleaningPipe(st.options(), pipe.WithLogger(st.logger))
		if err != nil {
			return nil, err
		}
		st.cleaning, st.last = p, p
	}
	return st.cleaning, nil
}

func (st *state) icaPipe() (*pipe.ICAPipe, error) {
	if st.ica == nil {
		p, err := pipe.NewICAPipe(st.options(), st.recipe.ICA, pipe.WithLogger(st.logger))
		if err != nil {
			return nil, err
		}
		st.ica, st.last = p, p
	}
	return st.ica, nil
}

func (st *state) spectralPipe() (*pipe.SpectralPipe, error) {
	if st.spectral == nil {
		p, err := pipe.NewSpectralPipe(st.options(), st.hypnoOptions(), pipe.WithLogger(st.logger))
		if err != nil {
			return nil, err
		}
		st.spectral, st.last = p, p
	}
	return st.spectral, nil
}

func (st *state) spindlesPipe() (*pipe.SpindlesPipe, error) {
	if st.spindles == nil {
		p, err := pipe.NewSpindlesPipe(st.options(), st.hypnoOptions(), pipe.WithLogger(st.logger))
		if err != nil {
			return nil, err
		}
		st.spindles, st.last = p, p
	}
	return st.spindles, nil
}

func (st *state) slowWavesPipe() (*pipe.SlowWavesPipe, error) {
	if st.slowWaves == nil {
		p, err := pipe.NewSlowWavesPipe(st.options(), st.hypnoOptions(), pipe.WithLogger(st.logger))
		if err != nil {
			return nil, err
		}
		st.slowWaves, st.last = p, p
	}
	return st.slowWaves, nil
}

func (st *state) remsPipe() (*pipe.RapidEyeMovementsPipe, error) {
	if st.rems == nil {
		p, err := pipe.NewRapidEyeMovementsPipe(st.options(), st.hypnoOptions(), pipe.WithLogger(st.logger))
		if err != nil {
			return nil, err
		}
		st.rems, st.last = p, p
	}
	return st.rems, nil
}

func (st *state) storeEvents(ctx context.Context, records []storage.EventRecord) error {
	if st.store == nil || len(records) == 0 {
		return nil
	}
	return st.store.StoreEvents(ctx, st.runID, records)
}

type stepFunc func(ctx context.Context, st *state) error

// stepFactory decodes the options of a step and binds them to its operation.
type stepFactory func(node *yaml.Node) (stepFunc, error)

type namedStep struct {
	name string
	run  stepFunc
}

// withOptions decodes the step options over defaults before binding them to run.
func withOptions[O any](defaults func() O, run func(context.Context, *state, O) error) stepFactory {
	return func(node *yaml.Node) (stepFunc, error) {
		opts := defaults()
		if node != nil && !node.IsZero() {
			if err := node.Decode(&opts); err != nil {
				return nil, err
			}
		}
		return func(ctx context.Context, st *state) error {
			return run(ctx, st, opts)
		}, nil
	}
}

func zero[O any]() O {
	var o O
	return o
}

type resampleStep struct {
	SFreq                float64 `yaml:"sfreq"`
	pipe.ResampleOptions `yaml:",inline"`
}

type notchStep struct {
	Mains string    `yaml:"mains"` // "50s" or "60s"
	Freqs []float64 `yaml:"freqs"`
	Picks []string  `yaml:"picks"`
	Q     float64   `yaml:"q"`
}

func (n notchStep) selector() (pipe.NotchSelector, error) {
	if len(n.Freqs) > 0 {
		return pipe.NotchAt(n.Freqs...), nil
	}
	switch strings.ToLower(n.Mains) {
	case "", "50s":
		return pipe.PowerLine50(), nil
	case "60s":
		return pipe.PowerLine60(), nil
	default:
		return nil, fmt.Errorf("unknown mains '%s'", n.Mains)
	}
}

type pathStep struct {
	Path string `yaml:"path"`
}

type saveStep struct {
	Name      string `yaml:"name"`
	Overwrite bool   `yaml:"overwrite"`
}

type fitStep struct {
	Filter *pipe.FilterOptions `yaml:"filter"`
	Picks  []string            `yaml:"picks"`
}

type applyStep struct {
	Exclude []int `yaml:"exclude"`
}

type topomapStep struct {
	Kind                string `yaml:"kind"`
	pipe.TopomapOptions `yaml:",inline"`
}

// steps maps recipe step names to their operations.
var steps = map[string]stepFactory{
	"resample": withOptions(zero[resampleStep], func(_ context.Context, st *state, o resampleStep) error {
		if o.SFreq <= 0 {
			return fmt.Errorf("invalid target sampling frequency %g", o.SFreq)
		}
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		return p.Resample(o.SFreq, o.ResampleOptions)
	}),
	"filter": withOptions(pipe.DefaultFilterOptions, func(_ context.Context, st *state, o pipe.FilterOptions) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		return p.Filter(o)
	}),
	"notch": withOptions(zero[notchStep], func(_ context.Context, st *state, o notchStep) error {
		sel, err := o.selector()
		if err != nil {
			return err
		}
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		return p.Notch(sel, pipe.NotchOptions{Picks: o.Picks, Q: o.Q})
	}),
	"read-bad-channels": withOptions(zero[pathStep], func(_ context.Context, st *state, o pathStep) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		return p.ReadBadChannels(resolvePath(recipeDir(st), o.Path))
	}),
	"read-annotations": withOptions(zero[pathStep], func(_ context.Context, st *state, o pathStep) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		return p.ReadAnnotations(resolvePath(recipeDir(st), o.Path))
	}),
	"interpolate-bads": withOptions(zero[pipe.InterpolateOptions], func(_ context.Context, st *state, o pipe.InterpolateOptions) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		return p.InterpolateBads(o)
	}),
	"save-raw": withOptions(zero[saveStep], func(_ context.Context, st *state, o saveStep) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		if o.Name == "" {
			o.Name = "cleaned_raw.edf"
		}
		_, err = p.SaveRaw(o.Name, o.Overwrite)
		return err
	}),
	"save-bad-channels": withOptions(zero[saveStep], func(_ context.Context, st *state, o saveStep) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		_, err = p.SaveBadChannels(o.Overwrite)
		return err
	}),
	"save-annotations": withOptions(zero[saveStep], func(_ context.Context, st *state, o saveStep) error {
		p, err := st.cleaningPipe()
		if err != nil {
			return err
		}
		_, err = p.SaveAnnotations(o.Overwrite)
		return err
	}),
	"ica-fit": withOptions(zero[fitStep], func(_ context.Context, st *state, o fitStep) error {
		p, err := st.icaPipe()
		if err != nil {
			return err
		}
		return p.Fit(pipe.FitOptions{Filter: o.Filter, Picks: o.Picks})
	}),
	"ica-apply": withOptions(zero[applyStep], func(_ context.Context, st *state, o applyStep) error {
		p, err := st.icaPipe()
		if err != nil {
			return err
		}
		return p.Apply(o.Exclude...)
	}),
	"ica-save": withOptions(zero[saveStep], func(_ context.Context, st *state, o saveStep) error {
		p, err := st.icaPipe()
		if err != nil {
			return err
		}
		_, err = p.Save(o.Name, o.Overwrite)
		return err
	}),
	"ica-plot-sources": withOptions(func() pipe.SourcesPlotOptions { return pipe.SourcesPlotOptions{Save: true} },
		func(_ context.Context, st *state, o pipe.SourcesPlotOptions) error {
			p, err := st.icaPipe()
			if err != nil {
				return err
			}
			_, err = p.PlotSources(o)
			return err
		}),
	"psd": withOptions(pipe.DefaultPSDOptions, func(ctx context.Context, st *state, o pipe.PSDOptions) error {
		p, err := st.spectralPipe()
		if err != nil {
			return err
		}
		agg, err := p.ComputePSDsPerStage(o)
		if err != nil {
			return err
		}
		if st.store == nil {
			return nil
		}
		return st.store.StoreStageSpectra(ctx, st.runID, agg.Spectra())
	}),
	"read-spectra": withOptions(zero[pathStep], func(_ context.Context, st *state, o pathStep) error {
		p, err := st.spectralPipe()
		if err != nil {
			return err
		}
		_, err = p.ReadSpectra(resolvePath(recipeDir(st), o.Path))
		return err
	}),
	"plot-psd": withOptions(func() pipe.PSDPlotOptions { return pipe.PSDPlotOptions{Save: true} },
		func(_ context.Context, st *state, o pipe.PSDPlotOptions) error {
			p, err := st.spectralPipe()
			if err != nil {
				return err
			}
			_, err = p.PlotPSDPerStage(o)
			return err
		}),
	"spectrogram": withOptions(spectrogramDefaults, func(_ context.Context, st *state, o pipe.SpectrogramOptions) error {
		if o.Theme == "" {
			o.Theme = st.theme
		}
		p, err := st.spectralPipe()
		if err != nil {
			return err
		}
		_, err = p.PlotHypnospectrogram(o)
		return err
	}),
	"sleep-stats": withOptions(func() pipe.SleepStatsOptions { return pipe.SleepStatsOptions{Save: true} },
		func(ctx context.Context, st *state, o pipe.SleepStatsOptions) error {
			p, err := st.spectralPipe()
			if err != nil {
				return err
			}
			if st.stats, err = p.SleepStats(o); err != nil {
				return err
			}
			if st.store == nil {
				return nil
			}
			return st.store.StoreSleepStats(ctx, st.runID, st.stats)
		}),
	"spindles": withOptions(pipe.DefaultSpindleOptions, func(ctx context.Context, st *state, o pipe.SpindleOptions) error {
		p, err := st.spindlesPipe()
		if err != nil {
			return err
		}
		events, err := p.Detect(o)
		if err != nil {
			return err
		}
		return st.storeEvents(ctx, storage.EventRecords(p.Kind(), events))
	}),
	"slow-waves": withOptions(pipe.DefaultSlowWaveOptions, func(ctx context.Context, st *state, o pipe.SlowWaveOptions) error {
		p, err := st.slowWavesPipe()
		if err != nil {
			return err
		}
		events, err := p.Detect(o)
		if err != nil {
			return err
		}
		return st.storeEvents(ctx, storage.EventRecords(p.Kind(), events))
	}),
	"rems": withOptions(pipe.DefaultREMOptions, func(ctx context.Context, st *state, o pipe.REMOptions) error {
		p, err := st.remsPipe()
		if err != nil {
			return err
		}
		events, err := p.Detect(o)
		if err != nil {
			return err
		}
		return st.storeEvents(ctx, storage.EventRecords(p.Kind(), events))
	}),
	"topomap": withOptions(func() topomapStep { return topomapStep{TopomapOptions: pipe.TopomapOptions{Save: true}} },
		func(_ context.Context, st *state, o topomapStep) error {
			var p pipe.Pipe
			switch o.Kind {
			case "spindles":
				if st.spindles != nil {
					p = st.spindles
				}
			case "slow-waves":
				if st.slowWaves != nil {
					p = st.slowWaves
				}
			case "rems":
				if st.rems != nil {
					p = st.rems
				}
			default:
				return fmt.Errorf("unknown event kind '%s'", o.Kind)
			}
			if p == nil {
				return fmt.Errorf("no %s were detected before the topomap step", o.Kind)
			}
			_, err := pipe.PlotTopomap(p, o.TopomapOptions)
			return err
		}),
}

func spectrogramDefaults() pipe.SpectrogramOptions {
	o := pipe.DefaultSpectrogramOptions()
	o.Theme = ""
	o.Save = true
	return o
}

func recipeDir(st *state) string {
	return st.recipe.dir
}

// compileSteps binds every step of a recipe to its operation.
func compileSteps(recipeSteps []Step) ([]namedStep, error) {
	out := make([]namedStep, 0, len(recipeSteps))
	for i, s := range recipeSteps {
		factory, ok := steps[s.Name]
		if !ok {
			return nil, fmt.Errorf("step %d: unknown step '%s'", i+1, s.Name)
		}
		run, err := factory(&s.Options)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): decoding options: %w", i+1, s.Name, err)
		}
		out = append(out, namedStep{name: s.Name, run: run})
	}
	return out, nil
}
