package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/sleepeeg/internal/detect"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/pipe"
	"github.com/roman-kulish/sleepeeg/internal/storage"
)

// Runner executes recipes.
type Runner struct {
	settings Settings
	logger   *slog.Logger
	store    storage.Store
}

type RunnerOption func(*Runner)

// WithStore persists run results in s.
func WithStore(s storage.Store) RunnerOption {
	return func(r *Runner) {
		r.store = s
	}
}

func NewRunner(settings Settings, logger *slog.Logger, options ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{settings: settings, logger: logger}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Result is what a finished run produced.
type Result struct {
	RunID    string
	Subject  string
	Stats    []hypno.Statistic
	Spectral *pipe.SpectralPipe // nil when no spectral step ran
	Events   []storage.EventCount
	Duration time.Duration
}

// Run executes the steps of recipe in order. The first failing step stops the run.
func (r *Runner) Run(ctx context.Context, recipe *Recipe) (*Result, error) {
	compiled, err := compileSteps(recipe.Steps)
	if err != nil {
		return nil, err
	}

	st := &state{
		recipe: recipe,
		theme:  r.settings.Theme,
		store:  r.store,
	}
	if st.runID, err = r.createRun(ctx, recipe); err != nil {
		return nil, err
	}
	st.logger = r.logger.With(slog.String("run", st.runID))

	chain := make([]pipz.Chainable[*state], 0, len(compiled))
	for i, s := range compiled {
		chain = append(chain, r.step(i+1, s))
	}
	seq := pipz.NewSequence(pipz.Name("recipe"), chain...)

	start := time.Now()
	capitan.Emit(ctx, RunStarted,
		FieldRunID.Field(st.runID),
		FieldRecording.Field(recipe.Recording),
	)

	if _, err = seq.Process(ctx, st); err != nil {
		var perr *pipz.Error[*state]
		if errors.As(err, &perr) && perr.Err != nil {
			err = perr.Err
		}
		return nil, err
	}

	res := &Result{
		RunID:    st.runID,
		Subject:  recipe.SubjectName(),
		Stats:    st.stats,
		Spectral: st.spectral,
		Events:   st.eventCounts(),
		Duration: time.Since(start),
	}
	capitan.Emit(ctx, RunCompleted,
		FieldRunID.Field(st.runID),
		FieldRecording.Field(recipe.Recording),
		FieldDuration.Field(res.Duration),
	)
	st.logger.Info("run completed", slog.Duration("took", res.Duration))
	return res, nil
}

func (r *Runner) createRun(ctx context.Context, recipe *Recipe) (string, error) {
	if r.store == nil {
		return uuid.NewString(), nil
	}

	data := recipe.source
	if data == nil {
		var err error
		if data, err = yaml.Marshal(recipe); err != nil {
			return "", fmt.Errorf("encoding recipe: %w", err)
		}
	}
	id, err := r.store.CreateRun(ctx, recipe.SubjectName(), recipe.Recording, string(data))
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

func (r *Runner) step(index int, s namedStep) pipz.Chainable[*state] {
	return pipz.Apply(pipz.Name(s.name), func(ctx context.Context, st *state) (*state, error) {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		start := time.Now()
		capitan.Emit(ctx, StepStarted,
			FieldRunID.Field(st.runID),
			FieldStep.Field(s.name),
			FieldStepIndex.Field(index),
		)

		if err := s.run(ctx, st); err != nil {
			err = fmt.Errorf("step %d (%s): %w", index, s.name, err)
			capitan.Error(ctx, StepFailed,
				FieldRunID.Field(st.runID),
				FieldStep.Field(s.name),
				FieldStepIndex.Field(index),
				FieldDuration.Field(time.Since(start)),
				FieldError.Field(err),
			)
			return st, err
		}

		capitan.Emit(ctx, StepCompleted,
			FieldRunID.Field(st.runID),
			FieldStep.Field(s.name),
			FieldStepIndex.Field(index),
			FieldDuration.Field(time.Since(start)),
		)
		return st, nil
	})
}

// eventCounts summarises every detection that ran.
func (st *state) eventCounts() []storage.EventCount {
	var out []storage.EventCount
	add := func(kind string, counts []detect.Count) {
		for _, c := range counts {
			out = append(out, storage.EventCount{Kind: kind, Channel: c.Channel, Stage: c.Stage, Count: c.Count})
		}
	}
	if st.spindles != nil {
		add(st.spindles.Kind(), st.spindles.Summary())
	}
	if st.slowWaves != nil {
		add(st.slowWaves.Kind(), st.slowWaves.Summary())
	}
	if st.rems != nil {
		add(st.rems.Kind(), st.rems.Summary())
	}
	return out
}
