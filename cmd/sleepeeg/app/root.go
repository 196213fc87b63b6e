// Package app is the command-line interface of sleepeeg.
package app

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/zoobzio/capitan"

	"github.com/roman-kulish/sleepeeg/internal/render"
	"github.com/roman-kulish/sleepeeg/internal/storage"
)

// NewRootCommand builds the sleepeeg command tree. Settings are resolved before any
// subcommand runs and level follows the configured log level.
func NewRootCommand(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	v := newViper()
	settings := new(Settings)

	rootCmd := &cobra.Command{
		Use:   "sleepeeg",
		Short: "Process overnight EEG recordings into sleep spectra and events.",
		Long: `sleepeeg cleans overnight EEG recordings, removes artefacts with ICA, computes
per-stage power spectra and detects spindles, slow waves and rapid eye movements.
Every recording is processed by a YAML recipe listing the steps to run.`,
		SilenceErrors:      true,
		SilenceUsage:       true,
		DisableSuggestions: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
				return err
			}
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			*settings = s
			level.Set(s.LogLevel)
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default is ./.sleepeeg.yaml or $HOME/.sleepeeg.yaml)")
	flags.String("log-level", "info", "Log level: debug or info or warn or error")
	flags.String("theme", string(render.EnhancedTheme), "Spectrogram color theme")
	flags.String("db", "", "Path to the results database, results are kept on disk only when empty")
	flags.Bool("color", true, "Enable colored tables")

	rootCmd.AddCommand(
		newRunCommand(logger, settings),
		newGrandCommand(logger, settings),
		newStatsCommand(settings),
		newRunsCommand(settings),
	)
	return rootCmd
}

// openStore opens the results database, nil when none is configured.
func openStore(s *Settings) storage.Store {
	if s.Database == "" {
		return nil
	}
	return storage.NewSqliteStore(s.Database)
}

// logSteps logs step lifecycle events at debug level until the returned function is
// called.
func logSteps(logger *slog.Logger) func() {
	started := capitan.Hook(StepStarted, func(_ context.Context, e *capitan.Event) {
		runID, _ := FieldRunID.From(e)
		step, _ := FieldStep.From(e)
		index, _ := FieldStepIndex.From(e)
		logger.Debug("step started", slog.String("run", runID), slog.String("step", step), slog.Int("index", index))
	})
	completed := capitan.Hook(StepCompleted, func(_ context.Context, e *capitan.Event) {
		runID, _ := FieldRunID.From(e)
		step, _ := FieldStep.From(e)
		took, _ := FieldDuration.From(e)
		logger.Debug("step completed", slog.String("run", runID), slog.String("step", step), slog.Duration("took", took))
	})
	failed := capitan.Hook(StepFailed, func(_ context.Context, e *capitan.Event) {
		runID, _ := FieldRunID.From(e)
		step, _ := FieldStep.From(e)
		err, _ := FieldError.From(e)
		logger.Debug("step failed", slog.String("run", runID), slog.String("step", step), slog.Any("error", err))
	})

	return func() {
		started.Close()
		completed.Close()
		failed.Close()
	}
}
