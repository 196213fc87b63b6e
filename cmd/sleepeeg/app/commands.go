package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/pipe"
	"github.com/roman-kulish/sleepeeg/internal/storage"
)

func newRunCommand(logger *slog.Logger, settings *Settings) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <recipe>...",
		Short: "Run the steps of one or more recipes.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logSteps(logger)()

			var options []RunnerOption
			if store := openStore(settings); store != nil {
				defer func() { _ = store.Close() }()
				options = append(options, WithStore(store))
			}
			runner := NewRunner(*settings, logger, options...)

			for _, path := range args {
				recipe, err := LoadRecipe(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				res, err := runner.Run(cmd.Context(), recipe)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if !quiet {
					if err = printResult(cmd.OutOrStdout(), res, settings.Color); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print result tables")
	return cmd
}

func printResult(w io.Writer, res *Result, colored bool) error {
	fmt.Fprintf(w, "%s (run %s) finished in %s\n", res.Subject, res.RunID, res.Duration.Round(time.Millisecond))
	if len(res.Stats) > 0 {
		if err := printStats(w, res.Stats, colored); err != nil {
			return err
		}
	}
	if res.Spectral != nil && res.Spectral.PSDs() != nil {
		if err := printSpectra(w, res.Spectral.PSDs().Spectra(), colored); err != nil {
			return err
		}
	}
	if len(res.Events) > 0 {
		return printEventCounts(w, res.Events)
	}
	return nil
}

func newGrandCommand(logger *slog.Logger, settings *Settings) *cobra.Command {
	var (
		noPlot    bool
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "grand <recipe>...",
		Short: "Average per-stage spectra over several recordings.",
		Long: `Runs every recipe and averages the per-stage spectra they produced, weighting
every recording by the number of samples it contributed to the stage. Every recipe
must compute or read its spectra.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logSteps(logger)()

			runner := NewRunner(*settings, logger)
			members := make([]*pipe.SpectralPipe, 0, len(args))
			for _, path := range args {
				recipe, err := LoadRecipe(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				res, err := runner.Run(cmd.Context(), recipe)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if res.Spectral == nil {
					return fmt.Errorf("%s: recipe has no spectral step", path)
				}
				members = append(members, res.Spectral)
			}

			grand, err := pipe.NewGrandPipe(members...)
			if err != nil {
				return err
			}
			agg, err := grand.ComputePSDsPerStage()
			if err != nil {
				return err
			}
			if !noPlot {
				if _, err = grand.PlotPSDPerStage(pipe.PSDPlotOptions{Save: true, Overwrite: overwrite}); err != nil {
					return err
				}
			}
			return printSpectra(cmd.OutOrStdout(), agg.Spectra(), settings.Color)
		},
	}

	cmd.Flags().BoolVar(&noPlot, "no-plot", false, "Do not plot the grand average")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing plot")
	return cmd
}

func newStatsCommand(settings *Settings) *cobra.Command {
	var (
		sfHypno   float64
		csvPath   string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "stats <hypnogram>",
		Short: "Print the sleep statistics of a hypnogram.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, err := hypno.Load(args[0])
			if err != nil {
				return err
			}
			stats, err := hypno.SleepStatistics(labels, sfHypno)
			if err != nil {
				return err
			}

			if csvPath != "" {
				if err = writeStatsCSV(csvPath, stats, overwrite); err != nil {
					return err
				}
			}
			return printStats(cmd.OutOrStdout(), stats, settings.Color)
		},
	}

	cmd.Flags().Float64Var(&sfHypno, "sf-hypno", 1.0/30, "Hypnogram sampling frequency in Hz (one label per 30 s epoch by default)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write the statistics to this CSV file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing CSV file")
	return cmd
}

func writeStatsCSV(path string, stats []hypno.Statistic, overwrite bool) (err error) {
	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return hypno.WriteStatisticsCSV(f, stats)
}

func newRunsCommand(settings *Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "runs [id]",
		Short: "List stored runs, or show the results of one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := openStore(settings)
			if store == nil {
				return errors.New("no results database configured, set --db")
			}
			defer func() { _ = store.Close() }()

			ctx, w := cmd.Context(), cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.Runs(ctx)
				if err != nil {
					return err
				}
				return printRuns(w, runs)
			}

			run, err := store.Run(ctx, args[0])
			if err != nil {
				return err
			}
			if err = printRuns(w, []*storage.Run{run}); err != nil {
				return err
			}

			stats, err := store.SleepStats(ctx, run.ID)
			if err != nil {
				return err
			}
			if len(stats) > 0 {
				if err = printStats(w, stats, settings.Color); err != nil {
					return err
				}
			}

			reader, err := store.ReadStageSpectra(ctx, run.ID)
			switch {
			case errors.Is(err, storage.ErrNoData):
			case err != nil:
				return err
			default:
				spectra, err := storage.ReadAll(ctx, reader)
				_ = reader.Close()
				if err != nil {
					return err
				}
				if err = printSpectra(w, spectra, settings.Color); err != nil {
					return err
				}
			}

			counts, err := store.EventCounts(ctx, run.ID)
			if err != nil {
				return err
			}
			if len(counts) > 0 {
				return printEventCounts(w, counts)
			}
			return nil
		},
	}
}
