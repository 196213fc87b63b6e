package pipe

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

// HypnoOptions locate the hypnogram of a recording.
type HypnoOptions struct {
	Path    string  // whitespace-delimited stage codes; empty means no hypnogram
	SFHypno float64 // labels per second, defaults to one per 30 s epoch
}

// HypnoContext is the hypnogram of a recording aligned with its samples. It is built
// once and not changed afterwards.
type HypnoContext struct {
	Labels    []hypno.Stage // as read
	SFHypno   float64
	Upsampled []hypno.Stage // one label per sample
	absent    bool
}

func newHypnoContext(opts HypnoOptions, src *Source, logger *slog.Logger) (*HypnoContext, error) {
	if opts.SFHypno <= 0 {
		opts.SFHypno = hypno.DefaultSFHypno
	}

	raw, err := src.Raw()
	if err != nil {
		return nil, err
	}
	n := raw.NSamples()

	if opts.Path == "" {
		logger.Info("no hypnogram given, every sample is unstaged")
		return &HypnoContext{
			SFHypno:   opts.SFHypno,
			Upsampled: make([]hypno.Stage, n),
			absent:    true,
		}, nil
	}

	if err = fsutil.MustExist(opts.Path); err != nil {
		logger.Error("reading hypnogram", slog.String("error", err.Error()))
		return nil, err
	}
	labels, err := hypno.Load(opts.Path)
	if err != nil {
		logger.Error("reading hypnogram", slog.String("error", err.Error()))
		return nil, err
	}

	up, err := hypno.Upsample(labels, opts.SFHypno, raw.Info.SFreq, n)
	if err != nil {
		return nil, fmt.Errorf("upsampling hypnogram: %w", err)
	}
	logger.Info("hypnogram loaded",
		slog.String("path", opts.Path),
		slog.Int("epochs", len(labels)),
		slog.Any("stages", hypno.Present(labels)),
	)

	return &HypnoContext{
		Labels:    labels,
		SFHypno:   opts.SFHypno,
		Upsampled: up,
	}, nil
}

// Absent reports whether no hypnogram was given or it holds nothing but Wake.
func (h *HypnoContext) Absent() bool {
	return h.absent || !hypno.Any(h.Upsampled)
}

// aligned returns the per-sample labels, failing when the recording changed length
// since the context was built.
func (h *HypnoContext) aligned(n int) ([]hypno.Stage, error) {
	if len(h.Upsampled) != n {
		return nil, fmt.Errorf("hypnogram covers %d samples, recording has %d", len(h.Upsampled), n)
	}
	return h.Upsampled, nil
}

// hypnoPipe is a pipe that reads the hypnogram along with the signal.
type hypnoPipe struct {
	*base
	hypno *HypnoContext
}

func newHypnoPipe(name string, opts Options, hopts HypnoOptions, options ...Option) (*hypnoPipe, error) {
	b, err := newBase(name, opts, options...)
	if err != nil {
		return nil, err
	}
	h, err := newHypnoContext(hopts, b.src, b.logger)
	if err != nil {
		return nil, err
	}
	return &hypnoPipe{base: b, hypno: h}, nil
}

func (p *hypnoPipe) Hypno() *HypnoContext {
	return p.hypno
}

// SleepStatsOptions control SleepStats.
type SleepStatsOptions struct {
	Save      bool // write {Dir}/sleep_stats.csv
	Overwrite bool
}

// SleepStats derives the standard sleep statistics from the hypnogram.
func (p *hypnoPipe) SleepStats(opts SleepStatsOptions) (stats []hypno.Statistic, err error) {
	if p.hypno.absent {
		return nil, fmt.Errorf("sleep statistics: %w", hypno.ErrEmptyHypnogram)
	}
	stats, err = hypno.SleepStatistics(p.hypno.Labels, p.hypno.SFHypno)
	if err != nil {
		return nil, fmt.Errorf("sleep statistics: %w", err)
	}
	if !opts.Save {
		return stats, nil
	}

	path := filepath.Join(p.Dir(), "sleep_stats.csv")
	f, err := fsutil.CreateFile(path, opts.Overwrite)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = hypno.WriteStatisticsCSV(f, stats); err != nil {
		return nil, fmt.Errorf("writing sleep statistics: %w", err)
	}
	p.logger.Info("sleep statistics saved", slog.String("path", path))
	return stats, nil
}
