// Package pipe chains the analysis stages of a sleep recording. Every pipe shares one
// signal Source with the pipe it was built from, so a cleaning step mutates the
// recording that the spectral and event pipes later read.
package pipe

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/sleepeeg/internal/eeg"
	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

const savedRawDir = "saved_raw"

// Pipe is a stage of the chain. Any pipe can precede another.
type Pipe interface {
	Name() string
	Source() *Source
}

// Options are the construction parameters of a pipe as given by the caller.
type Options struct {
	Path      string     // recording to load; ignored when Prev is set
	OutputDir string     // defaults to the directory of Path
	Prev      Pipe       // preceding pipe whose Source is shared
	Loader    eeg.Loader // defaults to the loader registered for the file extension
}

// Config is the resolved form of Options. Exactly one of Shared and Path is set.
type Config struct {
	Shared    *Source
	Path      string
	OutputDir string
	Loader    eeg.Loader
}

// Resolve validates opts and derives the defaults. A preceding pipe wins over an
// explicit path. A missing recording fails with an error wrapping fs.ErrNotExist.
func Resolve(opts Options) (Config, error) {
	if opts.Prev != nil {
		if src := opts.Prev.Source(); src != nil {
			return Config{Shared: src, OutputDir: src.OutputDir()}, nil
		}
		return Config{}, NewConfigError(fmt.Sprintf("preceding pipe %s has no signal source", opts.Prev.Name()))
	}
	if opts.Path == "" {
		return Config{}, NewConfigError("either a signal path or a preceding pipe is required")
	}
	if err := fsutil.MustExist(opts.Path); err != nil {
		return Config{}, err
	}

	loader := opts.Loader
	if loader == nil {
		var err error
		if loader, err = eeg.LoaderFor(opts.Path); err != nil {
			return Config{}, err
		}
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(opts.Path)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("creating output directory: %w", err)
	}

	return Config{Path: opts.Path, OutputDir: outputDir, Loader: loader}, nil
}

// Source owns the recording of a chain. The recording is loaded on first access and
// mutated in place by the pipes sharing it.
type Source struct {
	path      string
	outputDir string
	loader    eeg.Loader
	raw       *eeg.Raw
	logger    *slog.Logger
}

func newSource(cfg Config, logger *slog.Logger) *Source {
	if cfg.Shared != nil {
		return cfg.Shared
	}
	return &Source{
		path:      cfg.Path,
		outputDir: cfg.OutputDir,
		loader:    cfg.Loader,
		logger:    logger,
	}
}

// NewSourceFromRaw wraps an already loaded recording.
func NewSourceFromRaw(raw *eeg.Raw, outputDir string) (*Source, error) {
	if raw == nil {
		return nil, NewConfigError("recording is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &Source{
		outputDir: outputDir,
		raw:       raw,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

func (s *Source) Path() string {
	return s.path
}

func (s *Source) OutputDir() string {
	return s.outputDir
}

// Loaded reports whether the recording is in memory.
func (s *Source) Loaded() bool {
	return s.raw != nil
}

// Raw returns the recording, loading it on first use. Load failures are logged and
// returned unchanged.
func (s *Source) Raw() (*eeg.Raw, error) {
	if s.raw != nil {
		return s.raw, nil
	}

	raw, err := s.loader.Load(s.path)
	if err != nil {
		s.logger.Error("loading signal", slog.String("path", s.path), slog.String("error", err.Error()))
		return nil, err
	}
	s.logger.Info("signal loaded",
		slog.String("path", s.path),
		slog.Int("channels", raw.NChannels()),
		slog.String("samples", humanize.Comma(int64(raw.NSamples()))),
		slog.Float64("sf", raw.Info.SFreq),
	)
	s.raw = raw
	return raw, nil
}

// SF returns the sampling frequency of the recording.
func (s *Source) SF() (float64, error) {
	raw, err := s.Raw()
	if err != nil {
		return 0, err
	}
	return raw.Info.SFreq, nil
}

// base carries what every pipe has: a name, the shared source and a logger.
type base struct {
	name   string
	src    *Source
	logger *slog.Logger
}

// Option configures a pipe.
type Option func(*base)

// WithLogger sets the logger for the pipe
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		b.logger = logger.With(slog.String("pipe", b.name))
	}
}

func newBase(name string, opts Options, options ...Option) (*base, error) {
	b := &base{
		name:   name,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, option := range options {
		option(b)
	}

	cfg, err := Resolve(opts)
	if err != nil {
		b.logger.Error("resolving configuration", slog.String("error", err.Error()))
		return nil, err
	}
	b.src = newSource(cfg, b.logger)
	return b, nil
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Source() *Source {
	return b.src
}

func (b *base) OutputDir() string {
	return b.src.OutputDir()
}

// Dir is the directory this pipe writes its results to.
func (b *base) Dir() string {
	return filepath.Join(b.src.OutputDir(), b.name)
}

func (b *base) SF() (float64, error) {
	return b.src.SF()
}

func (b *base) Raw() (*eeg.Raw, error) {
	return b.src.Raw()
}

// SaveRaw writes a snapshot of the recording to {output_dir}/saved_raw/{name}.
func (b *base) SaveRaw(name string, overwrite bool) (string, error) {
	raw, err := b.Raw()
	if err != nil {
		return "", err
	}
	path := filepath.Join(b.OutputDir(), savedRawDir, name)
	if err = eeg.WriteEDF(path, raw, overwrite); err != nil {
		return "", fmt.Errorf("saving raw: %w", err)
	}
	b.logger.Info("raw saved", slog.String("path", path))
	return path, nil
}

// SaveBadChannels writes the bad channel list to {Dir}/bad_channels.txt.
func (b *base) SaveBadChannels(overwrite bool) (string, error) {
	raw, err := b.Raw()
	if err != nil {
		return "", err
	}
	path := filepath.Join(b.Dir(), "bad_channels.txt")
	if err = eeg.WriteBadChannels(path, raw.Info.Bads, overwrite); err != nil {
		return "", err
	}
	return path, nil
}

// SaveAnnotations writes the annotations to {Dir}/annotations.txt.
func (b *base) SaveAnnotations(overwrite bool) (string, error) {
	raw, err := b.Raw()
	if err != nil {
		return "", err
	}
	path := filepath.Join(b.Dir(), "annotations.txt")
	if err = eeg.WriteAnnotations(path, raw.Annotations, overwrite); err != nil {
		return "", err
	}
	return path, nil
}
