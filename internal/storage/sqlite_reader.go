package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/spectrum"
)

// SpectrumReader provides an iterator-based interface for reading stored stage spectra
// with optional stage, channel and frequency filtering.
type SpectrumReader interface {
	// Next advances the iterator and returns true if there is another stage spectrum
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current stage spectrum in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *spectrum.StageSpectrum

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a SqliteSpectrumReader with specific filtering criteria.
type ReaderOption func(*SqliteSpectrumReader)

// WithStages keeps only the named stages.
func WithStages(stages ...string) ReaderOption {
	return func(r *SqliteSpectrumReader) {
		r.stages = stages
	}
}

// WithChannels keeps only the named channels. Empty spectra are always kept.
func WithChannels(channels ...string) ReaderOption {
	return func(r *SqliteSpectrumReader) {
		r.channels = channels
	}
}

// WithFreqRange keeps only frequencies within [minFreq, maxFreq].
func WithFreqRange(minFreq, maxFreq float64) ReaderOption {
	return func(r *SqliteSpectrumReader) {
		r.minFreq = &minFreq
		r.maxFreq = &maxFreq
	}
}

func newSqliteSpectrumReader(ctx context.Context, db *sql.DB, runID string, opts ...ReaderOption) (*SqliteSpectrumReader, error) {
	sr := &SqliteSpectrumReader{
		db:    db,
		runID: runID,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		_ = sr.Close()
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

// SqliteSpectrumReader implements SpectrumReader for SQLite database backend.
type SqliteSpectrumReader struct {
	db    *sql.DB
	runID string

	stages   []string
	channels []string
	minFreq  *float64
	maxFreq  *float64

	current    *spectrum.StageSpectrum
	next       spectrumRow // first row of the next stage
	nextExists bool
	rows       *sql.Rows
	err        error
}

type spectrumRow struct {
	stage      string
	stageIndex int
	channel    sql.NullString
	frequency  sql.NullFloat64
	power      sql.NullFloat64
	nSamples   int
	fraction   float64
}

func (sr *SqliteSpectrumReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.runID == "" {
		return errors.New("run ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
		{msg: "reading first row", fn: sr.readFirst},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSpectrumReader) initFilters(context.Context) error {
	if sr.minFreq == nil {
		low := -math.MaxFloat64
		sr.minFreq = &low
	}
	if sr.maxFreq == nil {
		high := math.MaxFloat64
		sr.maxFreq = &high
	}
	if *sr.minFreq > *sr.maxFreq {
		return fmt.Errorf("min frequency %f is greater than max frequency %f", *sr.minFreq, *sr.maxFreq)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (sr *SqliteSpectrumReader) initQuery(ctx context.Context) (err error) {
	var sb strings.Builder
	sb.WriteString(selectStageSpectraSQL)
	args := []any{sr.runID, *sr.minFreq, *sr.maxFreq}

	if len(sr.stages) > 0 {
		sb.WriteString("\n    AND stage IN (" + placeholders(len(sr.stages)) + ")")
		for _, s := range sr.stages {
			args = append(args, s)
		}
	}
	if len(sr.channels) > 0 {
		sb.WriteString("\n    AND (channel IS NULL OR channel IN (" + placeholders(len(sr.channels)) + "))")
		for _, c := range sr.channels {
			args = append(args, c)
		}
	}
	sb.WriteString(stageSpectraOrderSQL)

	sr.rows, err = sr.db.QueryContext(ctx, sb.String(), args...)
	return err
}

func (sr *SqliteSpectrumReader) readFirst(context.Context) error {
	if !sr.rows.Next() {
		if err := sr.rows.Err(); err != nil {
			return err
		}
		return fmt.Errorf("run %s: %w", sr.runID, ErrNoData)
	}
	row, err := sr.scanRow()
	if err != nil {
		return err
	}
	sr.next = row
	sr.nextExists = true
	return nil
}

func (sr *SqliteSpectrumReader) scanRow() (spectrumRow, error) {
	var r spectrumRow
	err := sr.rows.Scan(&r.stage, &r.stageIndex, &r.channel, &r.frequency, &r.power, &r.nSamples, &r.fraction)
	if err != nil {
		return spectrumRow{}, fmt.Errorf("scanning stage spectrum: %w", err)
	}
	return r, nil
}

// add appends row to the spectrum under construction.
func (sr *SqliteSpectrumReader) add(row spectrumRow) {
	s := sr.current
	if !row.channel.Valid || !row.frequency.Valid {
		return
	}
	last := len(s.Channels) - 1
	if last < 0 || s.Channels[last] != row.channel.String {
		s.Channels = append(s.Channels, row.channel.String)
		s.PSD = append(s.PSD, nil)
		last++
	}
	if last == 0 {
		s.Freqs = append(s.Freqs, row.frequency.Float64)
	}
	s.PSD[last] = append(s.PSD[last], nanIfNull(row.power))
}

func (sr *SqliteSpectrumReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.rows == nil || !sr.nextExists {
		return false
	}

	first := sr.next
	sr.nextExists = false
	sr.current = &spectrum.StageSpectrum{
		Stage:    first.stage,
		Index:    hypno.Stage(first.stageIndex),
		NSamples: first.nSamples,
		Fraction: first.fraction,
	}
	sr.add(first)

	for {
		select {
		case <-ctx.Done():
			sr.err = ctx.Err()
			return false
		default:
		}

		if !sr.rows.Next() {
			sr.err = ErrNoData
			return true
		}

		row, err := sr.scanRow()
		if err != nil {
			sr.err = err
			return false
		}

		if row.stage != first.stage || row.stageIndex != first.stageIndex {
			sr.next = row
			sr.nextExists = true
			return true
		}
		sr.add(row)
	}
}

func (sr *SqliteSpectrumReader) Current() *spectrum.StageSpectrum {
	return sr.current
}

func (sr *SqliteSpectrumReader) Error() error {
	if sr.err != nil && !errors.Is(sr.err, ErrNoData) {
		return sr.err
	}
	if sr.rows != nil {
		return sr.rows.Err()
	}
	return nil
}

func (sr *SqliteSpectrumReader) Close() error {
	if sr.rows != nil {
		err := sr.rows.Close()
		sr.current = nil
		sr.nextExists = false
		sr.rows = nil
		return err
	}
	return nil
}

// ReadAll drains r into a slice.
func ReadAll(ctx context.Context, r SpectrumReader) ([]*spectrum.StageSpectrum, error) {
	var out []*spectrum.StageSpectrum
	for r.Next(ctx) {
		out = append(out, r.Current())
	}
	if err := r.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
