package spectrum

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

// FileSuffix ends every per-stage spectrum file name.
const FileSuffix = "-psd.parquet"

// psdRow is one (channel, frequency) bin of a stage spectrum. An empty stage is stored
// as a single row with no channel.
type psdRow struct {
	Stage     string  `parquet:"stage,snappy,dict"`
	Index     int32   `parquet:"stage_index,snappy"`
	Channel   string  `parquet:"channel,snappy,dict"`
	Frequency float64 `parquet:"frequency,snappy"`
	Power     float64 `parquet:"power,snappy"`
	NSamples  int64   `parquet:"n_samples,snappy"`
	Fraction  float64 `parquet:"fraction,snappy"`
}

// FileName returns the file a stage spectrum is saved to, with non-word characters of
// the stage name replaced by underscores.
func FileName(stage string) string {
	return fsutil.SafeName(stage) + FileSuffix
}

// WriteParquet saves s to path.
func WriteParquet(path string, s *StageSpectrum, overwrite bool) (err error) {
	if s == nil {
		return errors.New("nil spectrum")
	}
	if err = s.validate(); err != nil {
		return err
	}

	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	writer := parquet.NewGenericWriter[psdRow](f)
	if _, err = writer.Write(toRows(s)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing spectrum rows: %w", err)
	}
	if err = writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

func toRows(s *StageSpectrum) []psdRow {
	base := psdRow{
		Stage:    s.Stage,
		Index:    int32(s.Index),
		NSamples: int64(s.NSamples),
		Fraction: s.Fraction,
	}
	if s.Empty() {
		return []psdRow{base}
	}

	rows := make([]psdRow, 0, len(s.Channels)*len(s.Freqs))
	for c, ch := range s.Channels {
		for i, freq := range s.Freqs {
			row := base
			row.Channel = ch
			row.Frequency = freq
			row.Power = s.PSD[c][i]
			rows = append(rows, row)
		}
	}
	return rows
}

// ReadParquet loads a spectrum written by WriteParquet.
func ReadParquet(path string) (s *StageSpectrum, err error) {
	if err = fsutil.MustExist(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening spectrum: %w", err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	reader := parquet.NewGenericReader[psdRow](f)
	defer func() {
		if cErr := reader.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	rows := make([]psdRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading spectrum rows: %w", err)
	}
	return fromRows(rows[:n])
}

func fromRows(rows []psdRow) (*StageSpectrum, error) {
	if len(rows) == 0 {
		return nil, errors.New("spectrum file has no rows")
	}

	first := rows[0]
	s := &StageSpectrum{
		Stage:    first.Stage,
		Index:    hypno.Stage(first.Index),
		NSamples: int(first.NSamples),
		Fraction: first.Fraction,
	}
	if first.Channel == "" {
		return s, nil
	}

	channel := make(map[string]int)
	for _, r := range rows {
		c, ok := channel[r.Channel]
		if !ok {
			c = len(s.Channels)
			channel[r.Channel] = c
			s.Channels = append(s.Channels, r.Channel)
			s.PSD = append(s.PSD, nil)
		}
		if c == 0 {
			s.Freqs = append(s.Freqs, r.Frequency)
		}
		s.PSD[c] = append(s.PSD[c], r.Power)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadDir loads every per-stage spectrum in dir, ordered by stage index then name.
func ReadDir(dir string) ([]*StageSpectrum, error) {
	if err := fsutil.MustExist(dir); err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*"+FileSuffix))
	if err != nil {
		return nil, fmt.Errorf("listing spectra: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSpectra, dir)
	}

	out := make([]*StageSpectrum, 0, len(paths))
	for _, p := range paths {
		s, err := ReadParquet(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Stage < out[j].Stage
	})
	return out, nil
}
