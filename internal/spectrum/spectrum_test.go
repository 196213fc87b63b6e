package spectrum

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

func sample(stage string, index hypno.Stage, n int, scale float64) *StageSpectrum {
	return &StageSpectrum{
		Stage:    stage,
		Index:    index,
		Channels: []string{"C3", "C4"},
		Freqs:    []float64{0.5, 0.75, 1},
		PSD: [][]float64{
			{1 * scale, 2 * scale, 3 * scale},
			{4 * scale, 5 * scale, 6 * scale},
		},
		NSamples: n,
		Fraction: 0.25,
	}
}

func TestMeanAndEmpty(t *testing.T) {
	s := sample("N2", hypno.N2, 100, 1)
	assert.False(t, s.Empty())
	assert.InDeltaSlice(t, []float64{2.5, 3.5, 4.5}, s.Mean(), 1e-12)
	assert.InDelta(t, 25, s.Percent(), 1e-12)

	var nilSpectrum *StageSpectrum
	assert.True(t, nilSpectrum.Empty())
	assert.True(t, (&StageSpectrum{Stage: "REM"}).Empty())
	assert.Nil(t, (&StageSpectrum{Stage: "REM"}).Mean())
}

func TestCombineWeightsBySampleCount(t *testing.T) {
	a := sample("N2", hypno.N2, 100, 1)
	b := sample("N2", hypno.N2, 300, 2)
	empty := &StageSpectrum{Stage: "N2", Index: hypno.N2}

	got, err := Combine("N2", hypno.N2, []*StageSpectrum{a, empty, b})
	require.NoError(t, err)
	assert.Equal(t, 400, got.NSamples)
	assert.Equal(t, []string{"C3", "C4"}, got.Channels)

	// (100*1 + 300*2) / 400 = 1.75 times the base spectrum
	assert.InDeltaSlice(t, []float64{1.75, 3.5, 5.25}, got.PSD[0], 1e-12)
	assert.InDeltaSlice(t, []float64{7, 8.75, 10.5}, got.PSD[1], 1e-12)
	assert.InDelta(t, 0.5/3, got.Fraction, 1e-12)

	// members are left untouched
	assert.Equal(t, 1.0, a.PSD[0][0])
}

func TestCombineEmptyAndMismatch(t *testing.T) {
	got, err := Combine("REM", hypno.REM, []*StageSpectrum{{Stage: "REM"}, {Stage: "REM"}})
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Equal(t, "REM", got.Stage)

	got, err = Combine("REM", hypno.REM, nil)
	require.NoError(t, err)
	assert.True(t, got.Empty())

	a := sample("N2", hypno.N2, 10, 1)
	b := sample("N2", hypno.N2, 10, 1)
	b.Freqs = []float64{1, 2, 3}
	_, err = Combine("N2", hypno.N2, []*StageSpectrum{a, b})
	assert.Error(t, err)

	c := sample("N2", hypno.N2, 10, 1)
	c.Channels = []string{"C4", "C3"}
	_, err = Combine("N2", hypno.N2, []*StageSpectrum{a, c})
	assert.Error(t, err)
}

func TestParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := sample("N2", hypno.N2, 1234, 1e-3)

	path := filepath.Join(dir, FileName(s.Stage))
	require.NoError(t, WriteParquet(path, s, false))

	got, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, s.Stage, got.Stage)
	assert.Equal(t, s.Index, got.Index)
	assert.Equal(t, s.Channels, got.Channels)
	assert.Equal(t, s.Freqs, got.Freqs)
	assert.Equal(t, s.NSamples, got.NSamples)
	assert.Equal(t, s.PSD, got.PSD)
}

func TestParquetOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SpectralPipe", FileName("N3"))
	require.NoError(t, WriteParquet(path, sample("N3", hypno.N3, 1, 1), false))

	err := WriteParquet(path, sample("N3", hypno.N3, 2, 2), false)
	assert.ErrorIs(t, err, fsutil.ErrFileExists)
	assert.ErrorIs(t, err, os.ErrExist)

	require.NoError(t, WriteParquet(path, sample("N3", hypno.N3, 2, 2), true))
	got, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NSamples)
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadDir(dir)
	assert.ErrorIs(t, err, ErrNoSpectra)

	for _, s := range []*StageSpectrum{
		sample("REM", hypno.REM, 50, 1),
		{Stage: "N1 (light)", Index: hypno.N1, Fraction: math.SmallestNonzeroFloat64},
		sample("Wake", hypno.Wake, 10, 1),
	} {
		require.NoError(t, WriteParquet(filepath.Join(dir, FileName(s.Stage)), s, false))
	}
	assert.FileExists(t, filepath.Join(dir, "N1__light_-psd.parquet"))

	got, err := ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Wake", got[0].Stage)
	assert.Equal(t, "N1 (light)", got[1].Stage)
	assert.True(t, got[1].Empty())
	assert.Equal(t, "REM", got[2].Stage)

	_, err = ReadDir(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
