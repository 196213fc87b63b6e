package ica

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

// mixture returns two observed channels built from a sine and a sawtooth.
func mixture(n int) (data [][]float64, sine, saw []float64) {
	sine = make([]float64, n)
	saw = make([]float64, n)
	for i := range n {
		t := float64(i) / 100
		sine[i] = math.Sin(2 * math.Pi * 1.3 * t)
		saw[i] = 2*math.Mod(0.7*t, 1) - 1
	}

	data = [][]float64{make([]float64, n), make([]float64, n)}
	for i := range n {
		data[0][i] = 1.0*sine[i] + 0.6*saw[i] + 3
		data[1][i] = 0.4*sine[i] + 1.0*saw[i] - 2
	}
	return data, sine, saw
}

func bestCorrelation(sources [][]float64, ref []float64) (int, float64) {
	best, idx := 0.0, -1
	for i, s := range sources {
		if c := math.Abs(stat.Correlation(s, ref, nil)); c > best {
			best, idx = c, i
		}
	}
	return idx, best
}

func TestNewValidates(t *testing.T) {
	_, err := New("infomax", 0, FitParams{})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = New(FastICA, -1, FitParams{})
	assert.Error(t, err)

	d, err := New("", 2, FitParams{})
	require.NoError(t, err)
	assert.Equal(t, FastICA, d.Method)
	assert.False(t, d.Fitted())
}

func TestFitSeparatesSources(t *testing.T) {
	data, sine, saw := mixture(4000)

	d, err := New(FastICA, 2, FitParams{Seed: 42})
	require.NoError(t, err)
	require.NoError(t, d.Fit(data, []string{"E1", "E2"}))
	assert.True(t, d.Fitted())
	assert.Greater(t, d.NIter, 0)

	sources, err := d.Sources(data)
	require.NoError(t, err)
	require.Len(t, sources, 2)

	sineIdx, c1 := bestCorrelation(sources, sine)
	sawIdx, c2 := bestCorrelation(sources, saw)
	assert.Greater(t, c1, 0.95)
	assert.Greater(t, c2, 0.95)
	assert.NotEqual(t, sineIdx, sawIdx)

	// removing the sawtooth component leaves the sine on both channels
	require.NoError(t, d.Apply(data, []int{sawIdx}))
	for _, ch := range data {
		assert.Greater(t, math.Abs(stat.Correlation(ch, sine, nil)), 0.95)
	}
}

func TestFitErrors(t *testing.T) {
	data, _, _ := mixture(100)

	d, err := New(FastICA, 3, FitParams{})
	require.NoError(t, err)
	assert.Error(t, d.Fit(data, []string{"E1", "E2"}))

	d, err = New(FastICA, 0, FitParams{})
	require.NoError(t, err)
	assert.Error(t, d.Fit(data, []string{"E1"}))

	// identical channels have rank one
	flat := [][]float64{data[0], data[0]}
	assert.Error(t, d.Fit(flat, []string{"E1", "E2"}))
}

func TestApplyRequiresFit(t *testing.T) {
	d, err := New(FastICA, 0, FitParams{})
	require.NoError(t, err)

	data, _, _ := mixture(10)
	assert.ErrorIs(t, d.Apply(data, []int{0}), ErrNotFitted)
	_, err = d.Sources(data)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestApplyValidatesComponents(t *testing.T) {
	data, _, _ := mixture(1000)

	d, err := New(FastICA, 2, FitParams{Seed: 1})
	require.NoError(t, err)
	require.NoError(t, d.Fit(data, []string{"E1", "E2"}))

	assert.Error(t, d.Apply(data, []int{2}))
	assert.Error(t, d.Apply(data[:1], []int{0}))
}

func TestSaveLoad(t *testing.T) {
	data, _, _ := mixture(1000)

	d, err := New(FastICA, 2, FitParams{Seed: 7, Decim: 2})
	require.NoError(t, err)
	require.NoError(t, d.Fit(data, []string{"E1", "E2"}))
	d.Exclude = []int{1}

	path := filepath.Join(t.TempDir(), "ICAPipe", "data-ica.json")
	require.NoError(t, d.Save(path, false))
	assert.ErrorIs(t, d.Save(path, false), fsutil.ErrFileExists)
	require.NoError(t, d.Save(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, d.Channels, loaded.Channels)
	assert.Equal(t, []int{1}, loaded.Exclude)
	assert.Equal(t, 2, loaded.NComponents)
	for i := range d.Unmixing {
		assert.InDeltaSlice(t, d.Unmixing[i], loaded.Unmixing[i], 1e-12)
	}

	unfitted, err := New(FastICA, 0, FitParams{})
	require.NoError(t, err)
	assert.ErrorIs(t, unfitted.Save(filepath.Join(t.TempDir(), "x.json"), false), ErrNotFitted)
}
