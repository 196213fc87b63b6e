package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func sine(n int, sf, freq, amp float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sf)
	}
	return x
}

func rms(x []float64) float64 {
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

func TestBandValidate(t *testing.T) {
	tests := []struct {
		name string
		band Band
		ok   bool
	}{
		{"high-pass only", Band{Low: 0.3}, true},
		{"low-pass only", Band{High: 30}, true},
		{"band", Band{Low: 1, High: 30}, true},
		{"empty", Band{}, false},
		{"inverted", Band{Low: 30, High: 1}, false},
		{"above nyquist", Band{High: 60}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.band.Validate(100)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBandPassAttenuatesOutOfBand(t *testing.T) {
	sf := 250.0
	n := int(20 * sf)
	band := Band{Low: 0.1, High: 8}

	inBand := sine(n, sf, 2, 10)
	require.NoError(t, BandPass(inBand, sf, band, 0))

	outBand := sine(n, sf, 80, 10)
	require.NoError(t, BandPass(outBand, sf, band, 0))

	// compare away from the edges
	want := rms(sine(n, sf, 2, 10)[n/4 : 3*n/4])
	got := rms(inBand[n/4 : 3*n/4])
	assert.Greater(t, got, 0.8*want)
	assert.LessOrEqual(t, got, want)

	assert.Less(t, rms(outBand[n/4:3*n/4]), 0.1)
}

func TestBandPassRejectsInvalidCutoff(t *testing.T) {
	x := sine(1000, 100, 5, 1)
	assert.Error(t, BandPass(x, 100, Band{High: 80}, 0))
}

func TestNotchRemovesLineNoise(t *testing.T) {
	sf := 500.0
	n := int(10 * sf)
	x := sine(n, sf, 50, 20)

	require.NoError(t, Notch(x, sf, []float64{50}, 0))
	assert.Less(t, rms(x[n/4:3*n/4]), 1.0)

	assert.Error(t, Notch(x, sf, []float64{300}, 0))
}

func TestResample(t *testing.T) {
	sf := 500.0
	x := sine(5000, sf, 5, 10)

	y, err := Resample(x, sf, 250)
	require.NoError(t, err)
	assert.Len(t, y, 2500)
	assert.Equal(t, 2500, ResampledLength(5000, 500, 250))

	// a slow sine survives decimation
	for i := 500; i < 2000; i += 97 {
		assert.InDelta(t, 10*math.Sin(2*math.Pi*5*float64(i)/250), y[i], 0.6)
	}

	same, err := Resample(x, sf, sf)
	require.NoError(t, err)
	assert.Len(t, same, len(x))

	_, err = Resample(x, 0, 250)
	assert.Error(t, err)
}

func TestWelchPeak(t *testing.T) {
	sf := 100.0
	x := sine(6000, sf, 12, 5)

	psd := Welch(x, sf, 4, 0, 40)
	require.NotEmpty(t, psd.Freqs)
	assert.Equal(t, len(psd.Freqs), len(psd.Power))
	assert.LessOrEqual(t, psd.Freqs[len(psd.Freqs)-1], 40.0)

	peak := floats.MaxIdx(psd.Power)
	assert.InDelta(t, 12, psd.Freqs[peak], 0.25)

	// Parseval: integrated density equals the variance of the sine
	df := psd.Freqs[1] - psd.Freqs[0]
	assert.InDelta(t, 12.5, floats.Sum(psd.Power)*df, 1.0)
}

func TestWelchEdgeCases(t *testing.T) {
	empty := Welch(nil, 100, 4, 0, 40)
	assert.Empty(t, empty.Freqs)
	assert.Empty(t, empty.Power)

	short := Welch(sine(399, 100, 10, 1), 100, 4, 0, 0)
	assert.Empty(t, short.Freqs)

	one := Welch(sine(1, 100, 10, 1), 100, 4, 0, 0)
	assert.Empty(t, one.Power)

	// one window of support keeps the grid of longer signals
	exact := Welch(sine(400, 100, 10, 1), 100, 4, 0, 0)
	long := Welch(sine(4000, 100, 10, 1), 100, 4, 0, 0)
	require.Len(t, exact.Freqs, 201)
	assert.Equal(t, long.Freqs, exact.Freqs)
	for _, p := range exact.Power {
		assert.False(t, math.IsInf(p, 0) || math.IsNaN(p))
	}
}

func TestMultitaperSpectrogram(t *testing.T) {
	sf := 100.0
	x := sine(int(sf*300), sf, 10, 5)

	spec, err := MultitaperSpectrogram(x, sf, 30, 0, 40, 0)
	require.NoError(t, err)
	assert.Len(t, spec.Times, 10)
	assert.Equal(t, 15.0, spec.Times[0])
	require.Len(t, spec.Power, len(spec.Freqs))
	assert.Len(t, spec.Power[0], 10)

	column := make([]float64, len(spec.Freqs))
	for i := range spec.Freqs {
		column[i] = spec.Power[i][3]
	}
	assert.InDelta(t, 10, spec.Freqs[floats.MaxIdx(column)], 0.1)

	_, err = MultitaperSpectrogram(x[:100], sf, 30, 0, 40, 0)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestTrimmedBounds(t *testing.T) {
	values := make([]float64, 0, 102)
	for i := 1; i <= 100; i++ {
		values = append(values, float64(i))
	}
	values = append(values, math.NaN(), math.Inf(-1))

	lo, hi, err := TrimmedBounds(values, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 100.0, hi)

	lo, hi, err = TrimmedBounds(values, 2.5)
	require.NoError(t, err)
	assert.Greater(t, lo, 1.0)
	assert.Less(t, hi, 100.0)
	assert.Less(t, lo, hi)

	_, _, err = TrimmedBounds([]float64{math.NaN()}, 2.5)
	assert.ErrorIs(t, err, ErrNoFiniteValues)

	_, _, err = TrimmedBounds(values, 60)
	assert.Error(t, err)
}

func TestAverageReference(t *testing.T) {
	data := [][]float64{
		{1, 2, 3},
		{3, 4, 5},
		{10, 10, 10},
	}
	AverageReference(data, []int{0, 1}, []int{0, 1, 2})

	assert.Equal(t, []float64{-1, -1, -1}, data[0])
	assert.Equal(t, []float64{1, 1, 1}, data[1])
	assert.Equal(t, []float64{8, 7, 6}, data[2])
}

func TestDB(t *testing.T) {
	p := []float64{1, 10, 100}
	DB(p)
	assert.InDeltaSlice(t, []float64{0, 10, 20}, p, 1e-9)
}
