package detect

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

const testSF = 100.0

// background is a low amplitude mix outside the sigma band.
func background(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		t := float64(i) / testSF
		x[i] = 2*math.Sin(2*math.Pi*3*t) + math.Sin(2*math.Pi*25*t+0.3)
	}
	return x
}

func addBurst(x []float64, freq, amp, from, to float64) {
	for i := int(from * testSF); i < int(to*testSF); i++ {
		t := float64(i) / testSF
		x[i] += amp * math.Sin(2*math.Pi*freq*t)
	}
}

func stages(n int, spans map[hypno.Stage][2]float64) []hypno.Stage {
	labels := make([]hypno.Stage, n)
	for s, span := range spans {
		for i := int(span[0] * testSF); i < int(span[1]*testSF) && i < n; i++ {
			labels[i] = s
		}
	}
	return labels
}

func TestRuns(t *testing.T) {
	mask := []bool{false, true, true, false, false, true, false, false, false, true}

	assert.Equal(t, []run{{1, 3}, {5, 6}, {9, 10}}, runs(mask, 0))
	assert.Equal(t, []run{{1, 6}, {9, 10}}, runs(mask, 3))
	assert.Equal(t, []run{{1, 10}}, runs(mask, 4))
	assert.Empty(t, runs([]bool{false, false}, 2))
}

func TestMovingMean(t *testing.T) {
	got := movingMean([]float64{1, 2, 3, 4, 5}, 3)
	assert.InDeltaSlice(t, []float64{2, 2, 3, 4, 4}, got, 1e-12)

	assert.InDeltaSlice(t, []float64{1, 2}, movingMean([]float64{1, 2}, 1), 1e-12)
	assert.Empty(t, movingMean(nil, 3))
}

func TestMovingCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{2, 4, 6, 8, 10, 12}
	for _, c := range movingCorrelation(x, y, 3) {
		assert.InDelta(t, 1, c, 1e-9)
	}

	neg := []float64{-1, -2, -3, -4, -5, -6}
	for _, c := range movingCorrelation(x, neg, 3) {
		assert.InDelta(t, -1, c, 1e-9)
	}

	flat := []float64{1, 1, 1, 1, 1, 1}
	for _, c := range movingCorrelation(x, flat, 3) {
		assert.Zero(t, c)
	}
}

func TestInputValidate(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"no rate", Input{Channels: []string{"C3"}, Data: [][]float64{{0}}}},
		{"name mismatch", Input{SF: 100, Channels: []string{"C3", "C4"}, Data: [][]float64{{0}}}},
		{"no channels", Input{SF: 100}},
		{"short hypnogram", Input{SF: 100, Channels: []string{"C3"}, Data: [][]float64{{0, 0}}, Hypno: []hypno.Stage{0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.in.validate())
		})
	}
}

func TestSpindles(t *testing.T) {
	n := int(20 * testSF)
	x := background(n)
	addBurst(x, 13, 50, 5, 6)
	addBurst(x, 13, 50, 12, 13)

	in := Input{SF: testSF, Channels: []string{"C3"}, Data: [][]float64{x}}
	found, err := Spindles(in, DefaultSpindleParams())
	require.NoError(t, err)
	require.NotEmpty(t, found)

	var first, second bool
	for _, sp := range found {
		assert.Equal(t, "C3", sp.Channel)
		assert.GreaterOrEqual(t, sp.Duration, 0.5)
		assert.LessOrEqual(t, sp.Duration, 2.0)
		switch {
		case sp.Peak >= 5 && sp.Peak <= 6:
			first = true
			assert.InDelta(t, 13, sp.Frequency, 1.5)
			assert.Greater(t, sp.Oscillations, 8)
		case sp.Peak >= 12 && sp.Peak <= 13:
			second = true
		}
	}
	assert.True(t, first, "burst at 5 s not detected")
	assert.True(t, second, "burst at 12 s not detected")
}

func TestSpindlesRestrictedToStages(t *testing.T) {
	n := int(20 * testSF)
	x := background(n)
	addBurst(x, 13, 50, 5, 6)
	addBurst(x, 13, 50, 12, 13)

	in := Input{
		SF:       testSF,
		Channels: []string{"C3"},
		Data:     [][]float64{x},
		Hypno:    stages(n, map[hypno.Stage][2]float64{hypno.N2: {0, 10}}),
		Include:  []hypno.Stage{hypno.N1, hypno.N2, hypno.N3},
	}
	found, err := Spindles(in, DefaultSpindleParams())
	require.NoError(t, err)
	require.NotEmpty(t, found)
	for _, sp := range found {
		assert.Less(t, sp.Peak, 10.0)
		assert.Equal(t, hypno.N2, sp.Stage)
	}

	in.Include = []hypno.Stage{hypno.REM}
	found, err = Spindles(in, DefaultSpindleParams())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSpindlesRejectsBands(t *testing.T) {
	in := Input{SF: 40, Channels: []string{"C3"}, Data: [][]float64{make([]float64, 400)}}
	_, err := Spindles(in, DefaultSpindleParams())
	assert.Error(t, err)
}

func TestSlowWaves(t *testing.T) {
	n := int(30 * testSF)
	x := make([]float64, n)
	for i := int(10 * testSF); i < int(20*testSF); i++ {
		t := float64(i) / testSF
		x[i] = -150 * math.Sin(2*math.Pi*0.8*t)
	}

	in := Input{
		SF:       testSF,
		Channels: []string{"Fz"},
		Data:     [][]float64{x},
		Hypno:    stages(n, map[hypno.Stage][2]float64{hypno.N3: {0, 30}}),
		Include:  []hypno.Stage{hypno.N2, hypno.N3},
	}
	found, err := SlowWaves(in, DefaultSlowWaveParams())
	require.NoError(t, err)
	assert.Greater(t, len(found), 4)

	for _, sw := range found {
		assert.Equal(t, "Fz", sw.Channel)
		assert.Equal(t, hypno.N3, sw.Stage)
		assert.True(t, sw.Start < sw.NegPeak && sw.NegPeak < sw.MidCrossing)
		assert.True(t, sw.MidCrossing < sw.PosPeak && sw.PosPeak < sw.End)
		assert.Less(t, sw.ValNegPeak, -40.0)
		assert.GreaterOrEqual(t, sw.PTP, 75.0)
		assert.InDelta(t, 0.8, sw.Frequency, 0.3)
		assert.Greater(t, sw.Slope, 0.0)
	}

	in.Include = []hypno.Stage{hypno.REM}
	found, err = SlowWaves(in, DefaultSlowWaveParams())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestREMs(t *testing.T) {
	n := int(10 * testSF)
	loc := make([]float64, n)
	roc := make([]float64, n)
	for i := range loc {
		t := float64(i)/testSF - 5
		bump := 200 * math.Exp(-t*t/(2*0.25*0.25))
		loc[i] = bump
		roc[i] = -bump
	}

	in := Input{
		SF:       testSF,
		Channels: []string{"E46", "E238"},
		Data:     [][]float64{loc, roc},
		Hypno:    stages(n, map[hypno.Stage][2]float64{hypno.REM: {0, 10}}),
		Include:  []hypno.Stage{hypno.REM},
	}
	found, err := REMs(in, DefaultREMParams())
	require.NoError(t, err)
	require.NotEmpty(t, found)

	var hit bool
	for _, r := range found {
		assert.Equal(t, "E46-E238", r.Channel)
		assert.Equal(t, hypno.REM, r.Stage)
		if math.Abs(r.Peak-5) < 0.2 {
			hit = true
			assert.Greater(t, r.LOCAbs, 50.0)
			assert.Greater(t, r.ROCAbs, 50.0)
		}
	}
	assert.True(t, hit)

	_, err = REMs(Input{SF: testSF, Channels: []string{"E46"}, Data: [][]float64{loc}}, DefaultREMParams())
	assert.Error(t, err)
}

func TestWriteCSVAndSummaries(t *testing.T) {
	events := []Spindle{
		{Start: 1, Peak: 1.5, End: 2, Duration: 1, Stage: hypno.N2, Channel: "C4"},
		{Start: 3, Peak: 3.5, End: 4, Duration: 1, Stage: hypno.N2, Channel: "C3"},
		{Start: 5, Peak: 5.5, End: 6, Duration: 1, Stage: hypno.N3, Channel: "C3"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, events))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Start,Peak,End"))
	assert.True(t, strings.HasSuffix(lines[1], ",2,C4"))

	assert.Equal(t, []Count{
		{Channel: "C3", Stage: hypno.N2, Count: 1},
		{Channel: "C3", Stage: hypno.N3, Count: 1},
		{Channel: "C4", Stage: hypno.N2, Count: 1},
	}, Summarize(events))
	assert.Equal(t, map[string]int{"C3": 2, "C4": 1}, PerChannel(events))

	buf.Reset()
	require.NoError(t, WriteCSV[REM](&buf, nil))
	assert.Equal(t, "Start,Peak,End,Duration,LOCAbsValPeak,ROCAbsValPeak,Stage,Channel\n", buf.String())
}
