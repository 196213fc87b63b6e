package hypno

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hypno.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 0 1\n2 2.0\t3\n4 -1 -2\n"), 0o644))

	labels, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Stage{Wake, Wake, N1, N2, N2, N3, REM, Artefact, Unscored}, labels)

	require.NoError(t, os.WriteFile(path, []byte("0 W 1"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadRejectsNonStageValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hypno.txt")
	for _, value := range []string{"NaN", "Inf", "-inf", "2.5"} {
		require.NoError(t, os.WriteFile(path, []byte("0 1\n2 "+value+" 3\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err, value)
		assert.Contains(t, err.Error(), "line 2")
		assert.Contains(t, err.Error(), value)
	}
}

func TestUpsampleLengthAndLabels(t *testing.T) {
	tests := []struct {
		name    string
		labels  []Stage
		sfHypno float64
		sf      float64
		n       int
	}{
		{"exact", []Stage{0, 1, 2, 3}, 1.0 / 30, 100, 12000},
		{"pad with last label", []Stage{0, 2}, 1.0 / 30, 100, 9000},
		{"crop", []Stage{0, 2, 3, 4, 4, 4}, 1.0 / 30, 100, 3500},
		{"non integer ratio", []Stage{4, 1, 2}, 1, 256.5, 700},
		{"zero samples", []Stage{2}, 1, 100, 0},
		{"single label", []Stage{-1}, 1.0 / 30, 250, 10001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, err := Upsample(tt.labels, tt.sfHypno, tt.sf, tt.n)
			require.NoError(t, err)
			require.Len(t, up, tt.n)

			for _, s := range up {
				assert.Contains(t, tt.labels, s)
			}
		})
	}
}

func TestUpsampleRepeatsLabels(t *testing.T) {
	up, err := Upsample([]Stage{Wake, N2, REM}, 1, 4, 14)
	require.NoError(t, err)

	want := []Stage{0, 0, 0, 0, 2, 2, 2, 2, 4, 4, 4, 4, 4, 4}
	assert.Equal(t, want, up)
}

func TestUpsampleErrors(t *testing.T) {
	_, err := Upsample(nil, 1, 100, 10)
	assert.ErrorIs(t, err, ErrEmptyHypnogram)

	_, err = Upsample([]Stage{0}, 0, 100, 10)
	assert.Error(t, err)

	_, err = Upsample([]Stage{0}, 1, 100, -1)
	assert.Error(t, err)
}

func TestDisplayLevel(t *testing.T) {
	assert.Equal(t, 0, DisplayLevel(Wake))
	assert.Equal(t, 1, DisplayLevel(REM))
	assert.Equal(t, 2, DisplayLevel(N1))
	assert.Equal(t, 3, DisplayLevel(N2))
	assert.Equal(t, 4, DisplayLevel(N3))
	assert.Equal(t, -1, DisplayLevel(Artefact))
	assert.Equal(t, -2, DisplayLevel(Unscored))
}

func TestAnyAndPresent(t *testing.T) {
	assert.False(t, Any([]Stage{0, 0, 0}))
	assert.False(t, Any(nil))
	assert.True(t, Any([]Stage{0, 2}))

	assert.Equal(t, []Stage{Artefact, Wake, REM}, Present([]Stage{4, 0, -1, 4}))
	assert.Equal(t, "R", REM.String())
	assert.Equal(t, "7", Stage(7).String())
}

func TestSleepStatistics(t *testing.T) {
	// one label per minute
	labels := []Stage{0, 0, 1, 2, 2, 0, 3, 3, 4, 4, 0, 0}

	stats, err := SleepStatistics(labels, 1.0/60)
	require.NoError(t, err)

	want := map[string]float64{
		"TIB":     12,
		"SPT":     8,
		"WASO":    1,
		"TST":     7,
		"N1":      1,
		"N2":      2,
		"N3":      2,
		"REM":     2,
		"NREM":    5,
		"SOL":     2,
		"Lat_N1":  2,
		"Lat_N2":  3,
		"Lat_N3":  6,
		"Lat_REM": 8,
		"%N1":     100.0 / 7,
		"%REM":    200.0 / 7,
		"%NREM":   500.0 / 7,
		"SE":      700.0 / 12,
		"SME":     700.0 / 8,
	}
	for name, v := range want {
		got, ok := Lookup(stats, name)
		require.True(t, ok, name)
		assert.InDelta(t, v, got, 1e-9, name)
	}
	assert.Len(t, stats, 21)
}

func TestSleepStatisticsNoSleep(t *testing.T) {
	stats, err := SleepStatistics([]Stage{0, 0, -1}, 1.0/30)
	require.NoError(t, err)

	tst, _ := Lookup(stats, "TST")
	assert.Equal(t, 0.0, tst)

	sol, _ := Lookup(stats, "SOL")
	assert.True(t, math.IsNaN(sol))

	lat, _ := Lookup(stats, "Lat_REM")
	assert.True(t, math.IsNaN(lat))

	_, err = SleepStatistics(nil, 1)
	assert.ErrorIs(t, err, ErrEmptyHypnogram)
}

func TestWriteStatisticsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStatisticsCSV(&buf, []Statistic{{"TIB", 480}, {"SE", 91.25}, {"Lat_REM", math.NaN()}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"TIB,SE,Lat_REM", "480,91.25,NaN"}, lines)
}
