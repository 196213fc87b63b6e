package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/spectrum"
	"github.com/roman-kulish/sleepeeg/internal/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: &level}))

	var out bytes.Buffer
	cmd := NewRootCommand(logger, &level)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--color=false"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "night.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1 2 2 3 4 0 0"), 0o644))
	csvPath := filepath.Join(dir, "stats.csv")

	out, err := execute(t, "stats", path, "--csv", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "TIB")
	assert.Contains(t, out, "4.0")
	assert.FileExists(t, csvPath)

	_, err = execute(t, "stats", path, "--csv", csvPath)
	require.Error(t, err)

	_, err = execute(t, "stats", path, "--csv", csvPath, "--overwrite", "--sf-hypno", "0.5")
	require.NoError(t, err)
}

func TestRunAndRunsCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	path := recording(t, "  - name: psd\n  - name: sleep-stats\n  - name: slow-waves\n")

	out, err := execute(t, "run", path, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "s01 (run ")
	assert.Contains(t, out, "N2")

	out, err = execute(t, "runs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "s01")

	store := storage.NewSqliteStore(db)
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)

	out, err = execute(t, "runs", runs[0].ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "TIB")
	assert.Contains(t, strings.ToUpper(out), "PEAK HZ")

	_, err = execute(t, "runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results database")
}

func TestGrandCommand(t *testing.T) {
	first := recording(t, "  - name: psd\n")
	second := recording(t, "  - name: psd\n")

	out, err := execute(t, "grand", first, second)
	require.NoError(t, err)
	assert.Contains(t, out, "N2")
	assert.FileExists(t, filepath.Join(filepath.Dir(first), "GrandPipe", "psd.png"))

	_, err = execute(t, "grand", recording(t, "  - name: filter\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spectral step")
}

func TestPrintStatsMarksUndefinedValues(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printStats(&out, []hypno.Statistic{{Name: "SOL", Value: math.NaN()}, {Name: "SE", Value: 91.3}}, false))
	assert.Contains(t, out.String(), "-")
	assert.Contains(t, out.String(), "91.3")
	assert.Contains(t, out.String(), "%")
}

func TestPeakFrequency(t *testing.T) {
	s := &spectrum.StageSpectrum{
		Stage:    "N2",
		Channels: []string{"C3", "C4"},
		Freqs:    []float64{0, 0.25, 1, 10, 20},
		PSD: [][]float64{
			{100, 90, 3, 5, 1},
			{100, 90, 2, 4, 1},
		},
	}
	assert.Equal(t, 10.0, peakFrequency(s))
	assert.True(t, math.IsNaN(peakFrequency(&spectrum.StageSpectrum{Stage: "N1"})))
}
