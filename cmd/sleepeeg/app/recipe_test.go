package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipe(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRecipe(t *testing.T) {
	dir := t.TempDir()
	path := writeRecipe(t, dir, `
recording: nights/night01.edf
outputDir: out
hypnogram:
  path: nights/night01.txt
  sfHypno: 0.0333333
ica:
  method: fastica
  nComponents: 4
steps:
  - name: filter
    options:
      high: 40
  - name: notch
    options:
      mains: 60s
  - name: psd
`)

	r, err := LoadRecipe(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "nights", "night01.edf"), r.Recording)
	assert.Equal(t, filepath.Join(dir, "out"), r.OutputDir)
	assert.Equal(t, filepath.Join(dir, "nights", "night01.txt"), r.Hypnogram.Path)
	assert.InDelta(t, 1.0/30, r.Hypnogram.SFHypno, 1e-6)
	assert.Equal(t, 4, r.ICA.NComponents)
	assert.Equal(t, "night01", r.SubjectName())
	require.Len(t, r.Steps, 3)
	assert.Equal(t, "psd", r.Steps[2].Name)
}

func TestLoadRecipeKeepsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "night.edf")
	path := writeRecipe(t, dir, "recording: "+abs+"\nsubject: s01\nsteps:\n  - name: psd\n")

	r, err := LoadRecipe(path)
	require.NoError(t, err)
	assert.Equal(t, abs, r.Recording)
	assert.Empty(t, r.OutputDir)
	assert.Equal(t, "s01", r.SubjectName())
}

func TestRecipeValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing recording",
			content: "steps:\n  - name: psd\n",
			wantErr: "recording is required",
		},
		{
			name:    "no steps",
			content: "recording: night.edf\n",
			wantErr: "at least one step",
		},
		{
			name:    "negative hypnogram frequency",
			content: "recording: night.edf\nhypnogram:\n  sfHypno: -1\nsteps:\n  - name: psd\n",
			wantErr: "invalid hypnogram sampling frequency",
		},
		{
			name:    "unknown step",
			content: "recording: night.edf\nsteps:\n  - name: psd\n  - name: denoise\n",
			wantErr: "step 2: unknown step 'denoise'",
		},
		{
			name:    "malformed options",
			content: "recording: night.edf\nsteps:\n  - name: filter\n    options:\n      low: [1, 2]\n",
			wantErr: "step 1 (filter): decoding options",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRecipe(writeRecipe(t, t.TempDir(), tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRecipeMissingFile(t *testing.T) {
	_, err := LoadRecipe(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
