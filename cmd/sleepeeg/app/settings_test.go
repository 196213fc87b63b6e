package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/sleepeeg/internal/render"
)

func TestResolveSettings(t *testing.T) {
	s, err := ResolveSettings(SettingsInput{LogLevel: "debug", Theme: "Thermal", Database: " runs.db ", Color: true})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, s.LogLevel)
	assert.Equal(t, render.ThermalTheme, s.Theme)
	assert.Equal(t, "runs.db", s.Database)
	assert.True(t, s.Color)

	_, err = ResolveSettings(SettingsInput{LogLevel: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, err = ResolveSettings(SettingsInput{LogLevel: "info", Theme: "sepia"})
	require.Error(t, err)
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := loadSettings(newViper())
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, s.LogLevel)
	assert.Equal(t, render.EnhancedTheme, s.Theme)
	assert.Empty(t, s.Database)
	assert.True(t, s.Color)
}

func TestLoadSettingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theme: marine\nlog-level: warn\ndb: results.db\n"), 0o644))
	t.Setenv("SLEEPEEG_LOG_LEVEL", "error")

	v := newViper()
	v.Set("config", path)

	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, render.MarineTheme, s.Theme)
	assert.Equal(t, slog.LevelError, s.LogLevel)
	assert.Equal(t, "results.db", s.Database)
}

func TestLoadSettingsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theme: [\n"), 0o644))

	v := newViper()
	v.Set("config", path)

	_, err := loadSettings(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
