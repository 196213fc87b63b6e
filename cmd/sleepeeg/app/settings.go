package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roman-kulish/sleepeeg/internal/render"
)

const (
	configName = ".sleepeeg"
	envPrefix  = "SLEEPEEG"
)

// SettingsInput holds the raw settings from all sources (file, env, flags) before
// validation.
type SettingsInput struct {
	LogLevel string `mapstructure:"log-level"`
	Theme    string `mapstructure:"theme"`
	Database string `mapstructure:"db"`
	Color    bool   `mapstructure:"color"`
}

// Settings are the validated global settings.
type Settings struct {
	LogLevel slog.Level
	Theme    render.ColorTheme
	Database string // results database, empty to keep results on disk only
	Color    bool
}

// ResolveSettings validates in and converts it into Settings.
func ResolveSettings(in SettingsInput) (Settings, error) {
	var s Settings

	if err := s.LogLevel.UnmarshalText([]byte(strings.TrimSpace(in.LogLevel))); err != nil {
		return Settings{}, fmt.Errorf("invalid log level '%s'", in.LogLevel)
	}

	theme, err := render.ParseTheme(strings.ToLower(in.Theme))
	if err != nil {
		return Settings{}, err
	}
	s.Theme = theme

	s.Database = strings.TrimSpace(in.Database)
	s.Color = in.Color
	return s, nil
}

// newViper returns a viper instance with the defaults, config file locations and env
// bindings of the CLI.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("theme", string(render.EnhancedTheme))
	v.SetDefault("db", "")
	v.SetDefault("color", true)
	return v
}

// loadSettings reads the config file, when there is one, and resolves the settings.
func loadSettings(v *viper.Viper) (Settings, error) {
	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var in SettingsInput
	if err := v.Unmarshal(&in); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return ResolveSettings(in)
}
