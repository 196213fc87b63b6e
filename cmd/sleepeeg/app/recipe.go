package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/sleepeeg/internal/pipe"
)

// Recipe describes the processing of one recording: where it is, its hypnogram and
// the ordered steps to run over it.
type Recipe struct {
	Recording string          `yaml:"recording"`
	OutputDir string          `yaml:"outputDir"`
	Subject   string          `yaml:"subject"`
	Hypnogram HypnogramConfig `yaml:"hypnogram"`
	ICA       pipe.ICAOptions `yaml:"ica"`
	Steps     []Step          `yaml:"steps"`

	dir    string // directory relative step paths resolve against
	source []byte // recipe as read
}

// HypnogramConfig locates the hypnogram of the recording.
type HypnogramConfig struct {
	Path    string  `yaml:"path"`
	SFHypno float64 `yaml:"sfHypno"`
}

// Step is one operation of a recipe. Options are decoded over the defaults of the
// operation named by Name.
type Step struct {
	Name    string    `yaml:"name"`
	Options yaml.Node `yaml:"options,omitempty"`
}

// LoadRecipe reads and validates the recipe at path. Relative paths inside the recipe
// are resolved against the recipe's directory.
func LoadRecipe(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}

	var r Recipe
	if err = yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing recipe: %w", err)
	}

	dir := filepath.Dir(path)
	r.dir = dir
	r.source = data
	r.Recording = resolvePath(dir, r.Recording)
	r.OutputDir = resolvePath(dir, r.OutputDir)
	r.Hypnogram.Path = resolvePath(dir, r.Hypnogram.Path)
	r.ICA.PathToICA = resolvePath(dir, r.ICA.PathToICA)

	if err = r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Validate checks that the recipe names a recording and that every step is known and
// has valid options.
func (r *Recipe) Validate() error {
	if r.Recording == "" {
		return errors.New("recording is required")
	}
	if len(r.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	if r.Hypnogram.SFHypno < 0 {
		return fmt.Errorf("invalid hypnogram sampling frequency %g", r.Hypnogram.SFHypno)
	}
	_, err := compileSteps(r.Steps)
	return err
}

// SubjectName returns the subject of the recipe, the recording's file name when unset.
func (r *Recipe) SubjectName() string {
	if r.Subject != "" {
		return r.Subject
	}
	base := filepath.Base(r.Recording)
	return base[:len(base)-len(filepath.Ext(base))]
}
