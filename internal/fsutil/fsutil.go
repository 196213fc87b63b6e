// Package fsutil holds the small file-system rules shared by every stage that writes
// results: overwrite protection, directory creation and file-name sanitising.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// ErrFileExists is returned when a result file already exists and overwriting was not
// requested. It also matches fs.ErrExist.
var ErrFileExists = errors.New("file already exists")

var nonWord = regexp.MustCompile(`\W`)

// CheckOverwrite fails with ErrFileExists when path exists and overwrite is false.
func CheckOverwrite(path string, overwrite bool) error {
	if overwrite {
		return nil
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s: %w", ErrFileExists, path, fs.ErrExist)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("checking '%s': %w", path, err)
	}
}

// CreateFile creates the parent directories of path and then the file itself, honouring
// overwrite protection.
func CreateFile(path string, overwrite bool) (*os.File, error) {
	if err := CheckOverwrite(path, overwrite); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	return f, nil
}

// MustExist returns an error wrapping fs.ErrNotExist when path is missing.
func MustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("'%s' does not exist: %w", path, err)
	}
	return nil
}

// SafeName replaces every non-word character with an underscore.
func SafeName(name string) string {
	return nonWord.ReplaceAllString(name, "_")
}
