package eeg

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

var ErrUnsupportedFormat = errors.New("unsupported signal format")

// Loader reads a recording from a file.
type Loader interface {
	Load(path string) (*Raw, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(path string) (*Raw, error)

func (f LoaderFunc) Load(path string) (*Raw, error) {
	return f(path)
}

var (
	loadersMu sync.RWMutex
	loaders   = map[string]Loader{
		".edf": LoaderFunc(ReadEDF),
		".rec": LoaderFunc(ReadEDF),
	}
)

// Register associates a loader with a file extension such as ".edf".
func Register(ext string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[strings.ToLower(ext)] = l
}

// LoaderFor returns the loader registered for the extension of path.
func LoaderFor(path string) (Loader, error) {
	ext := strings.ToLower(filepath.Ext(path))

	loadersMu.RLock()
	defer loadersMu.RUnlock()

	l, ok := loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, ext)
	}
	return l, nil
}

// Open loads a recording using the loader registered for its extension.
func Open(path string) (*Raw, error) {
	l, err := LoaderFor(path)
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}
