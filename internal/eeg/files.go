package eeg

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

const annotationsHeader = "# sleepeeg annotations"

// ReadBadChannels reads a newline-delimited list of channel names. Blank lines are skipped.
func ReadBadChannels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bad channels file: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading bad channels file: %w", err)
	}
	return names, nil
}

// WriteBadChannels writes one channel name per line.
func WriteBadChannels(path string, names []string, overwrite bool) (err error) {
	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	w := bufio.NewWriter(f)
	for _, name := range names {
		if _, err = w.WriteString(name + "\n"); err != nil {
			return fmt.Errorf("writing bad channels: %w", err)
		}
	}
	return w.Flush()
}

// ReadAnnotations reads an onset,duration,description CSV file. Lines starting with '#'
// are comments.
func ReadAnnotations(path string) ([]Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening annotations file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true

	var out []Annotation
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading annotations file: %w", err)
		}
		if line == 1 && rec[0] == "onset" {
			continue
		}

		onset, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing onset on line %d: %w", line, err)
		}
		duration, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing duration on line %d: %w", line, err)
		}
		out = append(out, Annotation{Onset: onset, Duration: duration, Description: rec[2]})
	}
	return out, nil
}

// WriteAnnotations writes annotations in the format read by ReadAnnotations.
func WriteAnnotations(path string, annotations []Annotation, overwrite bool) (err error) {
	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if _, err = io.WriteString(f, annotationsHeader+"\n"); err != nil {
		return fmt.Errorf("writing annotations header: %w", err)
	}

	w := csv.NewWriter(f)
	if err = w.Write([]string{"onset", "duration", "description"}); err != nil {
		return fmt.Errorf("writing annotations header: %w", err)
	}
	for _, a := range annotations {
		rec := []string{
			strconv.FormatFloat(a.Onset, 'f', -1, 64),
			strconv.FormatFloat(a.Duration, 'f', -1, 64),
			a.Description,
		}
		if err = w.Write(rec); err != nil {
			return fmt.Errorf("writing annotation: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
