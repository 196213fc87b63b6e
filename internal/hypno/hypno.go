// Package hypno parses sleep-stage label sequences, aligns them with the signal and
// derives the standard sleep statistics.
package hypno

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Stage is a sleep-stage code.
type Stage int

const (
	Unscored Stage = -2
	Artefact Stage = -1
	Wake     Stage = 0
	N1       Stage = 1
	N2       Stage = 2
	N3       Stage = 3
	REM      Stage = 4
)

// DefaultSFHypno is one label per 30 second epoch.
const DefaultSFHypno = 1.0 / 30

var ErrEmptyHypnogram = errors.New("empty hypnogram")

var stageNames = map[Stage]string{
	Unscored: "Uns",
	Artefact: "Art",
	Wake:     "W",
	N1:       "N1",
	N2:       "N2",
	N3:       "N3",
	REM:      "R",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}

// IsSleep reports whether s is N1, N2, N3 or REM.
func (s Stage) IsSleep() bool {
	return s >= N1 && s <= REM
}

// StageIndex names a stage for per-stage aggregation.
type StageIndex struct {
	Name  string
	Stage Stage
}

// DefaultStages is the stage-name to index mapping used when none is configured.
func DefaultStages() []StageIndex {
	return []StageIndex{
		{Name: "Wake", Stage: Wake},
		{Name: "N1", Stage: N1},
		{Name: "N2", Stage: N2},
		{Name: "N3", Stage: N3},
		{Name: "REM", Stage: REM},
	}
}

// displayRemap places REM between Wake and N1 and pushes NREM stages down.
var displayRemap = map[Stage]int{
	Unscored: -2,
	Artefact: -1,
	Wake:     0,
	N1:       2,
	N2:       3,
	N3:       4,
	REM:      1,
}

// DisplayLevel returns the vertical slot of a stage in a hypnogram plot. Wake is 0 and
// deeper stages grow downwards.
func DisplayLevel(s Stage) int {
	if level, ok := displayRemap[s]; ok {
		return level
	}
	return int(s)
}

// Load reads a whitespace-delimited sequence of integral stage codes.
func Load(path string) ([]Stage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hypnogram: %w", err)
	}
	defer f.Close()

	var out []Stage
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		for _, word := range strings.Fields(scanner.Text()) {
			v, err := strconv.ParseFloat(word, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing hypnogram value %q: %w", line, word, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
				return nil, fmt.Errorf("line %d: hypnogram value %q is not a stage code", line, word)
			}
			out = append(out, Stage(int(v)))
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hypnogram: %w", err)
	}
	return out, nil
}

// Upsample repeats every label to cover the samples it spans at sf and returns exactly
// n labels. A hypnogram shorter than the signal is padded with its last label, a longer
// one is cropped.
func Upsample(labels []Stage, sfHypno, sf float64, n int) ([]Stage, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyHypnogram
	}
	if sfHypno <= 0 || sf <= 0 {
		return nil, fmt.Errorf("invalid sampling frequencies: hypnogram %g Hz, signal %g Hz", sfHypno, sf)
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid sample count %d", n)
	}

	ratio := sfHypno / sf
	out := make([]Stage, n)
	for i := range out {
		j := int(math.Floor(float64(i) * ratio))
		out[i] = labels[min(j, len(labels)-1)]
	}
	return out, nil
}

// Any reports whether the hypnogram holds any non-Wake label.
func Any(labels []Stage) bool {
	for _, s := range labels {
		if s != Wake {
			return true
		}
	}
	return false
}

// Present returns the set of stages that occur in labels, in ascending code order.
func Present(labels []Stage) []Stage {
	seen := make(map[Stage]bool)
	for _, s := range labels {
		seen[s] = true
	}

	var out []Stage
	for s := Unscored; s <= REM; s++ {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out
}
