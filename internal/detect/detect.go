// Package detect finds sleep micro-events (spindles, slow waves, rapid eye movements)
// in stage-restricted EEG/EOG data.
package detect

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

// Range is a closed [Min, Max] interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies in the interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Input is the data handed to a detector. Hypno, when set, has one label per sample.
type Input struct {
	SF       float64
	Channels []string
	Data     [][]float64
	Hypno    []hypno.Stage
	Include  []hypno.Stage
}

func (in Input) validate() error {
	if in.SF <= 0 {
		return fmt.Errorf("invalid sampling frequency %g", in.SF)
	}
	if len(in.Channels) != len(in.Data) {
		return fmt.Errorf("got %d channel names for %d channels", len(in.Channels), len(in.Data))
	}
	if len(in.Data) == 0 {
		return errors.New("no channels")
	}
	if in.Hypno != nil && len(in.Hypno) != len(in.Data[0]) {
		return fmt.Errorf("hypnogram has %d labels for %d samples", len(in.Hypno), len(in.Data[0]))
	}
	return nil
}

// eligible marks the samples whose stage is included. The flag is false when no
// sample qualifies.
func (in Input) eligible() ([]bool, bool) {
	n := len(in.Data[0])
	mask := make([]bool, n)
	var any bool
	for i := range mask {
		mask[i] = in.Hypno == nil || len(in.Include) == 0 || slices.Contains(in.Include, in.Hypno[i])
		any = any || mask[i]
	}
	return mask, any
}

func (in Input) stageAt(i int) hypno.Stage {
	if in.Hypno == nil || i < 0 || i >= len(in.Hypno) {
		return hypno.Wake
	}
	return in.Hypno[i]
}

// Event is one row of a detection table.
type Event interface {
	Header() []string
	Record() []string
	ChannelName() string
	StageCode() hypno.Stage
	Span() (start, end float64) // seconds
}

// WriteCSV writes events as a table with the header of the event type.
func WriteCSV[T Event](w io.Writer, events []T) error {
	var zero T
	cw := csv.NewWriter(w)
	if err := cw.Write(zero.Header()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, e := range events {
		if err := cw.Write(e.Record()); err != nil {
			return fmt.Errorf("writing event %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Count is the number of events of one channel in one stage.
type Count struct {
	Channel string
	Stage   hypno.Stage
	Count   int
}

// Summarize counts events per channel and stage, sorted by channel then stage.
func Summarize[T Event](events []T) []Count {
	type key struct {
		channel string
		stage   hypno.Stage
	}
	counts := make(map[key]int)
	for _, e := range events {
		counts[key{e.ChannelName(), e.StageCode()}]++
	}

	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Channel: k.channel, Stage: k.stage, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

// PerChannel returns the number of events per channel.
func PerChannel[T Event](events []T) map[string]int {
	out := make(map[string]int)
	for _, e := range events {
		out[e.ChannelName()]++
	}
	return out
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

type run struct {
	start, end int // end exclusive
}

// runs returns the contiguous true spans of mask, merging spans separated by fewer than
// minGap samples.
func runs(mask []bool, minGap int) []run {
	var out []run
	start := -1
	for i, m := range mask {
		switch {
		case m && start < 0:
			start = i
		case !m && start >= 0:
			out = append(out, run{start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, run{start, len(mask)})
	}

	if minGap <= 0 || len(out) < 2 {
		return out
	}
	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if r.start-last.end < minGap {
			last.end = r.end
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// movingMean returns the centred moving average of x over w samples.
func movingMean(x []float64, w int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	w = max(1, min(w, n))
	half := w / 2

	prefix := make([]float64, n+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	for i := range out {
		lo := max(0, i-half)
		hi := min(n, lo+w)
		lo = max(0, hi-w)
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

// movingCorrelation returns the centred moving Pearson correlation of x and y.
func movingCorrelation(x, y []float64, w int) []float64 {
	n := len(x)
	xy := make([]float64, n)
	xx := make([]float64, n)
	yy := make([]float64, n)
	for i := range x {
		xy[i] = x[i] * y[i]
		xx[i] = x[i] * x[i]
		yy[i] = y[i] * y[i]
	}
	mx, my := movingMean(x, w), movingMean(y, w)
	mxy, mxx, myy := movingMean(xy, w), movingMean(xx, w), movingMean(yy, w)

	out := make([]float64, n)
	for i := range out {
		cov := mxy[i] - mx[i]*my[i]
		vx := mxx[i] - mx[i]*mx[i]
		vy := myy[i] - my[i]*my[i]
		if vx <= 0 || vy <= 0 {
			continue
		}
		out[i] = cov / math.Sqrt(vx*vy)
	}
	return out
}

// zeroCrossings counts sign changes of x.
func zeroCrossings(x []float64) int {
	var n int
	for i := 1; i < len(x); i++ {
		if (x[i-1] < 0) != (x[i] < 0) {
			n++
		}
	}
	return n
}

func argmaxAbs(x []float64) int {
	idx, best := 0, -1.0
	for i, v := range x {
		if a := math.Abs(v); a > best {
			idx, best = i, a
		}
	}
	return idx
}

func peakToPeak(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return slices.Max(x) - slices.Min(x)
}
