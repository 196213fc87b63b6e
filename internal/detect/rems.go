package detect

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/roman-kulish/sleepeeg/internal/dsp"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

type REMParams struct {
	Freq      Range   `yaml:"freq_rem"`
	Duration  Range   `yaml:"duration"`  // s
	Amplitude Range   `yaml:"amplitude"` // uV
	RelHeight float64 `yaml:"relative_prominence"`
}

func DefaultREMParams() REMParams {
	return REMParams{
		Freq:      Range{0.5, 5},
		Duration:  Range{0.3, 1.2},
		Amplitude: Range{50, 325},
		RelHeight: 0.8,
	}
}

// REM is a rapid eye movement detected on a LOC/ROC pair.
type REM struct {
	Start    float64
	Peak     float64
	End      float64
	Duration float64
	LOCAbs   float64 // |LOC| at the peak, uV
	ROCAbs   float64 // |ROC| at the peak, uV
	Stage    hypno.Stage
	Channel  string
}

func (REM) Header() []string {
	return []string{"Start", "Peak", "End", "Duration", "LOCAbsValPeak", "ROCAbsValPeak",
		"Stage", "Channel"}
}

func (r REM) Record() []string {
	return []string{ff(r.Start), ff(r.Peak), ff(r.End), ff(r.Duration), ff(r.LOCAbs),
		ff(r.ROCAbs), strconv.Itoa(int(r.Stage)), r.Channel}
}

func (r REM) ChannelName() string { return r.Channel }
func (r REM) StageCode() hypno.Stage { return r.Stage }
func (r REM) Span() (float64, float64) { return r.Start, r.End }

// REMs detects rapid eye movements as peaks of the negative product of the two
// band-passed EOG channels. in must hold exactly the LOC and ROC channels, in that
// order.
func REMs(in Input, p REMParams) ([]REM, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if len(in.Data) != 2 {
		return nil, fmt.Errorf("need LOC and ROC channels, got %d", len(in.Data))
	}
	band := dsp.Band{Low: p.Freq.Min, High: p.Freq.Max}
	if err := band.Validate(in.SF); err != nil {
		return nil, fmt.Errorf("eye movement band: %w", err)
	}
	if p.RelHeight <= 0 || p.RelHeight > 1 {
		return nil, fmt.Errorf("relative height %g out of (0, 1]", p.RelHeight)
	}

	mask, ok := in.eligible()
	if !ok {
		return nil, nil
	}

	loc := slices.Clone(in.Data[0])
	roc := slices.Clone(in.Data[1])
	for _, x := range [][]float64{loc, roc} {
		if err := dsp.BandPass(x, in.SF, band, dsp.DefaultOrder); err != nil {
			return nil, err
		}
	}

	negp := make([]float64, len(loc))
	for i := range negp {
		negp[i] = -loc[i] * roc[i]
	}

	lo, hi := p.Amplitude.Min*p.Amplitude.Min, p.Amplitude.Max*p.Amplitude.Max
	var candidates []int
	for i := 1; i < len(negp)-1; i++ {
		v := negp[i]
		if mask[i] && v >= lo && v <= hi && v > negp[i-1] && v >= negp[i+1] {
			candidates = append(candidates, i)
		}
	}

	// highest peaks first, dropping neighbours closer than the minimal duration
	sort.SliceStable(candidates, func(a, b int) bool {
		return negp[candidates[a]] > negp[candidates[b]]
	})
	distance := int(math.Ceil(p.Duration.Min * in.SF))
	var peaks []int
	for _, c := range candidates {
		near := slices.ContainsFunc(peaks, func(k int) bool {
			return abs(k-c) < distance
		})
		if !near {
			peaks = append(peaks, c)
		}
	}
	slices.Sort(peaks)

	channel := in.Channels[0] + "-" + in.Channels[1]

	var out []REM
	for _, pk := range peaks {
		level := negp[pk] * (1 - p.RelHeight)
		start, end := pk, pk
		for start > 0 && negp[start-1] > level {
			start--
		}
		for end < len(negp)-1 && negp[end+1] > level {
			end++
		}
		end++

		duration := float64(end-start) / in.SF
		if !p.Duration.Contains(duration) {
			continue
		}
		out = append(out, REM{
			Start:    float64(start) / in.SF,
			Peak:     float64(pk) / in.SF,
			End:      float64(end) / in.SF,
			Duration: duration,
			LOCAbs:   math.Abs(loc[pk]),
			ROCAbs:   math.Abs(roc[pk]),
			Stage:    in.stageAt(pk),
			Channel:  channel,
		})
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
