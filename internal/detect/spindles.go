package detect

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/montanaflynn/stats"

	"github.com/roman-kulish/sleepeeg/internal/dsp"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

// SpindleThresholds are the detection criteria. A non-positive threshold disables
// its criterion.
type SpindleThresholds struct {
	Corr   float64 `yaml:"corr"`    // moving correlation between sigma and broadband signal
	RelPow float64 `yaml:"rel_pow"` // sigma power relative to broadband power
	RMS    float64 `yaml:"rms"`     // moving RMS above mean + RMS * std
}

type SpindleParams struct {
	Freq        Range             `yaml:"freq_sp"`
	FreqBroad   Range             `yaml:"freq_broad"`
	Duration    Range             `yaml:"duration"`
	MinDistance float64           `yaml:"min_distance"` // ms
	Thresholds  SpindleThresholds `yaml:"thresh"`
}

func DefaultSpindleParams() SpindleParams {
	return SpindleParams{
		Freq:        Range{12, 15},
		FreqBroad:   Range{1, 30},
		Duration:    Range{0.5, 2},
		MinDistance: 500,
		Thresholds:  SpindleThresholds{Corr: 0.65, RelPow: 0.2, RMS: 1.5},
	}
}

// Spindle is a detected sleep spindle. Times are in seconds from the recording start,
// amplitudes in microvolts.
type Spindle struct {
	Start        float64
	Peak         float64
	End          float64
	Duration     float64
	Amplitude    float64
	RMS          float64
	RelPower     float64
	Frequency    float64
	Oscillations int
	Stage        hypno.Stage
	Channel      string
}

func (Spindle) Header() []string {
	return []string{"Start", "Peak", "End", "Duration", "Amplitude", "RMS", "RelPower",
		"Frequency", "Oscillations", "Stage", "Channel"}
}

func (s Spindle) Record() []string {
	return []string{ff(s.Start), ff(s.Peak), ff(s.End), ff(s.Duration), ff(s.Amplitude),
		ff(s.RMS), ff(s.RelPower), ff(s.Frequency), strconv.Itoa(s.Oscillations),
		strconv.Itoa(int(s.Stage)), s.Channel}
}

func (s Spindle) ChannelName() string { return s.Channel }
func (s Spindle) StageCode() hypno.Stage { return s.Stage }
func (s Spindle) Span() (float64, float64) { return s.Start, s.End }

// movingWindow is the length of the RMS, relative power and correlation windows.
const movingWindow = 0.3

// Spindles detects sleep spindles on every channel of in. A sample is a spindle
// candidate when at least two enabled criteria hold (all of them when fewer than two
// are enabled).
func Spindles(in Input, p SpindleParams) ([]Spindle, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sigmaBand := dsp.Band{Low: p.Freq.Min, High: p.Freq.Max}
	broadBand := dsp.Band{Low: p.FreqBroad.Min, High: p.FreqBroad.Max}
	if err := sigmaBand.Validate(in.SF); err != nil {
		return nil, fmt.Errorf("spindle band: %w", err)
	}
	if err := broadBand.Validate(in.SF); err != nil {
		return nil, fmt.Errorf("broadband: %w", err)
	}

	mask, ok := in.eligible()
	if !ok {
		return nil, nil
	}

	var out []Spindle
	for c, name := range in.Channels {
		found, err := spindlesInChannel(in, mask, in.Data[c], name, sigmaBand, broadBand, p)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		out = append(out, found...)
	}
	return out, nil
}

func spindlesInChannel(in Input, mask []bool, x []float64, channel string, sigmaBand, broadBand dsp.Band, p SpindleParams) ([]Spindle, error) {
	sigma := slices.Clone(x)
	if err := dsp.BandPass(sigma, in.SF, sigmaBand, dsp.DefaultOrder); err != nil {
		return nil, err
	}
	broad := slices.Clone(x)
	if err := dsp.BandPass(broad, in.SF, broadBand, dsp.DefaultOrder); err != nil {
		return nil, err
	}

	w := int(movingWindow * in.SF)
	sigmaSq := make([]float64, len(x))
	broadSq := make([]float64, len(x))
	for i := range x {
		sigmaSq[i] = sigma[i] * sigma[i]
		broadSq[i] = broad[i] * broad[i]
	}
	sigmaPow := movingMean(sigmaSq, w)
	broadPow := movingMean(broadSq, w)

	rms := make([]float64, len(x))
	relPow := make([]float64, len(x))
	for i := range x {
		rms[i] = math.Sqrt(sigmaPow[i])
		if broadPow[i] > 0 {
			relPow[i] = sigmaPow[i] / broadPow[i]
		}
	}
	corr := movingCorrelation(sigma, broad, w)

	rmsThresh := math.Inf(1)
	if p.Thresholds.RMS > 0 {
		var eligibleRMS stats.Float64Data
		for i, m := range mask {
			if m {
				eligibleRMS = append(eligibleRMS, rms[i])
			}
		}
		mean, err := eligibleRMS.Mean()
		if err != nil {
			return nil, fmt.Errorf("rms mean: %w", err)
		}
		std, err := eligibleRMS.StandardDeviation()
		if err != nil {
			return nil, fmt.Errorf("rms deviation: %w", err)
		}
		rmsThresh = mean + p.Thresholds.RMS*std
	}

	var enabled int
	for _, t := range []float64{p.Thresholds.Corr, p.Thresholds.RelPow, p.Thresholds.RMS} {
		if t > 0 {
			enabled++
		}
	}
	need := min(2, enabled)
	if need == 0 {
		return nil, nil
	}

	supra := make([]bool, len(x))
	for i := range x {
		if !mask[i] {
			continue
		}
		var n int
		if p.Thresholds.Corr > 0 && corr[i] >= p.Thresholds.Corr {
			n++
		}
		if p.Thresholds.RelPow > 0 && relPow[i] >= p.Thresholds.RelPow {
			n++
		}
		if p.Thresholds.RMS > 0 && rms[i] >= rmsThresh {
			n++
		}
		supra[i] = n >= need
	}

	minGap := int(p.MinDistance / 1000 * in.SF)

	var out []Spindle
	for _, r := range runs(supra, minGap) {
		duration := float64(r.end-r.start) / in.SF
		if !p.Duration.Contains(duration) {
			continue
		}

		seg := sigma[r.start:r.end]
		peak := r.start + argmaxAbs(seg)

		var sq float64
		for _, v := range seg {
			sq += v * v
		}
		var rel float64
		for _, v := range relPow[r.start:r.end] {
			rel += v
		}

		out = append(out, Spindle{
			Start:        float64(r.start) / in.SF,
			Peak:         float64(peak) / in.SF,
			End:          float64(r.end) / in.SF,
			Duration:     duration,
			Amplitude:    peakToPeak(broad[r.start:r.end]),
			RMS:          math.Sqrt(sq / float64(len(seg))),
			RelPower:     rel / float64(len(seg)),
			Frequency:    float64(zeroCrossings(seg)) / 2 / duration,
			Oscillations: countPeaks(seg),
			Stage:        in.stageAt(peak),
			Channel:      channel,
		})
	}
	return out, nil
}

// countPeaks counts the positive local maxima of x.
func countPeaks(x []float64) int {
	var n int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > 0 && x[i] > x[i-1] && x[i] >= x[i+1] {
			n++
		}
	}
	return n
}
