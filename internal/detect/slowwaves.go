package detect

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roman-kulish/sleepeeg/internal/dsp"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

type SlowWaveParams struct {
	Freq   Range `yaml:"freq_sw"`
	DurNeg Range `yaml:"dur_neg"` // s
	DurPos Range `yaml:"dur_pos"` // s
	AmpNeg Range `yaml:"amp_neg"` // uV, absolute value of the trough
	AmpPos Range `yaml:"amp_pos"` // uV
	AmpPTP Range `yaml:"amp_ptp"` // uV
}

func DefaultSlowWaveParams() SlowWaveParams {
	return SlowWaveParams{
		Freq:   Range{0.3, 1.5},
		DurNeg: Range{0.3, 1.5},
		DurPos: Range{0.1, 1},
		AmpNeg: Range{40, 200},
		AmpPos: Range{10, 150},
		AmpPTP: Range{75, 350},
	}
}

// SlowWave is a detected negative-then-positive slow oscillation.
type SlowWave struct {
	Start       float64
	NegPeak     float64
	MidCrossing float64
	PosPeak     float64
	End         float64
	Duration    float64
	ValNegPeak  float64
	ValPosPeak  float64
	PTP         float64
	Slope       float64 // uV/s from trough to mid crossing
	Frequency   float64
	Stage       hypno.Stage
	Channel     string
}

func (SlowWave) Header() []string {
	return []string{"Start", "NegPeak", "MidCrossing", "PosPeak", "End", "Duration",
		"ValNegPeak", "ValPosPeak", "PTP", "Slope", "Frequency", "Stage", "Channel"}
}

func (s SlowWave) Record() []string {
	return []string{ff(s.Start), ff(s.NegPeak), ff(s.MidCrossing), ff(s.PosPeak), ff(s.End),
		ff(s.Duration), ff(s.ValNegPeak), ff(s.ValPosPeak), ff(s.PTP), ff(s.Slope),
		ff(s.Frequency), strconv.Itoa(int(s.Stage)), s.Channel}
}

func (s SlowWave) ChannelName() string { return s.Channel }
func (s SlowWave) StageCode() hypno.Stage { return s.Stage }
func (s SlowWave) Span() (float64, float64) { return s.Start, s.End }

// SlowWaves detects slow waves on every channel of in. A wave runs from a downward
// zero crossing through a trough, an upward crossing and a crest to the next downward
// crossing of the band-passed signal.
func SlowWaves(in Input, p SlowWaveParams) ([]SlowWave, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	band := dsp.Band{Low: p.Freq.Min, High: p.Freq.Max}
	if err := band.Validate(in.SF); err != nil {
		return nil, fmt.Errorf("slow wave band: %w", err)
	}

	mask, ok := in.eligible()
	if !ok {
		return nil, nil
	}

	var out []SlowWave
	for c, name := range in.Channels {
		x := slices.Clone(in.Data[c])
		if err := dsp.BandPass(x, in.SF, band, dsp.DefaultOrder); err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		out = append(out, slowWavesInChannel(in, mask, x, name, p)...)
	}
	return out, nil
}

func slowWavesInChannel(in Input, mask []bool, x []float64, channel string, p SlowWaveParams) []SlowWave {
	var down, up []int
	for i := 1; i < len(x); i++ {
		switch {
		case x[i-1] >= 0 && x[i] < 0:
			down = append(down, i)
		case x[i-1] < 0 && x[i] >= 0:
			up = append(up, i)
		}
	}

	var out []SlowWave
	u := 0
	for k := 0; k+1 < len(down); k++ {
		start, end := down[k], down[k+1]
		for u < len(up) && up[u] <= start {
			u++
		}
		if u == len(up) || up[u] >= end {
			continue
		}
		mid := up[u]

		neg := start + slices.Index(x[start:mid], slices.Min(x[start:mid]))
		pos := mid + slices.Index(x[mid:end], slices.Max(x[mid:end]))
		if !mask[neg] {
			continue
		}

		durNeg := float64(mid-start) / in.SF
		durPos := float64(end-mid) / in.SF
		ptp := x[pos] - x[neg]
		if !p.DurNeg.Contains(durNeg) || !p.DurPos.Contains(durPos) ||
			!p.AmpNeg.Contains(-x[neg]) || !p.AmpPos.Contains(x[pos]) || !p.AmpPTP.Contains(ptp) {
			continue
		}

		duration := float64(end-start) / in.SF
		var slope float64
		if mid > neg {
			slope = -x[neg] / (float64(mid-neg) / in.SF)
		}
		out = append(out, SlowWave{
			Start:       float64(start) / in.SF,
			NegPeak:     float64(neg) / in.SF,
			MidCrossing: float64(mid) / in.SF,
			PosPeak:     float64(pos) / in.SF,
			End:         float64(end) / in.SF,
			Duration:    duration,
			ValNegPeak:  x[neg],
			ValPosPeak:  x[pos],
			PTP:         ptp,
			Slope:       slope,
			Frequency:   1 / duration,
			Stage:       in.stageAt(neg),
			Channel:     channel,
		})
	}
	return out
}
