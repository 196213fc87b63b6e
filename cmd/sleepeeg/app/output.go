package app

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/roman-kulish/sleepeeg/internal/hypno"
	"github.com/roman-kulish/sleepeeg/internal/spectrum"
	"github.com/roman-kulish/sleepeeg/internal/storage"
)

const (
	efficiencyThreshold = 85.0 // %, below it sleep efficiency is flagged
	peakMinFreq         = 0.5  // Hz, slower bins are left out of the peak search
)

// painter colours table cells when colour output is enabled.
type painter struct {
	good func(a ...interface{}) string
	bad  func(a ...interface{}) string
	dim  func(a ...interface{}) string
}

func newPainter(enabled bool) painter {
	if !enabled {
		plain := fmt.Sprint
		return painter{good: plain, bad: plain, dim: plain}
	}
	return painter{
		good: color.New(color.FgGreen).SprintFunc(),
		bad:  color.New(color.FgRed).SprintFunc(),
		dim:  color.New(color.FgHiBlack).SprintFunc(),
	}
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func statUnit(name string) string {
	switch {
	case strings.HasPrefix(name, "%"), name == "SE", name == "SME":
		return "%"
	default:
		return "min"
	}
}

// printStats writes sleep statistics as a table.
func printStats(w io.Writer, stats []hypno.Statistic, colored bool) error {
	p := newPainter(colored)

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Stat", "Value", "Unit"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(stats))
	for _, s := range stats {
		value := formatValue(s.Value)
		switch {
		case math.IsNaN(s.Value):
			value = p.dim(value)
		case s.Name == "SE" || s.Name == "SME":
			if s.Value < efficiencyThreshold {
				value = p.bad(value)
			} else {
				value = p.good(value)
			}
		}
		data = append(data, []string{s.Name, value, statUnit(s.Name)})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// peakFrequency returns the frequency of the highest channel-averaged power at or
// above peakMinFreq, NaN for an empty spectrum.
func peakFrequency(s *spectrum.StageSpectrum) float64 {
	if s.Empty() {
		return math.NaN()
	}
	peak, best := math.NaN(), math.Inf(-1)
	for j, f := range s.Freqs {
		if f < peakMinFreq {
			continue
		}
		var sum float64
		for _, row := range s.PSD {
			sum += row[j]
		}
		if sum > best {
			best, peak = sum, f
		}
	}
	return peak
}

// printSpectra writes one row per stage spectrum: its support and peak frequency.
func printSpectra(w io.Writer, spectra []*spectrum.StageSpectrum, colored bool) error {
	p := newPainter(colored)

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Stage", "Samples", "Share", "Channels", "Peak Hz"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(spectra))
	for _, s := range spectra {
		if s == nil {
			continue
		}
		row := []string{
			s.Stage,
			humanize.Comma(int64(s.NSamples)),
			formatValue(100*s.Fraction) + "%",
			strconv.Itoa(len(s.Channels)),
			formatValue(peakFrequency(s)),
		}
		if s.Empty() {
			for i := range row {
				row[i] = p.dim(row[i])
			}
		}
		data = append(data, row)
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// printEventCounts writes detected event counts per kind, channel and stage.
func printEventCounts(w io.Writer, counts []storage.EventCount) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Kind", "Channel", "Stage", "Count"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(counts))
	for _, c := range counts {
		data = append(data, []string{c.Kind, c.Channel, c.Stage.String(), humanize.Comma(int64(c.Count))})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// printRuns lists stored runs, most recent last.
func printRuns(w io.Writer, runs []*storage.Run) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"ID", "Started", "Subject", "Recording"})

	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		data = append(data, []string{r.ID, humanize.Time(r.StartTime), r.Subject, r.Recording})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
