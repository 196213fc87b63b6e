package hypno

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Statistic is a single named sleep statistic. Durations and latencies are in minutes,
// percentages in percent.
type Statistic struct {
	Name  string
	Value float64
}

// SleepStatistics computes the standard sleep statistics of a hypnogram sampled at
// sfHypno. Statistics that are undefined for the recording are NaN.
//
//   - TIB: time in bed, the whole hypnogram
//   - SPT: sleep period time, first to last sleep epoch
//   - WASO: wake after sleep onset, wake within SPT
//   - TST: total sleep time, sleep within SPT
//   - N1, N2, N3, REM, NREM: time in stage
//   - SOL: sleep onset latency
//   - Lat_N1, Lat_N2, Lat_N3, Lat_REM: latency to the first epoch of the stage
//   - %N1, %N2, %N3, %REM, %NREM: percentage of TST
//   - SE: sleep efficiency, TST / TIB
//   - SME: sleep maintenance efficiency, TST / SPT
func SleepStatistics(labels []Stage, sfHypno float64) ([]Statistic, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyHypnogram
	}
	if sfHypno <= 0 {
		return nil, fmt.Errorf("invalid hypnogram sampling frequency %g Hz", sfHypno)
	}

	minutes := func(n int) float64 {
		return float64(n) / (60 * sfHypno)
	}

	first, last := -1, -1
	for i, s := range labels {
		if s.IsSleep() {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	var spt, waso, tst int
	if first >= 0 {
		for _, s := range labels[first : last+1] {
			spt++
			switch {
			case s == Wake:
				waso++
			case s.IsSleep():
				tst++
			}
		}
	}

	counts := make(map[Stage]int)
	latency := make(map[Stage]int)
	for i, s := range labels {
		counts[s]++
		if _, ok := latency[s]; !ok {
			latency[s] = i
		}
	}
	lat := func(s Stage) float64 {
		if i, ok := latency[s]; ok {
			return minutes(i)
		}
		return math.NaN()
	}

	tib := minutes(len(labels))
	tstMin := minutes(tst)
	sptMin := minutes(spt)
	nrem := counts[N1] + counts[N2] + counts[N3]

	sol := math.NaN()
	if first >= 0 {
		sol = minutes(first)
	}

	pct := func(n int) float64 {
		if tst == 0 {
			return math.NaN()
		}
		return 100 * minutes(n) / tstMin
	}
	sme := math.NaN()
	if spt > 0 {
		sme = 100 * tstMin / sptMin
	}

	return []Statistic{
		{"TIB", tib},
		{"SPT", sptMin},
		{"WASO", minutes(waso)},
		{"TST", tstMin},
		{"N1", minutes(counts[N1])},
		{"N2", minutes(counts[N2])},
		{"N3", minutes(counts[N3])},
		{"REM", minutes(counts[REM])},
		{"NREM", minutes(nrem)},
		{"SOL", sol},
		{"Lat_N1", lat(N1)},
		{"Lat_N2", lat(N2)},
		{"Lat_N3", lat(N3)},
		{"Lat_REM", lat(REM)},
		{"%N1", pct(counts[N1])},
		{"%N2", pct(counts[N2])},
		{"%N3", pct(counts[N3])},
		{"%REM", pct(counts[REM])},
		{"%NREM", pct(nrem)},
		{"SE", 100 * tstMin / tib},
		{"SME", sme},
	}, nil
}

// Lookup returns the value of the named statistic.
func Lookup(stats []Statistic, name string) (float64, bool) {
	for _, s := range stats {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

// WriteStatisticsCSV writes one header row of statistic names followed by one row of
// their values.
func WriteStatisticsCSV(w io.Writer, stats []Statistic) error {
	header := make([]string, len(stats))
	values := make([]string, len(stats))
	for i, s := range stats {
		header[i] = s.Name
		values[i] = strconv.FormatFloat(s.Value, 'f', -1, 64)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := cw.Write(values); err != nil {
		return fmt.Errorf("writing values: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
