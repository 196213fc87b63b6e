package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/sleepeeg/internal/fsutil"
)

const (
	defaultChartWidth  = 1024
	defaultChartHeight = 512
)

// Series is one named line of a chart.
type Series struct {
	Name string
	X    []float64
	Y    []float64
}

type ChartOptions struct {
	Title  string
	XLabel string
	YLabel string
	Width  int
	Height int
}

func (o ChartOptions) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = defaultChartWidth
	}
	if h <= 0 {
		h = defaultChartHeight
	}
	return w, h
}

// LineChart renders series as a PNG line chart with a legend.
func LineChart(w io.Writer, series []Series, opts ChartOptions) error {
	if len(series) == 0 {
		return errors.New("no series to plot")
	}

	width, height := opts.size()
	graph := chart.Chart{
		Title:  opts.Title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{Name: opts.XLabel},
		YAxis: chart.YAxis{Name: opts.YLabel},
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		if len(s.X) != len(s.Y) || len(s.X) < 2 {
			return fmt.Errorf("series %s: need at least two points with matching x and y", s.Name)
		}
		for _, v := range s.Y {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("series %s has non-finite values", s.Name)
			}
		}
		lo = math.Min(lo, floats.Min(s.Y))
		hi = math.Max(hi, floats.Max(s.Y))

		graph.Series = append(graph.Series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: s.X,
			YValues: s.Y,
		})
	}
	if lo == hi {
		graph.YAxis.Range = &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}
	return nil
}

// SourcesChart renders component time courses one above the other, each scaled to unit
// standard deviation.
func SourcesChart(w io.Writer, times []float64, sources [][]float64, names []string, opts ChartOptions) error {
	if len(sources) != len(names) {
		return fmt.Errorf("%d sources for %d names", len(sources), len(names))
	}

	series := make([]Series, len(sources))
	for k, src := range sources {
		if len(src) != len(times) {
			return fmt.Errorf("source %s has %d samples for %d times", names[k], len(src), len(times))
		}
		std := stat.StdDev(src, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		mean := stat.Mean(src, nil)

		offset := -4 * float64(k)
		y := make([]float64, len(src))
		for i, v := range src {
			y[i] = (v-mean)/std + offset
		}
		series[k] = Series{Name: names[k], X: times, Y: y}
	}
	if opts.Height <= 0 {
		opts.Height = max(defaultChartHeight, 80*len(sources))
	}
	return LineChart(w, series, opts)
}

// BarChart renders one bar per label.
func BarChart(w io.Writer, labels []string, values []float64, opts ChartOptions) error {
	if len(labels) == 0 || len(labels) != len(values) {
		return fmt.Errorf("%d labels for %d values", len(labels), len(values))
	}

	width, height := opts.size()
	bars := make([]chart.Value, len(values))
	top := 0.0
	for i, v := range values {
		bars[i] = chart.Value{Label: labels[i], Value: v}
		top = math.Max(top, v)
	}
	if top == 0 {
		top = 1
	}

	graph := chart.BarChart{
		Title:  opts.Title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50},
		},
		BarWidth: max(10, min(60, width/(2*len(bars)))),
		YAxis: chart.YAxis{
			Name:  opts.YLabel,
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
		},
		Bars: bars,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("rendering bar chart: %w", err)
	}
	return nil
}

// SaveChart renders into memory first so that a failed render leaves no file behind.
func SaveChart(path string, overwrite bool, render func(io.Writer) error) (err error) {
	if err = fsutil.CheckOverwrite(path, overwrite); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = render(&buf); err != nil {
		return err
	}

	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if _, err = buf.WriteTo(f); err != nil {
		return fmt.Errorf("writing chart: %w", err)
	}
	return nil
}
