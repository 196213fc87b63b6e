package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/sleepeeg/internal/dsp"
	"github.com/roman-kulish/sleepeeg/internal/fsutil"
	"github.com/roman-kulish/sleepeeg/internal/hypno"
)

// Layout places the hypnogram relative to the spectrogram.
type Layout int

const (
	// Stacked draws the hypnogram in its own panel above the spectrogram.
	Stacked Layout = iota
	// Overlay draws the hypnogram over the spectrogram, stage labels on the right.
	Overlay
)

func (l Layout) String() string {
	if l == Overlay {
		return "overlay"
	}
	return "stacked"
}

const (
	defaultPlotWidth   = 1000
	defaultPlotHeight  = 360
	hypnoPanelHeight   = 110
	panelGap           = 12
	overlayRightBorder = 60
)

var (
	hypnoColor   = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	overlayColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	remColor     = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// Hypnospectrogram describes a spectrogram figure with a hypnogram.
type Hypnospectrogram struct {
	Spectrogram *dsp.Spectrogram // power in dB
	Hypno       []hypno.Stage    // labels at SFHypno; nil draws no hypnogram
	SFHypno     float64
	Layout      Layout
	Theme       ColorTheme
	TrimPerc    float64 // percentile trimmed from both ends of the colour scale
	Title       string
	Width       int // plot area, pixels
	Height      int
	Borders     BorderConfig
}

// TrimmedPowerBounds returns the colour bounds of power at the trimperc and
// 100-trimperc percentiles.
func TrimmedPowerBounds(power [][]float64, trimperc float64) (PowerBounds, error) {
	var finite []float64
	for _, row := range power {
		for _, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				finite = append(finite, v)
			}
		}
	}
	lo, hi, err := dsp.TrimmedBounds(finite, trimperc)
	if err != nil {
		return PowerBounds{}, err
	}
	return PowerBounds{Min: lo, Max: hi, Mean: stat.Mean(finite, nil)}, nil
}

// RenderHypnospectrogram draws h.
func RenderHypnospectrogram(h Hypnospectrogram) (*image.RGBA, error) {
	spec := h.Spectrogram
	if spec == nil || len(spec.Freqs) < 2 || len(spec.Times) == 0 {
		return nil, errors.New("spectrogram has no data")
	}
	if h.Width <= 0 {
		h.Width = defaultPlotWidth
	}
	if h.Height <= 0 {
		h.Height = defaultPlotHeight
	}
	if h.Layout == Overlay && h.Borders.Right == 0 {
		h.Borders.Right = overlayRightBorder
	}
	borders := h.Borders.withDefaults()

	bounds, err := TrimmedPowerBounds(spec.Power, h.TrimPerc)
	if err != nil {
		return nil, fmt.Errorf("colour bounds: %w", err)
	}
	mapper := NewColorMapper(h.Theme, bounds)

	drawHypno := len(h.Hypno) > 0 && h.SFHypno > 0
	top := borders.Top
	var hypnoArea image.Rectangle
	if drawHypno && h.Layout == Stacked {
		hypnoArea = image.Rect(borders.Left, top, borders.Left+h.Width, top+hypnoPanelHeight)
		top += hypnoPanelHeight + panelGap
	}
	specArea := image.Rect(borders.Left, top, borders.Left+h.Width, top+h.Height)
	if drawHypno && h.Layout == Overlay {
		hypnoArea = specArea.Inset(6)
	}

	img := image.NewRGBA(image.Rect(0, 0, specArea.Max.X+borders.Right, specArea.Max.Y+borders.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	renderSpectrogram(img, specArea, spec, mapper)

	winSec := spec.Times[0] * 2
	tmax := spec.Times[len(spec.Times)-1] + winSec/2

	ann, err := newAnnotator(img, fontSize)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	fmin, fmax := spec.Freqs[0], spec.Freqs[len(spec.Freqs)-1]
	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing frequency scale", func() error { return ann.frequencyScale(specArea, fmin, fmax) }},
		{"drawing time scale", func() error { return ann.timeScale(specArea, 0, tmax) }},
		{"drawing title", func() error { return ann.text(h.Title, borders.Left, borders.Top/2+ann.fontHeight()/2) }},
		{"drawing info bar", func() error {
			info := fmt.Sprintf("%s-%s Hz; window %s s; colour %.1f to %.1f dB (%s%% trimmed)",
				humanize.Ftoa(fmin), humanize.Ftoa(fmax), humanize.Ftoa(winSec), bounds.Min, bounds.Max,
				humanize.Ftoa(h.TrimPerc))
			return ann.text(info, borders.Left, img.Bounds().Max.Y-6)
		}},
	}
	for _, op := range ops {
		if err = op.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	if drawHypno {
		if err = drawHypnogram(ann, hypnoArea, h.Hypno, h.SFHypno, tmax, h.Layout); err != nil {
			return nil, fmt.Errorf("drawing hypnogram: %w", err)
		}
	}

	ann.frame(specArea)
	if drawHypno && h.Layout == Stacked {
		ann.frame(hypnoArea)
	}
	return img, nil
}

// renderSpectrogram fills area with the power map, nearest-neighbour scaled, lowest
// frequency at the bottom.
func renderSpectrogram(img *image.RGBA, area image.Rectangle, spec *dsp.Spectrogram, mapper *ColorMapper) {
	nf, nt := len(spec.Freqs), len(spec.Times)
	for y := range area.Dy() {
		f := nf - 1 - y*nf/area.Dy()
		for x := range area.Dx() {
			t := x * nt / area.Dx()
			img.Set(area.Min.X+x, area.Min.Y+y, mapper.GetColor(&spec.Power[f][t]))
		}
	}
}

// hypnoLevels returns the display levels shown on the stage axis, top to bottom.
func hypnoLevels(labels []hypno.Stage) []int {
	top := 0
	for _, s := range labels {
		top = min(top, hypno.DisplayLevel(s))
	}
	levels := make([]int, 0, 5-top)
	for l := top; l <= hypno.DisplayLevel(hypno.N3); l++ {
		levels = append(levels, l)
	}
	return levels
}

var levelNames = func() map[int]string {
	m := make(map[int]string)
	for s := hypno.Unscored; s <= hypno.REM; s++ {
		m[hypno.DisplayLevel(s)] = s.String()
	}
	return m
}()

// drawHypnogram draws the stage step line spanning tmax seconds into area.
func drawHypnogram(a *annotator, area image.Rectangle, labels []hypno.Stage, sfHypno, tmax float64, layout Layout) error {
	levels := hypnoLevels(labels)
	rowY := func(level int) int {
		level = max(levels[0], min(level, levels[len(levels)-1]))
		return area.Min.Y + (level-levels[0])*(area.Dy()-1)/(len(levels)-1)
	}

	for _, l := range levels {
		y := rowY(l)
		var err error
		if layout == Overlay {
			err = a.text(levelNames[l], area.Max.X+12, y+a.fontHeight()/3)
		} else {
			a.hTick(area.Min.X-tickMarkHeight, area.Min.X, y)
			err = a.textRight(levelNames[l], area.Min.X-tickMarkHeight-3, y)
		}
		if err != nil {
			return err
		}
	}

	line := hypnoColor
	if layout == Overlay {
		line = overlayColor
	}

	prevY := -1
	for x := range area.Dx() {
		t := float64(x) / float64(area.Dx()) * tmax
		i := min(int(t*sfHypno), len(labels)-1)
		stage := labels[i]
		y := rowY(hypno.DisplayLevel(stage))

		c := line
		if stage == hypno.REM {
			c = remColor
		}
		a.img.Set(area.Min.X+x, y, c)
		a.img.Set(area.Min.X+x, y+1, c)
		if prevY >= 0 && prevY != y {
			lo, hi := min(prevY, y), max(prevY, y)
			for yy := lo; yy <= hi; yy++ {
				a.img.Set(area.Min.X+x, yy, line)
			}
		}
		prevY = y
	}
	return nil
}

// SavePNG encodes img to path.
func SavePNG(path string, img image.Image, overwrite bool) (err error) {
	f, err := fsutil.CreateFile(path, overwrite)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}
