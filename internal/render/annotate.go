package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 9.0
	tickMarkHeight = 5
	pixelsPerLabel = 120.0

	defaultTopBorder    = 40
	defaultLeftBorder   = 80
	defaultBottomBorder = 50
	defaultRightBorder  = 40
)

// BorderConfig is the white space around the plot area, in pixels.
type BorderConfig struct {
	Top    int // title
	Left   int // frequency and stage scales
	Bottom int // time scale and info bar
	Right  int
}

func (b BorderConfig) withDefaults() BorderConfig {
	if b.Top == 0 {
		b.Top = defaultTopBorder
	}
	if b.Left == 0 {
		b.Left = defaultLeftBorder
	}
	if b.Bottom == 0 {
		b.Bottom = defaultBottomBorder
	}
	if b.Right == 0 {
		b.Right = defaultRightBorder
	}
	return b
}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
	img      *image.RGBA
}

func newAnnotator(img *image.RGBA, size float64) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)

	return &annotator{
		context: ctx,
		img:     img,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) fontHeight() int {
	m := a.fontFace.Metrics()
	return (m.Ascent + m.Descent).Round()
}

func (a *annotator) textWidth(s string) int {
	return font.MeasureString(a.fontFace, s).Round()
}

// text draws s with its baseline at y.
func (a *annotator) text(s string, x, y int) error {
	if _, err := a.context.DrawString(s, freetype.Pt(x, y)); err != nil {
		return fmt.Errorf("drawing '%s': %w", s, err)
	}
	return nil
}

// textRight draws s ending at x, vertically centred on y.
func (a *annotator) textRight(s string, x, y int) error {
	baseline := y + a.fontHeight()/2 - a.fontFace.Metrics().Descent.Round()
	return a.text(s, x-a.textWidth(s), baseline)
}

// textCentred draws s horizontally centred on x with its baseline at y.
func (a *annotator) textCentred(s string, x, y int) error {
	return a.text(s, x-a.textWidth(s)/2, y)
}

func (a *annotator) hTick(x0, x1, y int) {
	for x := x0; x < x1; x++ {
		a.img.Set(x, y, color.Black)
	}
}

func (a *annotator) vTick(x, y0, y1 int) {
	for y := y0; y < y1; y++ {
		a.img.Set(x, y, color.Black)
	}
}

// frame draws a one pixel rectangle around area.
func (a *annotator) frame(area image.Rectangle) {
	a.hTick(area.Min.X-1, area.Max.X+1, area.Min.Y-1)
	a.hTick(area.Min.X-1, area.Max.X+1, area.Max.Y)
	a.vTick(area.Min.X-1, area.Min.Y-1, area.Max.Y+1)
	a.vTick(area.Max.X, area.Min.Y-1, area.Max.Y+1)
}

// frequencyScale labels the left edge of area, with fmin at the bottom.
func (a *annotator) frequencyScale(area image.Rectangle, fmin, fmax float64) error {
	step := niceStep(fmax-fmin, area.Dy(), []float64{1, 2, 5, 10, 20, 50, 100})
	for f := math.Ceil(fmin/step) * step; f <= fmax+1e-9; f += step {
		y := area.Max.Y - int((f-fmin)/(fmax-fmin)*float64(area.Dy()))
		a.hTick(area.Min.X-tickMarkHeight, area.Min.X, y)
		if err := a.textRight(fmt.Sprintf("%g", f), area.Min.X-tickMarkHeight-3, y); err != nil {
			return err
		}
	}
	return nil
}

// timeScale labels the bottom edge of area in hours.
func (a *annotator) timeScale(area image.Rectangle, tmin, tmax float64) error {
	hours := (tmax - tmin) / 3600
	step := niceStep(hours, area.Dx(), []float64{0.25, 0.5, 1, 2, 4})
	baseline := area.Max.Y + tickMarkHeight + a.fontHeight() + 2
	for h := math.Ceil(tmin/3600/step) * step; h <= tmax/3600+1e-9; h += step {
		x := area.Min.X + int((h*3600-tmin)/(tmax-tmin)*float64(area.Dx()))
		a.vTick(x, area.Max.Y, area.Max.Y+tickMarkHeight)
		if err := a.textCentred(fmt.Sprintf("%gh", h), x, baseline); err != nil {
			return err
		}
	}
	return nil
}

// niceStep returns the smallest standard step giving at most one label per
// pixelsPerLabel pixels.
func niceStep(span float64, pixels int, steps []float64) float64 {
	if span <= 0 {
		return 1
	}
	desired := math.Max(1, float64(pixels)/pixelsPerLabel)
	target := span / desired
	for _, step := range steps {
		if step >= target {
			return step
		}
	}
	return steps[len(steps)-1] * math.Ceil(target/steps[len(steps)-1])
}
