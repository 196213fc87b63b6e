// Package render draws the pipeline's figures: the hypnospectrogram raster with its
// annotations, and line/bar charts for spectra, component sources and event densities.
package render

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme is a predefined power-to-colour scheme.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // blue to red
	GrayscaleTheme ColorTheme = "grayscale" // black to white
	JungleTheme    ColorTheme = "jungle"    // dark green to yellow
	ThermalTheme   ColorTheme = "thermal"   // black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // deep blue to cyan to white
	EnhancedTheme  ColorTheme = "enhanced"  // black, blue, cyan, yellow, red

	DefaultColorMapSize = 256
)

var themes = []ColorTheme{ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme, EnhancedTheme}

// ParseTheme validates a theme name. The empty name selects EnhancedTheme.
func ParseTheme(name string) (ColorTheme, error) {
	if name == "" {
		return EnhancedTheme, nil
	}
	for _, t := range themes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown colour theme '%s'", name)
}

// PowerBounds are the power levels mapped to the two ends of the colour scale.
type PowerBounds struct {
	Min  float64 // dB
	Max  float64 // dB
	Mean float64 // dB
}

// ColorMapper maps power values to colours of a theme through a pre-computed table.
type ColorMapper struct {
	colorMap      []color.Color
	theme         func(float64) color.Color
	themeName     ColorTheme
	size          int
	powerPerIndex float64
	boundsMin     float64
}

// NewColorMapper creates a mapper with DefaultColorMapSize colours.
func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	cm := &ColorMapper{
		colorMap:  make([]color.Color, DefaultColorMapSize),
		theme:     themeFunc(theme),
		themeName: theme,
		size:      DefaultColorMapSize,
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds sets the power range and rebuilds the table.
func (cm *ColorMapper) UpdateBounds(bounds PowerBounds) {
	span := bounds.Max - bounds.Min
	if span <= 0 {
		span = 1
	}
	cm.boundsMin = bounds.Min
	cm.powerPerIndex = span / float64(cm.size-1)

	for i := range cm.size {
		cm.colorMap[i] = cm.theme(float64(i) / float64(cm.size-1))
	}
}

// GetColor returns the colour of power, clamped to the bounds. Missing, NaN and -Inf
// values take the lowest colour.
func (cm *ColorMapper) GetColor(power *float64) color.Color {
	switch {
	case power == nil || math.IsNaN(*power) || math.IsInf(*power, -1):
		return cm.colorMap[0]
	case math.IsInf(*power, 1):
		return cm.colorMap[cm.size-1]
	}

	index := int((*power - cm.boundsMin) / cm.powerPerIndex)
	switch {
	case index < 0:
		return cm.colorMap[0]
	case index >= cm.size:
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

// HSV is a colour in hue [0-360], saturation [0-1], value [0-1] space.
type HSV struct {
	H float64
	S float64
	V float64
}

// RGB converts the colour to RGB.
func (hsv HSV) RGB() color.Color {
	v := math.Max(0, math.Min(1, hsv.V))
	s := math.Max(0, math.Min(1, hsv.S))
	return colorful.Hsv(math.Mod(hsv.H+360, 360), s, v).Clamped()
}

func themeFunc(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(power float64) color.Color {
			return HSV{
				H: 240 - (power * 240),
				S: 0.9 + (power * 0.1),
				V: math.Pow(power, 0.7),
			}.RGB()
		}

	case GrayscaleTheme:
		return func(power float64) color.Color {
			return HSV{V: math.Pow(power, 0.7)}.RGB()
		}

	case JungleTheme:
		return func(power float64) color.Color {
			return HSV{
				H: 120 - (power * 60),
				S: 1.0,
				V: 0.3 + (math.Pow(power, 0.6) * 0.7),
			}.RGB()
		}

	case ThermalTheme:
		return func(power float64) color.Color {
			switch {
			case power < 0.33:
				return color.RGBA{R: uint8(power * 3 * 255), A: 255}
			case power < 0.66:
				return color.RGBA{R: 255, G: uint8((power - 0.33) * 3 * 255), A: 255}
			default:
				return color.RGBA{R: 255, G: 255, B: uint8(math.Min(1, (power-0.66)*3) * 255), A: 255}
			}
		}

	case MarineTheme:
		return func(power float64) color.Color {
			return HSV{
				H: 240 - (power * 60),
				S: 1.0 - (power * 0.8),
				V: 0.3 + (math.Pow(power, 0.6) * 0.7),
			}.RGB()
		}

	default:
		return func(power float64) color.Color {
			power = math.Max(0, math.Min(1, power))
			enhanced := math.Pow(power, 0.7)

			switch {
			case power < 0.25:
				return HSV{H: 240, S: 1, V: enhanced * 4}.RGB()
			case power < 0.5:
				return HSV{H: 240 - ((power - 0.25) * 240), S: 1, V: enhanced * 1.5}.RGB()
			case power < 0.75:
				p := (power - 0.5) * 4
				return HSV{H: 180 - (p * 120), S: 1, V: math.Min(1.0, enhanced*1.5)}.RGB()
			default:
				p := (power - 0.75) * 4
				return HSV{H: 60 - (p * 60), S: 1, V: 1}.RGB()
			}
		}
	}
}
