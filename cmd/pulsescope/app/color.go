package app

import (
	"image/color"
	"math"
)

const (
	DefaultTheme   ColorTheme = "default"
	ClassicTheme   ColorTheme = "classic"
	GrayscaleTheme ColorTheme = "grayscale"
	ThermalTheme   ColorTheme = "thermal"
	MarineTheme    ColorTheme = "marine"

	DefaultColorMapSize = 256
)

type ColorTheme string

// NoDataColor marks gates without a usable power reading.
var NoDataColor color.Color = color.Black

// ColorMapper maps power in dB onto a pre-computed palette.
type ColorMapper struct {
	palette  []color.Color
	bounds   PowerBounds
	dbPerIdx float64
}

func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	cm := &ColorMapper{
		palette: make([]color.Color, DefaultColorMapSize),
		bounds:  bounds,
	}

	fn := themeFunc(theme)
	last := float64(len(cm.palette) - 1)
	for i := range cm.palette {
		cm.palette[i] = fn(float64(i) / last)
	}
	cm.dbPerIdx = (bounds.Max - bounds.Min) / last
	return cm
}

// Color returns the palette entry for db, clamped to the bounds.
func (cm *ColorMapper) Color(db float64) color.Color {
	if math.IsNaN(db) || math.IsInf(db, -1) {
		return NoDataColor
	}

	db = math.Max(cm.bounds.Min, math.Min(db, cm.bounds.Max))
	idx := int((db - cm.bounds.Min) / cm.dbPerIdx)
	return cm.palette[max(0, min(idx, len(cm.palette)-1))]
}

func (cm *ColorMapper) Bounds() PowerBounds {
	return cm.bounds
}

// HSV is a color in the HSV space: hue in degrees, saturation and value in [0,1].
type HSV struct {
	H, S, V float64
}

func (hsv HSV) RGB() color.Color {
	if hsv.S <= 0 {
		v := uint8(hsv.V * 255)
		return color.RGBA{R: v, G: v, B: v, A: 0xff}
	}

	h := math.Mod(hsv.H, 360) / 60
	i := math.Floor(h)
	f := h - i

	v := hsv.V
	p := v * (1 - hsv.S)
	q := v * (1 - hsv.S*f)
	t := v * (1 - hsv.S*(1-f))

	var r, g, b float64
	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}

func themeFunc(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(x float64) color.Color {
			return HSV{H: 240 - x*240, S: 0.9 + x*0.1, V: math.Pow(x, 0.7)}.RGB()
		}

	case GrayscaleTheme:
		return func(x float64) color.Color {
			v := uint8(math.Pow(x, 0.7) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 0xff}
		}

	case ThermalTheme:
		return func(x float64) color.Color {
			switch {
			case x < 1.0/3:
				return color.RGBA{R: uint8(x * 3 * 255), A: 0xff}
			case x < 2.0/3:
				return color.RGBA{R: 255, G: uint8((x - 1.0/3) * 3 * 255), A: 0xff}
			default:
				return color.RGBA{R: 255, G: 255, B: uint8(math.Min(1, (x-2.0/3)*3) * 255), A: 0xff}
			}
		}

	case MarineTheme:
		return func(x float64) color.Color {
			return HSV{H: 240 - x*60, S: 1 - x*0.8, V: 0.3 + math.Pow(x, 0.6)*0.7}.RGB()
		}

	default:
		// radar reflectivity style: blue, green, yellow, red
		return func(x float64) color.Color {
			x = math.Max(0, math.Min(1, x))
			if x < 0.1 {
				return HSV{H: 240, S: 1, V: x * 10 * 0.6}.RGB()
			}
			return HSV{H: 240 - (x-0.1)/0.9*240, S: 1, V: 0.6 + (x-0.1)/0.9*0.4}.RGB()
		}
	}
}
