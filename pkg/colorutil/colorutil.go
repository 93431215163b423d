// Package colorutil provides shared overlay colors and the ICE color ramp used to
// shade interpolated surface heights.
package colorutil

import (
	"image/color"
	"math"
)

// Common overlay colors used throughout the application.
var (
	Black   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan    = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Blue    = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Red     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// iceStops approximates the ImageJ "ICE" lookup table: deep blue through cyan and
// pale green to orange and red.
var iceStops = [...]color.RGBA{
	{R: 0, G: 0, B: 140, A: 255},
	{R: 0, G: 110, B: 255, A: 255},
	{R: 0, G: 220, B: 255, A: 255},
	{R: 200, G: 255, B: 220, A: 255},
	{R: 255, G: 200, B: 0, A: 255},
	{R: 255, G: 90, B: 0, A: 255},
	{R: 170, G: 0, B: 0, A: 255},
}

// Ice maps v in [-1, 1] onto the ICE ramp. Values outside the range are clipped.
func Ice(v float64) color.RGBA {
	if math.IsNaN(v) {
		return Black
	}
	v = math.Max(-1, math.Min(1, v))
	pos := (v + 1) / 2 * float64(len(iceStops)-1)
	i := int(pos)
	if i >= len(iceStops)-1 {
		return iceStops[len(iceStops)-1]
	}
	f := pos - float64(i)
	a, b := iceStops[i], iceStops[i+1]
	return color.RGBA{
		R: lerp8(a.R, b.R, f),
		G: lerp8(a.G, b.G, f),
		B: lerp8(a.B, b.B, f),
		A: 255,
	}
}

// WithAlpha returns c with its alpha replaced.
func WithAlpha(c color.RGBA, a uint8) color.RGBA {
	c.A = a
	return c
}

func lerp8(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}
