package pyramid

import (
	"image"

	"golang.org/x/image/draw"
)

// DrawDownsampler halves images with golang.org/x/image/draw. The zero value
// uses bilinear filtering.
type DrawDownsampler struct {
	Interpolator draw.Interpolator
}

// Halve implements Downsampler.
func (d DrawDownsampler) Halve(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, max(b.Dx()/2, 1), max(b.Dy()/2, 1)))
	interp := d.Interpolator
	if interp == nil {
		interp = draw.BiLinear
	}
	interp.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
