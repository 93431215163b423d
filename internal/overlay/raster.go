package overlay

import (
	"image"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Rasterize draws o onto a new transparent image of the overlay's size.
func Rasterize(o *Overlay) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, max(o.Width, 1), max(o.Height, 1)))
	Draw(dst, o)
	return dst
}

// Draw composites o onto dst in primitive order.
func Draw(dst *image.RGBA, o *Overlay) {
	if o == nil {
		return
	}
	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(basicfont.Face7x13)
	for _, p := range o.Primitives {
		drawPrimitive(dc, p)
	}
}

func drawPrimitive(dc *gg.Context, p Primitive) {
	if len(p.Points) == 0 {
		return
	}
	dc.SetColor(p.Color)
	dc.SetLineWidth(max(p.Size, 1))

	switch p.Kind {
	case KindLine:
		if len(p.Points) < 2 {
			return
		}
		dc.DrawLine(p.Points[0].X, p.Points[0].Y, p.Points[1].X, p.Points[1].Y)
		dc.Stroke()
	case KindRect:
		if len(p.Points) < 2 {
			return
		}
		a, b := p.Points[0], p.Points[1]
		dc.DrawRectangle(a.X, a.Y, b.X-a.X, b.Y-a.Y)
		finish(dc, p.Filled)
	case KindMarker:
		dc.DrawCircle(p.Points[0].X, p.Points[0].Y, max(p.Size, 1))
		finish(dc, p.Filled)
	case KindText:
		dc.DrawString(p.Label, p.Points[0].X, p.Points[0].Y)
	case KindPolygon:
		if len(p.Points) < 2 {
			return
		}
		dc.MoveTo(p.Points[0].X, p.Points[0].Y)
		for _, pt := range p.Points[1:] {
			dc.LineTo(pt.X, pt.Y)
		}
		dc.ClosePath()
		finish(dc, p.Filled)
	}
}

func finish(dc *gg.Context, filled bool) {
	if filled {
		dc.Fill()
		return
	}
	dc.Stroke()
}
