// Package overlay defines the vector drawing handed from the render pipeline to
// the display: an ordered list of primitives in viewport pixel coordinates.
package overlay

import (
	"fmt"
	"image/color"

	"magellan/internal/interaction"
	"magellan/pkg/geometry"
)

// Kind identifies a primitive type.
type Kind int

const (
	KindLine Kind = iota
	KindRect
	KindMarker
	KindText
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindRect:
		return "rect"
	case KindMarker:
		return "marker"
	case KindText:
		return "text"
	case KindPolygon:
		return "polygon"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Primitive is one drawable element. Points are viewport pixels:
//   - line: two end points
//   - rect: min and max corners
//   - marker: center (Size is the radius)
//   - text: baseline start
//   - polygon: vertices, implicitly closed
type Primitive struct {
	Kind   Kind
	Points []geometry.Point2D
	Color  color.RGBA
	Size   float64 // stroke width, or marker radius
	Filled bool
	Label  string
}

// Line returns a line primitive of the given stroke width.
func Line(a, b geometry.Point2D, c color.RGBA, width float64) Primitive {
	return Primitive{Kind: KindLine, Points: []geometry.Point2D{a, b}, Color: c, Size: width}
}

// FilledRect returns a filled rectangle.
func FilledRect(r geometry.Rect, c color.RGBA) Primitive {
	return Primitive{Kind: KindRect, Points: rectCorners(r), Color: c, Filled: true}
}

// RectOutline returns an outlined rectangle.
func RectOutline(r geometry.Rect, c color.RGBA, width float64) Primitive {
	return Primitive{Kind: KindRect, Points: rectCorners(r), Color: c, Size: width}
}

// Marker returns a filled circular point marker.
func Marker(center geometry.Point2D, c color.RGBA, radius float64) Primitive {
	return Primitive{Kind: KindMarker, Points: []geometry.Point2D{center}, Color: c, Size: radius, Filled: true}
}

// Text returns a text label drawn from its baseline start.
func Text(at geometry.Point2D, s string, c color.RGBA) Primitive {
	return Primitive{Kind: KindText, Points: []geometry.Point2D{at}, Color: c, Label: s}
}

// Polygon returns a closed polygon, filled or outlined.
func Polygon(pts []geometry.Point2D, c color.RGBA, filled bool, width float64) Primitive {
	cp := make([]geometry.Point2D, len(pts))
	copy(cp, pts)
	return Primitive{Kind: KindPolygon, Points: cp, Color: c, Filled: filled, Size: width}
}

func rectCorners(r geometry.Rect) []geometry.Point2D {
	return []geometry.Point2D{{X: r.X, Y: r.Y}, {X: r.X + r.Width, Y: r.Y + r.Height}}
}

// Overlay is a published drawing plus the metadata of the job that made it.
type Overlay struct {
	Width  int
	Height int

	Mode interaction.Mode
	// PixelsPerPoint is the refinement density (full-resolution pixels per
	// interpolation point) of a surface pass; zero for single-pass overlays.
	PixelsPerPoint float64
	// Final is set on the last overlay a job publishes.
	Final bool
	// Seq increases with every publish of a pipeline.
	Seq uint64

	Primitives []Primitive
}

// New returns an empty overlay for a viewport of the given size.
func New(width, height int) *Overlay {
	return &Overlay{Width: width, Height: height}
}

// Add appends primitives in drawing order.
func (o *Overlay) Add(p ...Primitive) {
	o.Primitives = append(o.Primitives, p...)
}

// Len returns the number of primitives.
func (o *Overlay) Len() int {
	return len(o.Primitives)
}

// Clone returns a copy whose primitive list can be extended without affecting o.
// Point slices are shared; primitives are immutable once added.
func (o *Overlay) Clone() *Overlay {
	c := *o
	c.Primitives = make([]Primitive, len(o.Primitives), len(o.Primitives)+16)
	copy(c.Primitives, o.Primitives)
	return &c
}

// Count returns how many primitives of kind k the overlay holds.
func (o *Overlay) Count(k Kind) int {
	n := 0
	for _, p := range o.Primitives {
		if p.Kind == k {
			n++
		}
	}
	return n
}
