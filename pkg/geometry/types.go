// Package geometry provides the point, rectangle and transform types shared by the
// viewport, overlay and acquisition packages.
package geometry

import (
	"math"
)

// Point2D is a floating-point position. Depending on context it holds stage
// microns or sub-pixel image coordinates.
type Point2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Floor truncates toward negative infinity on both axes.
func (p Point2D) Floor() PointInt {
	return PointInt{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// PointInt is an integer pixel position.
type PointInt struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Pt is shorthand for PointInt{X: x, Y: y}.
func Pt(x, y int) PointInt {
	return PointInt{X: x, Y: y}
}

// ToFloat converts to Point2D.
func (p PointInt) ToFloat() Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// Add returns the sum of two points.
func (p PointInt) Add(other PointInt) PointInt {
	return PointInt{X: p.X + other.X, Y: p.Y + other.Y}
}

// Rect is a rectangle with floating-point coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectInt is a rectangle on an integer pixel grid. Max edges are exclusive.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectFromEdges builds a RectInt from min (inclusive) and max (exclusive) edges.
func RectFromEdges(x0, y0, x1, y1 int) RectInt {
	return RectInt{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// MaxX returns the exclusive right edge.
func (r RectInt) MaxX() int { return r.X + r.Width }

// MaxY returns the exclusive bottom edge.
func (r RectInt) MaxY() int { return r.Y + r.Height }

// Intersects returns true if the two rectangles share at least one pixel.
func (r RectInt) Intersects(other RectInt) bool {
	return r.X < other.MaxX() && other.X < r.MaxX() &&
		r.Y < other.MaxY() && other.Y < r.MaxY()
}

// ToFloat converts to Rect.
func (r RectInt) ToFloat() Rect {
	return Rect{X: float64(r.X), Y: float64(r.Y), Width: float64(r.Width), Height: float64(r.Height)}
}

// AffineTransform represents a 2x3 affine transformation matrix.
// [a b tx]
// [c d ty]
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// ScaleTranslate returns x' = sx*x + tx, y' = sy*y + ty.
func ScaleTranslate(sx, sy, tx, ty float64) AffineTransform {
	return AffineTransform{A: sx, D: sy, TX: tx, TY: ty}
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// Inverse returns the inverse transform, if it exists.
func (t AffineTransform) Inverse() (AffineTransform, bool) {
	det := t.A*t.D - t.B*t.C
	if math.Abs(det) < 1e-10 {
		return AffineTransform{}, false
	}

	invDet := 1.0 / det
	return AffineTransform{
		A:  t.D * invDet,
		B:  -t.B * invDet,
		TX: (t.B*t.TY - t.D*t.TX) * invDet,
		C:  -t.C * invDet,
		D:  t.A * invDet,
		TY: (t.C*t.TX - t.A*t.TY) * invDet,
	}, true
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points []Point2D) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
