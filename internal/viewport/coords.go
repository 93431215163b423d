package viewport

import (
	"magellan/internal/acquisition"
	"magellan/pkg/geometry"
)

// DownsampleFactor returns 2^level.
func DownsampleFactor(level int) int {
	return 1 << level
}

// ToViewport converts a full-resolution pixel to a viewport pixel.
func ToViewport(full geometry.PointInt, v State) geometry.PointInt {
	return geometry.Pt(full.X>>v.Level-v.Origin.X, full.Y>>v.Level-v.Origin.Y)
}

// FromViewportToFullRes converts a viewport pixel to the full-resolution pixel at
// the top-left of the area it displays. Points outside the canvas are legal.
func FromViewportToFullRes(p geometry.PointInt, v State) geometry.PointInt {
	return geometry.Pt((p.X+v.Origin.X)<<v.Level, (p.Y+v.Origin.Y)<<v.Level)
}

// ToViewportF is the sub-pixel form of ToViewport, used for drawing.
func ToViewportF(full geometry.Point2D, v State) geometry.Point2D {
	ds := float64(DownsampleFactor(v.Level))
	return geometry.Point2D{
		X: full.X/ds - float64(v.Origin.X),
		Y: full.Y/ds - float64(v.Origin.Y),
	}
}

// FromViewportF is the sub-pixel inverse of ToViewportF.
func FromViewportF(p geometry.Point2D, v State) geometry.Point2D {
	ds := float64(DownsampleFactor(v.Level))
	return geometry.Point2D{
		X: (p.X + float64(v.Origin.X)) * ds,
		Y: (p.Y + float64(v.Origin.Y)) * ds,
	}
}

// Mapper adds the stage<->pixel mapping to the pure viewport conversions.
type Mapper struct {
	Stage acquisition.StageMapping
}

// ToFullRes converts stage microns to a full-resolution pixel.
func (m Mapper) ToFullRes(stage geometry.Point2D) geometry.PointInt {
	return m.Stage.StageToPixel(stage)
}

// StageToViewport converts stage microns to a sub-pixel viewport position.
func (m Mapper) StageToViewport(stage geometry.Point2D, v State) geometry.Point2D {
	return ToViewportF(acquisition.ToPixelF(m.Stage, stage), v)
}

// ViewportToStage converts a viewport pixel to stage microns.
func (m Mapper) ViewportToStage(p geometry.PointInt, v State) geometry.Point2D {
	return m.Stage.PixelToStage(FromViewportToFullRes(p, v))
}
