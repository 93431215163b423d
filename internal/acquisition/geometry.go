package acquisition

import (
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned by Validate for non-positive tile sizes or grid
// dimensions.
var ErrInvalidGeometry = errors.New("invalid acquisition geometry")

// Geometry describes the tile grid of one acquisition.
type Geometry struct {
	Name       string
	Explore    bool // open-ended explore acquisition; Rows/Columns are ignored
	Rows       int
	Columns    int
	TileWidth  int // full-resolution pixels
	TileHeight int
	ZStep      float64 // microns between focal planes
	ZOrigin    float64 // microns, Z of slice 0
}

// Validate checks that the geometry can address tiles.
func (g Geometry) Validate() error {
	if g.TileWidth <= 0 || g.TileHeight <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "tile size %dx%d", g.TileWidth, g.TileHeight)
	}
	if !g.Explore && (g.Rows <= 0 || g.Columns <= 0) {
		return errors.Wrapf(ErrInvalidGeometry, "grid %dx%d", g.Rows, g.Columns)
	}
	if g.ZStep < 0 {
		return errors.Wrapf(ErrInvalidGeometry, "z step %g", g.ZStep)
	}
	return nil
}

// IsBounded reports whether this is a fixed-area acquisition.
func (g Geometry) IsBounded() bool {
	return !g.Explore
}

// NumRows returns the row count; zero for explore acquisitions.
func (g Geometry) NumRows() int {
	if g.Explore {
		return 0
	}
	return g.Rows
}

// NumColumns returns the column count; zero for explore acquisitions.
func (g Geometry) NumColumns() int {
	if g.Explore {
		return 0
	}
	return g.Columns
}

// Extent returns the acquisition extent in full-resolution pixels.
func (g Geometry) Extent() Extent {
	if g.Explore {
		return Unbounded()
	}
	return Bounded(g.Columns*g.TileWidth, g.Rows*g.TileHeight)
}

// MaxResolutionLevel returns the coarsest level the viewer may display, or -1 when
// unbounded. Fixed-area acquisitions stop at the level where a tile still covers
// at least one pixel.
func (g Geometry) MaxResolutionLevel() int {
	if g.Explore {
		return -1
	}
	side := g.TileWidth
	if g.TileHeight < side {
		side = g.TileHeight
	}
	level := 0
	for side>>(level+1) >= 1 {
		level++
	}
	return level
}

// SliceZ returns the stage Z of slice index i.
func (g Geometry) SliceZ(i int) float64 {
	return g.ZOrigin + float64(i)*g.ZStep
}

// TileRect returns the full-resolution pixel rectangle covered by a tile.
func (g Geometry) TileRect(t TileIndex) geometry.RectInt {
	return geometry.RectInt{
		X:      t.Col * g.TileWidth,
		Y:      t.Row * g.TileHeight,
		Width:  g.TileWidth,
		Height: g.TileHeight,
	}
}
