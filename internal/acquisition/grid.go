package acquisition

import (
	"math"

	"magellan/pkg/geometry"
)

// Grid is a rectangular arrangement of stage positions centred on a stage point,
// as previewed while the user drags a new grid around.
type Grid struct {
	Name    string
	Center  geometry.Point2D // stage microns
	Rows    int
	Columns int
	Overlap float64 // fraction of a tile shared with each neighbour, in [0, 1)
}

// Position is one stage position of a grid.
type Position struct {
	Row, Col int
	Stage    geometry.Point2D // stage microns of the tile centre
	Pixels   geometry.RectInt // full-resolution footprint
}

// Translate returns the grid moved by a stage offset.
func (g Grid) Translate(dx, dy float64) Grid {
	g.Center = geometry.Point2D{X: g.Center.X + dx, Y: g.Center.Y + dy}
	return g
}

// Step returns the pixel distance between neighbouring positions.
func (g Grid) Step(tileWidth, tileHeight int) (dx, dy int) {
	ov := math.Max(0, math.Min(g.Overlap, 0.99))
	dx = int(math.Round(float64(tileWidth) * (1 - ov)))
	dy = int(math.Round(float64(tileHeight) * (1 - ov)))
	if dx < 1 {
		dx = 1
	}
	if dy < 1 {
		dy = 1
	}
	return dx, dy
}

// Positions lays out the grid's tiles in full-resolution pixels, row-major.
func (g Grid) Positions(tileWidth, tileHeight int, m StageMapping) []Position {
	if g.Rows <= 0 || g.Columns <= 0 {
		return nil
	}
	stepX, stepY := g.Step(tileWidth, tileHeight)
	totalW := stepX*(g.Columns-1) + tileWidth
	totalH := stepY*(g.Rows-1) + tileHeight

	c := m.StageToPixel(g.Center)
	x0 := c.X - totalW/2
	y0 := c.Y - totalH/2

	out := make([]Position, 0, g.Rows*g.Columns)
	for r := 0; r < g.Rows; r++ {
		for col := 0; col < g.Columns; col++ {
			px := geometry.RectInt{
				X:      x0 + col*stepX,
				Y:      y0 + r*stepY,
				Width:  tileWidth,
				Height: tileHeight,
			}
			centre := geometry.Pt(px.X+tileWidth/2, px.Y+tileHeight/2)
			out = append(out, Position{
				Row:    r,
				Col:    col,
				Stage:  m.PixelToStage(centre),
				Pixels: px,
			})
		}
	}
	return out
}
