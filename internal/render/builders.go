package render

import (
	"context"
	"fmt"
	"math"

	"magellan/internal/acquisition"
	"magellan/internal/interaction"
	"magellan/internal/overlay"
	"magellan/internal/viewport"
	"magellan/pkg/colorutil"
	"magellan/pkg/geometry"
)

const (
	scaleBarMargin   = 10
	scaleBarHeight   = 4
	markerRadius     = 4
	minCellPixels    = 4
	surfaceCellAlpha = 110
)

var (
	queuedFill    = colorutil.WithAlpha(colorutil.Cyan, 60)
	selectionFill = colorutil.WithAlpha(colorutil.Yellow, 50)
)

// builder draws primitives for one snapshot. Every method that loops over a
// region checks ctx once per unit of work and returns ctx's error.
type builder struct {
	snap    Snapshot
	mapper  viewport.Mapper
	tiles   *viewport.TileIndexer // nil without a valid tile size
	// visible is the full-resolution area in view.
	visible geometry.RectInt
}

func newBuilder(s Snapshot) *builder {
	b := &builder{
		snap:    s,
		mapper:  viewport.Mapper{Stage: s.Mapping},
		visible: s.View.VisibleFullRes(),
	}
	if tiles, err := viewport.NewTileIndexer(s.Geometry.TileWidth, s.Geometry.TileHeight); err == nil {
		b.tiles = &tiles
	}
	return b
}

func (b *builder) newOverlay() *overlay.Overlay {
	o := overlay.New(b.snap.View.Width, b.snap.View.Height)
	o.Mode = b.snap.Mode
	return o
}

// base is the single-pass overlay of the snapshot's mode: the scale bar plus
// the mode's own primitives. For surface mode it is the control points and
// their hull, drawn before any interpolation is available.
func (b *builder) base(ctx context.Context) (*overlay.Overlay, error) {
	o := b.newOverlay()
	if b.snap.ScaleBar {
		o.Add(b.scaleBar()...)
	}

	var prims []overlay.Primitive
	var err error
	switch b.snap.Mode {
	case interaction.Explore:
		prims, err = b.explore(ctx)
	case interaction.Goto:
		prims = b.crosshair()
	case interaction.NewGrid:
		prims, err = b.gridPreview(ctx)
	case interaction.NewSurface:
		prims, err = b.surfaceBase(ctx)
	}
	if err != nil {
		return nil, err
	}
	o.Add(prims...)
	return o, nil
}

// niceLength returns the largest 1, 2 or 5 x 10^n not above v.
func niceLength(v float64) float64 {
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	exp := math.Pow(10, math.Floor(math.Log10(v)))
	for _, m := range []float64{5, 2, 1} {
		if m*exp <= v {
			return m * exp
		}
	}
	return exp
}

func formatLength(um float64) string {
	if um >= 1000 {
		return fmt.Sprintf("%g mm", um/1000)
	}
	return fmt.Sprintf("%g um", um)
}

// scaleBar draws a bar about a fifth of the viewport wide at the bottom left.
func (b *builder) scaleBar() []overlay.Primitive {
	if b.snap.Mapping == nil {
		return nil
	}
	umPerPixel := acquisition.PixelSizeUM(b.snap.Mapping) * float64(viewport.DownsampleFactor(b.snap.View.Level))
	length := niceLength(float64(b.snap.View.Width) / 5 * umPerPixel)
	if length == 0 {
		return nil
	}
	barPx := length / umPerPixel
	y := float64(b.snap.View.Height - scaleBarMargin - scaleBarHeight)
	bar := geometry.Rect{X: scaleBarMargin, Y: y, Width: barPx, Height: scaleBarHeight}
	return []overlay.Primitive{
		overlay.FilledRect(bar, colorutil.White),
		overlay.Text(geometry.Point2D{X: scaleBarMargin, Y: y - 4}, formatLength(length), colorutil.White),
	}
}

func (b *builder) crosshair() []overlay.Primitive {
	c := b.snap.View.Center().ToFloat()
	const arm = 10
	return []overlay.Primitive{
		overlay.Line(geometry.Point2D{X: c.X - arm, Y: c.Y}, geometry.Point2D{X: c.X + arm, Y: c.Y}, colorutil.Green, 1),
		overlay.Line(geometry.Point2D{X: c.X, Y: c.Y - arm}, geometry.Point2D{X: c.X, Y: c.Y + arm}, colorutil.Green, 1),
	}
}

// explore highlights queued tiles, the hovered tile and the range being
// dragged out.
func (b *builder) explore(ctx context.Context) ([]overlay.Primitive, error) {
	if b.tiles == nil {
		return nil, nil
	}
	var prims []overlay.Primitive
	for _, t := range b.snap.Queued {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := b.snap.Geometry.TileRect(t)
		if !r.Intersects(b.visible) {
			continue
		}
		prims = append(prims, overlay.FilledRect(b.viewRect(r), queuedFill))
	}
	if sel := b.snap.Selection; sel != nil {
		if r, err := b.tiles.HighlightRegion(*sel, b.snap.View); err == nil {
			prims = append(prims,
				overlay.FilledRect(r.ToFloat(), selectionFill),
				overlay.RectOutline(r.ToFloat(), colorutil.Yellow, 1))
		}
	} else if h := b.snap.Hover; h != nil {
		if r, err := b.tiles.HighlightRegion(acquisition.RangeOf(*h, *h), b.snap.View); err == nil {
			prims = append(prims, overlay.RectOutline(r.ToFloat(), colorutil.White, 1))
		}
	}
	return prims, nil
}

// viewRect converts a full-resolution rectangle to viewport pixels.
func (b *builder) viewRect(r geometry.RectInt) geometry.Rect {
	tl := viewport.ToViewportF(geometry.Point2D{X: float64(r.X), Y: float64(r.Y)}, b.snap.View)
	br := viewport.ToViewportF(geometry.Point2D{X: float64(r.MaxX()), Y: float64(r.MaxY())}, b.snap.View)
	return geometry.Rect{X: tl.X, Y: tl.Y, Width: br.X - tl.X, Height: br.Y - tl.Y}
}

// gridPreview outlines every tile position of the grid being placed.
func (b *builder) gridPreview(ctx context.Context) ([]overlay.Primitive, error) {
	g := b.snap.Grid
	if g == nil || b.snap.Mapping == nil {
		return nil, nil
	}
	var prims []overlay.Primitive
	positions := g.Positions(b.snap.Geometry.TileWidth, b.snap.Geometry.TileHeight, b.snap.Mapping)
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prims = append(prims, overlay.RectOutline(b.viewRect(p.Pixels), colorutil.Magenta, 1))
	}
	center := b.mapper.StageToViewport(g.Center, b.snap.View)
	prims = append(prims,
		overlay.Marker(center, colorutil.Magenta, markerRadius),
		overlay.Text(geometry.Point2D{X: center.X + 6, Y: center.Y - 6},
			fmt.Sprintf("%s %dx%d", g.Name, g.Rows, g.Columns), colorutil.Magenta))
	return prims, nil
}

// surfaceBase draws control points and their convex hull.
func (b *builder) surfaceBase(ctx context.Context) ([]overlay.Primitive, error) {
	s := b.snap.Surface
	if s == nil || b.snap.Mapping == nil {
		return nil, nil
	}
	var prims []overlay.Primitive
	hull := s.ConvexHull()
	if len(hull) >= 3 {
		pts := make([]geometry.Point2D, len(hull))
		for i, h := range hull {
			pts[i] = viewport.ToViewportF(h, b.snap.View)
		}
		prims = append(prims, overlay.Polygon(pts, colorutil.Cyan, false, 1))
	}
	for _, cp := range s.ControlPoints() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := b.mapper.StageToViewport(cp.Stage, b.snap.View)
		prims = append(prims, overlay.Marker(at, colorutil.Red, markerRadius))
	}
	return prims, nil
}

// halfZStep is the focal tolerance used for colouring and footprints.
func (b *builder) halfZStep() float64 {
	if b.snap.Geometry.ZStep > 0 {
		return b.snap.Geometry.ZStep / 2
	}
	return 0.5
}

// cellStep returns the side, in viewport pixels, of a surface cell sampled at
// ppp full-resolution pixels per point.
func (b *builder) cellStep(ppp float64) float64 {
	return math.Max(ppp/float64(viewport.DownsampleFactor(b.snap.View.Level)), minCellPixels)
}

// surfaceCells colours each cell of the visible part of the hull by how far the
// interpolated surface lies from the displayed focal plane.
func (b *builder) surfaceCells(ctx context.Context, ppp float64) ([]overlay.Primitive, error) {
	s := b.snap.Surface
	hull := s.ConvexHull()
	if len(hull) < 3 {
		return nil, nil
	}
	box := geometry.BoundingBox(hull)
	tl := viewport.ToViewportF(geometry.Point2D{X: box.X, Y: box.Y}, b.snap.View)
	br := viewport.ToViewportF(geometry.Point2D{X: box.X + box.Width, Y: box.Y + box.Height}, b.snap.View)
	x0, y0 := math.Max(tl.X, 0), math.Max(tl.Y, 0)
	x1 := math.Min(br.X, float64(b.snap.View.Width))
	y1 := math.Min(br.Y, float64(b.snap.View.Height))

	step := b.cellStep(ppp)
	half := b.halfZStep()
	var prims []overlay.Primitive
	for y := y0; y < y1; y += step {
		for x := x0; x < x1; x += step {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			center := viewport.FromViewportF(geometry.Point2D{X: x + step/2, Y: y + step/2}, b.snap.View)
			z, ok := s.InterpolatedZ(center.X, center.Y)
			if !ok {
				continue
			}
			c := colorutil.WithAlpha(colorutil.Ice((b.snap.DisplayedZ-z)/half), surfaceCellAlpha)
			prims = append(prims, overlay.FilledRect(geometry.Rect{X: x, Y: y, Width: step, Height: step}, c))
		}
	}
	return prims, nil
}

// footprint outlines grid positions whose tile spans the displayed focal plane
// within half a z step.
func (b *builder) footprint(ctx context.Context) ([]overlay.Primitive, error) {
	g, s := b.snap.Grid, b.snap.Surface
	if g == nil || s == nil || b.snap.Mapping == nil {
		return nil, nil
	}
	half := b.halfZStep()
	var prims []overlay.Primitive
	for _, p := range g.Positions(b.snap.Geometry.TileWidth, b.snap.Geometry.TileHeight, b.snap.Mapping) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lo, hi, ok := zRange(s, p.Pixels)
		if !ok {
			continue
		}
		if b.snap.DisplayedZ >= lo-half && b.snap.DisplayedZ <= hi+half {
			prims = append(prims, overlay.RectOutline(b.viewRect(p.Pixels), colorutil.Green, 2))
		}
	}
	return prims, nil
}

// zRange samples the surface at the four corners of a full-resolution rect.
func zRange(s Oracle, r geometry.RectInt) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	corners := [4][2]int{{r.X, r.Y}, {r.MaxX(), r.Y}, {r.X, r.MaxY()}, {r.MaxX(), r.MaxY()}}
	for _, c := range corners {
		z, in := s.InterpolatedZ(float64(c[0]), float64(c[1]))
		if !in {
			continue
		}
		ok = true
		lo, hi = math.Min(lo, z), math.Max(hi, z)
	}
	return lo, hi, ok
}
