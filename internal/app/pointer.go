package app

import (
	"magellan/internal/acquisition"
	"magellan/internal/interaction"
	"magellan/internal/logging"
	"magellan/internal/viewport"
	"magellan/pkg/geometry"
)

// PointerMoved updates the hovered tile in explore mode.
func (s *Session) PointerMoved(p geometry.PointInt) {
	if s.Mode() != interaction.Explore {
		return
	}
	var hover *acquisition.TileIndex
	if t, err := s.TileIndexOf(p); err == nil && s.inExtent(t) {
		hover = &t
	}

	s.mu.Lock()
	changed := !sameTile(s.hover, hover)
	s.hover = hover
	s.mu.Unlock()
	if !changed {
		return
	}
	s.Emit(EventHoverChanged, hover)
	s.RequestRender(false)
}

// PointerLeft clears the hover highlight.
func (s *Session) PointerLeft() {
	s.mu.Lock()
	had := s.hover != nil
	s.hover = nil
	s.mu.Unlock()
	if had {
		s.Emit(EventHoverChanged, (*acquisition.TileIndex)(nil))
		s.RequestRender(false)
	}
}

// Drag handles one step of a pointer drag: p is the current position and
// (dx, dy) the movement since the previous step. Explore mode drags out a tile
// selection, NEWGRID mode moves the current grid, and every other mode pans.
func (s *Session) Drag(p geometry.PointInt, dx, dy int) {
	switch s.Mode() {
	case interaction.Explore:
		s.dragSelection(p, dx, dy)
	case interaction.NewGrid:
		s.dragGrid(p, dx, dy)
	default:
		if err := s.Pan(-dx, -dy); err != nil {
			logging.Logger().Warn("pan failed", "err", err)
		}
	}
}

// beginDrag records the drag start on the first step of a drag.
func (s *Session) beginDrag(p geometry.PointInt, dx, dy int) *dragState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag != nil {
		return s.drag
	}
	start := geometry.Pt(p.X-dx, p.Y-dy)
	d := &dragState{start: start}
	if t, err := s.tiles.TileIndexOf(start, s.view); err == nil {
		d.startTile = t
	}
	s.drag = d
	return d
}

func (s *Session) dragSelection(p geometry.PointInt, dx, dy int) {
	d := s.beginDrag(p, dx, dy)
	t, err := s.TileIndexOf(p)
	if err != nil {
		return
	}
	r := acquisition.RangeOf(d.startTile, t)

	s.mu.Lock()
	changed := s.selection == nil || *s.selection != r
	s.selection = &r
	s.mu.Unlock()
	if changed {
		s.RequestRender(false)
	}
}

func (s *Session) dragGrid(p geometry.PointInt, dx, dy int) {
	d := s.beginDrag(p, dx, dy)
	if !d.hasGrid {
		g, ok := s.registry.CurrentGrid()
		if !ok {
			return
		}
		s.mu.Lock()
		d.startGrid, d.hasGrid = g, true
		s.mu.Unlock()
	}
	from, to := s.StageAt(d.start), s.StageAt(p)
	g := d.startGrid.Translate(to.X-from.X, to.Y-from.Y)
	if err := s.registry.UpdateGrid(g); err != nil {
		logging.Logger().Warn("move grid", "err", err)
	}
}

// DragEnd finishes a drag. An explore selection is queued for acquisition.
func (s *Session) DragEnd() {
	s.mu.Lock()
	sel := s.selection
	s.drag = nil
	s.selection = nil
	s.mu.Unlock()

	if sel == nil {
		return
	}
	var tiles []acquisition.TileIndex
	for _, t := range sel.Tiles() {
		if s.inExtent(t) {
			tiles = append(tiles, t)
		}
	}
	s.enqueue(tiles...)
	s.RequestRender(false)
}

// Click handles a primary click at p.
func (s *Session) Click(p geometry.PointInt) {
	switch s.Mode() {
	case interaction.Explore:
		if t, err := s.TileIndexOf(p); err == nil && s.inExtent(t) {
			s.enqueue(t)
			s.RequestRender(false)
		}
	case interaction.Goto:
		if err := s.CenterOnStage(s.StageAt(p)); err != nil {
			logging.Logger().Warn("goto failed", "err", err)
		}
	case interaction.NewGrid:
		if g, ok := s.registry.CurrentGrid(); ok {
			g.Center = s.StageAt(p)
			if err := s.registry.UpdateGrid(g); err != nil {
				logging.Logger().Warn("move grid", "err", err)
			}
		}
	case interaction.NewSurface:
		sf := s.registry.CurrentSurface()
		if sf == nil {
			return
		}
		sf.Add(s.StageAt(p), s.DisplayedZ())
		s.RequestRender(true)
	}
}

// SecondaryClick removes the control point nearest to p in NEWSURFACE mode.
func (s *Session) SecondaryClick(p geometry.PointInt) {
	if s.Mode() != interaction.NewSurface {
		return
	}
	sf := s.registry.CurrentSurface()
	if sf == nil {
		return
	}
	v := s.View()
	maxDist := removeRadius * float64(viewport.DownsampleFactor(v.Level)) * acquisition.PixelSizeUM(s.mapping)
	if sf.RemoveNearest(s.StageAt(p), maxDist) {
		s.RequestRender(true)
	}
}

func (s *Session) enqueue(tiles ...acquisition.TileIndex) {
	if added := s.queue.Enqueue(tiles...); added > 0 {
		s.Emit(EventQueueChanged, s.queue.Len())
	}
}

// inExtent reports whether a tile lies inside a bounded acquisition. Every
// tile is inside an explore acquisition.
func (s *Session) inExtent(t acquisition.TileIndex) bool {
	if s.geometry.Explore {
		return true
	}
	return t.Row >= 0 && t.Col >= 0 && t.Row < s.geometry.NumRows() && t.Col < s.geometry.NumColumns()
}

func sameTile(a, b *acquisition.TileIndex) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
