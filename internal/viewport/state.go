// Package viewport implements the coordinate model and the zoom/pan state
// machine of the tiled image viewer.
//
// Three coordinate spaces are involved:
//   - stage coordinates: physical microns, float, produced by the hardware;
//   - full-resolution pixels: the integer grid of resolution level 0;
//   - viewport pixels: the integer grid of the on-screen canvas, at the current
//     resolution level and offset by the view origin.
//
// Resolution level L has downsample factor 2^L. Divisions by the factor are
// arithmetic shifts, so they floor for the negative coordinates that explore
// acquisitions produce.
package viewport

import (
	"fmt"

	"magellan/internal/acquisition"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidGeometry is returned for degenerate input such as a zero-size
	// viewport, a non-positive tile size or an inverted tile range.
	ErrInvalidGeometry = errors.New("invalid viewport geometry")
	// ErrResolutionExhausted is returned when a zoom needs a level the pyramid
	// cannot build. The returned state is the unchanged input.
	ErrResolutionExhausted = errors.New("no coarser resolution level available")
)

// State is the view onto the pyramid. Origin is in pixels of the current level.
type State struct {
	Level  int
	Origin geometry.PointInt
	Width  int
	Height int
	// Extent bounds panning for fixed-area acquisitions. Unbounded (the zero
	// value) leaves panning free in every direction.
	Extent acquisition.Extent
}

// Validate rejects viewports that cannot map coordinates.
func (s State) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "viewport size %dx%d", s.Width, s.Height)
	}
	if s.Level < 0 {
		return errors.Wrapf(ErrInvalidGeometry, "resolution level %d", s.Level)
	}
	return nil
}

// Center returns the geometric center of the viewport in viewport pixels.
func (s State) Center() geometry.PointInt {
	return geometry.Pt(s.Width/2, s.Height/2)
}

// MaxOrigin returns the largest legal origin at the given level. ok is false
// when the extent is unbounded.
func (s State) MaxOrigin(level int) (maxX, maxY int, ok bool) {
	w, h, ok := s.Extent.Size()
	if !ok {
		return 0, 0, false
	}
	maxX = max(w>>level-s.Width, 0)
	maxY = max(h>>level-s.Height, 0)
	return maxX, maxY, true
}

// PanBounds returns MaxOrigin for the current level.
func (s State) PanBounds() (maxX, maxY int, ok bool) {
	return s.MaxOrigin(s.Level)
}

// clamped returns s with its origin forced into the pan bounds, if any.
func (s State) clamped() State {
	maxX, maxY, ok := s.PanBounds()
	if !ok {
		return s
	}
	s.Origin.X = geometry.Clamp(s.Origin.X, 0, maxX)
	s.Origin.Y = geometry.Clamp(s.Origin.Y, 0, maxY)
	return s
}

// VisibleFullRes returns the full-resolution rectangle the viewport shows.
func (s State) VisibleFullRes() geometry.RectInt {
	tl := FromViewportToFullRes(geometry.Pt(0, 0), s)
	br := FromViewportToFullRes(geometry.Pt(s.Width, s.Height), s)
	return geometry.RectFromEdges(tl.X, tl.Y, br.X, br.Y)
}

func (s State) String() string {
	return fmt.Sprintf("level=%d origin=(%d,%d) size=%dx%d %s",
		s.Level, s.Origin.X, s.Origin.Y, s.Width, s.Height, s.Extent)
}
