// Package render computes viewer overlays on a single background worker.
//
// Callers submit a Snapshot of everything an overlay depends on. Cheap modes
// are drawn in one pass; surface mode publishes a base overlay at once and
// then progressively finer interpolation passes. A newer request that changes
// the surface, the mode or the view cancels the running job, which then
// publishes nothing further.
package render

import (
	"context"

	"magellan/internal/acquisition"
	"magellan/internal/interaction"
	"magellan/internal/overlay"
	"magellan/internal/surface"
	"magellan/internal/viewport"
	"magellan/pkg/geometry"
)

// Sink receives finished overlays. Publish is called from the worker goroutine
// in job order.
type Sink interface {
	Publish(o *overlay.Overlay)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(o *overlay.Overlay)

// Publish implements Sink.
func (f SinkFunc) Publish(o *overlay.Overlay) { f(o) }

// Oracle is the interpolation surface consulted by surface-mode jobs.
// Implementations must allow concurrent reads while being edited.
type Oracle interface {
	// Density is the finest completed refinement in full-resolution pixels per
	// interpolation point.
	Density() float64
	MinDensity() float64
	// WaitForDensity returns once Density() <= ppp, or ctx's error.
	WaitForDensity(ctx context.Context, ppp float64) error
	// InterpolatedZ is evaluated at full-resolution pixel coordinates.
	InterpolatedZ(x, y float64) (float64, bool)
	ControlPoints() []surface.ControlPoint
	// ConvexHull is in full-resolution pixels.
	ConvexHull() []geometry.Point2D
}

// Snapshot is the state a job renders. It is copied at submission; the worker
// never reads the caller's live state.
type Snapshot struct {
	Mode     interaction.Mode
	View     viewport.State
	Geometry acquisition.Geometry
	Mapping  acquisition.StageMapping

	ScaleBar   bool
	DisplayedZ float64

	// Explore mode.
	Hover     *acquisition.TileIndex
	Selection *acquisition.TileRange
	Queued    []acquisition.TileIndex

	// Grid preview and surface footprint.
	Grid *acquisition.Grid

	// Surface mode.
	Surface Oracle
}

// clone deep-copies the slices and pointers a caller might keep mutating.
func (s Snapshot) clone() Snapshot {
	if s.Hover != nil {
		h := *s.Hover
		s.Hover = &h
	}
	if s.Selection != nil {
		r := *s.Selection
		s.Selection = &r
	}
	if s.Grid != nil {
		g := *s.Grid
		s.Grid = &g
	}
	s.Queued = append([]acquisition.TileIndex(nil), s.Queued...)
	return s
}

// Job is one render request.
type Job struct {
	ID             uint64
	Snapshot       Snapshot
	SurfaceChanged bool
}

// supersedes reports whether j must interrupt a running job for the given
// mode and view.
func (j *Job) supersedes(mode interaction.Mode, view viewport.State) bool {
	return j.SurfaceChanged || j.Snapshot.Mode != mode || j.Snapshot.View != view
}
