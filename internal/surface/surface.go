// Package surface implements the interpolated focus surfaces used to plan 3D
// acquisitions, and the session registry that owns surfaces and grids.
//
// A Surface interpolates Z between user-placed control points. The interpolation
// is sampled on a grid that a background goroutine refines progressively, from
// coarse to the configured minimum spacing, restarting whenever the control
// points change. Readers ask for the current density and wait for a finer one.
package surface

import (
	"context"
	"math"
	"sync"
	"time"

	"magellan/internal/acquisition"
	"magellan/internal/logging"
	"magellan/pkg/geometry"
)

// ControlPoint is a user-placed focus position.
type ControlPoint struct {
	Stage geometry.Point2D `json:"stage" yaml:"stage"`
	Z     float64          `json:"z" yaml:"z"`
}

// Options configures a Surface.
type Options struct {
	Method Method
	// Neighbours is k for IDW; zero uses every control point.
	Neighbours int
	// MinDensity is the finest sample spacing, in full-resolution pixels.
	MinDensity float64
	// PollInterval bounds how long WaitForDensity sleeps between checks.
	PollInterval time.Duration
}

// DefaultOptions returns IDW over 8 neighbours down to 8 pixels per point.
func DefaultOptions() Options {
	return Options{
		Method:       IDW,
		Neighbours:   8,
		MinDensity:   8,
		PollInterval: 20 * time.Millisecond,
	}
}

// sampleGrid holds Z sampled every step pixels from (x0, y0).
type sampleGrid struct {
	x0, y0 float64
	step   float64
	nx, ny int // cells; nodes are (nx+1) x (ny+1)
	z      []float64
}

func (g *sampleGrid) node(i, j int) float64 {
	return g.z[j*(g.nx+1)+i]
}

// at bilinearly interpolates between the four surrounding nodes.
func (g *sampleGrid) at(x, y float64) float64 {
	fx := (x - g.x0) / g.step
	fy := (y - g.y0) / g.step
	i := geometry.Clamp(int(math.Floor(fx)), 0, g.nx-1)
	j := geometry.Clamp(int(math.Floor(fy)), 0, g.ny-1)
	tx := math.Max(0, math.Min(1, fx-float64(i)))
	ty := math.Max(0, math.Min(1, fy-float64(j)))
	top := g.node(i, j)*(1-tx) + g.node(i+1, j)*tx
	bottom := g.node(i, j+1)*(1-tx) + g.node(i+1, j+1)*tx
	return top*(1-ty) + bottom*ty
}

// Surface is an interpolation oracle over a set of control points. All methods
// are safe for concurrent use. Close stops the refinement goroutine.
type Surface struct {
	name    string
	mapping acquisition.StageMapping
	opts    Options

	mu      sync.RWMutex
	points  []ControlPoint
	pixels  []sample
	hull    []geometry.Point2D
	grid    *sampleGrid
	density float64
	gen     uint64
	changed chan struct{}

	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates an empty surface and starts its refinement goroutine.
func New(name string, mapping acquisition.StageMapping, opts Options) *Surface {
	def := DefaultOptions()
	if opts.MinDensity <= 0 {
		opts.MinDensity = def.MinDensity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	s := &Surface{
		name:    name,
		mapping: mapping,
		opts:    opts,
		density: math.Inf(1),
		changed: make(chan struct{}),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the surface name.
func (s *Surface) Name() string { return s.name }

// MinDensity returns the finest density the surface refines to.
func (s *Surface) MinDensity() float64 { return s.opts.MinDensity }

// Density returns the sample spacing, in full-resolution pixels, of the finest
// completed refinement. It is +Inf while nothing is available.
func (s *Surface) Density() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.density
}

// Generation increases every time the control points change.
func (s *Surface) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Add appends a control point at a stage position.
func (s *Surface) Add(stage geometry.Point2D, z float64) {
	s.edit(func() {
		s.points = append(s.points, ControlPoint{Stage: stage, Z: z})
	})
}

// RemoveNearest removes the control point closest to stage if it lies within
// maxDist microns. It reports whether a point was removed.
func (s *Surface) RemoveNearest(stage geometry.Point2D, maxDist float64) bool {
	s.mu.RLock()
	idx := s.nearestLocked(stage, maxDist)
	s.mu.RUnlock()
	if idx < 0 {
		return false
	}

	removed := false
	s.edit(func() {
		if i := s.nearestLocked(stage, maxDist); i >= 0 {
			s.points = append(s.points[:i], s.points[i+1:]...)
			removed = true
		}
	})
	return removed
}

func (s *Surface) nearestLocked(stage geometry.Point2D, maxDist float64) int {
	best, bestDist := -1, maxDist
	for i, p := range s.points {
		if d := p.Stage.Distance(stage); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// ControlPoints returns a copy of the control points.
func (s *Surface) ControlPoints() []ControlPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ControlPoint(nil), s.points...)
}

// ConvexHull returns the hull of the control points in full-resolution pixels,
// counter-clockwise. It has fewer than three vertices until the surface can be
// interpolated.
func (s *Surface) ConvexHull() []geometry.Point2D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]geometry.Point2D(nil), s.hull...)
}

// InterpolatedZ returns the surface height at a full-resolution pixel from the
// current refinement. ok is false outside the hull or before any refinement.
func (s *Surface) InterpolatedZ(x, y float64) (z float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.grid == nil || len(s.hull) < 3 {
		return 0, false
	}
	if !geometry.PointInPolygon(geometry.Point2D{X: x, Y: y}, s.hull) {
		return 0, false
	}
	z = s.grid.at(x, y)
	if math.IsNaN(z) {
		return 0, false
	}
	return z, true
}

// WaitForDensity blocks until Density() <= ppp or ctx is done. Cancellation is
// checked before every wait.
func (s *Surface) WaitForDensity(ctx context.Context, ppp float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		d, changed := s.density, s.changed
		s.mu.RUnlock()
		if d <= ppp {
			return nil
		}

		timer := time.NewTimer(s.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
		case <-s.done:
			timer.Stop()
			return context.Canceled
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Close stops background refinement. Reads remain valid afterwards.
func (s *Surface) Close() {
	s.once.Do(func() {
		close(s.done)
		<-s.stopped
	})
}

// edit applies fn under the write lock, invalidates the refinement and wakes
// the refinement goroutine.
func (s *Surface) edit(fn func()) {
	s.mu.Lock()
	fn()
	s.gen++
	s.pixels = s.pixels[:0]
	pts := make([]geometry.Point2D, 0, len(s.points))
	for _, p := range s.points {
		px := acquisition.ToPixelF(s.mapping, p.Stage)
		s.pixels = append(s.pixels, sample{X: px.X, Y: px.Y, Z: p.Z})
		pts = append(pts, px)
	}
	s.hull = geometry.ConvexHull(pts)
	s.grid = nil
	s.density = math.Inf(1)
	s.broadcastLocked()
	s.mu.Unlock()

	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Surface) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Surface) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
		}
		s.refine()
	}
}

// refine samples the interpolation over the hull's bounding box at halving
// spacings until MinDensity, abandoning as soon as the points change again.
func (s *Surface) refine() {
	s.mu.RLock()
	gen := s.gen
	pts := append([]sample(nil), s.pixels...)
	hull := append([]geometry.Point2D(nil), s.hull...)
	s.mu.RUnlock()

	if len(hull) < 3 {
		return
	}
	interp := newInterpolator(s.opts.Method, pts, s.opts.Neighbours)
	bbox := geometry.BoundingBox(hull)

	stale := func() bool {
		select {
		case <-s.done:
			return true
		default:
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.gen != gen
	}

	for _, step := range refinementSteps(math.Max(bbox.Width, bbox.Height), s.opts.MinDensity) {
		g, ok := sampleRect(bbox, step, interp, stale)
		if !ok {
			return
		}
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.grid = g
		s.density = step
		s.broadcastLocked()
		s.mu.Unlock()
		logging.Logger().Debug("surface refined", "surface", s.name, "pixelsPerPoint", step)
	}
}

// refinementSteps returns spacings minDensity*2^k, ..., minDensity, starting at
// the largest one not above a quarter of extent.
func refinementSteps(extent, minDensity float64) []float64 {
	start := minDensity
	for start*2 <= extent/4 {
		start *= 2
	}
	var steps []float64
	for d := start; d >= minDensity; d /= 2 {
		steps = append(steps, d)
	}
	return steps
}

func sampleRect(r geometry.Rect, step float64, interp interpolator, stale func() bool) (*sampleGrid, bool) {
	g := &sampleGrid{
		x0:   r.X,
		y0:   r.Y,
		step: step,
		nx:   max(int(math.Ceil(r.Width/step)), 1),
		ny:   max(int(math.Ceil(r.Height/step)), 1),
	}
	g.z = make([]float64, (g.nx+1)*(g.ny+1))
	for j := 0; j <= g.ny; j++ {
		if stale() {
			return nil, false
		}
		y := g.y0 + float64(j)*step
		for i := 0; i <= g.nx; i++ {
			g.z[j*(g.nx+1)+i] = interp.z(g.x0+float64(i)*step, y)
		}
	}
	return g, true
}
