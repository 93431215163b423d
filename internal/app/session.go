// Package app wires the viewport core into a viewer session. A Session owns the
// view state, the interaction mode, the surfaces and grids, and the overlay
// pipeline, and turns pointer input into edits and render requests.
package app

import (
	"context"
	"image"
	"sync"

	"magellan/internal/acquisition"
	"magellan/internal/interaction"
	"magellan/internal/logging"
	"magellan/internal/render"
	"magellan/internal/surface"
	"magellan/internal/viewport"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

// EventType identifies session events.
type EventType int

const (
	EventViewChanged       EventType = iota // viewport.State
	EventModeChanged                        // interaction.Mode
	EventHoverChanged                       // *acquisition.TileIndex, nil when off the tiles
	EventQueueChanged                       // int, tiles pending
	EventDisplayedZChanged                  // float64
	EventTileAdded                          // acquisition.TileIndex
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Pyramid is the tile storage a session displays.
type Pyramid interface {
	viewport.LevelSource
	Tile(level, x, y, w, h int) (image.Image, error)
	AddTile(idx acquisition.TileIndex, img image.Image)
}

// removeRadius is how close, in viewport pixels, a secondary click must be to
// a control point to remove it.
const removeRadius = 10.0

// Options configures a Session.
type Options struct {
	Geometry acquisition.Geometry
	Mapping  acquisition.StageMapping
	Pyramid  Pyramid
	Sink     render.Sink

	Width, Height int
	InitialLevel  int
	ScaleBar      bool

	// Grid is the template for grids created on entering NEWGRID. Name and
	// Center are filled in.
	Grid    acquisition.Grid
	Surface surface.Options
	Render  render.Options
}

// dragState tracks one pointer drag from press to release.
type dragState struct {
	start     geometry.PointInt
	startTile acquisition.TileIndex
	startGrid acquisition.Grid
	hasGrid   bool
}

// Session is one viewer session. Its methods may be called from any goroutine;
// overlays are delivered to the sink from the render worker.
type Session struct {
	mu sync.RWMutex

	geometry   acquisition.Geometry
	mapping    acquisition.StageMapping
	pyramid    Pyramid
	controller *viewport.Controller
	tiles      viewport.TileIndexer

	view       viewport.State
	displayedZ float64
	scaleBar   bool
	hover      *acquisition.TileIndex
	selection  *acquisition.TileRange
	drag       *dragState

	gridTemplate acquisition.Grid
	surfaceOpts  surface.Options

	mode     interaction.Machine
	registry *surface.Registry
	queue    *acquisition.TileQueue
	pipeline *render.Pipeline

	listeners map[EventType][]EventListener
}

// NewSession validates opts and starts the overlay pipeline. The first render
// is requested before it returns.
func NewSession(opts Options) (*Session, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	if opts.Mapping == nil {
		return nil, errors.New("stage mapping is required")
	}
	if opts.Pyramid == nil {
		return nil, errors.New("tile pyramid is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("overlay sink is required")
	}
	tiles, err := viewport.NewTileIndexer(opts.Geometry.TileWidth, opts.Geometry.TileHeight)
	if err != nil {
		return nil, err
	}
	view := viewport.State{Width: opts.Width, Height: opts.Height, Extent: opts.Geometry.Extent()}
	if err := view.Validate(); err != nil {
		return nil, err
	}
	controller := viewport.NewController(opts.Pyramid, opts.Geometry.MaxResolutionLevel())
	if opts.InitialLevel > 0 {
		zoomed, err := controller.Zoom(nil, opts.InitialLevel, view)
		if err != nil {
			logging.Logger().Warn("initial zoom failed", "level", opts.InitialLevel, "err", err)
		}
		view = zoomed
	}

	s := &Session{
		geometry:     opts.Geometry,
		mapping:      opts.Mapping,
		pyramid:      opts.Pyramid,
		controller:   controller,
		tiles:        tiles,
		view:         view,
		displayedZ:   opts.Geometry.ZOrigin,
		scaleBar:     opts.ScaleBar,
		gridTemplate: opts.Grid,
		surfaceOpts:  opts.Surface,
		registry:     surface.NewRegistry(),
		queue:        acquisition.NewTileQueue(),
		pipeline:     render.New(opts.Sink, opts.Render),
		listeners:    make(map[EventType][]EventListener),
	}
	s.mode.OnChange(s.modeChanged)
	s.registry.On(surface.EventSelectionChanged, func(string) { s.RequestRender(true) })
	s.registry.On(surface.EventGridChanged, func(string) { s.RequestRender(false) })

	logging.Logger().Info("session started", "acquisition", opts.Geometry.Name,
		"extent", view.Extent.String(), "view", view.String())
	s.RequestRender(false)
	return s, nil
}

// On registers an event listener for the specified event type.
func (s *Session) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *Session) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Close stops the pipeline and every surface.
func (s *Session) Close() {
	s.pipeline.Close()
	s.registry.Close()
}

// Registry returns the session's surfaces and grids.
func (s *Session) Registry() *surface.Registry { return s.registry }

// Queue returns the explore tiles waiting for acquisition.
func (s *Session) Queue() *acquisition.TileQueue { return s.queue }

// TakeQueued drains the explore queue for acquisition and clears its
// highlights.
func (s *Session) TakeQueued() []acquisition.TileIndex {
	tiles := s.queue.Drain()
	if len(tiles) == 0 {
		return tiles
	}
	s.Emit(EventQueueChanged, 0)
	s.RequestRender(false)
	return tiles
}

// Geometry returns the acquisition geometry.
func (s *Session) Geometry() acquisition.Geometry { return s.geometry }

// Mapping returns the stage mapping.
func (s *Session) Mapping() acquisition.StageMapping { return s.mapping }

// NeedsUpdate reports whether an overlay job was interrupted and its
// replacement has not started yet.
func (s *Session) NeedsUpdate() bool { return s.pipeline.NeedsUpdate() }

// WaitIdle blocks until the overlay pipeline has nothing left to do.
func (s *Session) WaitIdle(ctx context.Context) error { return s.pipeline.WaitIdle(ctx) }

// View returns the current viewport state.
func (s *Session) View() viewport.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetViewport replaces the view. The extent always follows the acquisition
// and the origin is clamped on bounded acquisitions.
func (s *Session) SetViewport(v viewport.State) error {
	v.Extent = s.geometry.Extent()
	next, err := s.controller.Pan(0, 0, v)
	if err != nil {
		return err
	}
	s.setView(next)
	return nil
}

// Resize keeps level and origin and changes the viewport size.
func (s *Session) Resize(width, height int) error {
	v := s.View()
	if v.Width == width && v.Height == height {
		return nil
	}
	v.Width, v.Height = width, height
	return s.SetViewport(v)
}

// Zoom changes the resolution level by numLevels (positive zooms out) about
// cursor, or about the viewport center when cursor is nil. When the pyramid
// cannot provide the level the view is left unchanged and
// viewport.ErrResolutionExhausted is returned.
func (s *Session) Zoom(cursor *geometry.PointInt, numLevels int) error {
	next, err := s.controller.Zoom(cursor, numLevels, s.View())
	if err != nil {
		if errors.Is(err, viewport.ErrResolutionExhausted) {
			logging.Logger().Warn("zoom ignored", "err", err)
		}
		return err
	}
	s.setView(next)
	return nil
}

// Pan moves the origin by (dx, dy) viewport pixels.
func (s *Session) Pan(dx, dy int) error {
	next, err := s.controller.Pan(dx, dy, s.View())
	if err != nil {
		return err
	}
	s.setView(next)
	return nil
}

// CenterOnStage pans so that a stage position is in the viewport center.
func (s *Session) CenterOnStage(stage geometry.Point2D) error {
	full := viewport.Mapper{Stage: s.mapping}.ToFullRes(stage)
	next, err := s.controller.CenterOn(full, s.View())
	if err != nil {
		return err
	}
	s.setView(next)
	return nil
}

func (s *Session) setView(v viewport.State) {
	s.mu.Lock()
	changed := s.view != v
	s.view = v
	s.mu.Unlock()
	if !changed {
		return
	}
	s.Emit(EventViewChanged, v)
	s.RequestRender(false)
}

// Mode returns the current interaction mode.
func (s *Session) Mode() interaction.Mode { return s.mode.Get() }

// SetMode changes the interaction mode.
func (s *Session) SetMode(m interaction.Mode) { s.mode.Set(m) }

// ToggleMode enters m, or returns to None when m is already current.
func (s *Session) ToggleMode(m interaction.Mode) interaction.Mode { return s.mode.Toggle(m) }

func (s *Session) modeChanged(from, to interaction.Mode) {
	s.mu.Lock()
	s.drag = nil
	s.selection = nil
	if to != interaction.Explore {
		s.hover = nil
	}
	s.mu.Unlock()

	switch to {
	case interaction.NewSurface:
		s.ensureSurface()
	case interaction.NewGrid:
		s.ensureGrid()
	}
	logging.Logger().Info("interaction mode changed", "from", from, "to", to)
	s.Emit(EventModeChanged, to)
	s.RequestRender(false)
}

// ensureSurface creates and selects a surface when none is selected.
func (s *Session) ensureSurface() {
	if s.registry.CurrentSurface() != nil {
		return
	}
	name := s.registry.UniqueName("Surface")
	if err := s.registry.AddSurface(surface.New(name, s.mapping, s.surfaceOpts)); err != nil {
		logging.Logger().Warn("create surface", "err", err)
	}
}

// ensureGrid creates a grid centred in the view when none is selected.
func (s *Session) ensureGrid() {
	if _, ok := s.registry.CurrentGrid(); ok {
		return
	}
	g := s.gridTemplate
	g.Name = s.registry.UniqueName("Grid")
	if g.Rows <= 0 {
		g.Rows = 3
	}
	if g.Columns <= 0 {
		g.Columns = 3
	}
	v := s.View()
	g.Center = viewport.Mapper{Stage: s.mapping}.ViewportToStage(v.Center(), v)
	if err := s.registry.AddGrid(g); err != nil {
		logging.Logger().Warn("create grid", "err", err)
	}
}

// DisplayedZ returns the focal plane used for surface colouring.
func (s *Session) DisplayedZ() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayedZ
}

// SetDisplayedZ changes the displayed focal plane.
func (s *Session) SetDisplayedZ(z float64) {
	s.mu.Lock()
	changed := s.displayedZ != z
	s.displayedZ = z
	s.mu.Unlock()
	if !changed {
		return
	}
	s.Emit(EventDisplayedZChanged, z)
	s.RequestRender(false)
}

// ScaleBar reports whether the scale bar is drawn.
func (s *Session) ScaleBar() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scaleBar
}

// SetScaleBar shows or hides the scale bar.
func (s *Session) SetScaleBar(on bool) {
	s.mu.Lock()
	s.scaleBar = on
	s.mu.Unlock()
	s.RequestRender(false)
}

// TileIndexOf returns the full-resolution tile under a viewport pixel.
func (s *Session) TileIndexOf(p geometry.PointInt) (acquisition.TileIndex, error) {
	return s.tiles.TileIndexOf(p, s.View())
}

// StageAt returns the stage position under a viewport pixel.
func (s *Session) StageAt(p geometry.PointInt) geometry.Point2D {
	return viewport.Mapper{Stage: s.mapping}.ViewportToStage(p, s.View())
}

// Frame returns the pyramid pixels currently in view.
func (s *Session) Frame() (image.Image, error) {
	v := s.View()
	return s.pyramid.Tile(v.Level, v.Origin.X, v.Origin.Y, v.Width, v.Height)
}

// AddTile stores an acquired tile and redraws.
func (s *Session) AddTile(idx acquisition.TileIndex, img image.Image) {
	s.pyramid.AddTile(idx, img)
	s.Emit(EventTileAdded, idx)
	s.RequestRender(false)
}

// RequestRender submits a render of the current state. surfaceChanged marks
// edits that invalidate an in-flight surface refinement.
func (s *Session) RequestRender(surfaceChanged bool) {
	s.pipeline.Submit(s.snapshot(), surfaceChanged)
}

func (s *Session) snapshot() render.Snapshot {
	mode := s.mode.Get()
	queued := s.queue.Pending()

	var grid *acquisition.Grid
	if mode == interaction.NewGrid || mode == interaction.NewSurface {
		if g, ok := s.registry.CurrentGrid(); ok {
			grid = &g
		}
	}
	var oracle render.Oracle
	if mode == interaction.NewSurface {
		if sf := s.registry.CurrentSurface(); sf != nil {
			oracle = sf
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return render.Snapshot{
		Mode:       mode,
		View:       s.view,
		Geometry:   s.geometry,
		Mapping:    s.mapping,
		ScaleBar:   s.scaleBar,
		DisplayedZ: s.displayedZ,
		Hover:      s.hover,
		Selection:  s.selection,
		Queued:     queued,
		Grid:       grid,
		Surface:    oracle,
	}
}
