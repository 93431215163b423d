package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"magellan/internal/acquisition"
	"magellan/internal/interaction"
	"magellan/internal/overlay"
	"magellan/internal/pyramid"
	"magellan/internal/viewport"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

type recordingSink struct {
	mu   sync.Mutex
	last *overlay.Overlay
	n    int
}

func (s *recordingSink) Publish(o *overlay.Overlay) {
	s.mu.Lock()
	s.last = o
	s.n++
	s.mu.Unlock()
}

func (s *recordingSink) latest() *overlay.Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func newTestSession(t *testing.T, explore bool, opts ...pyramid.Option) (*Session, *recordingSink) {
	t.Helper()
	store, err := pyramid.NewMemoryStore(512, 512, opts...)
	if err != nil {
		t.Fatal(err)
	}
	mapping, err := acquisition.NewAffineMapping(1, geometry.Point2D{})
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	s, err := NewSession(Options{
		Geometry: acquisition.Geometry{
			Name: "test", Explore: explore, Rows: 4, Columns: 4,
			TileWidth: 512, TileHeight: 512, ZStep: 2,
		},
		Mapping: mapping,
		Pyramid: store,
		Sink:    sink,
		Width:   512,
		Height:  512,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s, sink
}

func settle(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("session did not settle: %v", err)
	}
}

func TestNewSessionValidation(t *testing.T) {
	store, _ := pyramid.NewMemoryStore(512, 512)
	mapping, _ := acquisition.NewAffineMapping(1, geometry.Point2D{})
	geom := acquisition.Geometry{Rows: 1, Columns: 1, TileWidth: 512, TileHeight: 512}
	sink := &recordingSink{}

	tests := []struct {
		name string
		opts Options
	}{
		{"no mapping", Options{Geometry: geom, Pyramid: store, Sink: sink, Width: 10, Height: 10}},
		{"no pyramid", Options{Geometry: geom, Mapping: mapping, Sink: sink, Width: 10, Height: 10}},
		{"no sink", Options{Geometry: geom, Mapping: mapping, Pyramid: store, Width: 10, Height: 10}},
		{"zero viewport", Options{Geometry: geom, Mapping: mapping, Pyramid: store, Sink: sink}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s, err := NewSession(tt.opts); err == nil {
				s.Close()
				t.Error("expected error")
			}
		})
	}
}

func TestZoomOutAtCenter(t *testing.T) {
	s, _ := newTestSession(t, false)
	cursor := geometry.Pt(256, 256)
	if err := s.Zoom(&cursor, 2); err != nil {
		t.Fatal(err)
	}
	v := s.View()
	if v.Level != 2 || v.Origin != (geometry.PointInt{}) {
		t.Errorf("view = %v, want level 2 origin (0,0)", v)
	}
	got := viewport.ToViewport(geometry.Pt(1024, 1024), v)
	if got != cursor {
		t.Errorf("full-res center maps to %v, want %v", got, cursor)
	}
	tile, err := s.TileIndexOf(geometry.Pt(300, 40))
	if err != nil {
		t.Fatal(err)
	}
	if tile != (acquisition.TileIndex{Row: 0, Col: 2}) {
		t.Errorf("TileIndexOf = %v, want (r0, c2)", tile)
	}
}

func TestZoomExhaustedKeepsView(t *testing.T) {
	s, _ := newTestSession(t, true, pyramid.WithMaxLevels(2))
	if err := s.Pan(40, -30); err != nil {
		t.Fatal(err)
	}
	before := s.View()

	var events int
	s.On(EventViewChanged, func(interface{}) { events++ })
	err := s.Zoom(nil, 3)
	if !errors.Is(err, viewport.ErrResolutionExhausted) {
		t.Fatalf("Zoom error = %v, want ErrResolutionExhausted", err)
	}
	if s.View() != before {
		t.Errorf("view changed to %v", s.View())
	}
	if events != 0 {
		t.Errorf("view events = %d, want 0", events)
	}
}

func TestDragPansInNoneMode(t *testing.T) {
	s, _ := newTestSession(t, true)
	var views []viewport.State
	s.On(EventViewChanged, func(d interface{}) { views = append(views, d.(viewport.State)) })

	s.Drag(geometry.Pt(100, 100), 30, -20)
	s.DragEnd()
	if got := s.View().Origin; got != geometry.Pt(-30, 20) {
		t.Errorf("origin = %v, want (-30,20)", got)
	}
	if len(views) != 1 {
		t.Errorf("view events = %d, want 1", len(views))
	}
}

func TestExploreQueuesTiles(t *testing.T) {
	s, sink := newTestSession(t, false)
	s.SetMode(interaction.Explore)

	var hovers []*acquisition.TileIndex
	s.On(EventHoverChanged, func(d interface{}) { hovers = append(hovers, d.(*acquisition.TileIndex)) })
	s.PointerMoved(geometry.Pt(10, 10))
	s.PointerMoved(geometry.Pt(20, 20))
	if len(hovers) != 1 || hovers[0] == nil || *hovers[0] != (acquisition.TileIndex{}) {
		t.Errorf("hover events = %v", hovers)
	}

	s.Click(geometry.Pt(10, 10))
	if s.Queue().Len() != 1 {
		t.Fatalf("queue = %d, want 1", s.Queue().Len())
	}

	// drag from tile (0,0) to tile (1,1) at level 1
	if err := s.Zoom(&geometry.PointInt{}, 1); err != nil {
		t.Fatal(err)
	}
	s.Drag(geometry.Pt(300, 300), 290, 290)
	s.DragEnd()
	if got := s.Queue().Len(); got != 4 {
		t.Errorf("queue = %d, want 4", got)
	}

	settle(t, s)
	o := sink.latest()
	if o == nil || o.Mode != interaction.Explore {
		t.Fatalf("last overlay = %+v", o)
	}
	if n := o.Count(overlay.KindRect); n < 4 {
		t.Errorf("rects = %d, want at least the 4 queued tiles", n)
	}
}

func TestExploreIgnoresTilesOutsideFixedArea(t *testing.T) {
	s, _ := newTestSession(t, false)
	s.SetMode(interaction.Explore)
	if err := s.Zoom(nil, 2); err != nil {
		t.Fatal(err)
	}
	// level 2 shows the whole 2048 px acquisition in 512 px; x = 600 is past it
	s.Click(geometry.Pt(600, 10))
	if s.Queue().Len() != 0 {
		t.Errorf("queue = %d, want 0", s.Queue().Len())
	}
}

func TestSurfaceControlPoints(t *testing.T) {
	s, _ := newTestSession(t, false)
	s.SetDisplayedZ(12)
	s.SetMode(interaction.NewSurface)

	sf := s.Registry().CurrentSurface()
	if sf == nil {
		t.Fatal("entering NEWSURFACE did not create a surface")
	}
	if sf.Name() != "Surface 1" {
		t.Errorf("surface name = %q", sf.Name())
	}

	s.Click(geometry.Pt(100, 100))
	cps := sf.ControlPoints()
	if len(cps) != 1 || cps[0].Z != 12 || cps[0].Stage != (geometry.Point2D{X: 100, Y: 100}) {
		t.Fatalf("control points = %+v", cps)
	}

	s.SecondaryClick(geometry.Pt(300, 300))
	if len(sf.ControlPoints()) != 1 {
		t.Error("far secondary click removed a point")
	}
	s.SecondaryClick(geometry.Pt(105, 100))
	if len(sf.ControlPoints()) != 0 {
		t.Error("near secondary click did not remove the point")
	}

	// leaving and re-entering keeps the same surface
	s.SetMode(interaction.None)
	s.SetMode(interaction.NewSurface)
	if got := len(s.Registry().Surfaces()); got != 1 {
		t.Errorf("surfaces = %d, want 1", got)
	}
}

func TestSecondaryClickRadiusScalesWithLevel(t *testing.T) {
	s, _ := newTestSession(t, false)
	if err := s.Zoom(&geometry.PointInt{}, 1); err != nil {
		t.Fatal(err)
	}
	s.SetMode(interaction.NewSurface)
	sf := s.Registry().CurrentSurface()

	// at level 1 one viewport pixel is two full-resolution pixels
	s.Click(geometry.Pt(100, 100))
	if cps := sf.ControlPoints(); len(cps) != 1 || cps[0].Stage != (geometry.Point2D{X: 200, Y: 200}) {
		t.Fatalf("control points = %+v", cps)
	}
	s.SecondaryClick(geometry.Pt(115, 100))
	if len(sf.ControlPoints()) != 1 {
		t.Error("secondary click 15 viewport pixels away removed the point")
	}
	s.SecondaryClick(geometry.Pt(108, 100))
	if len(sf.ControlPoints()) != 0 {
		t.Error("secondary click 8 viewport pixels away did not remove the point")
	}
}

func TestSurfaceRefinesThenRemovesPoint(t *testing.T) {
	s, sink := newTestSession(t, false)
	s.SetDisplayedZ(4)
	s.SetMode(interaction.NewSurface)
	sf := s.Registry().CurrentSurface()

	for _, p := range []geometry.PointInt{{X: 50, Y: 50}, {X: 200, Y: 50}, {X: 200, Y: 200}, {X: 50, Y: 200}} {
		s.Click(p)
	}
	settle(t, s)
	o := sink.latest()
	if o == nil || o.Mode != interaction.NewSurface || !o.Final {
		t.Fatalf("last overlay = %+v", o)
	}
	if o.PixelsPerPoint != sf.MinDensity() {
		t.Errorf("final density = %g, want %g", o.PixelsPerPoint, sf.MinDensity())
	}

	s.SecondaryClick(geometry.Pt(52, 50))
	if got := len(sf.ControlPoints()); got != 3 {
		t.Fatalf("control points after secondary click = %d, want 3", got)
	}
	settle(t, s)
	if o := sink.latest(); o == nil || !o.Final {
		t.Errorf("overlay after removal = %+v", o)
	}
}

func TestTakeQueuedClearsHighlights(t *testing.T) {
	s, sink := newTestSession(t, false)
	s.SetMode(interaction.Explore)
	s.Click(geometry.Pt(10, 10))
	settle(t, s)
	before := sink.latest().Count(overlay.KindRect)

	var lengths []int
	s.On(EventQueueChanged, func(d interface{}) { lengths = append(lengths, d.(int)) })
	got := s.TakeQueued()
	if len(got) != 1 || got[0] != (acquisition.TileIndex{}) {
		t.Errorf("TakeQueued = %v, want [(r0, c0)]", got)
	}
	if len(lengths) != 1 || lengths[0] != 0 {
		t.Errorf("queue events = %v, want [0]", lengths)
	}
	settle(t, s)
	if after := sink.latest().Count(overlay.KindRect); after != before-1 {
		t.Errorf("rects after take = %d, want %d", after, before-1)
	}

	if got := s.TakeQueued(); len(got) != 0 {
		t.Errorf("second TakeQueued = %v", got)
	}
	if len(lengths) != 1 {
		t.Errorf("empty take emitted %d events", len(lengths)-1)
	}
}

func TestGridFollowsDrag(t *testing.T) {
	s, _ := newTestSession(t, false)
	s.SetMode(interaction.NewGrid)

	g, ok := s.Registry().CurrentGrid()
	if !ok {
		t.Fatal("entering NEWGRID did not create a grid")
	}
	if g.Name != "Grid 1" || g.Center != (geometry.Point2D{X: 256, Y: 256}) || g.Rows != 3 {
		t.Errorf("grid = %+v", g)
	}

	s.Drag(geometry.Pt(110, 100), 10, 0)
	s.Drag(geometry.Pt(120, 105), 10, 5)
	s.DragEnd()
	g, _ = s.Registry().CurrentGrid()
	if g.Center != (geometry.Point2D{X: 276, Y: 261}) {
		t.Errorf("grid center = %v, want (276,261)", g.Center)
	}
	if s.View().Origin != (geometry.PointInt{}) {
		t.Errorf("grid drag panned the view to %v", s.View().Origin)
	}

	s.Click(geometry.Pt(50, 60))
	g, _ = s.Registry().CurrentGrid()
	if g.Center != (geometry.Point2D{X: 50, Y: 60}) {
		t.Errorf("grid center after click = %v", g.Center)
	}
}

func TestGotoCentersClickedPoint(t *testing.T) {
	s, _ := newTestSession(t, true)
	s.SetMode(interaction.Goto)
	s.Click(geometry.Pt(400, 100))
	if got := s.View().Origin; got != geometry.Pt(144, -156) {
		t.Errorf("origin = %v, want (144,-156)", got)
	}
}

func TestModeChangeRendersNewMode(t *testing.T) {
	s, sink := newTestSession(t, false)
	var modes []interaction.Mode
	s.On(EventModeChanged, func(d interface{}) { modes = append(modes, d.(interaction.Mode)) })

	s.ToggleMode(interaction.Goto)
	s.ToggleMode(interaction.Goto)
	if len(modes) != 2 || modes[0] != interaction.Goto || modes[1] != interaction.None {
		t.Errorf("mode events = %v", modes)
	}
	settle(t, s)
	if o := sink.latest(); o == nil || o.Mode != interaction.None || !o.Final {
		t.Errorf("last overlay = %+v", o)
	}
}

func TestResizeClampsOrigin(t *testing.T) {
	s, _ := newTestSession(t, false)
	if err := s.Pan(5000, 5000); err != nil {
		t.Fatal(err)
	}
	if got := s.View().Origin; got != geometry.Pt(1536, 1536) {
		t.Fatalf("origin = %v, want (1536,1536)", got)
	}
	if err := s.Resize(1024, 1024); err != nil {
		t.Fatal(err)
	}
	if got := s.View().Origin; got != geometry.Pt(1024, 1024) {
		t.Errorf("origin after resize = %v, want (1024,1024)", got)
	}
	if err := s.Resize(0, 10); !errors.Is(err, viewport.ErrInvalidGeometry) {
		t.Errorf("Resize(0, 10) error = %v", err)
	}
}
