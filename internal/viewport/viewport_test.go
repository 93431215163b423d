package viewport

import (
	"math/rand/v2"
	"testing"

	"magellan/internal/acquisition"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

// fakeLevels is a pyramid that can build levels up to limit.
type fakeLevels struct {
	n     int
	limit int
}

func (f *fakeLevels) NumLevels() int { return f.n }

func (f *fakeLevels) MaterializeNextLevel() bool {
	if f.n >= f.limit {
		return false
	}
	f.n++
	return true
}

func boundedView() State {
	return State{Width: 512, Height: 512, Extent: acquisition.Bounded(2048, 2048)}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		v := State{
			Level:  rng.IntN(8),
			Origin: geometry.Pt(rng.IntN(4000)-2000, rng.IntN(4000)-2000),
			Width:  640,
			Height: 480,
		}
		p := geometry.Pt(rng.IntN(2000)-1000, rng.IntN(2000)-1000)
		if got := ToViewport(FromViewportToFullRes(p, v), v); got != p {
			t.Fatalf("round trip of %v at %v = %v", p, v, got)
		}
	}
}

func TestToViewportFloorsNegative(t *testing.T) {
	v := State{Level: 2, Width: 10, Height: 10}
	if got := ToViewport(geometry.Pt(-1, -4), v); got != geometry.Pt(-1, -1) {
		t.Errorf("ToViewport(-1,-4) at level 2 = %v, want (-1,-1)", got)
	}
	if got := ToViewport(geometry.Pt(-5, 3), v); got != geometry.Pt(-2, 0) {
		t.Errorf("ToViewport(-5,3) at level 2 = %v, want (-2,0)", got)
	}
}

func TestZoomKeepsCursorPoint(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 2000; i++ {
		c := NewController(&fakeLevels{n: 1, limit: 12}, -1)
		v := State{
			Level:  rng.IntN(6),
			Origin: geometry.Pt(rng.IntN(2000)-1000, rng.IntN(2000)-1000),
			Width:  800,
			Height: 600,
		}
		cursor := geometry.Pt(rng.IntN(800), rng.IntN(600))
		n := rng.IntN(7) - 3
		full := FromViewportToFullRes(cursor, v)

		next, err := c.Zoom(&cursor, n, v)
		if err != nil {
			t.Fatalf("Zoom(%v, %d) error: %v", cursor, n, err)
		}
		if next.Level != max(v.Level+n, 0) {
			t.Fatalf("Zoom level = %d, want %d", next.Level, max(v.Level+n, 0))
		}
		if got := ToViewport(full, next); got != cursor {
			t.Fatalf("point %v moved from %v to %v zooming %d from %v", full, cursor, got, n, v)
		}
	}
}

func TestZoomAboutCenter(t *testing.T) {
	c := NewController(&fakeLevels{n: 1, limit: 8}, -1)
	v := State{Width: 100, Height: 80, Origin: geometry.Pt(1000, 1000)}
	full := FromViewportToFullRes(v.Center(), v)
	next, err := c.Zoom(nil, 1, v)
	if err != nil {
		t.Fatal(err)
	}
	if got := ToViewport(full, next); got != v.Center() {
		t.Errorf("center moved to %v", got)
	}
}

func TestZoomOutScenario(t *testing.T) {
	geom := acquisition.Geometry{Rows: 4, Columns: 4, TileWidth: 512, TileHeight: 512}
	c := NewController(&fakeLevels{n: 1, limit: 12}, geom.MaxResolutionLevel())
	v := boundedView()
	v.Extent = geom.Extent()

	cursor := geometry.Pt(256, 256)
	next, err := c.Zoom(&cursor, 2, v)
	if err != nil {
		t.Fatal(err)
	}
	if next.Level != 2 || next.Origin != geometry.Pt(0, 0) {
		t.Errorf("Zoom = %v, want level 2 origin (0,0)", next)
	}

	tiles, _ := NewTileIndexer(512, 512)
	idx, err := tiles.TileIndexOf(geometry.Pt(300, 40), next)
	if err != nil {
		t.Fatal(err)
	}
	if want := (acquisition.TileIndex{Row: 0, Col: 2}); idx != want {
		t.Errorf("TileIndexOf = %v, want %v", idx, want)
	}
}

func TestZoomClampedAtBoundary(t *testing.T) {
	c := NewController(&fakeLevels{n: 1, limit: 12}, -1)
	v := boundedView()
	v.Origin = geometry.Pt(1536, 1536)

	// zooming out about the bottom-right corner would put the origin at
	// 2048/2-512 = 512 on both axes; the clamp allows 2048/2-512 too.
	cursor := geometry.Pt(512, 512)
	next, err := c.Zoom(&cursor, 1, v)
	if err != nil {
		t.Fatal(err)
	}
	if next.Origin != geometry.Pt(512, 512) {
		t.Errorf("origin = %v, want (512,512)", next.Origin)
	}

	// at level 2 the whole acquisition fits; the clamp overrides the cursor.
	next, err = c.Zoom(&cursor, 1, next)
	if err != nil {
		t.Fatal(err)
	}
	if next.Origin != geometry.Pt(0, 0) {
		t.Errorf("origin = %v, want (0,0)", next.Origin)
	}
}

func TestZoomLimits(t *testing.T) {
	levels := &fakeLevels{n: 1, limit: 12}
	c := NewController(levels, 3)
	v := boundedView()

	same, err := c.Zoom(nil, -1, v)
	if err != nil || same != v {
		t.Errorf("zoom in at level 0 = %v, %v; want unchanged", same, err)
	}

	next, err := c.Zoom(nil, 10, v)
	if err != nil {
		t.Fatal(err)
	}
	if next.Level != 3 {
		t.Errorf("level = %d, want capped at 3", next.Level)
	}
	if levels.n != 4 {
		t.Errorf("materialized %d levels, want 4", levels.n)
	}
}

func TestZoomResolutionExhausted(t *testing.T) {
	c := NewController(&fakeLevels{n: 1, limit: 2}, -1)
	v := State{Width: 64, Height: 64, Origin: geometry.Pt(7, -3)}
	got, err := c.Zoom(nil, 3, v)
	if !errors.Is(err, ErrResolutionExhausted) {
		t.Fatalf("Zoom error = %v, want ErrResolutionExhausted", err)
	}
	if got != v {
		t.Errorf("state changed to %v on error", got)
	}
}

func TestPanClamp(t *testing.T) {
	c := NewController(&fakeLevels{n: 1, limit: 12}, -1)
	v := boundedView()

	tests := []struct {
		name   string
		level  int
		dx, dy int
		want   geometry.PointInt
	}{
		{"right edge", 0, 5000, 10, geometry.Pt(1536, 10)},
		{"left edge", 0, -10000, -1, geometry.Pt(0, 0)},
		{"fits at level 2", 2, 300, 300, geometry.Pt(0, 0)},
		{"level 1", 1, 700, 100, geometry.Pt(512, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := v
			s.Level = tt.level
			got, err := c.Pan(tt.dx, tt.dy, s)
			if err != nil {
				t.Fatal(err)
			}
			if got.Origin != tt.want {
				t.Errorf("Pan(%d,%d) origin = %v, want %v", tt.dx, tt.dy, got.Origin, tt.want)
			}
		})
	}

	free := State{Width: 10, Height: 10}
	got, _ := c.Pan(-500, -700, free)
	if got.Origin != geometry.Pt(-500, -700) {
		t.Errorf("unbounded pan origin = %v", got.Origin)
	}
}

func TestPanBoundsViewportLargerThanLevel(t *testing.T) {
	v := State{Width: 4000, Height: 100, Extent: acquisition.Bounded(2048, 2048)}
	maxX, maxY, ok := v.PanBounds()
	if !ok || maxX != 0 || maxY != 1948 {
		t.Errorf("PanBounds() = %d, %d, %v", maxX, maxY, ok)
	}
	if _, _, ok := (State{Width: 1, Height: 1}).PanBounds(); ok {
		t.Error("unbounded PanBounds() ok = true")
	}
}

func TestInvalidGeometry(t *testing.T) {
	c := NewController(&fakeLevels{n: 1, limit: 4}, -1)
	bad := State{Width: 0, Height: 100}
	if _, err := c.Zoom(nil, 1, bad); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Zoom error = %v", err)
	}
	if _, err := c.Pan(1, 1, bad); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Pan error = %v", err)
	}
	if _, err := NewTileIndexer(0, 512); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("NewTileIndexer error = %v", err)
	}
	ti, _ := NewTileIndexer(512, 512)
	if _, err := ti.TileIndexOf(geometry.Pt(0, 0), bad); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("TileIndexOf error = %v", err)
	}
	inverted := acquisition.TileRange{RowMin: 2, RowMax: 1}
	if _, err := ti.HighlightRegion(inverted, boundedView()); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("HighlightRegion error = %v", err)
	}
}

func TestTileIndexOfNegative(t *testing.T) {
	ti, _ := NewTileIndexer(512, 256)
	v := State{Width: 100, Height: 100, Origin: geometry.Pt(-1, -1)}
	idx, err := ti.TileIndexOf(geometry.Pt(0, 0), v)
	if err != nil {
		t.Fatal(err)
	}
	if want := (acquisition.TileIndex{Row: -1, Col: -1}); idx != want {
		t.Errorf("TileIndexOf = %v, want %v", idx, want)
	}

	v = State{Level: 1, Width: 100, Height: 100}
	idx, _ = ti.TileIndexOf(geometry.Pt(256, 128), v)
	if want := (acquisition.TileIndex{Row: 1, Col: 1}); idx != want {
		t.Errorf("TileIndexOf at level 1 = %v, want %v", idx, want)
	}
}

func TestHighlightRegionsAdjacent(t *testing.T) {
	ti, _ := NewTileIndexer(100, 60)
	v := State{Level: 3, Origin: geometry.Pt(-7, 3), Width: 300, Height: 300}

	left, _ := ti.HighlightRegion(acquisition.TileRange{RowMin: -2, RowMax: 0, ColMin: -3, ColMax: 1}, v)
	right, _ := ti.HighlightRegion(acquisition.TileRange{RowMin: -2, RowMax: 0, ColMin: 2, ColMax: 4}, v)
	whole, _ := ti.HighlightRegion(acquisition.TileRange{RowMin: -2, RowMax: 0, ColMin: -3, ColMax: 4}, v)

	if left.MaxX() != right.X {
		t.Errorf("gap between %v and %v", left, right)
	}
	if left.X != whole.X || right.MaxX() != whole.MaxX() {
		t.Errorf("union %v..%v != %v", left, right, whole)
	}
	if left.Y != right.Y || left.Height != right.Height {
		t.Errorf("row edges differ: %v vs %v", left, right)
	}
}

func TestHighlightRegionScenario(t *testing.T) {
	ti, _ := NewTileIndexer(512, 512)
	v := State{Level: 2, Width: 512, Height: 512, Extent: acquisition.Bounded(2048, 2048)}
	got, err := ti.HighlightRegion(acquisition.TileRange{RowMin: 0, RowMax: 0, ColMin: 1, ColMax: 2}, v)
	if err != nil {
		t.Fatal(err)
	}
	if want := (geometry.RectInt{X: 128, Y: 0, Width: 256, Height: 128}); got != want {
		t.Errorf("HighlightRegion = %v, want %v", got, want)
	}
}

func TestVisibleTiles(t *testing.T) {
	ti, _ := NewTileIndexer(512, 512)
	v := State{Level: 1, Width: 512, Height: 512, Origin: geometry.Pt(-256, 0)}
	got, err := ti.VisibleTiles(v)
	if err != nil {
		t.Fatal(err)
	}
	want := acquisition.TileRange{RowMin: 0, RowMax: 1, ColMin: -1, ColMax: 0}
	if got != want {
		t.Errorf("VisibleTiles = %+v, want %+v", got, want)
	}
}
