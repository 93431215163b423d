package surface

import (
	"context"
	"math"
	"testing"
	"time"

	"magellan/internal/acquisition"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

func unitMapping(t *testing.T) acquisition.StageMapping {
	t.Helper()
	m, err := acquisition.NewAffineMapping(1, geometry.Point2D{})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestSurface(t *testing.T, opts Options) *Surface {
	t.Helper()
	s := New("test", unitMapping(t), opts)
	t.Cleanup(s.Close)
	return s
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"idw", IDW, false},
		{"", IDW, false},
		{"Plane", Plane, false},
		{"kriging", IDW, true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMethod(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestIDW(t *testing.T) {
	pts := []sample{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 10}, {X: 0, Y: 10, Z: 10}, {X: 10, Y: 10, Z: 20}}
	w := newIDW(pts, 4)
	if got := w.z(10, 0); got != 10 {
		t.Errorf("z at control point = %g, want 10", got)
	}
	if got := w.z(5, 5); math.Abs(got-10) > 1e-9 {
		t.Errorf("z at center = %g, want 10", got)
	}
	near := w.z(1, 1)
	if near <= 0 || near >= 10 {
		t.Errorf("z near origin = %g, want in (0, 10)", near)
	}
}

func TestPlaneFit(t *testing.T) {
	var pts []sample
	for _, p := range [][2]float64{{0, 0}, {10, 0}, {0, 10}, {7, 3}, {2, 9}} {
		pts = append(pts, sample{X: p[0], Y: p[1], Z: 2*p[0] + 3*p[1] + 1})
	}
	fit, err := fitPlane(pts)
	if err != nil {
		t.Fatal(err)
	}
	if got := fit.z(4, 4); math.Abs(got-21) > 1e-9 {
		t.Errorf("plane z(4,4) = %g, want 21", got)
	}

	tooFew := []sample{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 3}}
	if got := newInterpolator(Plane, tooFew, 0).z(5, 0); got != 2 {
		t.Errorf("underdetermined plane z = %g, want mean 2", got)
	}
}

func TestRefinementSteps(t *testing.T) {
	got := refinementSteps(1000, 8)
	want := []float64{128, 64, 32, 16, 8}
	if len(got) != len(want) {
		t.Fatalf("refinementSteps(1000, 8) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %g, want %g", i, got[i], want[i])
		}
	}
	if got := refinementSteps(10, 8); len(got) != 1 || got[0] != 8 {
		t.Errorf("refinementSteps(10, 8) = %v, want [8]", got)
	}
}

func TestSurfaceRefinesToMinDensity(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDensity = 16
	s := newTestSurface(t, opts)
	for _, p := range []geometry.Point2D{{X: 0, Y: 0}, {X: 400, Y: 0}, {X: 400, Y: 400}, {X: 0, Y: 400}} {
		s.Add(p, 5)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitForDensity(ctx, s.MinDensity()); err != nil {
		t.Fatalf("WaitForDensity: %v", err)
	}
	if got := s.Density(); got != 16 {
		t.Errorf("Density() = %g, want 16", got)
	}
	if z, ok := s.InterpolatedZ(200, 200); !ok || math.Abs(z-5) > 1e-9 {
		t.Errorf("InterpolatedZ(200,200) = %g, %v; want 5", z, ok)
	}
	if _, ok := s.InterpolatedZ(500, 200); ok {
		t.Error("InterpolatedZ outside hull ok = true")
	}
	if n := len(s.ConvexHull()); n != 4 {
		t.Errorf("hull has %d vertices, want 4", n)
	}

	gen := s.Generation()
	s.Add(geometry.Point2D{X: 200, Y: 600}, 7)
	if !math.IsInf(s.Density(), 1) {
		t.Errorf("Density() after edit = %g, want +Inf", s.Density())
	}
	if s.Generation() != gen+1 {
		t.Errorf("Generation() = %d, want %d", s.Generation(), gen+1)
	}
	if len(s.ControlPoints()) != 5 {
		t.Errorf("ControlPoints() = %v", s.ControlPoints())
	}
}

func TestWaitForDensityCancelled(t *testing.T) {
	s := newTestSurface(t, DefaultOptions())
	s.Add(geometry.Point2D{X: 0, Y: 0}, 1) // one point never refines

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitForDensity(ctx, 1000); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForDensity on cancelled ctx = %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.WaitForDensity(ctx, 1000); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDensity = %v, want deadline exceeded", err)
	}
	if _, ok := s.InterpolatedZ(0, 0); ok {
		t.Error("InterpolatedZ ok = true without a hull")
	}
}

func TestRemoveNearest(t *testing.T) {
	s := newTestSurface(t, DefaultOptions())
	s.Add(geometry.Point2D{X: 0, Y: 0}, 1)
	s.Add(geometry.Point2D{X: 100, Y: 0}, 2)

	if s.RemoveNearest(geometry.Point2D{X: 50, Y: 50}, 10) {
		t.Error("removed a point beyond maxDist")
	}
	if !s.RemoveNearest(geometry.Point2D{X: 98, Y: 1}, 10) {
		t.Fatal("RemoveNearest found nothing")
	}
	pts := s.ControlPoints()
	if len(pts) != 1 || pts[0].Z != 1 {
		t.Errorf("ControlPoints() = %v", pts)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(r.Close)

	var selected []string
	r.On(EventSelectionChanged, func(name string) { selected = append(selected, name) })

	name := r.UniqueName("Surface")
	if name != "Surface 1" {
		t.Errorf("UniqueName = %q", name)
	}
	if err := r.AddSurface(New(name, unitMapping(t), DefaultOptions())); err != nil {
		t.Fatal(err)
	}
	dup := New(name, unitMapping(t), DefaultOptions())
	defer dup.Close()
	if err := r.AddSurface(dup); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate AddSurface error = %v", err)
	}
	if r.UniqueName("Surface") != "Surface 2" {
		t.Errorf("UniqueName after add = %q", r.UniqueName("Surface"))
	}
	if r.CurrentSurface() == nil || r.CurrentSurface().Name() != name {
		t.Errorf("CurrentSurface() = %v", r.CurrentSurface())
	}
	if _, err := r.Surface("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Surface(missing) error = %v", err)
	}

	g := acquisition.Grid{Name: "Grid 1", Rows: 2, Columns: 3}
	if err := r.AddGrid(g); err != nil {
		t.Fatal(err)
	}
	g.Center = geometry.Point2D{X: 5, Y: 5}
	if err := r.UpdateGrid(g); err != nil {
		t.Fatal(err)
	}
	if cur, ok := r.CurrentGrid(); !ok || cur.Center.X != 5 {
		t.Errorf("CurrentGrid() = %v, %v", cur, ok)
	}
	if err := r.UpdateGrid(acquisition.Grid{Name: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateGrid(nope) error = %v", err)
	}

	if err := r.RemoveSurface(name); err != nil {
		t.Fatal(err)
	}
	if r.CurrentSurface() != nil {
		t.Error("removed surface still selected")
	}
	if len(r.Surfaces()) != 0 || len(r.Grids()) != 1 {
		t.Errorf("Surfaces() = %d, Grids() = %d", len(r.Surfaces()), len(r.Grids()))
	}

	want := []string{name, "Grid 1", ""}
	if len(selected) != len(want) {
		t.Fatalf("selection events = %q, want %q", selected, want)
	}
	for i := range want {
		if selected[i] != want[i] {
			t.Errorf("selection event %d = %q, want %q", i, selected[i], want[i])
		}
	}
}
