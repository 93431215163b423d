package surface

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Method selects the interpolation used between control points.
type Method int

const (
	// IDW is inverse-distance weighting over the nearest control points.
	IDW Method = iota
	// Plane is a least-squares plane through all control points.
	Plane
)

func (m Method) String() string {
	if m == Plane {
		return "plane"
	}
	return "idw"
}

// ParseMethod parses "idw" or "plane".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "idw":
		return IDW, nil
	case "plane":
		return Plane, nil
	}
	return IDW, errors.Errorf("unknown interpolation method %q", s)
}

// interpolator evaluates Z at a full-resolution pixel position.
type interpolator interface {
	z(x, y float64) float64
}

// sample is a control point in full-resolution pixel space.
type sample struct {
	X, Y, Z float64
}

// Compare implements kdtree.Comparable.
func (p sample) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(sample)
	if d == 0 {
		return p.X - q.X
	}
	return p.Y - q.Y
}

// Dims implements kdtree.Comparable. Z is the value, not a coordinate.
func (p sample) Dims() int { return 2 }

// Distance returns the squared planar distance.
func (p sample) Distance(c kdtree.Comparable) float64 {
	q := c.(sample)
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// samples satisfies kdtree.Interface.
type samples []sample

func (s samples) Index(i int) kdtree.Comparable         { return s[i] }
func (s samples) Len() int                              { return len(s) }
func (s samples) Slice(start, end int) kdtree.Interface { return s[start:end] }

func (s samples) Pivot(d kdtree.Dim) int {
	a := axisOrder{samples: s, Dim: d}
	return kdtree.Partition(a, kdtree.MedianOfMedians(a))
}

// axisOrder sorts samples along one dimension for kdtree partitioning.
type axisOrder struct {
	samples
	kdtree.Dim
}

func (p axisOrder) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.samples[i].X < p.samples[j].X
	}
	return p.samples[i].Y < p.samples[j].Y
}

func (p axisOrder) Slice(start, end int) kdtree.SortSlicer {
	p.samples = p.samples[start:end]
	return p
}

func (p axisOrder) Swap(i, j int) {
	p.samples[i], p.samples[j] = p.samples[j], p.samples[i]
}

// idwInterpolator weights the k nearest control points by 1/d^2.
type idwInterpolator struct {
	tree *kdtree.Tree
	k    int
}

func newIDW(pts []sample, k int) *idwInterpolator {
	cp := make(samples, len(pts))
	copy(cp, pts)
	if k <= 0 || k > len(cp) {
		k = len(cp)
	}
	return &idwInterpolator{tree: kdtree.New(cp, false), k: k}
}

func (w *idwInterpolator) z(x, y float64) float64 {
	keeper := kdtree.NewNKeeper(w.k)
	w.tree.NearestSet(keeper, sample{X: x, Y: y})

	var num, den float64
	for _, item := range keeper.Heap {
		if item.Comparable == nil {
			continue
		}
		p := item.Comparable.(sample)
		if item.Dist == 0 {
			return p.Z
		}
		weight := 1 / item.Dist
		num += weight * p.Z
		den += weight
	}
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// planeInterpolator is z = a*x + b*y + c.
type planeInterpolator struct {
	a, b, c float64
}

func fitPlane(pts []sample) (*planeInterpolator, error) {
	n := len(pts)
	if n < 3 {
		return nil, errors.Errorf("need at least 3 points, got %d", n)
	}

	A := mat.NewDense(n, 3, nil)
	B := mat.NewVecDense(n, nil)
	for i, p := range pts {
		A.Set(i, 0, p.X)
		A.Set(i, 1, p.Y)
		A.Set(i, 2, 1)
		B.SetVec(i, p.Z)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return nil, errors.Wrap(err, "solve plane fit")
	}
	return &planeInterpolator{a: params.AtVec(0), b: params.AtVec(1), c: params.AtVec(2)}, nil
}

func (p *planeInterpolator) z(x, y float64) float64 {
	return p.a*x + p.b*y + p.c
}

// meanInterpolator is the fallback for degenerate plane fits.
type meanInterpolator float64

func (m meanInterpolator) z(float64, float64) float64 { return float64(m) }

func newInterpolator(method Method, pts []sample, k int) interpolator {
	if method == Plane {
		p, err := fitPlane(pts)
		if err == nil {
			return p
		}
		var sum float64
		for _, s := range pts {
			sum += s.Z
		}
		return meanInterpolator(sum / float64(len(pts)))
	}
	return newIDW(pts, k)
}
