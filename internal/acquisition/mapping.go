package acquisition

import (
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// StageMapping converts between stage microns and full-resolution pixels.
type StageMapping interface {
	StageToPixel(stage geometry.Point2D) geometry.PointInt
	PixelToStage(pixel geometry.PointInt) geometry.Point2D
}

// AffineMapping is a StageMapping backed by an affine stage->pixel transform.
// Pixel coordinates are floored, so a stage point always lands in the pixel that
// contains it.
type AffineMapping struct {
	toPixel geometry.AffineTransform
	toStage geometry.AffineTransform
}

// NewAffineMapping builds the usual camera mapping: square pixels of pixelSizeUM
// microns with full-resolution pixel (0,0) at stage position origin.
func NewAffineMapping(pixelSizeUM float64, origin geometry.Point2D) (*AffineMapping, error) {
	if pixelSizeUM <= 0 {
		return nil, errors.Errorf("pixel size must be positive, got %g", pixelSizeUM)
	}
	s := 1 / pixelSizeUM
	return NewAffineMappingFromTransform(geometry.ScaleTranslate(s, s, -origin.X*s, -origin.Y*s))
}

// NewAffineMappingFromTransform wraps an explicit stage->pixel transform.
func NewAffineMappingFromTransform(stageToPixel geometry.AffineTransform) (*AffineMapping, error) {
	inv, ok := stageToPixel.Inverse()
	if !ok {
		return nil, errors.New("stage to pixel transform is singular")
	}
	return &AffineMapping{toPixel: stageToPixel, toStage: inv}, nil
}

// StageToPixel implements StageMapping.
func (m *AffineMapping) StageToPixel(stage geometry.Point2D) geometry.PointInt {
	return m.toPixel.Apply(stage).Floor()
}

// StageToPixelF returns the sub-pixel position of a stage point.
func (m *AffineMapping) StageToPixelF(stage geometry.Point2D) geometry.Point2D {
	return m.toPixel.Apply(stage)
}

// PixelToStage implements StageMapping.
func (m *AffineMapping) PixelToStage(pixel geometry.PointInt) geometry.Point2D {
	return m.toStage.Apply(pixel.ToFloat())
}

// Transform returns the stage->pixel transform.
func (m *AffineMapping) Transform() geometry.AffineTransform {
	return m.toPixel
}

// ToPixelF converts a stage point to sub-pixel full-resolution coordinates when
// the mapping supports it, and to the containing pixel's corner otherwise.
func ToPixelF(m StageMapping, stage geometry.Point2D) geometry.Point2D {
	if f, ok := m.(interface {
		StageToPixelF(geometry.Point2D) geometry.Point2D
	}); ok {
		return f.StageToPixelF(stage)
	}
	return m.StageToPixel(stage).ToFloat()
}

// PixelSizeUM estimates the size of one full-resolution pixel in microns along X.
func PixelSizeUM(m StageMapping) float64 {
	a := m.PixelToStage(geometry.Pt(0, 0))
	b := m.PixelToStage(geometry.Pt(1, 0))
	return a.Distance(b)
}

// FitAffine fits a stage->pixel mapping to calibration correspondences by least
// squares. At least three non-collinear pairs are required.
func FitAffine(stage, pixel []geometry.Point2D) (*AffineMapping, error) {
	n := len(stage)
	if n != len(pixel) {
		return nil, errors.Errorf("point count mismatch: %d vs %d", n, len(pixel))
	}
	if n < 3 {
		return nil, errors.Errorf("need at least 3 points, got %d", n)
	}

	// Build overdetermined system
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := stage[i].X, stage[i].Y
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, pixel[i].X)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, pixel[i].Y)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return nil, errors.Wrap(err, "solve affine fit")
	}

	return NewAffineMappingFromTransform(geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	})
}
