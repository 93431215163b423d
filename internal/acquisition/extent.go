// Package acquisition describes the spatial layout of an acquisition: its tile
// grid, whether it is bounded, how stage microns map onto full-resolution pixels,
// and the tiles queued for acquisition in explore mode.
package acquisition

import "fmt"

type extentKind uint8

const (
	unbounded extentKind = iota
	bounded
)

// Extent is the spatial extent of an acquisition in full-resolution pixels.
// It is either Bounded (fixed-area, anchored at pixel 0,0) or Unbounded (explore).
// The zero value is Unbounded.
type Extent struct {
	kind          extentKind
	width, height int
}

// Bounded returns a fixed-area extent of width x height full-resolution pixels.
func Bounded(width, height int) Extent {
	return Extent{kind: bounded, width: width, height: height}
}

// Unbounded returns the extent of an explore acquisition.
func Unbounded() Extent {
	return Extent{kind: unbounded}
}

// IsBounded reports whether panning and zooming are constrained.
func (e Extent) IsBounded() bool {
	return e.kind == bounded
}

// Size returns the bounded width and height. ok is false for unbounded extents.
func (e Extent) Size() (width, height int, ok bool) {
	if e.kind != bounded {
		return 0, 0, false
	}
	return e.width, e.height, true
}

func (e Extent) String() string {
	if e.kind != bounded {
		return "Unbounded"
	}
	return fmt.Sprintf("Bounded(%dx%d)", e.width, e.height)
}
