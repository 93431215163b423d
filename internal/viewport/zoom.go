package viewport

import (
	"magellan/internal/logging"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

// LevelSource is the part of the pyramid the zoom controller needs. Levels are
// built lazily: NumLevels grows by one for every successful MaterializeNextLevel.
type LevelSource interface {
	NumLevels() int
	MaterializeNextLevel() bool
}

// Controller applies zoom and pan requests to a State.
type Controller struct {
	levels   LevelSource
	maxLevel int
}

// NewController creates a controller over levels. maxLevel caps zoom-out; a
// negative maxLevel means the acquisition is unbounded and only the pyramid
// itself limits it.
func NewController(levels LevelSource, maxLevel int) *Controller {
	return &Controller{levels: levels, maxLevel: maxLevel}
}

// Zoom changes the resolution level by numLevels (positive zooms out) keeping the
// full-resolution pixel under cursor fixed on screen. A nil cursor zooms about
// the viewport center. On bounded acquisitions the pan clamp is applied after
// the zoom and wins over keeping the cursor point fixed.
func (c *Controller) Zoom(cursor *geometry.PointInt, numLevels int, v State) (State, error) {
	if err := v.Validate(); err != nil {
		return v, err
	}
	target := max(v.Level+numLevels, 0)
	if c.maxLevel >= 0 {
		target = min(target, c.maxLevel)
	}
	if target == v.Level {
		return v, nil
	}

	for c.levels.NumLevels() <= target {
		if !c.levels.MaterializeNextLevel() {
			return v, errors.Wrapf(ErrResolutionExhausted, "level %d", target)
		}
	}

	anchor := v.Center()
	if cursor != nil {
		anchor = *cursor
	}
	full := FromViewportToFullRes(anchor, v)

	next := v
	next.Level = target
	next.Origin = geometry.Pt(full.X>>target-anchor.X, full.Y>>target-anchor.Y)
	next = next.clamped()

	logging.Logger().Debug("zoom", "from", v.Level, "to", next.Level,
		"originX", next.Origin.X, "originY", next.Origin.Y)
	return next, nil
}

// Pan shifts the origin by (dx, dy) viewport pixels, clamped on bounded
// acquisitions.
func (c *Controller) Pan(dx, dy int, v State) (State, error) {
	if err := v.Validate(); err != nil {
		return v, err
	}
	next := v
	next.Origin = v.Origin.Add(geometry.Pt(dx, dy))
	return next.clamped(), nil
}

// CenterOn pans so that the given full-resolution pixel is in the middle of
// the viewport.
func (c *Controller) CenterOn(full geometry.PointInt, v State) (State, error) {
	if err := v.Validate(); err != nil {
		return v, err
	}
	next := v
	center := v.Center()
	next.Origin = geometry.Pt(full.X>>v.Level-center.X, full.Y>>v.Level-center.Y)
	return next.clamped(), nil
}
