// Package pyramid stores acquired tiles as a multi-resolution pyramid whose
// coarser levels are built lazily, one level at a time, on request.
package pyramid

import (
	"image"
	"image/color"
	"sync"

	"magellan/internal/acquisition"
	"magellan/internal/logging"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

var (
	// ErrLevelNotMaterialized is returned when reading a level that has not been
	// built yet.
	ErrLevelNotMaterialized = errors.New("resolution level not materialized")
	// ErrInvalidTileSize is returned by NewMemoryStore for non-positive tile sizes.
	ErrInvalidTileSize = errors.New("invalid tile size")
)

// background fills regions where no tile has been acquired.
var background = color.RGBA{A: 255}

// Downsampler halves an image in both dimensions.
type Downsampler interface {
	Halve(src image.Image) image.Image
}

// MemoryStore is an in-memory tile pyramid. Level 0 holds the acquired
// full-resolution tiles; level L tile (r, c) covers level 0 tiles
// [r*2^L, (r+1)*2^L) x [c*2^L, (c+1)*2^L) at 1/2^L scale.
//
// Safe for concurrent use: the render worker reads while acquisition adds tiles.
type MemoryStore struct {
	mu          sync.RWMutex
	tileWidth   int
	tileHeight  int
	maxLevels   int
	levels      []map[acquisition.TileIndex]image.Image
	downsampler Downsampler
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithMaxLevels caps the number of levels (including level 0).
func WithMaxLevels(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxLevels = n
		}
	}
}

// WithDownsampler replaces the default pure-Go downsampler.
func WithDownsampler(d Downsampler) Option {
	return func(s *MemoryStore) {
		if d != nil {
			s.downsampler = d
		}
	}
}

// NewMemoryStore creates an empty pyramid with only level 0. By default levels
// stop once a tile would shrink below one pixel.
func NewMemoryStore(tileWidth, tileHeight int, opts ...Option) (*MemoryStore, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, errors.Wrapf(ErrInvalidTileSize, "%dx%d", tileWidth, tileHeight)
	}
	s := &MemoryStore{
		tileWidth:   tileWidth,
		tileHeight:  tileHeight,
		levels:      []map[acquisition.TileIndex]image.Image{{}},
		downsampler: DrawDownsampler{},
	}
	side := tileWidth
	if tileHeight < side {
		side = tileHeight
	}
	for side > 0 {
		s.maxLevels++
		side >>= 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NumLevels returns how many levels are currently materialized.
func (s *MemoryStore) NumLevels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.levels)
}

// MaterializeNextLevel builds the next coarser level from the current coarsest
// one. It returns false when no further downsampling is possible.
func (s *MemoryStore) MaterializeNextLevel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.levels) >= s.maxLevels {
		return false
	}
	finer := s.levels[len(s.levels)-1]
	coarser := make(map[acquisition.TileIndex]image.Image, len(finer)/4+1)
	for idx := range finer {
		parent := parentOf(idx)
		if _, done := coarser[parent]; done {
			continue
		}
		coarser[parent] = s.buildParent(finer, parent)
	}
	s.levels = append(s.levels, coarser)
	logging.Logger().Info("materialized resolution level",
		"level", len(s.levels)-1, "tiles", len(coarser))
	return true
}

// AddTile stores a full-resolution tile and refreshes its ancestors in every
// materialized level.
func (s *MemoryStore) AddTile(idx acquisition.TileIndex, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.levels[0][idx] = img
	child := idx
	for l := 1; l < len(s.levels); l++ {
		parent := parentOf(child)
		s.levels[l][parent] = s.buildParent(s.levels[l-1], parent)
		child = parent
	}
}

// HasTile reports whether a full-resolution tile has been acquired.
func (s *MemoryStore) HasTile(idx acquisition.TileIndex) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.levels[0][idx]
	return ok
}

// Tiles returns the indices of all acquired full-resolution tiles.
func (s *MemoryStore) Tiles() []acquisition.TileIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]acquisition.TileIndex, 0, len(s.levels[0]))
	for idx := range s.levels[0] {
		out = append(out, idx)
	}
	return out
}

// Tile returns the w x h region whose top-left corner is (x, y) in the pixel
// space of the given level. Unacquired areas are black.
func (s *MemoryStore) Tile(level, x, y, w, h int) (image.Image, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("empty region %dx%d", w, h)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if level < 0 || level >= len(s.levels) {
		return nil, errors.Wrapf(ErrLevelNotMaterialized, "level %d of %d", level, len(s.levels))
	}
	tiles := s.levels[level]

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	c0 := geometry.FloorDiv(x, s.tileWidth)
	c1 := geometry.FloorDiv(x+w-1, s.tileWidth)
	r0 := geometry.FloorDiv(y, s.tileHeight)
	r1 := geometry.FloorDiv(y+h-1, s.tileHeight)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			src, ok := tiles[acquisition.TileIndex{Row: r, Col: c}]
			if !ok {
				continue
			}
			// tile origin relative to the requested region
			at := image.Pt(c*s.tileWidth-x, r*s.tileHeight-y)
			rect := image.Rectangle{Min: at, Max: at.Add(image.Pt(s.tileWidth, s.tileHeight))}
			draw.Draw(dst, rect, src, src.Bounds().Min, draw.Src)
		}
	}
	return dst, nil
}

// buildParent stitches the four children of parent and halves the result.
// Caller holds s.mu.
func (s *MemoryStore) buildParent(finer map[acquisition.TileIndex]image.Image, parent acquisition.TileIndex) image.Image {
	mosaic := image.NewRGBA(image.Rect(0, 0, 2*s.tileWidth, 2*s.tileHeight))
	draw.Draw(mosaic, mosaic.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for dr := 0; dr < 2; dr++ {
		for dc := 0; dc < 2; dc++ {
			child, ok := finer[acquisition.TileIndex{Row: parent.Row*2 + dr, Col: parent.Col*2 + dc}]
			if !ok {
				continue
			}
			at := image.Pt(dc*s.tileWidth, dr*s.tileHeight)
			rect := image.Rectangle{Min: at, Max: at.Add(image.Pt(s.tileWidth, s.tileHeight))}
			draw.Draw(mosaic, rect, child, child.Bounds().Min, draw.Src)
		}
	}
	return s.downsampler.Halve(mosaic)
}

func parentOf(idx acquisition.TileIndex) acquisition.TileIndex {
	return acquisition.TileIndex{
		Row: geometry.FloorDiv(idx.Row, 2),
		Col: geometry.FloorDiv(idx.Col, 2),
	}
}
