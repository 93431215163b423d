package viewport

import (
	"magellan/internal/acquisition"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
)

// TileIndexer maps between viewport pixels and full-resolution tile indices.
type TileIndexer struct {
	tileWidth  int
	tileHeight int
}

// NewTileIndexer creates an indexer for tiles of the given full-resolution size.
func NewTileIndexer(tileWidth, tileHeight int) (TileIndexer, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return TileIndexer{}, errors.Wrapf(ErrInvalidGeometry, "tile size %dx%d", tileWidth, tileHeight)
	}
	return TileIndexer{tileWidth: tileWidth, tileHeight: tileHeight}, nil
}

// TileIndexOf returns the tile that contains viewport pixel p.
func (ti TileIndexer) TileIndexOf(p geometry.PointInt, v State) (acquisition.TileIndex, error) {
	if err := v.Validate(); err != nil {
		return acquisition.TileIndex{}, err
	}
	full := FromViewportToFullRes(p, v)
	return acquisition.TileIndex{
		Row: geometry.FloorDiv(full.Y, ti.tileHeight),
		Col: geometry.FloorDiv(full.X, ti.tileWidth),
	}, nil
}

// HighlightRegion returns the viewport rectangle covering an inclusive tile
// range. Edges are computed from absolute tile boundaries, so rectangles of
// adjacent ranges share their edge exactly.
func (ti TileIndexer) HighlightRegion(r acquisition.TileRange, v State) (geometry.RectInt, error) {
	if r.RowMin > r.RowMax || r.ColMin > r.ColMax {
		return geometry.RectInt{}, errors.Wrapf(ErrInvalidGeometry,
			"tile range rows %d..%d cols %d..%d", r.RowMin, r.RowMax, r.ColMin, r.ColMax)
	}
	if err := v.Validate(); err != nil {
		return geometry.RectInt{}, err
	}
	tl := ToViewport(geometry.Pt(r.ColMin*ti.tileWidth, r.RowMin*ti.tileHeight), v)
	br := ToViewport(geometry.Pt((r.ColMax+1)*ti.tileWidth, (r.RowMax+1)*ti.tileHeight), v)
	return geometry.RectFromEdges(tl.X, tl.Y, br.X, br.Y), nil
}

// VisibleTiles returns the range of tiles that intersect the viewport.
func (ti TileIndexer) VisibleTiles(v State) (acquisition.TileRange, error) {
	if err := v.Validate(); err != nil {
		return acquisition.TileRange{}, err
	}
	a, _ := ti.TileIndexOf(geometry.Pt(0, 0), v)
	b, _ := ti.TileIndexOf(geometry.Pt(v.Width-1, v.Height-1), v)
	return acquisition.RangeOf(a, b), nil
}
