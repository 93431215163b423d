package acquisition

import (
	"fmt"
	"sort"
	"sync"
)

// TileIndex identifies one full-resolution tile. Explore acquisitions grow in
// every direction, so Row and Col may be negative.
type TileIndex struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (t TileIndex) String() string {
	return fmt.Sprintf("(r%d, c%d)", t.Row, t.Col)
}

// TileRange is an inclusive rectangular range of tiles.
type TileRange struct {
	RowMin, RowMax int
	ColMin, ColMax int
}

// RangeOf returns the normalised range spanned by two corner tiles.
func RangeOf(a, b TileIndex) TileRange {
	r := TileRange{RowMin: a.Row, RowMax: b.Row, ColMin: a.Col, ColMax: b.Col}
	if r.RowMin > r.RowMax {
		r.RowMin, r.RowMax = r.RowMax, r.RowMin
	}
	if r.ColMin > r.ColMax {
		r.ColMin, r.ColMax = r.ColMax, r.ColMin
	}
	return r
}

// Tiles lists every tile in the range, row-major.
func (r TileRange) Tiles() []TileIndex {
	var out []TileIndex
	for row := r.RowMin; row <= r.RowMax; row++ {
		for col := r.ColMin; col <= r.ColMax; col++ {
			out = append(out, TileIndex{Row: row, Col: col})
		}
	}
	return out
}

// TileQueue collects tiles the user asked to acquire in explore mode. The
// acquisition engine drains it. Safe for concurrent use.
type TileQueue struct {
	mu      sync.Mutex
	pending map[TileIndex]struct{}
	order   []TileIndex
}

// NewTileQueue creates an empty queue.
func NewTileQueue() *TileQueue {
	return &TileQueue{pending: make(map[TileIndex]struct{})}
}

// Enqueue adds tiles not already pending and returns how many were added.
func (q *TileQueue) Enqueue(tiles ...TileIndex) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for _, t := range tiles {
		if _, ok := q.pending[t]; ok {
			continue
		}
		q.pending[t] = struct{}{}
		q.order = append(q.order, t)
		added++
	}
	return added
}

// Contains reports whether a tile is pending.
func (q *TileQueue) Contains(t TileIndex) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[t]
	return ok
}

// Pending returns a sorted copy of the pending tiles.
func (q *TileQueue) Pending() []TileIndex {
	q.mu.Lock()
	out := make([]TileIndex, len(q.order))
	copy(out, q.order)
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// Drain removes and returns all pending tiles in request order.
func (q *TileQueue) Drain() []TileIndex {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.order
	q.order = nil
	q.pending = make(map[TileIndex]struct{})
	return out
}

// Len returns the number of pending tiles.
func (q *TileQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
