package surface

import (
	"fmt"
	"sync"

	"magellan/internal/acquisition"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no surface or grid has the requested name.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when adding a name that is already taken.
	ErrDuplicateName = errors.New("name already in use")
)

// EventType identifies registry changes.
type EventType int

const (
	EventSurfaceAdded EventType = iota
	EventSurfaceRemoved
	EventGridAdded
	EventGridChanged
	EventSelectionChanged
)

// EventListener receives the name of the surface or grid involved.
type EventListener func(name string)

// Registry owns the surfaces and grids of one viewer session and tracks which
// of each is selected. Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	surfaces     map[string]*Surface
	surfaceOrder []string
	grids        map[string]acquisition.Grid
	gridOrder    []string

	currentSurface string
	currentGrid    string

	listeners map[EventType][]EventListener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		surfaces:  make(map[string]*Surface),
		grids:     make(map[string]acquisition.Grid),
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers a listener for an event type.
func (r *Registry) On(event EventType, listener EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[event] = append(r.listeners[event], listener)
}

func (r *Registry) emit(event EventType, name string) {
	r.mu.RLock()
	listeners := r.listeners[event]
	r.mu.RUnlock()

	for _, listener := range listeners {
		listener(name)
	}
}

// UniqueName returns the first of "prefix 1", "prefix 2", ... not used by any
// surface or grid.
func (r *Registry) UniqueName(prefix string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s %d", prefix, i)
		_, s := r.surfaces[name]
		_, g := r.grids[name]
		if !s && !g {
			return name
		}
	}
}

// AddSurface registers s and selects it.
func (r *Registry) AddSurface(s *Surface) error {
	r.mu.Lock()
	if _, ok := r.surfaces[s.Name()]; ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrDuplicateName, "surface %q", s.Name())
	}
	r.surfaces[s.Name()] = s
	r.surfaceOrder = append(r.surfaceOrder, s.Name())
	r.currentSurface = s.Name()
	r.mu.Unlock()

	r.emit(EventSurfaceAdded, s.Name())
	r.emit(EventSelectionChanged, s.Name())
	return nil
}

// Surface looks up a surface by name.
func (r *Registry) Surface(name string) (*Surface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "surface %q", name)
	}
	return s, nil
}

// Surfaces returns all surfaces in insertion order.
func (r *Registry) Surfaces() []*Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Surface, 0, len(r.surfaceOrder))
	for _, name := range r.surfaceOrder {
		out = append(out, r.surfaces[name])
	}
	return out
}

// RemoveSurface closes and forgets a surface.
func (r *Registry) RemoveSurface(name string) error {
	r.mu.Lock()
	s, ok := r.surfaces[name]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "surface %q", name)
	}
	delete(r.surfaces, name)
	r.surfaceOrder = removeName(r.surfaceOrder, name)
	deselected := r.currentSurface == name
	if deselected {
		r.currentSurface = ""
	}
	r.mu.Unlock()

	s.Close()
	r.emit(EventSurfaceRemoved, name)
	if deselected {
		r.emit(EventSelectionChanged, "")
	}
	return nil
}

// SelectSurface makes name the current surface.
func (r *Registry) SelectSurface(name string) error {
	r.mu.Lock()
	if _, ok := r.surfaces[name]; !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "surface %q", name)
	}
	r.currentSurface = name
	r.mu.Unlock()

	r.emit(EventSelectionChanged, name)
	return nil
}

// CurrentSurface returns the selected surface, or nil.
func (r *Registry) CurrentSurface() *Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.surfaces[r.currentSurface]
}

// AddGrid registers g and selects it.
func (r *Registry) AddGrid(g acquisition.Grid) error {
	r.mu.Lock()
	if _, ok := r.grids[g.Name]; ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrDuplicateName, "grid %q", g.Name)
	}
	r.grids[g.Name] = g
	r.gridOrder = append(r.gridOrder, g.Name)
	r.currentGrid = g.Name
	r.mu.Unlock()

	r.emit(EventGridAdded, g.Name)
	r.emit(EventSelectionChanged, g.Name)
	return nil
}

// UpdateGrid replaces the stored grid with the same name.
func (r *Registry) UpdateGrid(g acquisition.Grid) error {
	r.mu.Lock()
	if _, ok := r.grids[g.Name]; !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "grid %q", g.Name)
	}
	r.grids[g.Name] = g
	r.mu.Unlock()

	r.emit(EventGridChanged, g.Name)
	return nil
}

// Grids returns all grids in insertion order.
func (r *Registry) Grids() []acquisition.Grid {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]acquisition.Grid, 0, len(r.gridOrder))
	for _, name := range r.gridOrder {
		out = append(out, r.grids[name])
	}
	return out
}

// CurrentGrid returns the selected grid.
func (r *Registry) CurrentGrid() (acquisition.Grid, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grids[r.currentGrid]
	return g, ok
}

// Close closes every surface.
func (r *Registry) Close() {
	for _, s := range r.Surfaces() {
		s.Close()
	}
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}
