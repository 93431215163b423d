// Package interaction holds the viewer's interaction mode, which selects both
// how pointer events are interpreted and which overlay is rendered.
package interaction

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Mode is an interaction mode.
type Mode int32

const (
	// None is idle: only the scale bar is drawn.
	None Mode = iota
	// Explore selects tiles to acquire with click and drag.
	Explore
	// Goto centers the view on a clicked point.
	Goto
	// NewGrid drags a rectangular acquisition-grid preview.
	NewGrid
	// NewSurface adds and removes interpolation control points.
	NewSurface
)

var modeNames = [...]string{"NONE", "EXPLORE", "GOTO", "NEWGRID", "NEWSURFACE"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "UNKNOWN"
	}
	return modeNames[m]
}

// Expensive reports whether overlays for this mode are refined progressively.
func (m Mode) Expensive() bool {
	return m == NewSurface
}

// ParseMode is the inverse of String, case-insensitive.
func ParseMode(s string) (Mode, bool) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), true
		}
	}
	return None, false
}

// Machine holds the current mode. Get is lock-free so the render worker can
// read it every frame; transitions are serialised and notify listeners.
type Machine struct {
	mode atomic.Int32

	mu        sync.Mutex
	listeners []func(from, to Mode)
}

// Get returns the current mode.
func (m *Machine) Get() Mode {
	return Mode(m.mode.Load())
}

// Set changes the mode and returns the previous one. Listeners run on the
// caller's goroutine only when the mode actually changes.
func (m *Machine) Set(to Mode) Mode {
	m.mu.Lock()
	from := Mode(m.mode.Swap(int32(to)))
	listeners := append([]func(from, to Mode){}, m.listeners...)
	m.mu.Unlock()

	if from != to {
		for _, fn := range listeners {
			fn(from, to)
		}
	}
	return from
}

// Toggle enters mode, or returns to None if mode is already current. This is
// the behaviour of the toolbar toggle buttons.
func (m *Machine) Toggle(mode Mode) Mode {
	if m.Get() == mode {
		m.Set(None)
		return None
	}
	m.Set(mode)
	return mode
}

// OnChange registers a transition listener.
func (m *Machine) OnChange(fn func(from, to Mode)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}
