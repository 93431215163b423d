// Package canvas provides the viewer widget: it displays the pyramid region in
// view with the latest overlay on top and routes pointer input to the session.
package canvas

import (
	"image"
	"image/color"
	"sync"

	"magellan/internal/app"
	"magellan/internal/logging"
	"magellan/internal/overlay"
	"magellan/pkg/geometry"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"golang.org/x/image/draw"
)

var background = color.RGBA{A: 255}

// ViewerCanvas shows one session. It is the session's overlay sink: Publish
// may be called from any goroutine.
type ViewerCanvas struct {
	widget.BaseWidget

	raster *fynecanvas.Raster

	mu      sync.Mutex
	session *app.Session
	overlay *overlay.Overlay
	// pixelScale converts fyne units to raster pixels.
	pixelScale float32

	// Drag movement below one pixel carried to the next event.
	dragRemX, dragRemY float32

	onPointer func(p geometry.PointInt)
}

// New creates an empty canvas. Attach a session with SetSession.
func New() *ViewerCanvas {
	vc := &ViewerCanvas{pixelScale: 1}
	vc.raster = fynecanvas.NewRaster(vc.draw)
	vc.raster.ScaleMode = fynecanvas.ImageScalePixels
	vc.raster.SetMinSize(fyne.NewSize(200, 150))
	vc.ExtendBaseWidget(vc)
	return vc
}

// SetSession attaches the session to display and drive.
func (vc *ViewerCanvas) SetSession(s *app.Session) {
	vc.mu.Lock()
	vc.session = s
	vc.mu.Unlock()
	vc.raster.Refresh()
}

// OnPointer sets a callback receiving the viewport pixel under the mouse.
func (vc *ViewerCanvas) OnPointer(callback func(p geometry.PointInt)) {
	vc.onPointer = callback
}

// Publish implements render.Sink. Overlays older than the one shown are
// ignored.
func (vc *ViewerCanvas) Publish(o *overlay.Overlay) {
	vc.mu.Lock()
	if vc.overlay != nil && o.Seq < vc.overlay.Seq {
		vc.mu.Unlock()
		return
	}
	vc.overlay = o
	vc.mu.Unlock()
	vc.raster.Refresh()
}

// Overlay returns the overlay currently shown.
func (vc *ViewerCanvas) Overlay() *overlay.Overlay {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.overlay
}

func (vc *ViewerCanvas) current() (*app.Session, *overlay.Overlay) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.session, vc.overlay
}

// draw is the raster drawing function. The viewport follows the raster size.
func (vc *ViewerCanvas) draw(w, h int) image.Image {
	output := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(output, output.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	if size := vc.raster.Size(); size.Width > 0 {
		vc.mu.Lock()
		vc.pixelScale = float32(w) / size.Width
		vc.mu.Unlock()
	}

	s, ov := vc.current()
	if s == nil || w <= 0 || h <= 0 {
		return output
	}
	if err := s.Resize(w, h); err != nil {
		logging.Logger().Warn("resize viewport", "width", w, "height", h, "err", err)
		return output
	}

	frame, err := s.Frame()
	if err != nil {
		logging.Logger().Warn("read frame", "err", err)
	} else {
		draw.Draw(output, frame.Bounds(), frame, frame.Bounds().Min, draw.Src)
	}
	if ov != nil {
		overlay.Draw(output, ov)
	}
	return output
}

// toViewport converts a widget position to viewport pixels.
func (vc *ViewerCanvas) toViewport(pos fyne.Position) geometry.PointInt {
	vc.mu.Lock()
	scale := vc.pixelScale
	vc.mu.Unlock()
	return geometry.Pt(int(pos.X*scale), int(pos.Y*scale))
}

func (vc *ViewerCanvas) inside(pos fyne.Position) bool {
	size := vc.Size()
	return pos.X >= 0 && pos.Y >= 0 && pos.X <= size.Width && pos.Y <= size.Height
}

// Scrolled zooms about the pointer: wheel up zooms in one level.
func (vc *ViewerCanvas) Scrolled(ev *fyne.ScrollEvent) {
	s, _ := vc.current()
	if s == nil || ev.Scrolled.DY == 0 {
		return
	}
	levels := 1
	if ev.Scrolled.DY > 0 {
		levels = -1
	}
	p := vc.toViewport(ev.Position)
	// exhausted resolution is logged by the session and leaves the view as is
	_ = s.Zoom(&p, levels)
}

// Dragged implements fyne.Draggable.
func (vc *ViewerCanvas) Dragged(ev *fyne.DragEvent) {
	s, _ := vc.current()
	if s == nil {
		return
	}
	vc.mu.Lock()
	fx := ev.Dragged.DX*vc.pixelScale + vc.dragRemX
	fy := ev.Dragged.DY*vc.pixelScale + vc.dragRemY
	dx, dy := int(fx), int(fy)
	vc.dragRemX, vc.dragRemY = fx-float32(dx), fy-float32(dy)
	vc.mu.Unlock()

	if dx == 0 && dy == 0 {
		return
	}
	s.Drag(vc.toViewport(ev.Position), dx, dy)
}

// DragEnd implements fyne.Draggable.
func (vc *ViewerCanvas) DragEnd() {
	vc.mu.Lock()
	vc.dragRemX, vc.dragRemY = 0, 0
	vc.mu.Unlock()
	if s, _ := vc.current(); s != nil {
		s.DragEnd()
	}
}

// Tapped implements fyne.Tappable.
func (vc *ViewerCanvas) Tapped(ev *fyne.PointEvent) {
	// fyne can deliver taps outside the widget
	if s, _ := vc.current(); s != nil && vc.inside(ev.Position) {
		s.Click(vc.toViewport(ev.Position))
	}
}

// TappedSecondary implements fyne.SecondaryTappable.
func (vc *ViewerCanvas) TappedSecondary(ev *fyne.PointEvent) {
	if s, _ := vc.current(); s != nil && vc.inside(ev.Position) {
		s.SecondaryClick(vc.toViewport(ev.Position))
	}
}

// MouseIn implements desktop.Hoverable.
func (vc *ViewerCanvas) MouseIn(ev *desktop.MouseEvent) {
	vc.MouseMoved(ev)
}

// MouseMoved implements desktop.Hoverable.
func (vc *ViewerCanvas) MouseMoved(ev *desktop.MouseEvent) {
	p := vc.toViewport(ev.Position)
	if s, _ := vc.current(); s != nil {
		s.PointerMoved(p)
	}
	if vc.onPointer != nil {
		vc.onPointer(p)
	}
}

// MouseOut implements desktop.Hoverable.
func (vc *ViewerCanvas) MouseOut() {
	if s, _ := vc.current(); s != nil {
		s.PointerLeft()
	}
}

// CreateRenderer implements fyne.Widget.
func (vc *ViewerCanvas) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(vc.raster)
}

var (
	_ fyne.Draggable         = (*ViewerCanvas)(nil)
	_ fyne.Scrollable        = (*ViewerCanvas)(nil)
	_ fyne.Tappable          = (*ViewerCanvas)(nil)
	_ fyne.SecondaryTappable = (*ViewerCanvas)(nil)
	_ desktop.Hoverable      = (*ViewerCanvas)(nil)
)
