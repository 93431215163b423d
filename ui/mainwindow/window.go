// Package mainwindow provides the main viewer window.
package mainwindow

import (
	"fmt"
	"path/filepath"

	"magellan/internal/acquisition"
	"magellan/internal/app"
	"magellan/internal/config"
	"magellan/internal/interaction"
	"magellan/internal/pyramid"
	"magellan/internal/surface"
	"magellan/internal/version"
	"magellan/internal/viewport"
	"magellan/pkg/geometry"
	"magellan/ui/canvas"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
)

const (
	prefKeyLastDir  = "lastDirectory"
	prefKeyScaleBar = "scaleBar"

	// zSliderSteps is how many z steps the focus slider reaches either side
	// of the acquisition's z origin.
	zSliderSteps = 50
)

var modeLabels = []string{"None", "Explore", "Goto", "New Grid", "New Surface"}

var labelModes = map[string]interaction.Mode{
	"None":        interaction.None,
	"Explore":     interaction.Explore,
	"Goto":        interaction.Goto,
	"New Grid":    interaction.NewGrid,
	"New Surface": interaction.NewSurface,
}

// MainWindow is the primary application window.
type MainWindow struct {
	fyne.Window
	app     fyne.App
	cfg     *config.Config
	session *app.Session
	canvas  *canvas.ViewerCanvas

	modes      *widget.RadioGroup
	surfaces   *widget.Select
	zLabel     *widget.Label
	statusBar  *widget.Label
	pointer    geometry.PointInt
	hasPointer bool
}

// New creates the window around a canvas that is already the session's sink.
func New(fyneApp fyne.App, cfg *config.Config, session *app.Session, vc *canvas.ViewerCanvas) *MainWindow {
	win := fyneApp.NewWindow("Magellan " + version.String())

	mw := &MainWindow{
		Window:  win,
		app:     fyneApp,
		cfg:     cfg,
		session: session,
		canvas:  vc,
	}
	vc.SetSession(session)

	mw.setupUI()
	mw.setupMenus()
	mw.setupEventHandlers()
	mw.Resize(fyne.NewSize(float32(cfg.Viewer.Width), float32(cfg.Viewer.Height)))
	return mw
}

// setupUI creates the main layout: toolbar above the canvas, status below.
func (mw *MainWindow) setupUI() {
	mw.statusBar = widget.NewLabel("Ready")

	content := container.NewBorder(
		mw.createToolbar(),                // top
		container.NewPadded(mw.statusBar), // bottom
		nil,                               // left
		nil,                               // right
		mw.canvas,                         // center
	)
	mw.SetContent(content)
}

// createToolbar creates mode toggles, zoom buttons, the focus slider and the
// surface selector.
func (mw *MainWindow) createToolbar() fyne.CanvasObject {
	mw.modes = widget.NewRadioGroup(modeLabels, func(label string) {
		mode, ok := labelModes[label]
		if !ok {
			mode = interaction.None
		}
		mw.session.SetMode(mode)
	})
	mw.modes.Horizontal = true
	mw.modes.SetSelected(modeLabels[mw.session.Mode()])

	zoomOutBtn := widget.NewButton("-", mw.onZoomOut)
	zoomInBtn := widget.NewButton("+", mw.onZoomIn)

	scaleBar := widget.NewCheck("Scale bar", mw.session.SetScaleBar)
	scaleBar.SetChecked(mw.app.Preferences().BoolWithFallback(prefKeyScaleBar, mw.session.ScaleBar()))
	scaleBar.OnChanged = func(on bool) {
		mw.app.Preferences().SetBool(prefKeyScaleBar, on)
		mw.session.SetScaleBar(on)
	}
	mw.session.SetScaleBar(scaleBar.Checked)

	geom := mw.session.Geometry()
	if geom.ZStep <= 0 {
		geom.ZStep = 1
	}
	zSlider := widget.NewSlider(geom.SliceZ(-zSliderSteps), geom.SliceZ(zSliderSteps))
	zSlider.Step = geom.ZStep
	zSlider.SetValue(mw.session.DisplayedZ())
	zSlider.OnChanged = mw.session.SetDisplayedZ
	mw.zLabel = widget.NewLabel(formatZ(mw.session.DisplayedZ()))

	mw.surfaces = widget.NewSelect(nil, func(name string) {
		if name == "" {
			return
		}
		if err := mw.session.Registry().SelectSurface(name); err != nil {
			mw.updateStatus(err.Error())
		}
	})
	mw.surfaces.PlaceHolder = "(no surface)"

	return container.NewVBox(
		container.NewHBox(mw.modes),
		container.NewHBox(
			widget.NewLabel("Zoom:"), zoomOutBtn, zoomInBtn,
			scaleBar,
			widget.NewLabel("Surface:"), mw.surfaces,
			mw.zLabel,
		),
		zSlider,
	)
}

// setupMenus creates the application menus.
func (mw *MainWindow) setupMenus() {
	fileMenu := fyne.NewMenu("File",
		fyne.NewMenuItem("Load Tiles...", mw.onLoadTiles),
		fyne.NewMenuItem("Save Config As...", mw.onSaveConfig),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Quit", func() { mw.app.Quit() }),
	)
	viewMenu := fyne.NewMenu("View",
		fyne.NewMenuItem("Zoom In", mw.onZoomIn),
		fyne.NewMenuItem("Zoom Out", mw.onZoomOut),
		fyne.NewMenuItem("Center on Stage Origin", mw.onCenterStageOrigin),
	)
	surfaceMenu := fyne.NewMenu("Surface",
		fyne.NewMenuItem("New Surface", mw.onNewSurface),
		fyne.NewMenuItem("Remove Surface", mw.onRemoveSurface),
	)
	helpMenu := fyne.NewMenu("Help",
		fyne.NewMenuItem("About", mw.onAbout),
	)
	mw.SetMainMenu(fyne.NewMainMenu(fileMenu, viewMenu, surfaceMenu, helpMenu))
}

// setupEventHandlers keeps the widgets in step with the session.
func (mw *MainWindow) setupEventHandlers() {
	mw.session.On(app.EventViewChanged, func(interface{}) { mw.refreshStatus() })
	mw.session.On(app.EventQueueChanged, func(interface{}) { mw.refreshStatus() })
	mw.session.On(app.EventModeChanged, func(data interface{}) {
		if mode, ok := data.(interaction.Mode); ok {
			mw.modes.SetSelected(modeLabels[mode])
		}
		mw.refreshStatus()
	})
	mw.session.On(app.EventDisplayedZChanged, func(data interface{}) {
		if z, ok := data.(float64); ok {
			mw.zLabel.SetText(formatZ(z))
		}
	})
	mw.session.On(app.EventTileAdded, func(interface{}) { mw.canvas.Refresh() })

	reg := mw.session.Registry()
	reg.On(surface.EventSurfaceAdded, func(string) { mw.syncSurfaces() })
	reg.On(surface.EventSurfaceRemoved, func(string) { mw.syncSurfaces() })
	reg.On(surface.EventSelectionChanged, func(string) { mw.syncSurfaces() })

	mw.canvas.OnPointer(func(p geometry.PointInt) {
		mw.pointer, mw.hasPointer = p, true
		mw.refreshStatus()
	})
}

func (mw *MainWindow) syncSurfaces() {
	var names []string
	for _, s := range mw.session.Registry().Surfaces() {
		names = append(names, s.Name())
	}
	mw.surfaces.Options = names
	if cur := mw.session.Registry().CurrentSurface(); cur != nil {
		mw.surfaces.Selected = cur.Name()
	} else {
		mw.surfaces.Selected = ""
	}
	mw.surfaces.Refresh()
}

// refreshStatus shows level, pointer tile and stage position, and queue size.
func (mw *MainWindow) refreshStatus() {
	v := mw.session.View()
	text := fmt.Sprintf("%s  level %d (1/%d)  origin (%d, %d)",
		mw.session.Mode(), v.Level, viewport.DownsampleFactor(v.Level), v.Origin.X, v.Origin.Y)
	if mw.hasPointer {
		stage := mw.session.StageAt(mw.pointer)
		text += fmt.Sprintf("  stage (%.1f, %.1f) um", stage.X, stage.Y)
		if t, err := mw.session.TileIndexOf(mw.pointer); err == nil {
			text += "  tile " + t.String()
		}
	}
	if n := mw.session.Queue().Len(); n > 0 {
		text += fmt.Sprintf("  queued %d", n)
	}
	mw.updateStatus(text)
}

// updateStatus updates the status bar text.
func (mw *MainWindow) updateStatus(text string) {
	mw.statusBar.SetText(text)
}

// getLastDir returns the last used directory as a ListableURI, or nil.
func (mw *MainWindow) getLastDir() fyne.ListableURI {
	path := mw.app.Preferences().String(prefKeyLastDir)
	if path == "" {
		return nil
	}
	listable, err := storage.ListerForURI(storage.NewFileURI(path))
	if err != nil {
		return nil
	}
	return listable
}

// Menu action handlers

func (mw *MainWindow) onZoomIn() {
	if err := mw.session.Zoom(nil, -1); err != nil {
		mw.updateStatus("Zoom in: " + err.Error())
	}
}

func (mw *MainWindow) onZoomOut() {
	if err := mw.session.Zoom(nil, 1); err != nil {
		mw.updateStatus("Zoom out: " + err.Error())
	}
}

func (mw *MainWindow) onCenterStageOrigin() {
	origin := geometry.Point2D{X: mw.cfg.Acquisition.StageOriginX, Y: mw.cfg.Acquisition.StageOriginY}
	if err := mw.session.CenterOnStage(origin); err != nil {
		dialog.ShowError(err, mw.Window)
	}
}

func (mw *MainWindow) onLoadTiles() {
	fd := dialog.NewFolderOpen(func(dir fyne.ListableURI, err error) {
		if err != nil || dir == nil {
			return
		}
		path := dir.Path()
		mw.app.Preferences().SetString(prefKeyLastDir, path)
		n, err := pyramid.LoadDir(mw.session, path)
		if err != nil {
			dialog.ShowError(err, mw.Window)
			return
		}
		mw.updateStatus(fmt.Sprintf("Loaded %d tiles from %s", n, filepath.Base(path)))
	}, mw.Window)
	if loc := mw.getLastDir(); loc != nil {
		fd.SetLocation(loc)
	}
	fd.Show()
}

func (mw *MainWindow) onSaveConfig() {
	fd := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}
		writer.Close()
		path := writer.URI().Path()
		mw.app.Preferences().SetString(prefKeyLastDir, filepath.Dir(path))
		if err := mw.cfg.Save(path); err != nil {
			dialog.ShowError(err, mw.Window)
			return
		}
		mw.updateStatus("Config saved: " + path)
	}, mw.Window)
	fd.SetFileName("magellan.yaml")
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".yaml", ".yml"}))
	if loc := mw.getLastDir(); loc != nil {
		fd.SetLocation(loc)
	}
	fd.Show()
}

func (mw *MainWindow) onNewSurface() {
	reg := mw.session.Registry()
	s := surface.New(reg.UniqueName("Surface"), mw.session.Mapping(), mw.cfg.SurfaceOptions())
	if err := reg.AddSurface(s); err != nil {
		s.Close()
		dialog.ShowError(err, mw.Window)
		return
	}
	mw.session.SetMode(interaction.NewSurface)
}

func (mw *MainWindow) onRemoveSurface() {
	cur := mw.session.Registry().CurrentSurface()
	if cur == nil {
		return
	}
	dialog.ShowConfirm("Remove Surface", fmt.Sprintf("Remove %q and its control points?", cur.Name()),
		func(ok bool) {
			if !ok {
				return
			}
			if err := mw.session.Registry().RemoveSurface(cur.Name()); err != nil {
				dialog.ShowError(err, mw.Window)
			}
		}, mw.Window)
}

func (mw *MainWindow) onAbout() {
	geom := mw.session.Geometry()
	dialog.ShowInformation("About Magellan",
		fmt.Sprintf("Magellan %s\n\nAcquisition: %s\n%s",
			version.String(), geom.Name, describeExtent(geom)),
		mw.Window)
}

func describeExtent(g acquisition.Geometry) string {
	if w, h, ok := g.Extent().Size(); ok {
		return fmt.Sprintf("Fixed area %dx%d tiles (%dx%d px)", g.Columns, g.Rows, w, h)
	}
	return "Explore (unbounded)"
}

func formatZ(z float64) string {
	return fmt.Sprintf("Z %.2f um", z)
}
