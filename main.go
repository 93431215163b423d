// Package main provides the entry point for the Magellan tiled-image viewer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"magellan/internal/app"
	"magellan/internal/config"
	"magellan/internal/httpapi"
	"magellan/internal/logging"
	"magellan/internal/pyramid"
	"magellan/internal/pyramid/opencv"
	"magellan/internal/render"
	"magellan/internal/version"
	"magellan/ui/canvas"
	"magellan/ui/mainwindow"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	appID = "org.magellan.viewer"

	configPollInterval = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "magellan.yaml", "Path to the viewer configuration")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("magellan", version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if cfg == nil {
		fmt.Fprintf(os.Stderr, "magellan: %v\n", err)
		os.Exit(1)
	}
	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logging.SetLogger(logging.NewStderr(logging.ParseLevel(level)))
	log := logging.Logger()
	log.Info("starting magellan", "version", version.String())
	if err != nil {
		log.Warn("using default configuration", "err", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		log.Error("create tile pyramid", "err", err)
		os.Exit(1)
	}
	mapping, err := cfg.Mapping()
	if err != nil {
		log.Error("stage mapping", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := fyneapp.NewWithID(appID)
	a.Settings().SetTheme(&mainwindow.ViewerTheme{})

	vc := canvas.New()
	session, err := app.NewSession(app.Options{
		Geometry:     cfg.Geometry(),
		Mapping:      mapping,
		Pyramid:      store,
		Sink:         vc,
		Width:        cfg.Viewer.Width,
		Height:       cfg.Viewer.Height,
		InitialLevel: cfg.Viewer.InitialLevel,
		ScaleBar:     cfg.Viewer.ScaleBar,
		Grid:         cfg.GridTemplate(),
		Surface:      cfg.SurfaceOptions(),
		Render: render.Options{
			RefinementDivisor: cfg.Render.RefinementDivisor,
			Metrics:           render.NewMetrics(reg),
		},
	})
	if err != nil {
		log.Error("start session", "err", err)
		os.Exit(1)
	}
	defer session.Close()

	if dir := cfg.Acquisition.TileDir; dir != "" {
		n, err := pyramid.LoadDir(session, dir)
		if err != nil {
			log.Warn("load tiles", "dir", dir, "err", err)
		} else {
			log.Info("loaded tiles", "dir", dir, "count", n)
		}
	}

	if cfg.Metrics.Listen != "" {
		srv := startServer(cfg.Metrics.Listen, httpapi.NewRouter(session, reg))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	win := mainwindow.New(a, cfg, session, vc)
	if watcher := watchConfig(*configPath, session); watcher != nil {
		defer watcher.Stop()
	}
	win.ShowAndRun()
}

func newStore(cfg *config.Config) (*pyramid.MemoryStore, error) {
	var opts []pyramid.Option
	if cfg.Render.OpenCV {
		opts = append(opts, pyramid.WithDownsampler(opencv.Downsampler{}))
	}
	return pyramid.NewMemoryStore(cfg.Acquisition.TileWidth, cfg.Acquisition.TileHeight, opts...)
}

func startServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Logger().Info("serving api", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger().Error("api server", "err", err)
		}
	}()
	return srv
}

// watchConfig applies edits to the settings that can change while running.
// Geometry and stage mapping take effect on the next start.
func watchConfig(path string, session *app.Session) *app.FileWatcher {
	watcher, err := app.NewFileWatcher(path, configPollInterval)
	if err != nil {
		logging.Logger().Debug("config not watched", "err", err)
		return nil
	}
	watcher.OnChange(func(path string) {
		cfg, err := config.Load(path)
		if err != nil {
			logging.Logger().Warn("reload config", "err", err)
			return
		}
		logging.SetLogger(logging.NewStderr(logging.ParseLevel(cfg.Log.Level)))
		session.SetScaleBar(cfg.Viewer.ScaleBar)
		logging.Logger().Info("config reloaded", "path", path)
	})
	watcher.Start()
	return watcher
}
