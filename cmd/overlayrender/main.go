// Command overlayrender renders the overlay of one interaction mode without a
// window and writes every published pass as a PNG. It is used to inspect
// progressive surface refinement and to check configuration files.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"magellan/internal/app"
	"magellan/internal/config"
	"magellan/internal/interaction"
	"magellan/internal/logging"
	"magellan/internal/overlay"
	"magellan/internal/pyramid"
	"magellan/internal/render"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type controlPoint struct {
	stage geometry.Point2D
	z     float64
}

func main() {
	configPath := flag.String("config", "", "Viewer configuration (defaults if empty)")
	outDir := flag.String("out", "overlays", "Directory for pass-NN.png files")
	modeName := flag.String("mode", "NEWSURFACE", "Interaction mode to render")
	points := flag.String("points", "", "Surface control points in stage microns: x,y,z;x,y,z;...")
	z := flag.Float64("z", 0, "Displayed focal plane")
	level := flag.Int("level", 0, "Resolution level of the view")
	tileDir := flag.String("tiles", "", "Tile directory drawn under the overlay")
	timeout := flag.Duration("timeout", 30*time.Second, "Give up after this long")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	lvl := logging.ParseLevel("info")
	if *verbose {
		lvl = logging.ParseLevel("debug")
	}
	logging.SetLogger(logging.NewStderr(lvl))

	mode, ok := interaction.ParseMode(*modeName)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *modeName)
		os.Exit(2)
	}
	cps, err := parsePoints(*points)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	cfg.Viewer.InitialLevel = *level
	if *tileDir != "" {
		cfg.Acquisition.TileDir = *tileDir
	}

	if err := run(cfg, mode, cps, *z, *outDir, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "overlayrender: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, mode interaction.Mode, cps []controlPoint, z float64, outDir string, timeout time.Duration) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	store, err := pyramid.NewMemoryStore(cfg.Acquisition.TileWidth, cfg.Acquisition.TileHeight)
	if err != nil {
		return err
	}
	mapping, err := cfg.Mapping()
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		session *app.Session
		written int
		werr    error
	)
	sink := render.SinkFunc(func(o *overlay.Overlay) {
		mu.Lock()
		defer mu.Unlock()
		if session == nil || werr != nil {
			return
		}
		path := filepath.Join(outDir, fmt.Sprintf("pass-%02d.png", written))
		if werr = writeFrame(path, session, o); werr == nil {
			written++
			fmt.Printf("%s  mode=%s ppp=%.1f final=%v primitives=%d\n",
				path, o.Mode, o.PixelsPerPoint, o.Final, o.Len())
		}
	})

	reg := prometheus.NewRegistry()
	s, err := app.NewSession(app.Options{
		Geometry:     cfg.Geometry(),
		Mapping:      mapping,
		Pyramid:      store,
		Sink:         sink,
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
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// The startup overlay is not written.
	if err := s.WaitIdle(ctx); err != nil {
		return err
	}
	if dir := cfg.Acquisition.TileDir; dir != "" {
		if _, err := pyramid.LoadDir(s, dir); err != nil {
			return err
		}
	}
	s.SetDisplayedZ(z)

	mu.Lock()
	session = s
	mu.Unlock()

	s.SetMode(mode)
	if mode == interaction.NewSurface && len(cps) > 0 {
		sf := s.Registry().CurrentSurface()
		if sf == nil {
			return errors.New("no surface selected")
		}
		for _, cp := range cps {
			sf.Add(cp.stage, cp.z)
		}
	}
	// Also covers a mode equal to the startup one, which SetMode ignores.
	s.RequestRender(true)
	if err := s.WaitIdle(ctx); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	return werr
}

// writeFrame draws the overlay over the tiles in view and writes a PNG.
func writeFrame(path string, s *app.Session, o *overlay.Overlay) error {
	img := image.NewRGBA(image.Rect(0, 0, o.Width, o.Height))
	if frame, err := s.Frame(); err == nil {
		draw.Draw(img, img.Bounds(), frame, frame.Bounds().Min, draw.Src)
	}
	overlay.Draw(img, o)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}

func parsePoints(s string) ([]controlPoint, error) {
	var out []controlPoint
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fields := strings.Split(item, ",")
		if len(fields) != 3 {
			return nil, errors.Errorf("control point %q: want x,y,z", item)
		}
		var v [3]float64
		for i, f := range fields {
			n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "control point %q", item)
			}
			v[i] = n
		}
		out = append(out, controlPoint{stage: geometry.Point2D{X: v[0], Y: v[1]}, z: v[2]})
	}
	return out, nil
}
