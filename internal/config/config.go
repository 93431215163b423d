// Package config loads the viewer configuration from YAML.
package config

import (
	"os"
	"path/filepath"
	"time"

	"magellan/internal/acquisition"
	"magellan/internal/logging"
	"magellan/internal/surface"
	"magellan/pkg/geometry"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the viewer configuration.
type Config struct {
	Viewer struct {
		Width        int  `yaml:"width"`
		Height       int  `yaml:"height"`
		ScaleBar     bool `yaml:"scaleBar"`
		InitialLevel int  `yaml:"initialLevel"`
	} `yaml:"viewer"`

	Acquisition struct {
		Name       string  `yaml:"name"`
		Explore    bool    `yaml:"explore"`
		Rows       int     `yaml:"rows"`
		Columns    int     `yaml:"columns"`
		TileWidth  int     `yaml:"tileWidth"`
		TileHeight int     `yaml:"tileHeight"`
		ZStep      float64 `yaml:"zStep"`
		ZOrigin    float64 `yaml:"zOrigin"`
		// PixelSizeUM is the size of one full-resolution pixel in microns.
		PixelSizeUM float64 `yaml:"pixelSizeUM"`
		// Stage position of full-resolution pixel (0, 0).
		StageOriginX float64 `yaml:"stageOriginX"`
		StageOriginY float64 `yaml:"stageOriginY"`
		// TileDir optionally holds r<row>_c<col>.tif tiles to load at startup.
		TileDir string `yaml:"tileDir,omitempty"`
		// Calibration, when set, replaces pixel size and stage origin with a
		// least-squares fit. It needs at least three points.
		Calibration []CalibrationPoint `yaml:"calibration,omitempty"`
	} `yaml:"acquisition"`

	Grid struct {
		Rows    int     `yaml:"rows"`
		Columns int     `yaml:"columns"`
		Overlap float64 `yaml:"overlap"`
	} `yaml:"grid"`

	Surface struct {
		MinPixelsPerPoint float64 `yaml:"minPixelsPerPoint"`
		Neighbours        int     `yaml:"neighbours"`
		Method            string  `yaml:"method"`
	} `yaml:"surface"`

	Render struct {
		PollInterval      time.Duration `yaml:"pollInterval"`
		RefinementDivisor float64       `yaml:"refinementDivisor"`
		// OpenCV selects the gocv downsampler for pyramid levels.
		OpenCV bool `yaml:"opencv"`
	} `yaml:"render"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		// Listen is the address of the /metrics endpoint; empty disables it.
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

// CalibrationPoint pairs a stage position with the full-resolution pixel it
// was imaged at.
type CalibrationPoint struct {
	StageX float64 `yaml:"stageX"`
	StageY float64 `yaml:"stageY"`
	PixelX float64 `yaml:"pixelX"`
	PixelY float64 `yaml:"pixelY"`
}

// DefaultConfig returns a 4x4 fixed-area acquisition of 512 px tiles at
// 0.5 um per pixel.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Viewer.Width = 800
	cfg.Viewer.Height = 600
	cfg.Viewer.ScaleBar = true

	cfg.Acquisition.Name = "Acquisition 1"
	cfg.Acquisition.Rows = 4
	cfg.Acquisition.Columns = 4
	cfg.Acquisition.TileWidth = 512
	cfg.Acquisition.TileHeight = 512
	cfg.Acquisition.ZStep = 1
	cfg.Acquisition.PixelSizeUM = 0.5

	cfg.Grid.Rows = 3
	cfg.Grid.Columns = 3
	cfg.Grid.Overlap = 0.1

	def := surface.DefaultOptions()
	cfg.Surface.MinPixelsPerPoint = def.MinDensity
	cfg.Surface.Neighbours = def.Neighbours
	cfg.Surface.Method = def.Method.String()

	cfg.Render.PollInterval = def.PollInterval
	cfg.Render.RefinementDivisor = 10
	cfg.Render.OpenCV = true

	cfg.Log.Level = "info"
	return cfg
}

// Load reads path over the defaults. A missing file yields the defaults along
// with the error, so callers may choose to carry on.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	logging.Logger().Info("loaded config", "path", path)
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

// Validate checks values the viewer cannot start with.
func (c *Config) Validate() error {
	if c.Viewer.Width <= 0 || c.Viewer.Height <= 0 {
		return errors.Errorf("viewer size must be positive, got %dx%d", c.Viewer.Width, c.Viewer.Height)
	}
	if c.Viewer.InitialLevel < 0 {
		return errors.Errorf("initial level must not be negative, got %d", c.Viewer.InitialLevel)
	}
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if c.Acquisition.PixelSizeUM <= 0 {
		return errors.Errorf("pixel size must be positive, got %g", c.Acquisition.PixelSizeUM)
	}
	if n := len(c.Acquisition.Calibration); n > 0 && n < 3 {
		return errors.Errorf("calibration needs at least 3 points, got %d", n)
	}
	if c.Grid.Overlap < 0 || c.Grid.Overlap >= 1 {
		return errors.Errorf("grid overlap must be in [0, 1), got %g", c.Grid.Overlap)
	}
	if _, err := surface.ParseMethod(c.Surface.Method); err != nil {
		return err
	}
	if c.Surface.MinPixelsPerPoint <= 0 {
		return errors.Errorf("minimum pixels per point must be positive, got %g", c.Surface.MinPixelsPerPoint)
	}
	if c.Render.RefinementDivisor <= 0 {
		return errors.Errorf("refinement divisor must be positive, got %g", c.Render.RefinementDivisor)
	}
	return nil
}

// Geometry returns the acquisition geometry.
func (c *Config) Geometry() acquisition.Geometry {
	a := c.Acquisition
	return acquisition.Geometry{
		Name:       a.Name,
		Explore:    a.Explore,
		Rows:       a.Rows,
		Columns:    a.Columns,
		TileWidth:  a.TileWidth,
		TileHeight: a.TileHeight,
		ZStep:      a.ZStep,
		ZOrigin:    a.ZOrigin,
	}
}

// Mapping returns the stage mapping fitted to the calibration points, or the
// one described by pixel size and stage origin when there are none.
func (c *Config) Mapping() (*acquisition.AffineMapping, error) {
	if cal := c.Acquisition.Calibration; len(cal) > 0 {
		stage := make([]geometry.Point2D, len(cal))
		pixel := make([]geometry.Point2D, len(cal))
		for i, p := range cal {
			stage[i] = geometry.Point2D{X: p.StageX, Y: p.StageY}
			pixel[i] = geometry.Point2D{X: p.PixelX, Y: p.PixelY}
		}
		m, err := acquisition.FitAffine(stage, pixel)
		if err != nil {
			return nil, errors.Wrap(err, "calibration")
		}
		return m, nil
	}
	origin := geometry.Point2D{X: c.Acquisition.StageOriginX, Y: c.Acquisition.StageOriginY}
	return acquisition.NewAffineMapping(c.Acquisition.PixelSizeUM, origin)
}

// GridTemplate returns the grid shape used for new grids.
func (c *Config) GridTemplate() acquisition.Grid {
	return acquisition.Grid{Rows: c.Grid.Rows, Columns: c.Grid.Columns, Overlap: c.Grid.Overlap}
}

// SurfaceOptions returns the interpolation settings. Call Validate first.
func (c *Config) SurfaceOptions() surface.Options {
	method, _ := surface.ParseMethod(c.Surface.Method)
	return surface.Options{
		Method:       method,
		Neighbours:   c.Surface.Neighbours,
		MinDensity:   c.Surface.MinPixelsPerPoint,
		PollInterval: c.Render.PollInterval,
	}
}
