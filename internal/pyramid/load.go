package pyramid

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"magellan/internal/acquisition"
	"magellan/internal/logging"

	"github.com/pkg/errors"
	_ "golang.org/x/image/tiff"
)

// tileNamePattern matches tile files such as "r-1_c3.tif".
var tileNamePattern = regexp.MustCompile(`^r(-?\d+)_c(-?\d+)\.(tiff?|png|jpe?g)$`)

// LoadTile decodes one tile image from disk.
func LoadTile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open tile")
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode tile %s", filepath.Base(path))
	}
	return img, nil
}

// ParseTileName extracts the tile index from a file name like "r2_c-1.tif".
func ParseTileName(name string) (acquisition.TileIndex, bool) {
	m := tileNamePattern.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return acquisition.TileIndex{}, false
	}
	row, err1 := strconv.Atoi(m[1])
	col, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return acquisition.TileIndex{}, false
	}
	return acquisition.TileIndex{Row: row, Col: col}, true
}

// TileAdder receives loaded tiles. MemoryStore and the viewer session both
// implement it.
type TileAdder interface {
	AddTile(idx acquisition.TileIndex, img image.Image)
}

// LoadDir adds every tile file in dir to s and returns how many were loaded.
// Files that fail to decode are logged and skipped.
func LoadDir(s TileAdder, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrap(err, "read tile directory")
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := ParseTileName(e.Name())
		if !ok {
			continue
		}
		img, err := LoadTile(filepath.Join(dir, e.Name()))
		if err != nil {
			logging.Logger().Warn("skipping tile", "file", e.Name(), "err", err)
			continue
		}
		s.AddTile(idx, img)
		loaded++
	}
	logging.Logger().Info("loaded tiles", "dir", dir, "count", loaded)
	return loaded, nil
}
