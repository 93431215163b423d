package pyramid

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"magellan/internal/acquisition"

	"github.com/pkg/errors"
)

func solidTile(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func TestNewMemoryStoreRejectsBadSize(t *testing.T) {
	if _, err := NewMemoryStore(0, 16); !errors.Is(err, ErrInvalidTileSize) {
		t.Errorf("NewMemoryStore(0, 16) error = %v, want ErrInvalidTileSize", err)
	}
}

func TestMaterializeUntilExhausted(t *testing.T) {
	s, err := NewMemoryStore(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	// 8 -> 4 -> 2 -> 1: four levels in total
	for want := 2; want <= 4; want++ {
		if !s.MaterializeNextLevel() {
			t.Fatalf("MaterializeNextLevel() = false building level %d", want-1)
		}
		if got := s.NumLevels(); got != want {
			t.Errorf("NumLevels() = %d, want %d", got, want)
		}
	}
	if s.MaterializeNextLevel() {
		t.Error("MaterializeNextLevel() = true past one pixel per tile")
	}

	capped, _ := NewMemoryStore(8, 8, WithMaxLevels(2))
	capped.MaterializeNextLevel()
	if capped.MaterializeNextLevel() {
		t.Error("MaterializeNextLevel() ignored WithMaxLevels")
	}
}

func TestTileComposesRegion(t *testing.T) {
	s, _ := NewMemoryStore(4, 4)
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	s.AddTile(acquisition.TileIndex{Row: 0, Col: 0}, solidTile(4, 4, red))
	s.AddTile(acquisition.TileIndex{Row: -1, Col: -1}, solidTile(4, 4, blue))

	img, err := s.Tile(0, -2, -2, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(img, 0, 0); got != blue {
		t.Errorf("pixel (0,0) = %v, want blue", got)
	}
	if got := rgbaAt(img, 3, 3); got != red {
		t.Errorf("pixel (3,3) = %v, want red", got)
	}
	if got := rgbaAt(img, 3, 0); got != background {
		t.Errorf("pixel (3,0) = %v, want background", got)
	}

	if _, err := s.Tile(1, 0, 0, 4, 4); !errors.Is(err, ErrLevelNotMaterialized) {
		t.Errorf("Tile(level 1) error = %v, want ErrLevelNotMaterialized", err)
	}
}

func TestCoarserLevelAveragesChildren(t *testing.T) {
	s, _ := NewMemoryStore(4, 4)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for _, idx := range []acquisition.TileIndex{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 1, Col: 1}} {
		s.AddTile(idx, solidTile(4, 4, white))
	}
	if !s.MaterializeNextLevel() {
		t.Fatal("MaterializeNextLevel() = false")
	}
	img, err := s.Tile(1, 0, 0, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(img, 1, 1); got != white {
		t.Errorf("level 1 pixel = %v, want white", got)
	}
}

func TestAddTileRefreshesMaterializedLevels(t *testing.T) {
	s, _ := NewMemoryStore(4, 4)
	s.MaterializeNextLevel()
	green := color.RGBA{G: 255, A: 255}
	s.AddTile(acquisition.TileIndex{Row: -1, Col: -1}, solidTile(4, 4, green))

	// level 1 tile (-1,-1) covers level 0 tiles rows/cols -2..-1; the acquired
	// child sits in its bottom-right quadrant.
	img, err := s.Tile(1, -4, -4, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(img, 3, 3); got.G < 200 {
		t.Errorf("bottom-right of level 1 tile = %v, want green", got)
	}
	if got := rgbaAt(img, 0, 0); got.G != 0 {
		t.Errorf("top-left of level 1 tile = %v, want background", got)
	}
	if !s.HasTile(acquisition.TileIndex{Row: -1, Col: -1}) {
		t.Error("HasTile(-1,-1) = false")
	}
}

func TestParseTileName(t *testing.T) {
	tests := []struct {
		name string
		want acquisition.TileIndex
		ok   bool
	}{
		{"r0_c0.tif", acquisition.TileIndex{Row: 0, Col: 0}, true},
		{"r-2_c11.TIFF", acquisition.TileIndex{Row: -2, Col: 11}, true},
		{"r3_c-1.png", acquisition.TileIndex{Row: 3, Col: -1}, true},
		{"tile.tif", acquisition.TileIndex{}, false},
		{"r1_c1.txt", acquisition.TileIndex{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTileName(tt.name)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseTileName(%q) = %v, %v, want %v, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writePNG := func(name string) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if err := png.Encode(f, solidTile(4, 4, color.RGBA{R: 9, A: 255})); err != nil {
			t.Fatal(err)
		}
	}
	writePNG("r0_c0.png")
	writePNG("r-1_c2.png")
	if err := os.WriteFile(filepath.Join(dir, "r5_c5.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, _ := NewMemoryStore(4, 4)
	n, err := LoadDir(s, dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("LoadDir loaded %d tiles, want 2", n)
	}
	if !s.HasTile(acquisition.TileIndex{Row: -1, Col: 2}) {
		t.Error("tile r-1_c2 not loaded")
	}
	if len(s.Tiles()) != 2 {
		t.Errorf("Tiles() = %v", s.Tiles())
	}
}
