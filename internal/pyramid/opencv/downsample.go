// Package opencv provides an OpenCV-backed pyramid downsampler. It lives in its
// own package so that only binaries that want OpenCV link against it.
package opencv

import (
	"image"
	"runtime"
	"sync"

	"magellan/internal/logging"
	"magellan/internal/pyramid"

	"gocv.io/x/gocv"
)

// Downsampler halves images with OpenCV area interpolation, which averages
// each 2x2 block instead of sampling it.
type Downsampler struct{}

// Halve implements pyramid.Downsampler. If OpenCV cannot resize the image it
// falls back to pyramid.DrawDownsampler.
func (Downsampler) Halve(src image.Image) image.Image {
	b := src.Bounds()
	w, h := max(b.Dx()/2, 1), max(b.Dy()/2, 1)

	mat := imageToMat(src)
	defer mat.Close()

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(mat, &small, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	if small.Empty() {
		logging.Logger().Warn("opencv resize produced no output, using x/image fallback",
			"width", b.Dx(), "height", b.Dy())
		return pyramid.DrawDownsampler{}.Halve(src)
	}
	return matToImage(small)
}

// imageToMat converts an image to a 4-channel RGBA Mat, splitting rows across CPUs.
func imageToMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC4)

	stripes(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < width; x++ {
				r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				mat.SetUCharAt(y, x*4+0, uint8(r>>8))
				mat.SetUCharAt(y, x*4+1, uint8(g>>8))
				mat.SetUCharAt(y, x*4+2, uint8(b>>8))
				mat.SetUCharAt(y, x*4+3, uint8(a>>8))
			}
		}
	})
	return mat
}

// matToImage converts a 4-channel RGBA Mat back to *image.RGBA.
func matToImage(mat gocv.Mat) *image.RGBA {
	h, w := mat.Rows(), mat.Cols()
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	stripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := y * img.Stride
			for x := 0; x < w; x++ {
				o := row + x*4
				img.Pix[o+0] = mat.GetUCharAt(y, x*4+0)
				img.Pix[o+1] = mat.GetUCharAt(y, x*4+1)
				img.Pix[o+2] = mat.GetUCharAt(y, x*4+2)
				img.Pix[o+3] = mat.GetUCharAt(y, x*4+3)
			}
		}
	})
	return img
}

// stripes runs fn over [0, height) split into one horizontal band per CPU.
func stripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		if startY >= height {
			break
		}
		endY := min(startY+rowsPerWorker, height)
		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
