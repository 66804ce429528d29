package testsupport

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"sync"
)

// RasterStub stands in for pdftoppm. It renders every page as a blank
// letter-size image and records the pages it was asked for.
type RasterStub struct {
	mu    sync.Mutex
	Pages []int
	Err   error
}

// Rasterize writes a white letter-size PNG at dpi to outPNG.
func (r *RasterStub) Rasterize(_ context.Context, _ string, pageIndex, dpi int, outPNG string) error {
	r.mu.Lock()
	r.Pages = append(r.Pages, pageIndex)
	err := r.Err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	w, h := 612*dpi/72, 792*dpi/72
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	f, err := os.Create(outPNG)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Calls returns the pages rendered so far.
func (r *RasterStub) Calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.Pages...)
}
