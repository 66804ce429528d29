package pdfops

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"docpipe/internal/fileutil"
)

// PaintBoxes blacks out boxes on a rendered page image in place. Boxes are
// in unrotated page space; the image must be an unrotated render at dpi.
// It returns the page size in points derived from the image.
func PaintBoxes(pngPath string, boxes []Rect, dpi int) (width, height float64, err error) {
	src, err := decodePNG(pngPath)
	if err != nil {
		return 0, 0, err
	}
	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	black := image.NewUniform(color.Black)
	for _, box := range boxes {
		r := PixelRect(box, dpi, bounds.Dy()).Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			continue
		}
		draw.Draw(canvas, r, black, image.Point{}, draw.Src)
	}

	if err := encodePNG(pngPath, canvas); err != nil {
		return 0, 0, err
	}
	return pointsFromPixels(bounds.Dx(), dpi), pointsFromPixels(bounds.Dy(), dpi), nil
}

// PageSize reads a rendered page and returns its size in points.
func PageSize(pngPath string, dpi int) (float64, float64, error) {
	f, err := os.Open(pngPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", pngPath, err)
	}
	return pointsFromPixels(cfg.Width, dpi), pointsFromPixels(cfg.Height, dpi), nil
}

func pointsFromPixels(px, dpi int) float64 {
	return float64(px) * 72.0 / float64(dpi)
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func encodePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if _, err := fileutil.WriteAtomic(path, &buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
