package pdfops

import (
	"fmt"
	"image"
	"math"
)

// Rect is an axis-aligned rectangle in PDF points, origin bottom-left.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box is a redaction drawn while the page was displayed at Orientation.
type Box struct {
	Rect
	Orientation int
}

// NormalizeRotation folds any multiple of 90 into [0, 360).
func NormalizeRotation(r int) int {
	r %= 360
	if r < 0 {
		r += 360
	}
	return r
}

// MapRect converts a rectangle drawn in the display space of a page shown at
// orientation into the page's unrotated space. width and height are the
// unrotated page size. Rotation is clockwise, as /Rotate is.
func MapRect(r Rect, width, height float64, orientation int) (Rect, error) {
	toPage := func(x, y float64) (float64, float64) { return x, y }
	switch NormalizeRotation(orientation) {
	case 0:
	case 90:
		toPage = func(x, y float64) (float64, float64) { return width - y, x }
	case 180:
		toPage = func(x, y float64) (float64, float64) { return width - x, height - y }
	case 270:
		toPage = func(x, y float64) (float64, float64) { return y, height - x }
	default:
		return Rect{}, fmt.Errorf("orientation %d is not a multiple of 90", orientation)
	}
	x1, y1 := toPage(r.X, r.Y)
	x2, y2 := toPage(r.X+r.Width, r.Y+r.Height)
	return Rect{
		X:      math.Min(x1, x2),
		Y:      math.Min(y1, y2),
		Width:  math.Abs(x2 - x1),
		Height: math.Abs(y2 - y1),
	}, nil
}

// PixelRect converts a page-space rectangle to raster pixels for a page
// rendered at dpi with the given pixel height. Edges round outward so the
// box never leaves a sliver uncovered.
func PixelRect(r Rect, dpi int, pixelHeight int) image.Rectangle {
	scale := float64(dpi) / 72.0
	x0 := int(math.Floor(r.X * scale))
	x1 := int(math.Ceil((r.X + r.Width) * scale))
	top := int(math.Floor(float64(pixelHeight) - (r.Y+r.Height)*scale))
	bottom := int(math.Ceil(float64(pixelHeight) - r.Y*scale))
	return image.Rect(x0, top, x1, bottom)
}
