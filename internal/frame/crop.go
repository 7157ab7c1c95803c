package frame

import (
	"image"

	"go-imfit/pkg/models"
)

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Window returns the binned pixel window a region selects in a frame of the
// given bounds. Region values are in unbinned pixels and are floor divided by
// the binning factor before the window [yc-h/2, yc+h/2) x [xc-w/2, xc+w/2)
// is clamped to the frame. A nil region selects the whole frame.
func Window(bounds image.Rectangle, region *models.Region, binning int) image.Rectangle {
	if region == nil {
		return bounds
	}
	if binning < 1 {
		binning = 1
	}
	xc := floorDiv(region.XC, binning)
	yc := floorDiv(region.YC, binning)
	w := floorDiv(region.W, binning)
	h := floorDiv(region.H, binning)

	x0 := clamp(xc-floorDiv(w, 2), bounds.Min.X, bounds.Max.X)
	x1 := clamp(xc+floorDiv(w, 2), bounds.Min.X, bounds.Max.X)
	y0 := clamp(yc-floorDiv(h, 2), bounds.Min.Y, bounds.Max.Y)
	y1 := clamp(yc+floorDiv(h, 2), bounds.Min.Y, bounds.Max.Y)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return image.Rectangle{Min: image.Pt(x0, y0), Max: image.Pt(x1, y1)}
}

// Crop returns the sub-frame selected by region along with its window.
// Out-of-range regions shrink silently, possibly to an empty frame.
func Crop(f Frame, region *models.Region, binning int) (Frame, image.Rectangle) {
	win := Window(f.Bounds(), region, binning)
	return f.Region(win), win
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
