package fit

import (
	"image"
	"math"
	"sort"

	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

// peakMinDistance is both the suppression radius around a peak and the
// border width excluded from the search, in binned pixels.
const peakMinDistance = 15

// centerSeeder seeds x0/y0 from the strongest local maximum in the fit
// region. Models embed it to share the pre-process step.
type centerSeeder struct{}

func (centerSeeder) Seeds() []string { return []string{"x0", "y0"} }

func (centerSeeder) PreProcess(f frame.Frame, window image.Rectangle, binning int, region *models.Region, params map[string]models.ParamSpec) {
	if region == nil {
		return
	}
	_, hasX := params["x0"]
	_, hasY := params["y0"]
	if hasX && hasY {
		return
	}
	if binning < 1 {
		binning = 1
	}

	px, py := float64(region.XC), float64(region.YC)
	if row, col, ok := PeakLocalMax(f, peakMinDistance); ok {
		px = float64((col + window.Min.X) * binning)
		py = float64((row + window.Min.Y) * binning)
	}
	if !hasX {
		params["x0"] = seedCenter(px, region.XC, region.W)
	}
	if !hasY {
		params["y0"] = seedCenter(py, region.YC, region.H)
	}
}

// seedCenter bounds a seeded centre to the region extent c +/- extent/2.
func seedCenter(v float64, c, extent int) models.ParamSpec {
	half := float64(extent) / 2
	lo, hi := float64(c)-half, float64(c)+half
	if !(lo < hi) {
		return models.FixedParam(float64(c))
	}
	return models.FreeParam(math.Min(math.Max(v, lo), hi), lo, hi)
}

// PeakLocalMax returns the position of the brightest pixel that is the
// maximum of its (2d+1)x(2d+1) neighbourhood, is at least d pixels from
// every border and is above the frame minimum. ok is false if no pixel
// qualifies.
func PeakLocalMax(f frame.Frame, d int) (row, col int, ok bool) {
	rows, cols := f.Rows(), f.Cols()
	if rows <= 2*d || cols <= 2*d {
		return 0, 0, false
	}

	floor := math.Inf(1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			floor = math.Min(floor, f.At(r, c))
		}
	}

	type candidate struct {
		r, c int
		v    float64
	}
	var candidates []candidate
	for r := d; r < rows-d; r++ {
		for c := d; c < cols-d; c++ {
			if v := f.At(r, c); v > floor {
				candidates = append(candidates, candidate{r, c, v})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].v > candidates[j].v })

	for _, cand := range candidates {
		if isNeighbourhoodMax(f, cand.r, cand.c, d) {
			return cand.r, cand.c, true
		}
	}
	return 0, 0, false
}

func isNeighbourhoodMax(f frame.Frame, r, c, d int) bool {
	v := f.At(r, c)
	r0, r1 := max(r-d, 0), min(r+d, f.Rows()-1)
	c0, c1 := max(c-d, 0), min(c+d, f.Cols()-1)
	for y := r0; y <= r1; y++ {
		for x := c0; x <= c1; x++ {
			if f.At(y, x) > v {
				return false
			}
		}
	}
	return true
}
