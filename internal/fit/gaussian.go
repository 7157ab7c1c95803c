package fit

import (
	"math"

	"go-imfit/pkg/models"
)

// Parameter vector layout shared by the cloud models.
const (
	pX0 = iota
	pY0
	pA
	pSigmaX
	pSigmaY
	pTheta
	pOffset
	pGradX
	pGradY
	pQ // FermiDirac3D only
)

var gaussianParams = []string{"x0", "y0", "A", "sigmax", "sigmay", "theta", "offset", "gradx", "grady"}

// Gaussian is a rotated 2D Gaussian on a linear background:
//
//	A exp(-(x'^2/sx^2 + y'^2/sy^2)/2) + offset + gradx x + grady y
//
// with x, y relative to (x0, y0) and x', y' rotated by theta.
type Gaussian struct {
	centerSeeder
}

func (Gaussian) Name() string { return "Gaussian" }

func (Gaussian) Params() []string { return gaussianParams }

func (Gaussian) Eval(x, y float64, p []float64) float64 {
	dx, dy, rho := ellipse(x, y, p)
	return p[pA]*math.Exp(-rho) + background(dx, dy, p)
}

// PostProcess reports sigmax_um, sigmay_um and the atom number N when the
// calibrations allow it.
func (Gaussian) PostProcess(p map[string]float64, cal models.Calibrations, _ int) map[string]float64 {
	derived := sizes(p, cal)
	if n, ok := atomNumber(p, cal); ok {
		derived["N"] = n
	}
	return derived
}

// ellipse returns the offsets from the centre and the scaled squared radius
// rho = (x'^2/sx^2 + y'^2/sy^2)/2.
func ellipse(x, y float64, p []float64) (dx, dy, rho float64) {
	dx = x - p[pX0]
	dy = y - p[pY0]
	sin, cos := math.Sincos(p[pTheta])
	xr := dx*cos - dy*sin
	yr := dx*sin + dy*cos
	sx, sy := p[pSigmaX], p[pSigmaY]
	rho = 0.5 * (xr*xr/(sx*sx) + yr*yr/(sy*sy))
	return dx, dy, rho
}

func background(dx, dy float64, p []float64) float64 {
	return p[pOffset] + p[pGradX]*dx + p[pGradY]*dy
}

func sizes(p map[string]float64, cal models.Calibrations) map[string]float64 {
	derived := make(map[string]float64)
	if cal.PxSizeUm > 0 {
		derived["sigmax_um"] = math.Abs(p["sigmax"]) * cal.PxSizeUm
		derived["sigmay_um"] = math.Abs(p["sigmay"]) * cal.PxSizeUm
	}
	return derived
}

// atomNumber inverts the peak optical density of a Gaussian column density
// to an atom number using the resonant cross section 3 lambda^2 / 2 pi:
//
//	N = (1/eff) 2 A sx sy (2 pi)^2 / (3 lambda^2)
//
// with the widths converted from pixels to metres.
func atomNumber(p map[string]float64, cal models.Calibrations) (float64, bool) {
	if cal.PxSizeUm <= 0 || cal.Eff <= 0 || cal.LambdaM <= 0 {
		return 0, false
	}
	sx := math.Abs(p["sigmax"]) * cal.PxSizeUm * 1e-6
	sy := math.Abs(p["sigmay"]) * cal.PxSizeUm * 1e-6
	n := 2 * p["A"] * sx * sy * (2 * math.Pi) * (2 * math.Pi) / (3 * cal.LambdaM * cal.LambdaM)
	return n / cal.Eff, true
}
