package fit

import (
	"math"

	"go-imfit/internal/polylog"
	"go-imfit/pkg/models"
)

var fermiDiracParams = []string{"x0", "y0", "A", "sigmax", "sigmay", "theta", "offset", "gradx", "grady", "q"}

// FermiDirac3D is the column density of a harmonically trapped ideal Fermi
// gas, parameterised by the log fugacity q:
//
//	A Li2(-e^(q-rho)) / Li2(-e^q) + offset + gradx x + grady y
//
// A is the peak optical density; rho is the Gaussian exponent.
type FermiDirac3D struct {
	centerSeeder
}

func (FermiDirac3D) Name() string { return "FermiDirac3D" }

func (FermiDirac3D) Params() []string { return fermiDiracParams }

func (FermiDirac3D) Eval(x, y float64, p []float64) float64 {
	dx, dy, rho := ellipse(x, y, p)
	q := p[pQ]
	return p[pA]*polylog.Li2(q-rho)/polylog.Li2(q) + background(dx, dy, p)
}

// PostProcess reports the sizes, the atom number weighted by
// Li3(-e^q)/Li2(-e^q), the fugacity z and T/T_F = (-6 Li3(-e^q))^(-1/3).
func (FermiDirac3D) PostProcess(p map[string]float64, cal models.Calibrations, _ int) map[string]float64 {
	derived := sizes(p, cal)
	q := p["q"]
	li2, li3 := polylog.Li2(q), polylog.Li3(q)
	if n, ok := atomNumber(p, cal); ok && li2 != 0 {
		derived["N"] = n * li3 / li2
	}
	derived["z"] = math.Exp(q)
	derived["T_TF"] = math.Cbrt(-1 / (6 * li3))
	return derived
}
