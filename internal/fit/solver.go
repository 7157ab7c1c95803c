package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go-imfit/pkg/models"
)

// ResidualFunc writes the m residuals at x into dst.
type ResidualFunc func(dst, x []float64)

// Problem is a box constrained nonlinear least-squares problem:
// minimise 1/2 ||r(x)||^2 subject to Lower <= x <= Upper.
type Problem struct {
	Residual ResidualFunc
	M        int
	Lower    []float64
	Upper    []float64
}

// SolverOptions control termination.
type SolverOptions struct {
	FTol float64
	XTol float64
	GTol float64
	// MaxEvaluations caps residual evaluations, excluding those spent on
	// the finite difference Jacobian. Zero means 100 per free parameter.
	MaxEvaluations int
	// Interrupt, when set, is polled before every iteration. Returning true
	// stops the solver with the current iterate and Interrupted set.
	Interrupt func() bool
}

// DefaultSolverOptions returns ftol = xtol = gtol = 1e-8.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{FTol: 1e-8, XTol: 1e-8, GTol: 1e-8}
}

// Solution is the outcome of Solve
type Solution struct {
	X           []float64
	Residuals   []float64
	Cost        float64
	Status      models.Status
	Evaluations int
	Message     string
	Interrupted bool
}

const (
	// feasibility margin for iterates relative to the bound width
	interiorStep = 1e-10
	// fraction of the distance to a bound a truncated step may cover
	stepBackRatio = 0.995
	initialDamping = 1e-3
	minDamping     = 1e-15
	maxDamping     = 1e15

	running models.Status = -2
)

// Solve minimises the problem from x0 with a bounded Levenberg-Marquardt
// trust-region method. Variables are scaled by their distance to the bound
// the gradient points at (Coleman-Li) and every iterate stays strictly
// inside the box; steps that leave it are reflected off the violated bound
// or truncated, whichever the local model predicts to be better.
//
// Termination follows the MINPACK conventions:
//
//	gtol: ||scaled gradient||_inf < gtol
//	ftol: accepted reduction < ftol * cost with a good model agreement
//	xtol: ||step|| < xtol * (xtol + ||x||)
//
// Invalid input (empty problem, inverted bounds, x0 outside the box,
// non-finite residuals at x0) yields ImproperInput without iterating.
func Solve(p Problem, x0 []float64, opts SolverOptions) *Solution {
	n := len(x0)
	if opts.FTol <= 0 && opts.XTol <= 0 && opts.GTol <= 0 {
		opts = DefaultSolverOptions()
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = 100 * n
	}

	if msg := checkProblem(p, x0); msg != "" {
		return &Solution{X: append([]float64(nil), x0...), Status: models.ImproperInput, Message: msg}
	}

	s := &solver{p: p, n: n, m: p.M, opts: opts}
	return s.run(x0)
}

func checkProblem(p Problem, x0 []float64) string {
	n := len(x0)
	switch {
	case n == 0:
		return "no free parameters"
	case p.M == 0:
		return "no residuals to fit"
	case p.Residual == nil:
		return "residual function is nil"
	case len(p.Lower) != n || len(p.Upper) != n:
		return fmt.Sprintf("bounds have %d/%d entries for %d parameters", len(p.Lower), len(p.Upper), n)
	}
	for i := range x0 {
		lo, hi := p.Lower[i], p.Upper[i]
		if math.IsNaN(lo) || math.IsNaN(hi) || !(lo < hi) {
			return fmt.Sprintf("parameter %d: lower bound %g must be below upper bound %g", i, lo, hi)
		}
		if !(x0[i] >= lo && x0[i] <= hi) {
			return fmt.Sprintf("parameter %d: x0 %g is infeasible", i, x0[i])
		}
	}
	return ""
}

type solver struct {
	p    Problem
	n, m int
	opts SolverOptions
	nfev int
}

func (s *solver) eval(dst, x []float64) (cost float64, finite bool) {
	s.p.Residual(dst, x)
	for _, v := range dst {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1), false
		}
	}
	return 0.5 * floats.Dot(dst, dst), true
}

func (s *solver) run(x0 []float64) *Solution {
	n, m := s.n, s.m
	lo, hi := s.p.Lower, s.p.Upper

	x := makeStrictlyFeasible(x0, lo, hi)
	f := make([]float64, m)
	cost, ok := s.eval(f, x)
	s.nfev++
	if !ok {
		return &Solution{X: x, Residuals: f, Cost: cost, Status: models.ImproperInput, Evaluations: s.nfev,
			Message: "residuals are not finite at the initial point"}
	}

	jac := mat.NewDense(m, n, nil)
	var jtj mat.SymDense
	g := mat.NewVecDense(n, nil)
	fNew := make([]float64, m)
	xTrial := make([]float64, n)
	step := make([]float64, n)
	d := make([]float64, n)

	mu := initialDamping
	status := running
	interrupted := false

	for status == running {
		if s.opts.Interrupt != nil && s.opts.Interrupt() {
			status = models.MaxEvaluationsExceeded
			interrupted = true
			break
		}
		s.jacobian(jac, x, f)
		jtj.SymOuterK(1, jac.T())
		g.MulVec(jac.T(), mat.NewVecDense(m, f))

		// Coleman-Li scaling: distance to the bound the descent direction points at.
		gnorm := 0.0
		for j := 0; j < n; j++ {
			gj := g.AtVec(j)
			v := 1.0
			if gj < 0 {
				v = hi[j] - x[j]
			} else if gj > 0 {
				v = x[j] - lo[j]
			}
			d[j] = math.Sqrt(v)
			gnorm = math.Max(gnorm, math.Abs(gj*v))
		}
		if gnorm < s.opts.GTol {
			status = models.GradientToleranceSatisfied
			break
		}
		if s.nfev >= s.opts.MaxEvaluations {
			status = models.MaxEvaluationsExceeded
			break
		}

		for {
			if !s.lmStep(step, &jtj, g, d, mu) {
				mu = math.Min(mu*4, maxDamping)
				if mu >= maxDamping {
					status = models.ParameterToleranceSatisfied
					break
				}
				continue
			}
			pred := s.boundedStep(step, xTrial, x, &jtj, g)

			costNew, finite := s.eval(fNew, xTrial)
			s.nfev++
			actual := cost - costNew
			if !finite {
				actual = math.Inf(-1)
			}

			ratio := 0.0
			if pred > 0 {
				ratio = actual / pred
			}
			switch {
			case ratio < 0.25:
				mu = math.Min(mu*4, maxDamping)
			case ratio > 0.75:
				mu = math.Max(mu/3, minDamping)
			}

			stepNorm := floats.Norm(step, 2)
			xNorm := floats.Norm(x, 2)
			ftolOK := actual < s.opts.FTol*cost && ratio > 0.25
			xtolOK := stepNorm < s.opts.XTol*(s.opts.XTol+xNorm)

			if actual > 0 {
				copy(x, xTrial)
				copy(f, fNew)
				cost = costNew
			}

			switch {
			case ftolOK && xtolOK:
				status = models.BothFunctionAndParameterToleranceSatisfied
			case ftolOK:
				status = models.FunctionToleranceSatisfied
			case xtolOK:
				status = models.ParameterToleranceSatisfied
			case s.nfev >= s.opts.MaxEvaluations && actual <= 0:
				status = models.MaxEvaluationsExceeded
			}
			if status != running || actual > 0 {
				break
			}
		}
	}

	return &Solution{
		X:           x,
		Residuals:   f,
		Cost:        cost,
		Status:      status,
		Evaluations: s.nfev,
		Message:     status.Description(),
		Interrupted: interrupted,
	}
}

// jacobian fills jac with forward differences at x, stepping away from the
// nearer bound so every evaluation point is feasible.
func (s *solver) jacobian(jac *mat.Dense, x, f []float64) {
	lo, hi := s.p.Lower, s.p.Upper
	xp := append([]float64(nil), x...)
	fp := make([]float64, s.m)
	sqrtEps := math.Sqrt(2.220446049250313e-16)

	for j := 0; j < s.n; j++ {
		h := sqrtEps * math.Max(1, math.Abs(x[j]))
		if x[j]+h > hi[j] {
			if x[j]-h >= lo[j] {
				h = -h
			} else if hi[j]-x[j] >= x[j]-lo[j] {
				h = (hi[j] - x[j]) / 2
			} else {
				h = -(x[j] - lo[j]) / 2
			}
		}
		xp[j] = x[j] + h
		s.p.Residual(fp, xp)
		xp[j] = x[j]

		for i := 0; i < s.m; i++ {
			v := (fp[i] - f[i]) / h
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			jac.Set(i, j, v)
		}
	}
}

// lmStep solves (D JtJ D + mu diag(JtJ)) p = -D g and returns step = D p.
// In unscaled variables the damping of parameter j is mu JtJ_jj / v_j, so
// parameters close to the bound they move towards are held back.
func (s *solver) lmStep(step []float64, jtj *mat.SymDense, g *mat.VecDense, d []float64, mu float64) bool {
	n := s.n
	a := mat.NewSymDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, jtj.At(i, i))
	}
	if maxDiag == 0 {
		maxDiag = 1
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a.SetSym(i, j, d[i]*jtj.At(i, j)*d[j])
		}
		damp := math.Max(jtj.At(i, i), 1e-12*maxDiag)
		a.SetSym(i, i, a.At(i, i)+mu*damp)
		rhs.SetVec(i, -d[i]*g.AtVec(i))
	}

	var sol mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(&sol, rhs); err != nil {
			return false
		}
	} else {
		var qr mat.QR
		qr.Factorize(mat.DenseCopyOf(a))
		if err := qr.SolveVecTo(&sol, false, rhs); err != nil {
			return false
		}
	}
	for i := 0; i < n; i++ {
		step[i] = d[i] * sol.AtVec(i)
		if math.IsNaN(step[i]) || math.IsInf(step[i], 0) {
			return false
		}
	}
	return true
}

// boundedStep turns the unconstrained step into a strictly feasible trial
// point and returns the predicted reduction of the chosen step. step is
// updated in place to trial - x.
func (s *solver) boundedStep(step, trial, x []float64, jtj *mat.SymDense, g *mat.VecDense) float64 {
	lo, hi := s.p.Lower, s.p.Upper
	n := s.n

	alpha := 1.0
	for j := 0; j < n; j++ {
		switch {
		case step[j] > 0 && x[j]+step[j] > hi[j]:
			alpha = math.Min(alpha, (hi[j]-x[j])/step[j])
		case step[j] < 0 && x[j]+step[j] < lo[j]:
			alpha = math.Min(alpha, (lo[j]-x[j])/step[j])
		}
	}
	if alpha >= 1 {
		for j := 0; j < n; j++ {
			trial[j] = clampInterior(x[j]+step[j], lo[j], hi[j])
			step[j] = trial[j] - x[j]
		}
		return predictedReduction(step, jtj, g)
	}

	truncated := make([]float64, n)
	reflected := make([]float64, n)
	for j := 0; j < n; j++ {
		truncated[j] = stepBackRatio * alpha * step[j]
		y := x[j] + step[j]
		if y > hi[j] {
			y = 2*hi[j] - y
		} else if y < lo[j] {
			y = 2*lo[j] - y
		}
		reflected[j] = clampInterior(y, lo[j], hi[j]) - x[j]
	}

	predT := predictedReduction(truncated, jtj, g)
	predR := predictedReduction(reflected, jtj, g)
	chosen, pred := truncated, predT
	if predR > predT {
		chosen, pred = reflected, predR
	}
	for j := 0; j < n; j++ {
		step[j] = chosen[j]
		trial[j] = clampInterior(x[j]+chosen[j], lo[j], hi[j])
	}
	return pred
}

// predictedReduction of the Gauss-Newton model: -(g.s + s.JtJ.s / 2).
func predictedReduction(step []float64, jtj *mat.SymDense, g *mat.VecDense) float64 {
	sv := mat.NewVecDense(len(step), step)
	var js mat.VecDense
	js.MulVec(jtj, sv)
	return -(mat.Dot(g, sv) + 0.5*mat.Dot(sv, &js))
}

func makeStrictlyFeasible(x0, lo, hi []float64) []float64 {
	x := make([]float64, len(x0))
	for i, v := range x0 {
		x[i] = clampInterior(v, lo[i], hi[i])
	}
	return x
}

func clampInterior(v, lo, hi float64) float64 {
	margin := interiorStep * (hi - lo)
	if v < lo+margin {
		return lo + margin
	}
	if v > hi-margin {
		return hi - margin
	}
	return v
}
