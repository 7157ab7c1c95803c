package fit

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"go-imfit/internal/calibration"
	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/internal/logger"
	"go-imfit/pkg/models"
)

// frameBuilder produces the frame a fit runs on together with its window
// in binned pixels.
type frameBuilder func(stack frame.Stack, cfg models.FitConfig, binning int) (frame.Frame, image.Rectangle, error)

// Engine fits one frame stack against one configuration. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	registry     *Registry
	options      SolverOptions
	prepareFrame frameBuilder
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithSolverOptions overrides the solver tolerances.
func WithSolverOptions(opts SolverOptions) EngineOption {
	return func(e *Engine) {
		e.options = opts
	}
}

// NewEngine creates an engine resolving models from registry. A nil
// registry uses DefaultRegistry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	e := &Engine{
		registry:     registry,
		options:      DefaultSolverOptions(),
		prepareFrame: buildFrame,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// buildFrame computes the OD map or crops the named role frame.
func buildFrame(stack frame.Stack, cfg models.FitConfig, binning int) (frame.Frame, image.Rectangle, error) {
	if cfg.FrameName() == models.FrameOD {
		return frame.OpticalDensity(stack, cfg, binning)
	}
	return frame.CropRole(stack, cfg, binning, cfg.FrameName())
}

// Fit runs a single configured fit. Configuration problems are reported
// before the frame stack is touched; ImproperInput from the solver is
// returned as a solver error. Every other termination yields a result.
func (e *Engine) Fit(stack frame.Stack, cam models.CameraMetadata, cfg models.FitConfig) (*models.FitResult, error) {
	return e.FitContext(context.Background(), stack, cam, cfg)
}

// FitContext is Fit with cancellation. The solver polls ctx between
// iterations and a cancelled fit returns a timeout error without a result.
func (e *Engine) FitContext(ctx context.Context, stack frame.Stack, cam models.CameraMetadata, cfg models.FitConfig) (*models.FitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTimeoutError("fit cancelled", err)
	}
	model, err := e.registry.Lookup(cfg.Function)
	if err != nil {
		return nil, err
	}
	if err := validateParams(model, cfg); err != nil {
		return nil, err
	}
	binning, err := cam.BinFactor()
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid camera binning", err)
	}
	cfg, err = calibration.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	img, window, err := e.prepareFrame(stack, cfg, binning)
	if err != nil {
		return nil, err
	}

	params := cfg.Clone().Params
	model.PreProcess(img, window, binning, cfg.Region, params)

	names := model.Params()
	base := make([]float64, len(names))
	var free []int
	var x0, lower, upper []float64
	for i, name := range names {
		spec, ok := params[name]
		if !ok {
			return nil, apperrors.NewMissingParameterError(name, model.Name())
		}
		if spec.Fixed {
			base[i] = spec.Value
			continue
		}
		free = append(free, i)
		x0 = append(x0, spec.Initial)
		lower = append(lower, spec.Lower)
		upper = append(upper, spec.Upper)
	}

	xs, ys := grid(img, window, binning)
	data := img.Flatten()

	p := make([]float64, len(base))
	residual := func(dst, x []float64) {
		copy(p, base)
		for k, idx := range free {
			p[idx] = x[k]
		}
		for k := range dst {
			dst[k] = model.Eval(xs[k], ys[k], p) - data[k]
		}
	}

	opts := e.options
	if ctx.Done() != nil {
		opts.Interrupt = func() bool { return ctx.Err() != nil }
	}
	sol := Solve(Problem{Residual: residual, M: len(data), Lower: lower, Upper: upper}, x0, opts)
	if sol.Interrupted {
		return nil, apperrors.NewTimeoutError("fit cancelled", ctx.Err())
	}
	if sol.Status == models.ImproperInput {
		return nil, apperrors.NewSolverError(sol.Message, nil).
			WithDetails(fmt.Sprintf("function %s, %d free parameters, %d pixels", model.Name(), len(free), len(data)))
	}

	fitted := make(map[string]float64, len(names))
	for i, name := range names {
		fitted[name] = base[i]
	}
	for k, idx := range free {
		fitted[names[idx]] = sol.X[k]
	}

	estimates := make([]float64, len(data))
	for k := range data {
		estimates[k] = data[k] + sol.Residuals[k]
	}

	result := &models.FitResult{
		Params:      fitted,
		Status:      sol.Status,
		Derived:     finiteOnly(model.PostProcess(fitted, cfg.Calibrations, binning)),
		Cost:        sol.Cost,
		Evaluations: sol.Evaluations,
		RSquared:    rSquared(estimates, data),
	}

	logger.WithFields(logrus.Fields{
		"function":    model.Name(),
		"camera":      cfg.Camera,
		"status":      result.Status.String(),
		"evaluations": result.Evaluations,
		"cost":        result.Cost,
	}).Debug("Fit finished")

	return result, nil
}

// validateParams checks every declared parameter is supplied or seedable
// and that supplied bounds are well formed.
func validateParams(model Model, cfg models.FitConfig) error {
	names := make([]string, 0, len(cfg.Params))
	for name := range cfg.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := cfg.Params[name].Validate(); err != nil {
			return apperrors.NewConfigurationError(
				fmt.Sprintf("parameter %s of %s", name, model.Name()),
				fmt.Errorf("%w: %v", apperrors.ErrMalformedParameter, err),
			)
		}
	}

	seedable := make(map[string]bool)
	for _, s := range model.Seeds() {
		seedable[s] = true
	}
	for _, name := range model.Params() {
		if _, ok := cfg.Params[name]; ok {
			continue
		}
		if seedable[name] && cfg.Region != nil {
			continue
		}
		return apperrors.NewMissingParameterError(name, model.Name())
	}
	return nil
}

// grid returns absolute unbinned pixel coordinates for every pixel of f in
// row-major order. The window origin is the clamped crop corner.
func grid(f frame.Frame, window image.Rectangle, binning int) (xs, ys []float64) {
	xs = make([]float64, 0, f.Len())
	ys = make([]float64, 0, f.Len())
	for r := 0; r < f.Rows(); r++ {
		for c := 0; c < f.Cols(); c++ {
			xs = append(xs, float64((c+window.Min.X)*binning))
			ys = append(ys, float64((r+window.Min.Y)*binning))
		}
	}
	return xs, ys
}

// rSquared is the coefficient of determination, 0 when the data are flat.
func rSquared(estimates, values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	r2 := stat.RSquaredFrom(estimates, values, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0
	}
	return r2
}

func finiteOnly(derived map[string]float64) map[string]float64 {
	for k, v := range derived {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(derived, k)
		}
	}
	return derived
}
