package fit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/internal/logger"
	"go-imfit/pkg/models"
)

// FitError is the failure of one named fit
type FitError struct {
	Name     string
	Camera   string
	Function string
	Err      error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %q (camera %s, function %s): %v", e.Name, e.Camera, e.Function, e.Err)
}

func (e *FitError) Unwrap() error {
	return e.Err
}

// FitShotError collects the failures of a partial-results orchestration
type FitShotError struct {
	Failures []*FitError
}

func (e *FitShotError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d fits failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *FitShotError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Hook observes each finished fit. Exactly one of result and err is nil.
type Hook func(name string, cfg models.FitConfig, result *models.FitResult, elapsed time.Duration, err error)

// Orchestrator applies a set of named fit configs to one shot
type Orchestrator struct {
	engine      *Engine
	partial     bool
	parallelism int
	hooks       []Hook
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithPartialResults keeps successful fits when siblings fail. The
// failures are returned as a *FitShotError next to the partial report.
func WithPartialResults() OrchestratorOption {
	return func(o *Orchestrator) {
		o.partial = true
	}
}

// WithParallelism runs up to n fits of a shot concurrently.
func WithParallelism(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.parallelism = n
	}
}

// WithHook registers a callback invoked after every fit. Hooks run on the
// fitting goroutine and must be safe for concurrent use with WithParallelism.
func WithHook(h Hook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, h)
	}
}

// NewOrchestrator creates an orchestrator around engine
func NewOrchestrator(engine *Engine, opts ...OrchestratorOption) *Orchestrator {
	if engine == nil {
		engine = NewEngine(nil)
	}
	o := &Orchestrator{engine: engine, parallelism: 1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome struct {
	result *models.FitResult
	err    *FitError
}

// FitShot fits every config against the stack of its camera. By default the
// first failing fit, in name order, aborts the call and no report is
// returned. Results never depend on the iteration or scheduling order.
func (o *Orchestrator) FitShot(images map[string]frame.Stack, shot *models.Shot, configs map[string]models.FitConfig) (models.FitReport, error) {
	return o.FitShotContext(context.Background(), images, shot, configs)
}

// FitShotContext is FitShot with cancellation. Once ctx is done the running
// fits stop at their next solver iteration and pending fits are not started.
func (o *Orchestrator) FitShotContext(ctx context.Context, images map[string]frame.Stack, shot *models.Shot, configs map[string]models.FitConfig) (models.FitReport, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	outcomes := make([]outcome, len(names))
	if o.parallelism > 1 && len(names) > 1 {
		o.runParallel(ctx, images, shot, configs, names, outcomes)
	} else {
		for i, name := range names {
			outcomes[i] = o.runOne(ctx, images, shot, name, configs[name])
			if outcomes[i].err != nil && !o.partial {
				return nil, outcomes[i].err
			}
		}
	}

	report := make(models.FitReport, len(names))
	var failures []*FitError
	for i, name := range names {
		if outcomes[i].err != nil {
			if !o.partial {
				return nil, outcomes[i].err
			}
			failures = append(failures, outcomes[i].err)
			continue
		}
		report[name] = outcomes[i].result
	}
	if len(failures) > 0 {
		return report, &FitShotError{Failures: failures}
	}
	return report, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, images map[string]frame.Stack, shot *models.Shot, configs map[string]models.FitConfig, names []string, outcomes []outcome) {
	pool := NewWorkerPool(min(o.parallelism, len(names)))
	pool.Start()
	defer pool.Close()

	for i, name := range names {
		i, name := i, name
		pool.Submit(func() {
			outcomes[i] = o.runOne(ctx, images, shot, name, configs[name])
		})
	}
	pool.Wait()
}

func (o *Orchestrator) runOne(ctx context.Context, images map[string]frame.Stack, shot *models.Shot, name string, cfg models.FitConfig) outcome {
	log := logger.WithFields(logrus.Fields{
		"fit":      name,
		"camera":   cfg.Camera,
		"function": cfg.Function,
	})

	start := time.Now()
	result, err := o.fitOne(ctx, images, shot, cfg)
	elapsed := time.Since(start)
	for _, h := range o.hooks {
		h(name, cfg, result, elapsed, err)
	}
	if err != nil {
		log.WithError(err).Debug("Fit failed")
		return outcome{err: &FitError{Name: name, Camera: cfg.Camera, Function: cfg.Function, Err: err}}
	}
	log.WithField("status", result.Status.String()).Debug("Fit completed")
	return outcome{result: result}
}

func (o *Orchestrator) fitOne(ctx context.Context, images map[string]frame.Stack, shot *models.Shot, cfg models.FitConfig) (*models.FitResult, error) {
	stack, ok := images[cfg.Camera]
	if !ok {
		return nil, apperrors.NewLookupError("camera image", cfg.Camera)
	}
	var cam models.CameraMetadata
	if shot != nil {
		cam, ok = shot.Cameras[cfg.Camera]
	}
	if shot == nil || !ok {
		return nil, apperrors.NewLookupError("camera metadata", cfg.Camera)
	}
	return o.engine.FitContext(ctx, stack, cam, cfg)
}

// AsFitShotError reports whether err carries partial-result failures.
func AsFitShotError(err error) (*FitShotError, bool) {
	var fse *FitShotError
	ok := errors.As(err, &fse)
	return fse, ok
}
