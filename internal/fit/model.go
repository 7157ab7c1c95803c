// Package fit implements the bounded nonlinear least-squares fit of
// physical cloud models to optical density maps and the orchestration of
// named fits across the cameras of one shot.
package fit

import (
	"image"
	"sort"
	"strings"
	"sync"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

// Model is a forward function over absolute unbinned pixel coordinates
// together with its pre- and post-processing hooks.
type Model interface {
	// Name is the canonical registry name.
	Name() string

	// Params lists every parameter Eval reads, in the order of the vector
	// passed to Eval. A fit config must supply all of them.
	Params() []string

	// Seeds lists parameters PreProcess can infer when a region is set.
	Seeds() []string

	// Eval returns the model value at (x, y) for the parameter vector p.
	Eval(x, y float64, p []float64) float64

	// PreProcess fills seedable parameters missing from params using the
	// observed frame. Caller supplied entries are never modified.
	PreProcess(f frame.Frame, window image.Rectangle, binning int, region *models.Region, params map[string]models.ParamSpec)

	// PostProcess derives physical quantities from the fitted parameters.
	PostProcess(p map[string]float64, cal models.Calibrations, binning int) map[string]float64
}

// Registry maps fit function names to models. Lookups are case insensitive.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// DefaultRegistry returns a registry holding Gaussian and FermiDirac3D.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Gaussian{})
	r.Register(FermiDirac3D{})
	return r
}

// Register adds or replaces a model under its name.
func (r *Registry) Register(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[strings.ToLower(m.Name())] = m
}

// Lookup resolves a fit function name.
func (r *Registry) Lookup(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, apperrors.NewConfigurationError("unknown fit function "+name, apperrors.ErrUnknownModel).
			WithDetails("registered: " + strings.Join(r.names(), ", "))
	}
	return m, nil
}

// Names returns the canonical names of all registered models, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.models))
	for _, m := range r.models {
		names = append(names, m.Name())
	}
	sort.Strings(names)
	return names
}
