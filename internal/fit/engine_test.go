package fit

import (
	"errors"
	"image"
	"math"
	"testing"

	apperrors "go-imfit/internal/errors"
	"go-imfit/internal/frame"
	"go-imfit/pkg/models"
)

// odStack renders a shadow/light/dark stack whose optical density, without
// saturation correction, equals od(x, y) at every pixel.
func odStack(rows, cols int, od func(x, y float64) float64) frame.Stack {
	shadow := frame.New(rows, cols)
	light := frame.New(rows, cols)
	dark := frame.New(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dark.Set(r, c, 100)
			light.Set(r, c, 1100)
			shadow.Set(r, c, 100+1000*math.Exp(-od(float64(c), float64(r))))
		}
	}
	return frame.Stack{shadow, light, dark}
}

func render(m Model, truth map[string]float64) func(x, y float64) float64 {
	p := make([]float64, len(m.Params()))
	for i, name := range m.Params() {
		p[i] = truth[name]
	}
	return func(x, y float64) float64 { return m.Eval(x, y, p) }
}

var odRoles = map[string]int{"shadow": 0, "light": 1, "dark": 2}

func sideCamera() models.CameraMetadata {
	return models.CameraMetadata{ImageID: "img", Dtype: "uint16", Shape: []int{3, 400, 500}, Binning: [2]int{1, 1}}
}

func defaultGaussianParams() map[string]models.ParamSpec {
	return map[string]models.ParamSpec{
		"x0":     models.FreeParam(250, 210, 290),
		"y0":     models.FreeParam(340, 325, 355),
		"A":      models.FreeParam(1, 0, 5),
		"sigmax": models.FreeParam(20, 1, 30),
		"sigmay": models.FreeParam(5, 1, 30),
		"theta":  models.FixedParam(0),
		"offset": models.FreeParam(0, -0.5, 0.5),
		"gradx":  models.FreeParam(0, -10, 10),
		"grady":  models.FreeParam(0, -10, 10),
	}
}

func TestEngine_GaussianScenario(t *testing.T) {
	truth := map[string]float64{"x0": 250, "y0": 340, "A": 2.5, "sigmax": 20, "sigmay": 5}
	stack := odStack(400, 500, render(Gaussian{}, truth))
	cfg := models.FitConfig{
		Region:   &models.Region{XC: 250, YC: 340, W: 85, H: 35},
		Function: "Gaussian",
		Params:   defaultGaussianParams(),
		Frames:   odRoles,
		Camera:   "Side",
	}

	result, err := NewEngine(nil).Fit(stack, sideCamera(), cfg)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !result.Status.Success() {
		t.Errorf("Expected successful status, got %v", result.Status)
	}
	if a := result.Params["A"]; math.Abs(a-2.5)/2.5 > 0.01 {
		t.Errorf("Expected A within 1%% of 2.5, got %v", a)
	}
	if result.Params["theta"] != 0 {
		t.Errorf("Expected fixed theta to be reported, got %v", result.Params["theta"])
	}
	if len(result.Params) != len(gaussianParams) {
		t.Errorf("Expected all %d parameters, got %v", len(gaussianParams), result.Params)
	}
	if result.RSquared < 0.999 {
		t.Errorf("Expected near perfect R^2, got %v", result.RSquared)
	}
}

func TestEngine_GaussianRoundTrip(t *testing.T) {
	truth := map[string]float64{
		"x0": 247, "y0": 343, "A": 1.7, "sigmax": 14, "sigmay": 6,
		"theta": 0.2, "offset": 0.05, "gradx": 0.001, "grady": -0.002,
	}
	stack := odStack(400, 500, render(Gaussian{}, truth))
	cfg := models.FitConfig{
		Region:   &models.Region{XC: 250, YC: 340, W: 85, H: 35},
		Function: "Gaussian",
		Params: map[string]models.ParamSpec{
			"x0":     models.FreeParam(250, 240, 260),
			"y0":     models.FreeParam(340, 335, 350),
			"A":      models.FreeParam(1.5, 1, 2.5),
			"sigmax": models.FreeParam(12, 8, 20),
			"sigmay": models.FreeParam(5, 3, 9),
			"theta":  models.FreeParam(0.1, -0.5, 0.5),
			"offset": models.FreeParam(0, -0.2, 0.2),
			"gradx":  models.FreeParam(0, -0.01, 0.01),
			"grady":  models.FreeParam(0, -0.01, 0.01),
		},
		Frames: odRoles,
		Camera: "Side",
	}

	result, err := NewEngine(nil).Fit(stack, sideCamera(), cfg)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !result.Status.Success() {
		t.Fatalf("Expected successful status, got %v", result.Status)
	}
	for name, want := range truth {
		if got := result.Params[name]; math.Abs(got-want) > 1e-4*math.Max(1, math.Abs(want)) {
			t.Errorf("%s = %.8f, want %.8f", name, got, want)
		}
	}
}

func TestEngine_FermiDiracRoundTrip(t *testing.T) {
	truth := map[string]float64{"x0": 252, "y0": 338, "A": 1.2, "sigmax": 15, "sigmay": 8, "q": 1.5}
	stack := odStack(400, 500, render(FermiDirac3D{}, truth))
	cfg := models.FitConfig{
		Region:   &models.Region{XC: 250, YC: 340, W: 90, H: 50},
		Function: "FermiDirac3D",
		Params: map[string]models.ParamSpec{
			"A":      models.FreeParam(1, 0.5, 2),
			"sigmax": models.FreeParam(13, 5, 25),
			"sigmay": models.FreeParam(9, 3, 15),
			"q":      models.FreeParam(1, -2, 4),
			"theta":  models.FixedParam(0),
			"offset": models.FixedParam(0),
			"gradx":  models.FixedParam(0),
			"grady":  models.FixedParam(0),
		},
		Frames:       odRoles,
		Camera:       "Axial",
		Calibrations: models.Calibrations{PxSizeUm: 2.58, Eff: 1, LambdaM: 766.701e-9},
	}

	result, err := NewEngine(nil).Fit(stack, sideCamera(), cfg)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !result.Status.Success() {
		t.Fatalf("Expected successful status, got %v", result.Status)
	}
	for _, name := range []string{"x0", "y0", "A", "sigmax", "sigmay"} {
		want := truth[name]
		if got := result.Params[name]; math.Abs(got-want)/want > 1e-3 {
			t.Errorf("%s = %.6f, want %.6f", name, got, want)
		}
	}
	if got := result.Params["q"]; math.Abs(got-1.5) > 0.01 {
		t.Errorf("q = %.6f, want 1.5", got)
	}
	for _, key := range []string{"N", "T_TF", "sigmax_um", "sigmay_um"} {
		if _, ok := result.Derived[key]; !ok {
			t.Errorf("Expected derived %s, got %v", key, result.Derived)
		}
	}
}

func TestEngine_BinnedRoleFrame(t *testing.T) {
	truth := map[string]float64{"x0": 250, "y0": 340, "A": 800, "sigmax": 20, "sigmay": 6, "offset": 50}
	eval := render(Gaussian{}, truth)

	// binned camera: pixel (r, c) covers unbinned (2r, 2c)
	raw := frame.New(200, 250)
	for r := 0; r < raw.Rows(); r++ {
		for c := 0; c < raw.Cols(); c++ {
			raw.Set(r, c, eval(float64(2*c), float64(2*r)))
		}
	}
	cam := models.CameraMetadata{Binning: [2]int{2, 2}}
	cfg := models.FitConfig{
		Frame:    "shadow",
		Region:   &models.Region{XC: 250, YC: 340, W: 84, H: 34},
		Function: "Gaussian",
		Params: map[string]models.ParamSpec{
			"A":      models.FreeParam(500, 0, 2000),
			"sigmax": models.FreeParam(15, 5, 40),
			"sigmay": models.FreeParam(5, 1, 20),
			"theta":  models.FixedParam(0),
			"offset": models.FreeParam(0, -100, 100),
			"gradx":  models.FixedParam(0),
			"grady":  models.FixedParam(0),
		},
		Frames: map[string]int{"shadow": 0},
		Camera: "Side",
	}

	result, err := NewEngine(nil).Fit(frame.Stack{raw}, cam, cfg)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if math.Abs(result.Params["x0"]-250) > 1e-3 || math.Abs(result.Params["y0"]-340) > 1e-3 {
		t.Errorf("Expected centre (250,340) in unbinned pixels, got (%v,%v)", result.Params["x0"], result.Params["y0"])
	}
	if math.Abs(result.Params["A"]-800) > 1e-2 {
		t.Errorf("Expected A=800, got %v", result.Params["A"])
	}
}

func TestEngine_MissingParameterBeforeFrameWork(t *testing.T) {
	engine := NewEngine(nil)
	calls := 0
	engine.prepareFrame = func(stack frame.Stack, cfg models.FitConfig, binning int) (frame.Frame, image.Rectangle, error) {
		calls++
		return buildFrame(stack, cfg, binning)
	}

	params := defaultGaussianParams()
	delete(params, "sigmay")
	cfg := models.FitConfig{
		Region:   &models.Region{XC: 250, YC: 340, W: 85, H: 35},
		Function: "Gaussian",
		Params:   params,
		Frames:   odRoles,
	}

	_, err := engine.Fit(nil, sideCamera(), cfg)
	if !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Fatalf("Expected missing parameter error, got %v", err)
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no frame processing, got %d calls", calls)
	}

	// x0 is only seedable when a region is set
	params = defaultGaussianParams()
	delete(params, "x0")
	cfg.Params = params
	cfg.Region = nil
	if _, err := engine.Fit(nil, sideCamera(), cfg); !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Errorf("Expected missing x0 without region to fail, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no frame processing, got %d calls", calls)
	}
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	stack := odStack(50, 50, func(x, y float64) float64 { return 0 })
	base := models.FitConfig{Function: "Gaussian", Params: defaultGaussianParams(), Frames: odRoles}

	tests := []struct {
		name   string
		mutate func(*models.FitConfig)
		cam    models.CameraMetadata
		target error
	}{
		{"unknown function", func(c *models.FitConfig) { c.Function = "Voigt" }, sideCamera(), apperrors.ErrUnknownModel},
		{"malformed bounds", func(c *models.FitConfig) {
			c.Params = defaultGaussianParams()
			c.Params["A"] = models.FreeParam(6, 0, 5)
		}, sideCamera(), apperrors.ErrMalformedParameter},
		{"non-square binning", func(c *models.FitConfig) {}, models.CameraMetadata{Binning: [2]int{1, 2}}, nil},
		{"unknown species", func(c *models.FitConfig) { c.Species, c.Path = "Cs", "side" }, sideCamera(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base.Clone()
			tt.mutate(&cfg)
			_, err := NewEngine(nil).Fit(stack, tt.cam, cfg)
			if !apperrors.IsType(err, apperrors.ErrorTypeConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Expected %v in chain, got %v", tt.target, err)
			}
		})
	}
}

func TestEngine_LookupError(t *testing.T) {
	stack := odStack(50, 50, func(x, y float64) float64 { return 0 })
	cfg := models.FitConfig{Frame: "flash", Function: "Gaussian", Params: defaultGaussianParams(), Frames: odRoles}
	_, err := NewEngine(nil).Fit(stack, sideCamera(), cfg)
	if !apperrors.IsType(err, apperrors.ErrorTypeLookup) {
		t.Errorf("Expected lookup error for unknown role, got %v", err)
	}
}

func TestEngine_ImproperInput(t *testing.T) {
	stack := odStack(50, 50, func(x, y float64) float64 { return 0.5 })

	fixed := map[string]models.ParamSpec{}
	for name := range defaultGaussianParams() {
		fixed[name] = models.FixedParam(1)
	}
	tests := []struct {
		name string
		cfg  models.FitConfig
	}{
		{"no free parameters", models.FitConfig{Function: "Gaussian", Params: fixed, Frames: odRoles}},
		{"empty region", models.FitConfig{
			Region:   &models.Region{XC: 5000, YC: 5000, W: 10, H: 10},
			Function: "Gaussian",
			Params:   defaultGaussianParams(),
			Frames:   odRoles,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewEngine(nil).Fit(stack, sideCamera(), tt.cfg)
			if result != nil {
				t.Errorf("Expected no result, got %+v", result)
			}
			if !apperrors.IsType(err, apperrors.ErrorTypeSolver) {
				t.Errorf("Expected solver error, got %v", err)
			}
		})
	}
}
