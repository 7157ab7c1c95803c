package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FrameOD selects the optical-density map instead of a single role frame.
const FrameOD = "OD"

// Region is a crop rectangle in unbinned pixel units
type Region struct {
	XC int `json:"xc" yaml:"xc"`
	YC int `json:"yc" yaml:"yc"`
	W  int `json:"w" yaml:"w"`
	H  int `json:"h" yaml:"h"`
}

// Calibrations holds the per-fit physical constants.
// Zero values are filled from the calibration table by species and path.
type Calibrations struct {
	PxSizeUm float64 `json:"px_size_um,omitempty" yaml:"px_size_um,omitempty"`
	Eff      float64 `json:"eff,omitempty" yaml:"eff,omitempty"`
	LambdaM  float64 `json:"lambda_m,omitempty" yaml:"lambda_m,omitempty"`
	CSat     float64 `json:"csat,omitempty" yaml:"csat,omitempty"`
}

// ParamSpec is either a fixed value or a bounded free parameter.
// It decodes from a number (fixed) or a [initial, lower, upper] list.
type ParamSpec struct {
	Fixed   bool
	Value   float64
	Initial float64
	Lower   float64
	Upper   float64
}

// FixedParam returns a parameter held constant during the fit.
func FixedParam(v float64) ParamSpec {
	return ParamSpec{Fixed: true, Value: v}
}

// FreeParam returns a bounded free parameter.
func FreeParam(initial, lower, upper float64) ParamSpec {
	return ParamSpec{Initial: initial, Lower: lower, Upper: upper}
}

// Validate checks lower <= initial <= upper and lower < upper for free parameters.
func (p ParamSpec) Validate() error {
	if p.Fixed {
		return nil
	}
	if !(p.Lower < p.Upper) {
		return fmt.Errorf("lower bound %g must be below upper bound %g", p.Lower, p.Upper)
	}
	if p.Initial < p.Lower || p.Initial > p.Upper {
		return fmt.Errorf("initial value %g outside [%g, %g]", p.Initial, p.Lower, p.Upper)
	}
	return nil
}

func (p ParamSpec) MarshalJSON() ([]byte, error) {
	if p.Fixed {
		return json.Marshal(p.Value)
	}
	return json.Marshal([3]float64{p.Initial, p.Lower, p.Upper})
}

func (p *ParamSpec) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*p = FixedParam(v)
		return nil
	}
	var triple []float64
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("parameter must be a number or [initial, lower, upper]: %w", err)
	}
	return p.fromTriple(triple)
}

func (p ParamSpec) MarshalYAML() (interface{}, error) {
	if p.Fixed {
		return p.Value, nil
	}
	return []float64{p.Initial, p.Lower, p.Upper}, nil
}

func (p *ParamSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*p = FixedParam(v)
		return nil
	case yaml.SequenceNode:
		var triple []float64
		if err := node.Decode(&triple); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		return p.fromTriple(triple)
	default:
		return fmt.Errorf("line %d: parameter must be a number or [initial, lower, upper]", node.Line)
	}
}

func (p *ParamSpec) fromTriple(triple []float64) error {
	if len(triple) != 3 {
		return fmt.Errorf("parameter list must have 3 elements, got %d", len(triple))
	}
	*p = FreeParam(triple[0], triple[1], triple[2])
	return nil
}

// FitConfig describes one named fit applied to one camera's frames
type FitConfig struct {
	Frame        string               `json:"frame,omitempty" yaml:"frame,omitempty"`
	Region       *Region              `json:"region,omitempty" yaml:"region,omitempty"`
	Function     string               `json:"function" yaml:"function"`
	Params       map[string]ParamSpec `json:"params" yaml:"params"`
	Calibrations Calibrations         `json:"calibrations,omitempty" yaml:"calibrations,omitempty"`
	Species      string               `json:"species,omitempty" yaml:"species,omitempty"`
	Path         string               `json:"path,omitempty" yaml:"path,omitempty"`
	Frames       map[string]int       `json:"frames" yaml:"frames"`
	Camera       string               `json:"camera" yaml:"camera"`
}

// FrameName returns the selected frame, defaulting to the OD map.
func (c FitConfig) FrameName() string {
	if c.Frame == "" {
		return FrameOD
	}
	return c.Frame
}

// Clone returns a deep copy so callers can mutate params without
// touching the original configuration.
func (c FitConfig) Clone() FitConfig {
	cp := c
	if c.Region != nil {
		r := *c.Region
		cp.Region = &r
	}
	cp.Params = make(map[string]ParamSpec, len(c.Params))
	for k, v := range c.Params {
		cp.Params[k] = v
	}
	cp.Frames = make(map[string]int, len(c.Frames))
	for k, v := range c.Frames {
		cp.Frames[k] = v
	}
	return cp
}

// FitResult is the outcome of one fit invocation
type FitResult struct {
	Params      map[string]float64 `json:"params" yaml:"params"`
	Status      Status             `json:"status" yaml:"status"`
	Derived     map[string]float64 `json:"derived" yaml:"derived"`
	Cost        float64            `json:"cost" yaml:"cost"`
	Evaluations int                `json:"evaluations" yaml:"evaluations"`
	RSquared    float64            `json:"r_squared" yaml:"r_squared"`
}

// FitReport maps fit name to its result
type FitReport map[string]*FitResult
