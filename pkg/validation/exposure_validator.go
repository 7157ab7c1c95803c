package validation

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"go-imfit/internal/frame"
)

// ExposureThresholds defines when a shadow/light/dark triple is suspicious
type ExposureThresholds struct {
	// SaturationCounts is the raw pixel value at or above which a light
	// pixel is treated as clipped by the camera.
	SaturationCounts     float64
	MaxSaturatedFraction float64

	// MinLightCounts is the minimum mean of light minus dark
	MinLightCounts float64

	// MaxShadowExcess is how far the mean shadow may exceed the mean light,
	// as a fraction of the light, before the frames look swapped.
	MaxShadowExcess float64
}

// DefaultExposureThresholds returns thresholds for a 16-bit camera
func DefaultExposureThresholds() ExposureThresholds {
	return ExposureThresholds{
		SaturationCounts:     65000,
		MaxSaturatedFraction: 0.001,
		MinLightCounts:       20,
		MaxShadowExcess:      0.1,
	}
}

// ExposureValidator checks raw frame stacks before they are fitted
type ExposureValidator struct {
	thresholds ExposureThresholds
}

// NewExposureValidator creates a validator with default thresholds
func NewExposureValidator() *ExposureValidator {
	return &ExposureValidator{thresholds: DefaultExposureThresholds()}
}

// NewExposureValidatorWithThresholds creates a validator with custom thresholds
func NewExposureValidatorWithThresholds(thresholds ExposureThresholds) *ExposureValidator {
	return &ExposureValidator{thresholds: thresholds}
}

// ExposureIssue is one finding about a state of the stack
type ExposureIssue struct {
	State       int     `json:"state"`
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "error" or "warning"
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// ExposureMetrics summarises one shadow/light/dark triple
type ExposureMetrics struct {
	State             int
	Pixels            int
	LightMean         float64 // mean(light - dark)
	ShadowMean        float64 // mean(shadow - dark)
	SaturatedFraction float64 // share of light pixels at SaturationCounts
}

// Measure computes metrics for every complete triple of the stack. Trailing
// frames that do not form a triple, and triples with mismatched shapes, are
// skipped.
func (v *ExposureValidator) Measure(stack frame.Stack) []ExposureMetrics {
	var out []ExposureMetrics
	for state := 0; 3*state+2 < len(stack); state++ {
		shadow, light, dark := stack[3*state], stack[3*state+1], stack[3*state+2]
		if shadow.Empty() || shadow.Len() != light.Len() || shadow.Len() != dark.Len() {
			continue
		}
		s, l, d := shadow.Flatten(), light.Flatten(), dark.Flatten()

		direct := make([]float64, len(l))
		absorbed := make([]float64, len(s))
		saturated := 0
		for i := range l {
			direct[i] = l[i] - d[i]
			absorbed[i] = s[i] - d[i]
			if l[i] >= v.thresholds.SaturationCounts {
				saturated++
			}
		}
		out = append(out, ExposureMetrics{
			State:             state,
			Pixels:            len(l),
			LightMean:         stat.Mean(direct, nil),
			ShadowMean:        stat.Mean(absorbed, nil),
			SaturatedFraction: float64(saturated) / float64(len(l)),
		})
	}
	return out
}

// ValidateStack measures the stack and reports every threshold it breaks
func (v *ExposureValidator) ValidateStack(stack frame.Stack) []ExposureIssue {
	var issues []ExposureIssue
	for _, m := range v.Measure(stack) {
		issues = append(issues, v.ValidateMetrics(m)...)
	}
	return issues
}

// ValidateMetrics checks one state's metrics
func (v *ExposureValidator) ValidateMetrics(m ExposureMetrics) []ExposureIssue {
	var issues []ExposureIssue

	if m.LightMean < v.thresholds.MinLightCounts {
		issues = append(issues, ExposureIssue{
			State:       m.State,
			Type:        "no_light",
			Message:     fmt.Sprintf("state %d: light frame barely above dark frame", m.State),
			Severity:    "error",
			ActualValue: m.LightMean,
			Threshold:   v.thresholds.MinLightCounts,
		})
	}

	if m.SaturatedFraction > v.thresholds.MaxSaturatedFraction {
		issues = append(issues, ExposureIssue{
			State:       m.State,
			Type:        "saturated_light",
			Message:     fmt.Sprintf("state %d: %.2f%% of light pixels saturated", m.State, 100*m.SaturatedFraction),
			Severity:    "warning",
			ActualValue: m.SaturatedFraction,
			Threshold:   v.thresholds.MaxSaturatedFraction,
		})
	}

	if m.LightMean > 0 && m.ShadowMean > m.LightMean*(1+v.thresholds.MaxShadowExcess) {
		issues = append(issues, ExposureIssue{
			State:       m.State,
			Type:        "shadow_brighter",
			Message:     fmt.Sprintf("state %d: shadow frame brighter than light frame, frames may be swapped", m.State),
			Severity:    "warning",
			ActualValue: m.ShadowMean / m.LightMean,
			Threshold:   1 + v.thresholds.MaxShadowExcess,
		})
	}

	return issues
}

// ConvertIssuesToMessages flattens issues into their messages
func (v *ExposureValidator) ConvertIssuesToMessages(issues []ExposureIssue) []string {
	var messages []string
	for _, issue := range issues {
		messages = append(messages, issue.Message)
	}
	return messages
}

// HasCriticalIssues checks if there are any error severity issues
func (v *ExposureValidator) HasCriticalIssues(issues []ExposureIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}
