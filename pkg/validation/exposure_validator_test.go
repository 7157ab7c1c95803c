package validation

import (
	"math"
	"testing"

	"go-imfit/internal/frame"
)

func filled(rows, cols int, v float64) frame.Frame {
	f := frame.New(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			f.Set(r, c, v)
		}
	}
	return f
}

func triple(shadow, light, dark float64) frame.Stack {
	return frame.Stack{filled(10, 10, shadow), filled(10, 10, light), filled(10, 10, dark)}
}

func TestMeasure(t *testing.T) {
	v := NewExposureValidator()
	stack := append(triple(600, 1100, 100), triple(300, 500, 100)...)
	stack = append(stack, filled(10, 10, 0)) // incomplete trailing triple

	metrics := v.Measure(stack)
	if len(metrics) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(metrics))
	}
	if metrics[0].LightMean != 1000 || metrics[0].ShadowMean != 500 || metrics[0].Pixels != 100 {
		t.Errorf("Unexpected state 0 metrics %+v", metrics[0])
	}
	if metrics[1].State != 1 || metrics[1].LightMean != 400 {
		t.Errorf("Unexpected state 1 metrics %+v", metrics[1])
	}
}

func TestMeasure_SaturatedFraction(t *testing.T) {
	v := NewExposureValidator()
	stack := triple(600, 1100, 100)
	stack[1].Set(0, 0, 65535)
	stack[1].Set(0, 1, 65000)

	m := v.Measure(stack)[0]
	if math.Abs(m.SaturatedFraction-0.02) > 1e-12 {
		t.Errorf("Expected saturated fraction 0.02, got %v", m.SaturatedFraction)
	}
}

func TestValidateStack(t *testing.T) {
	tests := []struct {
		name     string
		stack    frame.Stack
		want     []string
		critical bool
	}{
		{"good exposure", triple(600, 1100, 100), nil, false},
		{"no light", triple(105, 110, 100), []string{"no_light"}, true},
		{"swapped frames", triple(1100, 600, 100), []string{"shadow_brighter"}, false},
		{"saturated", triple(600, 65535, 100), []string{"saturated_light"}, false},
		{"empty stack", frame.Stack{}, nil, false},
	}

	v := NewExposureValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.ValidateStack(tt.stack)
			if len(issues) != len(tt.want) {
				t.Fatalf("Expected %d issues, got %+v", len(tt.want), issues)
			}
			for i, typ := range tt.want {
				if issues[i].Type != typ {
					t.Errorf("Issue %d: expected %s, got %s", i, typ, issues[i].Type)
				}
			}
			if got := v.HasCriticalIssues(issues); got != tt.critical {
				t.Errorf("HasCriticalIssues = %v, want %v", got, tt.critical)
			}
		})
	}
}

func TestNewExposureValidatorWithThresholds(t *testing.T) {
	th := DefaultExposureThresholds()
	th.MinLightCounts = 2000
	v := NewExposureValidatorWithThresholds(th)

	issues := v.ValidateStack(triple(600, 1100, 100))
	msgs := v.ConvertIssuesToMessages(issues)
	if len(msgs) != 1 || msgs[0] != "state 0: light frame barely above dark frame" {
		t.Errorf("Unexpected messages %v", msgs)
	}
}
