package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestMissingParameterError(t *testing.T) {
	err := NewMissingParameterError("sigmax", "Gaussian")

	if !errors.Is(err, ErrMissingParameter) {
		t.Error("Expected missing parameter error to wrap ErrMissingParameter")
	}
	if !IsType(err, ErrorTypeConfiguration) {
		t.Errorf("Expected configuration error type, got %s", err.Type)
	}
	if !strings.Contains(err.Error(), "sigmax") {
		t.Errorf("Expected message to name the parameter, got %q", err.Error())
	}
}

func TestIsType_Wrapped(t *testing.T) {
	base := NewLookupError("camera", "Side")
	wrapped := fmt.Errorf("fit |0,0>: %w", base)

	if !IsType(wrapped, ErrorTypeLookup) {
		t.Error("Expected IsType to see through fmt wrapping")
	}
	if IsType(wrapped, ErrorTypeSolver) {
		t.Error("Expected lookup error not to match solver type")
	}
	if GetStatusCode(wrapped) != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", GetStatusCode(wrapped))
	}
}

func TestGetStatusCode_PlainError(t *testing.T) {
	if code := GetStatusCode(errors.New("boom")); code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for plain error, got %d", code)
	}
}

func TestWithDetails(t *testing.T) {
	err := NewSolverError("improper input", nil)
	detailed := err.WithDetails("fit=|1,0>").WithDetails("camera=Side")

	if err.Details != "" {
		t.Error("Expected WithDetails not to mutate the receiver")
	}
	if detailed.Details != "fit=|1,0>; camera=Side" {
		t.Errorf("Unexpected details %q", detailed.Details)
	}
	if !strings.Contains(detailed.Error(), "camera=Side") {
		t.Errorf("Expected details in message, got %q", detailed.Error())
	}
}
