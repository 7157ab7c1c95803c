package models

import "fmt"

// Status is the solver's termination reason
type Status int

const (
	ImproperInput Status = iota - 1
	MaxEvaluationsExceeded
	GradientToleranceSatisfied
	FunctionToleranceSatisfied
	ParameterToleranceSatisfied
	BothFunctionAndParameterToleranceSatisfied
)

var statusNames = map[Status]string{
	ImproperInput:                              "ImproperInput",
	MaxEvaluationsExceeded:                     "MaxEvaluationsExceeded",
	GradientToleranceSatisfied:                 "GradientToleranceSatisfied",
	FunctionToleranceSatisfied:                 "FunctionToleranceSatisfied",
	ParameterToleranceSatisfied:                "ParameterToleranceSatisfied",
	BothFunctionAndParameterToleranceSatisfied: "BothFunctionAndParameterToleranceSatisfied",
}

var statusDescriptions = map[Status]string{
	ImproperInput:                              "improper input parameters",
	MaxEvaluationsExceeded:                     "the maximum number of function evaluations is exceeded",
	GradientToleranceSatisfied:                 "gtol termination condition is satisfied",
	FunctionToleranceSatisfied:                 "ftol termination condition is satisfied",
	ParameterToleranceSatisfied:                "xtol termination condition is satisfied",
	BothFunctionAndParameterToleranceSatisfied: "both ftol and xtol termination conditions are satisfied",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Description returns a human readable explanation of the termination.
func (s Status) Description() string {
	return statusDescriptions[s]
}

// Success reports whether the solver produced a result.
// Everything but ImproperInput is a successful termination.
func (s Status) Success() bool {
	_, known := statusNames[s]
	return known && s != ImproperInput
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for k, v := range statusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown fit status %q", string(text))
}
