package wizard

import (
	"context"
	"errors"
	"fmt"

	"github.com/minpaku-sim/web/internal/simulation"
)

var (
	// ErrStepIncomplete is wrapped by GateError when a required selection is missing.
	ErrStepIncomplete = errors.New("wizard: step incomplete")
	// ErrSubmissionInFlight is returned when a submission is already pending for the visitor.
	ErrSubmissionInFlight = errors.New("wizard: submission already in flight")
	// ErrInvalidField is wrapped by FieldError.
	ErrInvalidField = errors.New("wizard: invalid field")
	// ErrOverlayUnavailable is returned when an overlay is requested outside Results.
	ErrOverlayUnavailable = errors.New("wizard: overlay unavailable")
	// ErrNotFound is returned by stores for unknown visitors.
	ErrNotFound = errors.New("wizard: state not found")
	// ErrConflict is returned by stores when optimistic retries are exhausted.
	ErrConflict = errors.New("wizard: concurrent update conflict")
)

// Failure codes recorded in State.LastError and rendered through the locale bundles.
const (
	FailureSimulation = "simulation_failed"
	FailureTimeout    = "simulation_timeout"
	FailureMalformed  = "simulation_malformed"
)

// GateError reports that Advance or Submit was blocked. Field names the
// missing selection; it is empty when the step itself cannot continue.
type GateError struct {
	Step  Step
	Field string
}

func (e *GateError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("wizard: cannot continue from %s", e.Step)
	}
	return fmt.Sprintf("wizard: %s requires %s", e.Step, e.Field)
}

func (e *GateError) Unwrap() error { return ErrStepIncomplete }

// FieldError reports an unparsable or unknown field value.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("wizard: field %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

// SubmissionError wraps the cause of a failed submission. The wizard stays on
// its current step and the user may retry.
type SubmissionError struct {
	Code  string
	Cause error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("wizard: submission failed (%s): %v", e.Code, e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// classifyFailure maps a calculator error to the user-facing failure code.
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, simulation.ErrMalformedResponse):
		return FailureMalformed
	default:
		return FailureSimulation
	}
}
