package wizard

import (
	"time"

	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/simulation"
)

// State is one visitor's wizard. It is plain data: stores serialize it as
// JSON and every view is derived from it.
type State struct {
	Step    Step              `json:"step"`
	Input   Input             `json:"input"`
	Result  simulation.Result `json:"result"`
	Overlay Overlay           `json:"overlay"`

	Submitting      bool      `json:"submitting"`
	SubmittingSince time.Time `json:"submittingSince"`
	SubmissionID    string    `json:"submissionId,omitempty"`

	// Generation increments on Reset so a result arriving for an earlier
	// generation is dropped.
	Generation int64 `json:"generation"`

	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewState returns the defaults for a first visit.
func NewState(now time.Time) State {
	return State{
		Step:      StepLanding,
		Input:     DefaultInput(),
		Overlay:   OverlayNone,
		UpdatedAt: now.UTC(),
	}
}

// HasResult reports whether a simulation payload is held.
func (s State) HasResult() bool { return !s.Result.IsZero() }

// SubmissionPending reports whether the guard is held and not yet stale.
func (s State) SubmissionPending(now time.Time, staleAfter time.Duration) bool {
	if !s.Submitting {
		return false
	}
	if staleAfter <= 0 || s.SubmittingSince.IsZero() {
		return true
	}
	return now.Sub(s.SubmittingSince) < staleAfter
}

// AdvanceOutcome describes what Advance did.
type AdvanceOutcome int

const (
	// Advanced moved to the next step.
	Advanced AdvanceOutcome = iota
	// Blocked left the step unchanged because a required selection is missing.
	Blocked
	// SubmitRequired means the caller must submit; Options never advances by itself.
	SubmitRequired
	// Unchanged means the wizard was already at Results.
	Unchanged
)

// CanAdvance reports whether the "next" control is enabled on the current step.
func (s State) CanAdvance() bool {
	switch s.Step {
	case StepRegion:
		return s.Input.Region != ""
	case StepPropertyType:
		return s.Input.PropertyType != ""
	case StepResults:
		return false
	default:
		return true
	}
}

// CanRetreat reports whether the "back" control is enabled.
func (s State) CanRetreat() bool {
	return s.Step > StepLanding && s.Step < StepResults
}

// Advance moves one step forward subject to gating.
func (s *State) Advance() AdvanceOutcome {
	switch {
	case s.Step == StepOptions:
		return SubmitRequired
	case s.Step >= StepResults:
		s.Step = LastStep
		return Unchanged
	case !s.CanAdvance():
		return Blocked
	}
	s.Step = clampStep(s.Step + 1)
	return Advanced
}

// gate describes why Advance was blocked.
func (s State) gate() *GateError {
	switch s.Step {
	case StepRegion:
		return &GateError{Step: s.Step, Field: FieldRegion}
	case StepPropertyType:
		return &GateError{Step: s.Step, Field: FieldPropertyType}
	}
	return &GateError{Step: s.Step}
}

// submitGate reports why the record cannot be submitted yet. Only Options
// with both selections made may submit.
func (s State) submitGate() *GateError {
	switch {
	case s.Input.Region == "":
		return &GateError{Step: StepRegion, Field: FieldRegion}
	case s.Input.PropertyType == "":
		return &GateError{Step: StepPropertyType, Field: FieldPropertyType}
	case s.Step != StepOptions:
		return &GateError{Step: s.Step}
	}
	return nil
}

// Retreat moves one step back. Landing and Results are unaffected.
func (s *State) Retreat() bool {
	if !s.CanRetreat() {
		return false
	}
	s.Step = clampStep(s.Step - 1)
	return true
}

// SetField merges one value into the input record and clears the last error.
func (s *State) SetField(key, raw string, catalog *refdata.Catalog) error {
	if err := s.Input.SetField(key, raw, catalog); err != nil {
		return err
	}
	s.LastError = ""
	return nil
}

// SetFields merges a batch of values; a bad value aborts the batch.
func (s *State) SetFields(values map[string]string, catalog *refdata.Catalog) error {
	if err := s.Input.SetFields(values, catalog); err != nil {
		return err
	}
	s.LastError = ""
	return nil
}

// Reset restores the defaults. A pending submission keeps its guard so a
// second request cannot start, but its result will be discarded.
func (s *State) Reset() {
	s.Step = StepLanding
	s.Input = DefaultInput()
	s.Result = simulation.Result{}
	s.Overlay = OverlayNone
	s.LastError = ""
	s.Generation++
}

// OpenOverlay shows one panel above Results, replacing any other.
func (s *State) OpenOverlay(kind Overlay) error {
	if kind == OverlayNone {
		s.CloseOverlay()
		return nil
	}
	if s.Step != StepResults || !s.HasResult() {
		return ErrOverlayUnavailable
	}
	s.Overlay = kind
	return nil
}

// CloseOverlay returns to plain Results.
func (s *State) CloseOverlay() {
	s.Overlay = OverlayNone
}
