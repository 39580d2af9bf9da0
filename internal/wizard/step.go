package wizard

import "fmt"

// Step indexes the six ordered wizard views.
type Step int

const (
	StepLanding Step = iota
	StepRegion
	StepPropertyType
	StepRent
	StepOptions
	StepResults
)

// FirstStep and LastStep bound every valid step index.
const (
	FirstStep = StepLanding
	LastStep  = StepResults
)

// TotalSteps counts the steps after Landing, used for "step n of 5" progress.
const TotalSteps = int(LastStep)

var stepNames = [...]string{
	StepLanding:      "landing",
	StepRegion:       "region",
	StepPropertyType: "property_type",
	StepRent:         "rent",
	StepOptions:      "options",
	StepResults:      "results",
}

// String returns the stable step slug used in templates and logs.
func (s Step) String() string {
	if s.Valid() {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Valid reports whether s lies within [FirstStep, LastStep].
func (s Step) Valid() bool {
	return s >= FirstStep && s <= LastStep
}

// IsInput reports whether the step collects part of the input record.
func (s Step) IsInput() bool {
	return s >= StepRegion && s <= StepOptions
}

func clampStep(s Step) Step {
	switch {
	case s < FirstStep:
		return FirstStep
	case s > LastStep:
		return LastStep
	default:
		return s
	}
}
