package wizard

import "github.com/minpaku-sim/web/internal/refdata"

// Derived holds display values computed from a State and the reference
// tables. It is recomputed on every render and never stored.
type Derived struct {
	Step            Step `json:"step"`
	StepNumber      int  `json:"stepNumber"`
	TotalSteps      int  `json:"totalSteps"`
	ProgressPercent int  `json:"progressPercent"`
	CanAdvance      bool `json:"canAdvance"`
	CanRetreat      bool `json:"canRetreat"`
	CanSubmit       bool `json:"canSubmit"`
	HasResult       bool `json:"hasResult"`

	Region       *refdata.Region       `json:"region,omitempty"`
	PropertyType *refdata.PropertyType `json:"propertyType,omitempty"`

	EstimatedInitialCost int64 `json:"estimatedInitialCost"`
	MonthlyCleaningFee   int64 `json:"monthlyCleaningFee"`
	FurnitureCost        int64 `json:"furnitureCost"`
}

// Derive computes the display values for s. It has no side effects.
func Derive(s State, catalog *refdata.Catalog) Derived {
	step := clampStep(s.Step)
	d := Derived{
		Step:            step,
		StepNumber:      int(step),
		TotalSteps:      TotalSteps,
		ProgressPercent: int(step) * 100 / TotalSteps,
		CanAdvance:      s.CanAdvance(),
		CanRetreat:      s.CanRetreat(),
		CanSubmit:       step == StepOptions && !s.Submitting,
		HasResult:       s.HasResult(),
	}
	if catalog == nil {
		return d
	}
	if r, ok := catalog.Region(s.Input.Region); ok {
		d.Region = &r
	}
	if p, ok := catalog.PropertyType(s.Input.PropertyType); ok {
		d.PropertyType = &p
		d.EstimatedInitialCost = s.Input.MonthlyRent * p.InitialCostMultiplier
		d.MonthlyCleaningFee = p.MonthlyCleaningFee
		d.FurnitureCost = p.FurnitureCost
	}
	return d
}
