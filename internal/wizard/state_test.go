package wizard

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/simulation"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestNewStateDefaults(t *testing.T) {
	s := NewState(testNow)
	assert.Equal(t, StepLanding, s.Step)
	assert.Equal(t, Input{
		Region:              "",
		PropertyType:        "",
		MonthlyRent:         100000,
		FurnitureAppliances: true,
		RenovationCost:      0,
		ManagementFeeRate:   10,
		CleaningFee:         0,
	}, s.Input)
	assert.False(t, s.HasResult())
	assert.Equal(t, OverlayNone, s.Overlay)
	assert.False(t, s.Submitting)
}

func TestAdvanceGatesRegionAndPropertyType(t *testing.T) {
	catalog := refdata.MustDefault()
	s := NewState(testNow)

	assert.Equal(t, Advanced, s.Advance())
	require.Equal(t, StepRegion, s.Step)
	assert.False(t, s.CanAdvance())
	assert.Equal(t, Blocked, s.Advance())
	assert.Equal(t, StepRegion, s.Step)

	require.NoError(t, s.SetField(FieldRegion, "東京都", catalog))
	assert.Equal(t, Advanced, s.Advance())
	require.Equal(t, StepPropertyType, s.Step)
	assert.Equal(t, Blocked, s.Advance())
	assert.Equal(t, StepPropertyType, s.Step)

	require.NoError(t, s.SetField(FieldPropertyType, "1LDK", catalog))
	assert.Equal(t, Advanced, s.Advance())
	assert.Equal(t, StepRent, s.Step)

	// Rent and Options are ungated.
	assert.True(t, s.CanAdvance())
	assert.Equal(t, Advanced, s.Advance())
	assert.Equal(t, StepOptions, s.Step)
	assert.Equal(t, SubmitRequired, s.Advance())
	assert.Equal(t, StepOptions, s.Step)
}

func TestGateErrorWrapsStepIncomplete(t *testing.T) {
	s := NewState(testNow)
	s.Step = StepPropertyType
	err := error(s.gate())
	assert.True(t, errors.Is(err, ErrStepIncomplete))
	var gate *GateError
	require.True(t, errors.As(err, &gate))
	assert.Equal(t, FieldPropertyType, gate.Field)
}

func TestRetreatBounds(t *testing.T) {
	s := NewState(testNow)
	assert.False(t, s.Retreat())
	assert.Equal(t, StepLanding, s.Step)

	s.Step = StepOptions
	assert.True(t, s.Retreat())
	assert.Equal(t, StepRent, s.Step)

	s.Step = StepResults
	assert.False(t, s.Retreat())
	assert.Equal(t, StepResults, s.Step)
}

func TestStepStaysInRangeForAnySequence(t *testing.T) {
	catalog := refdata.MustDefault()
	rng := rand.New(rand.NewSource(42))
	s := NewState(testNow)

	for i := 0; i < 5000; i++ {
		switch rng.Intn(4) {
		case 0, 1:
			s.Advance()
		case 2:
			s.Retreat()
		case 3:
			region := ""
			if rng.Intn(2) == 0 {
				region = "大阪府"
			}
			require.NoError(t, s.SetField(FieldRegion, region, catalog))
			require.NoError(t, s.SetField(FieldPropertyType, "2LDK", catalog))
		}
		require.True(t, s.Step.Valid(), "step %d out of range at iteration %d", s.Step, i)
	}
}

func TestSetFieldClampsNumbers(t *testing.T) {
	catalog := refdata.MustDefault()
	cases := []struct {
		field string
		raw   string
		want  func(Input) int64
		value int64
	}{
		{FieldMonthlyRent, "10000", func(in Input) int64 { return in.MonthlyRent }, 30000},
		{FieldMonthlyRent, "999999", func(in Input) int64 { return in.MonthlyRent }, 500000},
		{FieldMonthlyRent, "150,000", func(in Input) int64 { return in.MonthlyRent }, 150000},
		{FieldMonthlyRent, "¥１５００００", func(in Input) int64 { return in.MonthlyRent }, 150000},
		{FieldRenovationCost, "-5", func(in Input) int64 { return in.RenovationCost }, 0},
		{FieldRenovationCost, "3000000", func(in Input) int64 { return in.RenovationCost }, 2000000},
		{FieldManagementFeeRate, "45", func(in Input) int64 { return in.ManagementFeeRate }, 30},
		{FieldManagementFeeRate, "12.6%", func(in Input) int64 { return in.ManagementFeeRate }, 13},
	}
	for _, tc := range cases {
		t.Run(tc.field+"="+tc.raw, func(t *testing.T) {
			in := DefaultInput()
			require.NoError(t, in.SetField(tc.field, tc.raw, catalog))
			assert.Equal(t, tc.value, tc.want(in))
		})
	}
}

func TestSetFieldRejectsBadValuesWithoutMutation(t *testing.T) {
	catalog := refdata.MustDefault()
	cases := map[string]string{
		FieldMonthlyRent:         "abc",
		FieldRenovationCost:      "",
		FieldFurnitureAppliances: "maybe",
		FieldRegion:              "火星",
		FieldPropertyType:        "5LDK",
		FieldCleaningFee:         "5000",
		"colour":                 "red",
	}
	for field, raw := range cases {
		t.Run(field, func(t *testing.T) {
			in := DefaultInput()
			err := in.SetField(field, raw, catalog)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidField))
			var fieldErr *FieldError
			require.True(t, errors.As(err, &fieldErr))
			assert.Equal(t, field, fieldErr.Field)
			assert.Equal(t, DefaultInput(), in)
		})
	}
}

func TestSetFieldsIsAllOrNothing(t *testing.T) {
	catalog := refdata.MustDefault()
	in := DefaultInput()
	err := in.SetFields(map[string]string{
		FieldRegion:      "京都府",
		FieldMonthlyRent: "not-a-number",
	}, catalog)
	require.Error(t, err)
	assert.Equal(t, DefaultInput(), in)

	require.NoError(t, in.SetFields(map[string]string{
		FieldRegion:              "京都府",
		FieldMonthlyRent:         "120000",
		FieldFurnitureAppliances: "false",
	}, catalog))
	assert.Equal(t, "京都府", in.Region)
	assert.Equal(t, int64(120000), in.MonthlyRent)
	assert.False(t, in.FurnitureAppliances)
}

func TestSetFieldEmptyClearsSelection(t *testing.T) {
	catalog := refdata.MustDefault()
	in := DefaultInput()
	require.NoError(t, in.SetField(FieldRegion, "北海道", catalog))
	require.NoError(t, in.SetField(FieldRegion, "", catalog))
	assert.Equal(t, "", in.Region)
}

func TestResetRestoresDefaults(t *testing.T) {
	s := NewState(testNow)
	s.Step = StepResults
	s.Input.Region = "東京都"
	s.Input.MonthlyRent = 150000
	s.Result = simulation.MustResult(`{"annualRevenue":1800000}`)
	s.Overlay = OverlayMessaging
	s.LastError = FailureSimulation

	s.Reset()
	assert.Equal(t, StepLanding, s.Step)
	assert.Equal(t, DefaultInput(), s.Input)
	assert.False(t, s.HasResult())
	assert.Equal(t, OverlayNone, s.Overlay)
	assert.Empty(t, s.LastError)
	assert.Equal(t, int64(1), s.Generation)
}

func TestOverlayVariantIsExclusive(t *testing.T) {
	s := NewState(testNow)
	assert.ErrorIs(t, s.OpenOverlay(OverlayLeadCapture), ErrOverlayUnavailable)

	s.Step = StepResults
	assert.ErrorIs(t, s.OpenOverlay(OverlayLeadCapture), ErrOverlayUnavailable)

	s.Result = simulation.MustResult(`{"annualRevenue":1}`)
	require.NoError(t, s.OpenOverlay(OverlayLeadCapture))
	assert.Equal(t, OverlayLeadCapture, s.Overlay)
	require.NoError(t, s.OpenOverlay(OverlayLegacyMessaging))
	assert.Equal(t, OverlayLegacyMessaging, s.Overlay)

	before := s
	s.CloseOverlay()
	assert.Equal(t, OverlayNone, s.Overlay)
	assert.Equal(t, before.Step, s.Step)
	assert.Equal(t, before.Result.Raw(), s.Result.Raw())
}

func TestParseOverlay(t *testing.T) {
	for _, o := range Overlays {
		parsed, err := ParseOverlay(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
	}
	none, err := ParseOverlay("none")
	require.NoError(t, err)
	assert.Equal(t, OverlayNone, none)
	_, err = ParseOverlay("line")
	assert.Error(t, err)
}

func TestDeriveFromReferenceData(t *testing.T) {
	catalog := refdata.MustDefault()
	s := NewState(testNow)
	s.Step = StepOptions
	s.Input.Region = "東京都"
	s.Input.PropertyType = "1LDK"
	s.Input.MonthlyRent = 150000

	d := Derive(s, catalog)
	assert.Equal(t, int64(600000), d.EstimatedInitialCost)
	assert.Equal(t, int64(20000), d.MonthlyCleaningFee)
	assert.Equal(t, int64(400000), d.FurnitureCost)
	assert.Equal(t, 4, d.StepNumber)
	assert.Equal(t, 5, d.TotalSteps)
	assert.Equal(t, 80, d.ProgressPercent)
	assert.True(t, d.CanSubmit)
	require.NotNil(t, d.Region)
	assert.Equal(t, int64(25000), d.Region.NightlyPrice)

	// Deriving twice gives the same answer and leaves the state alone.
	assert.Equal(t, d, Derive(s, catalog))
	assert.Equal(t, "1LDK", s.Input.PropertyType)

	empty := Derive(NewState(testNow), catalog)
	assert.Zero(t, empty.EstimatedInitialCost)
	assert.Nil(t, empty.PropertyType)
}

func TestSubmitGateRequiresOptionsAndSelections(t *testing.T) {
	s := NewState(testNow)
	s.Step = StepOptions
	gate := s.submitGate()
	require.NotNil(t, gate)
	assert.Equal(t, StepRegion, gate.Step)
	assert.Equal(t, FieldRegion, gate.Field)

	s.Input.Region = "東京都"
	gate = s.submitGate()
	require.NotNil(t, gate)
	assert.Equal(t, StepPropertyType, gate.Step)
	assert.Equal(t, FieldPropertyType, gate.Field)

	s.Input.PropertyType = "1LDK"
	assert.Nil(t, s.submitGate())

	for _, step := range []Step{StepLanding, StepRegion, StepPropertyType, StepRent, StepResults} {
		s.Step = step
		gate = s.submitGate()
		require.NotNil(t, gate, step.String())
		assert.Equal(t, step, gate.Step)
		assert.Empty(t, gate.Field)
		assert.ErrorIs(t, gate, ErrStepIncomplete)
	}
}
