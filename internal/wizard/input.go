package wizard

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/simulation"
)

// Field keys accepted by SetField, in the order batches are applied.
const (
	FieldRegion              = "region"
	FieldPropertyType        = "propertyType"
	FieldMonthlyRent         = "monthlyRent"
	FieldFurnitureAppliances = "furnitureAppliances"
	FieldRenovationCost      = "renovationCost"
	FieldManagementFeeRate   = "managementFeeRate"
	FieldCleaningFee         = "cleaningFee"
)

var fieldOrder = []string{
	FieldRegion,
	FieldPropertyType,
	FieldMonthlyRent,
	FieldFurnitureAppliances,
	FieldRenovationCost,
	FieldManagementFeeRate,
}

// Bounds for numeric inputs. Values outside are clamped.
const (
	MinMonthlyRent       int64 = 30000
	MaxMonthlyRent       int64 = 500000
	MonthlyRentStep      int64 = 10000
	MinRenovationCost    int64 = 0
	MaxRenovationCost    int64 = 2000000
	RenovationCostStep   int64 = 50000
	MinManagementFeeRate int64 = 0
	MaxManagementFeeRate int64 = 30
)

// Defaults for a fresh input record.
const (
	DefaultMonthlyRent         int64 = 100000
	DefaultFurnitureAppliances       = true
	DefaultRenovationCost      int64 = 0
	DefaultManagementFeeRate   int64 = 10
	DefaultCleaningFee         int64 = 0
)

// Input is the accumulated record sent to the simulation backend.
type Input struct {
	Region              string `json:"region"`
	PropertyType        string `json:"propertyType"`
	MonthlyRent         int64  `json:"monthlyRent"`
	FurnitureAppliances bool   `json:"furnitureAppliances"`
	RenovationCost      int64  `json:"renovationCost"`
	ManagementFeeRate   int64  `json:"managementFeeRate"`
	CleaningFee         int64  `json:"cleaningFee"`
}

// DefaultInput returns the record a new visitor starts with.
func DefaultInput() Input {
	return Input{
		MonthlyRent:         DefaultMonthlyRent,
		FurnitureAppliances: DefaultFurnitureAppliances,
		RenovationCost:      DefaultRenovationCost,
		ManagementFeeRate:   DefaultManagementFeeRate,
		CleaningFee:         DefaultCleaningFee,
	}
}

// Request converts the record to the backend request body.
func (in Input) Request() simulation.Request {
	return simulation.Request{
		Region:              in.Region,
		PropertyType:        in.PropertyType,
		MonthlyRent:         in.MonthlyRent,
		FurnitureAppliances: in.FurnitureAppliances,
		RenovationCost:      in.RenovationCost,
		ManagementFeeRate:   in.ManagementFeeRate,
		CleaningFee:         in.CleaningFee,
	}
}

// SetField parses raw and merges it into the record. Numeric values are
// clamped into range; unparsable values leave the record untouched.
func (in *Input) SetField(key, raw string, catalog *refdata.Catalog) error {
	value := strings.TrimSpace(raw)
	switch key {
	case FieldRegion:
		if value != "" && catalog != nil && !catalog.HasRegion(value) {
			return &FieldError{Field: key, Value: value, Reason: "unknown region"}
		}
		in.Region = value
	case FieldPropertyType:
		if value != "" && catalog != nil && !catalog.HasPropertyType(value) {
			return &FieldError{Field: key, Value: value, Reason: "unknown property type"}
		}
		in.PropertyType = value
	case FieldMonthlyRent:
		n, err := parseAmount(key, value)
		if err != nil {
			return err
		}
		in.MonthlyRent = clamp(n, MinMonthlyRent, MaxMonthlyRent)
	case FieldRenovationCost:
		n, err := parseAmount(key, value)
		if err != nil {
			return err
		}
		in.RenovationCost = clamp(n, MinRenovationCost, MaxRenovationCost)
	case FieldManagementFeeRate:
		n, err := parseAmount(key, strings.TrimSuffix(value, "%"))
		if err != nil {
			return err
		}
		in.ManagementFeeRate = clamp(n, MinManagementFeeRate, MaxManagementFeeRate)
	case FieldFurnitureAppliances:
		b, ok := parseBool(value)
		if !ok {
			return &FieldError{Field: key, Value: value, Reason: "expected a boolean"}
		}
		in.FurnitureAppliances = b
	case FieldCleaningFee:
		return &FieldError{Field: key, Value: value, Reason: "field is not editable"}
	default:
		return &FieldError{Field: key, Value: value, Reason: "unknown field"}
	}
	return nil
}

// SetFields applies a batch atomically: either every value merges or none do.
func (in *Input) SetFields(values map[string]string, catalog *refdata.Catalog) error {
	next := *in
	for key := range values {
		if !knownField(key) {
			return next.SetField(key, values[key], catalog)
		}
	}
	for _, key := range fieldOrder {
		raw, ok := values[key]
		if !ok {
			continue
		}
		if err := next.SetField(key, raw, catalog); err != nil {
			return err
		}
	}
	*in = next
	return nil
}

func knownField(key string) bool {
	for _, k := range fieldOrder {
		if k == key {
			return true
		}
	}
	return false
}

// parseAmount accepts plain or grouped numbers, full-width digits and a yen
// sign; fractions are rounded.
func parseAmount(key, raw string) (int64, error) {
	normalized := width.Narrow.String(raw)
	normalized = strings.NewReplacer(",", "", "¥", "", "￥", "", "円", "", " ", "", "_", "").Replace(normalized)
	if normalized == "" {
		return 0, &FieldError{Field: key, Value: raw, Reason: "value required"}
	}
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &FieldError{Field: key, Value: raw, Reason: "expected a number"}
	}
	if f > math.MaxInt64/2 {
		return math.MaxInt64 / 2, nil
	}
	if f < math.MinInt64/2 {
		return math.MinInt64 / 2, nil
	}
	return int64(math.Round(f)), nil
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "true", "1", "on", "yes":
		return true, true
	case "false", "0", "off", "no", "":
		return false, true
	}
	return false, false
}

func clamp(n, lo, hi int64) int64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
