package simulation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when the backend answers 2xx with a body
// that is not a JSON object.
var ErrMalformedResponse = errors.New("simulation: malformed response body")

// Well-known keys read by the summary block. Absent keys are skipped.
const (
	KeyAnnualRevenue  = "annualRevenue"
	KeyAnnualCosts    = "annualCosts"
	KeyAnnualProfit   = "annualProfit"
	KeyROI            = "roi"
	KeyRecoveryPeriod = "recoveryPeriod"
	KeyInitialCost    = "initialCost"
	KeyOccupancyRate  = "occupancyRate"
	KeyDailyRate      = "dailyRate"
	KeyDemo           = "demo"
)

// Result is the opaque payload returned by the simulation backend. The web
// tier never interprets it beyond presence and a few optional numeric keys;
// it is stored and re-emitted byte for byte.
type Result struct {
	raw json.RawMessage
}

// NewResult validates that data is a JSON object and wraps it.
func NewResult(data []byte) (Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return Result{}, ErrMalformedResponse
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return Result{raw: raw}, nil
}

// MustResult is NewResult for literals in tests and fixtures.
func MustResult(data string) Result {
	r, err := NewResult([]byte(data))
	if err != nil {
		panic(fmt.Sprintf("simulation: invalid result literal %q: %v", data, err))
	}
	return r
}

// IsZero reports whether no payload is held.
func (r Result) IsZero() bool { return len(r.raw) == 0 }

// Raw returns a copy of the payload bytes.
func (r Result) Raw() json.RawMessage {
	if r.IsZero() {
		return nil
	}
	out := make(json.RawMessage, len(r.raw))
	copy(out, r.raw)
	return out
}

// Number reads a numeric top-level key.
func (r Result) Number(key string) (float64, bool) {
	fields := r.fields()
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool reads a boolean top-level key.
func (r Result) Bool(key string) bool {
	raw, ok := r.fields()[key]
	if !ok {
		return false
	}
	var b bool
	return json.Unmarshal(raw, &b) == nil && b
}

// IsDemo reports whether the payload came from the built-in demo responder.
func (r Result) IsDemo() bool { return r.Bool(KeyDemo) }

func (r Result) fields() map[string]json.RawMessage {
	if r.IsZero() {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.raw, &fields); err != nil {
		return nil
	}
	return fields
}

// MarshalJSON emits the payload unmodified, or null when empty.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// UnmarshalJSON accepts null or a JSON object.
func (r *Result) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Result{}
		return nil
	}
	parsed, err := NewResult(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
