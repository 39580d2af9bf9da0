package simulation

import (
	"encoding/json"
	"fmt"
)

type demoPayload struct {
	Request
	Demo bool `json:"demo"`
}

// demoResult echoes the input marked as demo data. It computes nothing; the
// numbers only exist on a real backend.
func demoResult(req Request) (Result, error) {
	data, err := json.Marshal(demoPayload{Request: req, Demo: true})
	if err != nil {
		return Result{}, fmt.Errorf("simulation: encode demo payload: %w", err)
	}
	return NewResult(data)
}
