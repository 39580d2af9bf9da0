package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/history"
	"github.com/minpaku-sim/web/internal/platform/httpx"
	"github.com/minpaku-sim/web/internal/platform/observability"
	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/wizard"
)

const (
	maxAPIBodyBytes     = 64 << 10
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

type stateResponse struct {
	State   wizard.State   `json:"state"`
	Derived wizard.Derived `json:"derived"`
}

type overlayRequest struct {
	Overlay string `json:"overlay"`
}

type historyResponse struct {
	Items []history.Record `json:"items"`
}

type referenceResponse struct {
	Regions       []refdata.Region       `json:"regions"`
	PropertyTypes []refdata.PropertyType `json:"propertyTypes"`
}

func (a *app) apiState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.State(ctx, sessionID(ctx))
	a.writeState(w, r, st, err)
}

func (a *app) apiAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := sessionID(ctx)
	if current, err := a.controller.State(ctx, sid); err == nil && current.Step == wizard.StepOptions {
		if !a.limiter.AllowRequest(r) {
			w.Header().Set("Retry-After", strconv.Itoa(a.limiter.RetryAfter()))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
			return
		}
	}
	st, err := a.controller.Advance(ctx, sid)
	a.writeState(w, r, st, err)
}

func (a *app) apiRetreat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.Retreat(ctx, sessionID(ctx))
	a.writeState(w, r, st, err)
}

// apiFields accepts a JSON object of field values. Numbers, booleans and
// strings are all accepted and parsed like form input.
func (a *app) apiFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	values := make(map[string]string, len(raw))
	for key, v := range raw {
		s, err := fieldString(v)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_field", err.Error(), http.StatusBadRequest).
				WithDetails(map[string]any{"field": key}))
			return
		}
		values[key] = s
	}
	st, err := a.controller.SetFields(ctx, sessionID(ctx), values)
	a.writeState(w, r, st, err)
}

func (a *app) apiSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.Submit(ctx, sessionID(ctx))
	a.writeState(w, r, st, err)
}

func (a *app) apiReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.Reset(ctx, sessionID(ctx))
	a.writeState(w, r, st, err)
}

func (a *app) apiOpenOverlay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req overlayRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	kind, err := wizard.ParseOverlay(req.Overlay)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_overlay", err.Error(), http.StatusBadRequest))
		return
	}
	st, err := a.controller.OpenOverlay(ctx, sessionID(ctx), kind)
	a.writeState(w, r, st, err)
}

func (a *app) apiCloseOverlay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.CloseOverlay(ctx, sessionID(ctx))
	a.writeState(w, r, st, err)
}

func (a *app) apiHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	records, err := a.controller.History(ctx, sessionID(ctx), limit)
	if err != nil {
		a.writeAPIError(w, r, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	httpx.WriteJSON(w, http.StatusOK, historyResponse{Items: records})
}

func (a *app) apiLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := a.controller.Latest(ctx, sessionID(ctx))
	if errors.Is(err, history.ErrNotFound) {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "no successful simulation yet", http.StatusNotFound))
		return
	}
	if err != nil {
		a.writeAPIError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (a *app) apiReference(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, referenceResponse{
		Regions:       a.catalog.Regions(),
		PropertyTypes: a.catalog.PropertyTypes(),
	})
}

func (a *app) writeState(w http.ResponseWriter, r *http.Request, st wizard.State, err error) {
	if err != nil {
		a.writeAPIError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stateResponse{State: st, Derived: wizard.Derive(st, a.catalog)})
}

// writeAPIError maps wizard errors onto the JSON envelope.
func (a *app) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		gateErr  *wizard.GateError
		fieldErr *wizard.FieldError
		subErr   *wizard.SubmissionError
	)
	switch {
	case errors.As(err, &subErr):
		httpx.WriteError(ctx, w, httpx.NewError(wizard.FailureSimulation, "simulation request failed", http.StatusBadGateway).
			WithDetails(map[string]any{"reason": subErr.Code}))
	case errors.As(err, &gateErr):
		httpx.WriteError(ctx, w, httpx.NewError("step_incomplete", "a selection is required to continue", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"step": gateErr.Step.String(), "field": gateErr.Field}))
	case errors.As(err, &fieldErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_field", fieldErr.Reason, http.StatusBadRequest).
			WithDetails(map[string]any{"field": fieldErr.Field}))
	case errors.Is(err, wizard.ErrSubmissionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", "a simulation is already running", http.StatusConflict))
	case errors.Is(err, wizard.ErrOverlayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("overlay_unavailable", "overlays require a result", http.StatusConflict))
	default:
		observability.FromContext(ctx).Error("wizard api failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func fieldString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
