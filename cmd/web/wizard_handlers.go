package main

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/middleware"
	"github.com/minpaku-sim/web/internal/platform/observability"
	"github.com/minpaku-sim/web/internal/wizard"
)

var formFieldKeys = []string{
	wizard.FieldRegion,
	wizard.FieldPropertyType,
	wizard.FieldMonthlyRent,
	wizard.FieldFurnitureAppliances,
	wizard.FieldRenovationCost,
	wizard.FieldManagementFeeRate,
}

// handleIndex renders the current step.
func (a *app) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.State(ctx, sessionID(ctx))
	if err != nil {
		a.respond(w, r, st, err)
		return
	}
	a.renderPage(w, r, http.StatusOK, st, "")
}

// handleNext applies any posted fields, then advances. At Options it submits.
func (a *app) handleNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := sessionID(ctx)
	if st, err := a.applyForm(r); err != nil {
		a.respond(w, r, st, err)
		return
	}
	if current, err := a.controller.State(ctx, sid); err == nil && current.Step == wizard.StepOptions {
		if !a.allowSubmit(w, r) {
			return
		}
	}
	st, err := a.controller.Advance(ctx, sid)
	a.respond(w, r, st, err)
}

func (a *app) handleBack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.Retreat(ctx, sessionID(ctx))
	a.respond(w, r, st, err)
}

// handleFields merges posted fields and stays on the step.
func (a *app) handleFields(w http.ResponseWriter, r *http.Request) {
	st, err := a.applyForm(r)
	a.respond(w, r, st, err)
}

func (a *app) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if st, err := a.applyForm(r); err != nil {
		a.respond(w, r, st, err)
		return
	}
	st, err := a.controller.Submit(ctx, sessionID(ctx))
	a.respond(w, r, st, err)
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.Reset(ctx, sessionID(ctx))
	a.respond(w, r, st, err)
}

func (a *app) handleOverlayOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, err := wizard.ParseOverlay(chi.URLParam(r, "kind"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	st, err := a.controller.OpenOverlay(ctx, sessionID(ctx), kind)
	a.respond(w, r, st, err)
}

func (a *app) handleOverlayClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := a.controller.CloseOverlay(ctx, sessionID(ctx))
	a.respond(w, r, st, err)
}

// applyForm merges the known wizard fields present in the form and returns
// the resulting state.
func (a *app) applyForm(r *http.Request) (wizard.State, error) {
	ctx := r.Context()
	sid := sessionID(ctx)
	if err := r.ParseForm(); err != nil {
		st, _ := a.controller.State(ctx, sid)
		return st, &wizard.FieldError{Reason: "unreadable form"}
	}
	values := formValues(r.PostForm)
	if len(values) == 0 {
		return a.controller.State(ctx, sid)
	}
	return a.controller.SetFields(ctx, sid, values)
}

// formValues keeps the last value per field so a hidden "false" followed by a
// checked checkbox reads as true.
func formValues(form url.Values) map[string]string {
	values := map[string]string{}
	for _, key := range formFieldKeys {
		if vs, ok := form[key]; ok && len(vs) > 0 {
			values[key] = vs[len(vs)-1]
		}
	}
	return values
}

func (a *app) allowSubmit(w http.ResponseWriter, r *http.Request) bool {
	if a.limiter.AllowRequest(r) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(a.limiter.RetryAfter()))
	ctx := r.Context()
	st, _ := a.controller.State(ctx, sessionID(ctx))
	a.renderPage(w, r, http.StatusTooManyRequests, st, "error.rate_limited")
	return false
}

// respond finishes a wizard action: success redirects plain posts back to the
// wizard (htmx gets the fragment), failures re-render with a message.
func (a *app) respond(w http.ResponseWriter, r *http.Request, st wizard.State, err error) {
	if err == nil {
		if middleware.IsHTMX(r.Context()) {
			a.renderFragment(w, r, st, "")
			return
		}
		middleware.Redirect(w, r, "/")
		return
	}

	var (
		gateErr  *wizard.GateError
		fieldErr *wizard.FieldError
		subErr   *wizard.SubmissionError
	)
	status, key := http.StatusInternalServerError, "error.internal"
	switch {
	case errors.As(err, &subErr):
		// LastError is persisted, so the regular view shows the message.
		if middleware.IsHTMX(r.Context()) {
			a.renderFragment(w, r, st, "")
			return
		}
		middleware.Redirect(w, r, "/")
		return
	case errors.As(err, &gateErr):
		status, key = http.StatusUnprocessableEntity, "error.step_incomplete"
	case errors.As(err, &fieldErr):
		status, key = http.StatusBadRequest, "error.invalid_field"
	case errors.Is(err, wizard.ErrSubmissionInFlight):
		status, key = http.StatusConflict, "error.submission_in_flight"
	case errors.Is(err, wizard.ErrOverlayUnavailable):
		status, key = http.StatusConflict, "error.overlay_unavailable"
	default:
		observability.FromContext(r.Context()).Error("wizard action failed", zap.Error(err))
	}

	if middleware.IsHTMX(r.Context()) {
		// htmx only swaps 2xx responses.
		a.renderFragment(w, r, st, key)
		return
	}
	a.renderPage(w, r, status, st, key)
}

func (a *app) renderPage(w http.ResponseWriter, r *http.Request, status int, st wizard.State, errKey string) {
	a.renderer.render(w, r, status, "base", a.buildView(r.Context(), r, st, errKey))
}

func (a *app) renderFragment(w http.ResponseWriter, r *http.Request, st wizard.State, errKey string) {
	a.renderer.render(w, r, http.StatusOK, "wizard", a.buildView(r.Context(), r, st, errKey))
}
