package wizard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/history"
	"github.com/minpaku-sim/web/internal/platform/requestctx"
	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/simulation"
)

// DefaultSubmitTimeout bounds one backend call.
const DefaultSubmitTimeout = 15 * time.Second

// Controller runs the wizard state machine for every visitor. All mutations
// go through Store.Update; the backend call runs outside of it.
type Controller struct {
	store      Store
	calculator simulation.Calculator
	catalog    *refdata.Catalog
	history    history.Repository
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
	newID      func(time.Time) string
}

// Option customises a Controller.
type Option func(*Controller)

// WithHistory records every submission attempt.
func WithHistory(repo history.Repository) Option {
	return func(c *Controller) {
		if repo != nil {
			c.history = repo
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSubmitTimeout bounds each backend call.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController wires a controller over the given store and calculator.
func NewController(store Store, calculator simulation.Calculator, catalog *refdata.Catalog, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		calculator: calculator,
		catalog:    catalog,
		history:    history.Nop{},
		logger:     zap.NewNop(),
		timeout:    DefaultSubmitTimeout,
		now:        time.Now,
		newID:      history.NewID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog exposes the reference tables used for validation and display.
func (c *Controller) Catalog() *refdata.Catalog { return c.catalog }

// SubmitTimeout reports the configured backend timeout.
func (c *Controller) SubmitTimeout() time.Duration { return c.timeout }

// staleAfter is how long a submitting guard is honoured before it is treated
// as left behind by a crashed process.
func (c *Controller) staleAfter() time.Duration { return 2 * c.timeout }

// State returns the visitor's state, or fresh defaults for a first visit.
func (c *Controller) State(ctx context.Context, id string) (State, error) {
	st, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return NewState(c.now()), nil
	}
	return st, err
}

// mutate applies fn as a user-driven change; any such change clears the last error.
func (c *Controller) mutate(ctx context.Context, id string, fn UpdateFunc) (State, error) {
	return c.store.Update(ctx, id, func(s *State) error {
		if err := fn(s); err != nil {
			return err
		}
		s.LastError = ""
		return nil
	})
}

// Advance moves to the next step. Gated steps return a GateError; Options
// submits instead of advancing.
func (c *Controller) Advance(ctx context.Context, id string) (State, error) {
	var outcome AdvanceOutcome
	var gateErr *GateError
	st, err := c.mutate(ctx, id, func(s *State) error {
		outcome = s.Advance()
		if outcome == Blocked {
			gateErr = s.gate()
			return gateErr
		}
		return nil
	})
	if err != nil {
		return st, err
	}
	if outcome == SubmitRequired {
		return c.Submit(ctx, id)
	}
	return st, nil
}

// Retreat moves to the previous step.
func (c *Controller) Retreat(ctx context.Context, id string) (State, error) {
	return c.mutate(ctx, id, func(s *State) error {
		s.Retreat()
		return nil
	})
}

// SetField merges one value into the input record.
func (c *Controller) SetField(ctx context.Context, id, key, raw string) (State, error) {
	return c.mutate(ctx, id, func(s *State) error {
		return s.SetField(key, raw, c.catalog)
	})
}

// SetFields merges several values; a bad value aborts the whole batch.
func (c *Controller) SetFields(ctx context.Context, id string, values map[string]string) (State, error) {
	return c.mutate(ctx, id, func(s *State) error {
		return s.SetFields(values, c.catalog)
	})
}

// Reset returns the visitor to Landing with default input and no result.
func (c *Controller) Reset(ctx context.Context, id string) (State, error) {
	return c.mutate(ctx, id, func(s *State) error {
		s.Reset()
		return nil
	})
}

// OpenOverlay shows one of the Results panels.
func (c *Controller) OpenOverlay(ctx context.Context, id string, kind Overlay) (State, error) {
	return c.mutate(ctx, id, func(s *State) error {
		return s.OpenOverlay(kind)
	})
}

// CloseOverlay hides the active panel.
func (c *Controller) CloseOverlay(ctx context.Context, id string) (State, error) {
	return c.mutate(ctx, id, func(s *State) error {
		s.CloseOverlay()
		return nil
	})
}

type claim struct {
	token      string
	generation int64
	input      Input
}

// Submit sends the input record to the backend. Only one submission per
// visitor runs at a time; a second call while one is pending returns
// ErrSubmissionInFlight without contacting the backend. Submitting from any
// step but Options, or without a region and property type, returns a
// GateError and leaves the state untouched. On success the result
// is stored and the wizard moves to Results; on failure it stays put with
// LastError set and a SubmissionError returned.
func (c *Controller) Submit(ctx context.Context, id string) (State, error) {
	logger := c.componentLogger(ctx)

	var cl claim
	st, err := c.store.Update(ctx, id, func(s *State) error {
		now := c.now().UTC()
		if s.SubmissionPending(now, c.staleAfter()) {
			return ErrSubmissionInFlight
		}
		if gateErr := s.submitGate(); gateErr != nil {
			return gateErr
		}
		if s.Submitting {
			logger.Warn("discarding stale submission guard",
				zap.String("submission_id", s.SubmissionID),
				zap.Time("since", s.SubmittingSince))
		}
		cl = claim{token: c.newID(now), generation: s.Generation, input: s.Input}
		s.Submitting = true
		s.SubmittingSince = now
		s.SubmissionID = cl.token
		s.LastError = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSubmissionInFlight) {
			logger.Info("submission ignored while another is pending")
		}
		return st, err
	}

	started := c.now()

	// Finalisation must land even if the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)
	settled := false
	defer func() {
		rec := recover()
		if !settled {
			if _, err := c.store.Update(settleCtx, id, func(s *State) error {
				if s.SubmissionID != cl.token {
					return nil
				}
				s.Submitting = false
				s.SubmittingSince = time.Time{}
				s.SubmissionID = ""
				if s.Generation == cl.generation {
					s.LastError = FailureSimulation
				}
				return nil
			}); err != nil {
				logger.Error("failed to release submission guard", zap.Error(err))
			}
		}
		if rec != nil {
			c.record(settleCtx, id, cl, simulation.Result{}, fmt.Errorf("wizard: calculator panic: %v", rec), c.now().Sub(started))
			panic(rec)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	result, callErr := c.calculator.Calculate(callCtx, cl.input.Request())
	cancel()
	elapsed := c.now().Sub(started)

	failure := ""
	if callErr != nil {
		failure = classifyFailure(callErr)
	}

	applied := false
	st, err = c.store.Update(settleCtx, id, func(s *State) error {
		if s.SubmissionID != cl.token {
			return nil
		}
		s.Submitting = false
		s.SubmittingSince = time.Time{}
		s.SubmissionID = ""
		if s.Generation != cl.generation {
			return nil
		}
		if failure != "" {
			s.LastError = failure
			return nil
		}
		s.Result = result
		s.Step = StepResults
		s.Overlay = OverlayNone
		s.LastError = ""
		applied = true
		return nil
	})
	settled = err == nil

	c.record(settleCtx, id, cl, result, callErr, elapsed)

	if err != nil {
		logger.Error("failed to store submission outcome", zap.Error(err))
		return st, err
	}
	if callErr != nil {
		logger.Warn("simulation submission failed",
			zap.String("failure", failure),
			zap.Duration("latency", elapsed),
			zap.Error(callErr))
		return st, &SubmissionError{Code: failure, Cause: callErr}
	}
	if !applied {
		logger.Info("simulation result discarded after reset", zap.Duration("latency", elapsed))
		return st, nil
	}
	logger.Info("simulation submission succeeded",
		zap.String("region", cl.input.Region),
		zap.String("property_type", cl.input.PropertyType),
		zap.Duration("latency", elapsed))
	return st, nil
}

func (c *Controller) record(ctx context.Context, sessionID string, cl claim, result simulation.Result, callErr error, elapsed time.Duration) {
	rec := history.Record{
		ID:        cl.token,
		SessionID: sessionID,
		Input:     cl.input.Request(),
		Duration:  elapsed,
		CreatedAt: c.now().UTC(),
	}
	var statusErr *simulation.StatusError
	switch {
	case callErr == nil:
		rec.Outcome = history.OutcomeSucceeded
		rec.HTTPStatus = 200
		rec.Result = result
	case errors.As(callErr, &statusErr):
		rec.Outcome = history.OutcomeFailed
		rec.HTTPStatus = statusErr.StatusCode
		rec.Error = callErr.Error()
	default:
		rec.Outcome = history.OutcomeFailed
		rec.Error = callErr.Error()
	}
	if err := c.history.Append(ctx, rec); err != nil {
		c.componentLogger(ctx).Warn("failed to record submission", zap.Error(err))
	}
}

// History lists the visitor's recent submissions, newest first.
func (c *Controller) History(ctx context.Context, id string, limit int) ([]history.Record, error) {
	return c.history.ListBySession(ctx, id, limit)
}

// Latest returns the visitor's most recent successful submission.
func (c *Controller) Latest(ctx context.Context, id string) (history.Record, error) {
	return c.history.Latest(ctx, id)
}

// Ping checks the store and history backends.
func (c *Controller) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return err
	}
	return c.history.Ping(ctx)
}

func (c *Controller) componentLogger(ctx context.Context) *zap.Logger {
	logger := requestctx.Logger(ctx)
	if logger == requestctx.NoopLogger() {
		logger = c.logger
	}
	return logger.Named("wizard")
}
