// Package history records every simulation submission so visitors can revisit
// earlier results and operators can audit backend failures.
package history

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/minpaku-sim/web/internal/simulation"
)

// Outcome is the terminal status of one submission attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ErrNotFound is returned when a session has no recorded submissions.
var ErrNotFound = errors.New("history: not found")

// Record is one submission attempt.
type Record struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"sessionId"`
	Input      simulation.Request `json:"input"`
	Outcome    Outcome            `json:"outcome"`
	HTTPStatus int                `json:"httpStatus,omitempty"`
	Error      string             `json:"error,omitempty"`
	Result     simulation.Result  `json:"result"`
	Duration   time.Duration      `json:"-"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// MarshalJSON renders Duration in milliseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain: plain(r), DurationMs: r.Duration.Milliseconds()})
}

// Succeeded reports whether the attempt produced a result.
func (r Record) Succeeded() bool { return r.Outcome == OutcomeSucceeded }

// Repository persists submission records.
type Repository interface {
	Append(ctx context.Context, rec Record) error
	// ListBySession returns the newest records first, at most limit.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Record, error)
	// Latest returns the newest successful record for the session.
	Latest(ctx context.Context, sessionID string) (Record, error)
	Ping(ctx context.Context) error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered identifier for a record.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// Nop discards records. Used when history is disabled.
type Nop struct{}

var _ Repository = Nop{}

func (Nop) Append(context.Context, Record) error { return nil }

func (Nop) ListBySession(context.Context, string, int) ([]Record, error) { return nil, nil }

func (Nop) Latest(context.Context, string) (Record, error) { return Record{}, ErrNotFound }

func (Nop) Ping(context.Context) error { return nil }
