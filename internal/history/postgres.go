package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minpaku-sim/web/internal/simulation"
)

// Schema creates the submission table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS simulation_submissions (
	id                   TEXT PRIMARY KEY,
	session_id           TEXT NOT NULL,
	region               TEXT NOT NULL DEFAULT '',
	property_type        TEXT NOT NULL DEFAULT '',
	monthly_rent         BIGINT NOT NULL,
	furniture_appliances BOOLEAN NOT NULL,
	renovation_cost      BIGINT NOT NULL,
	management_fee_rate  BIGINT NOT NULL,
	cleaning_fee         BIGINT NOT NULL,
	outcome              TEXT NOT NULL,
	http_status          INTEGER NOT NULL DEFAULT 0,
	error                TEXT NOT NULL DEFAULT '',
	result               JSONB,
	duration_ms          BIGINT NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS simulation_submissions_session_created_idx
	ON simulation_submissions (session_id, created_at DESC);
`

// NewPool opens a PostgreSQL pool and verifies connectivity.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// PgRepository stores records in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository returns a PostgreSQL-backed Repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// Append implements Repository.
func (r *PgRepository) Append(ctx context.Context, rec Record) error {
	var result []byte
	if !rec.Result.IsZero() {
		result = rec.Result.Raw()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO simulation_submissions
			(id, session_id, region, property_type, monthly_rent, furniture_appliances,
			 renovation_cost, management_fee_rate, cleaning_fee, outcome, http_status,
			 error, result, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.SessionID, rec.Input.Region, rec.Input.PropertyType, rec.Input.MonthlyRent,
		rec.Input.FurnitureAppliances, rec.Input.RenovationCost, rec.Input.ManagementFeeRate,
		rec.Input.CleaningFee, string(rec.Outcome), rec.HTTPStatus, rec.Error, result,
		rec.Duration.Milliseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

const recordSelectQuery = `
	SELECT id, session_id, region, property_type, monthly_rent, furniture_appliances,
	       renovation_cost, management_fee_rate, cleaning_fee, outcome, http_status,
	       error, result, duration_ms, created_at
	FROM simulation_submissions`

// ListBySession implements Repository.
func (r *PgRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultPerSession
	}
	rows, err := r.pool.Query(ctx,
		recordSelectQuery+` WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Latest implements Repository.
func (r *PgRepository) Latest(ctx context.Context, sessionID string) (Record, error) {
	row := r.pool.QueryRow(ctx,
		recordSelectQuery+` WHERE session_id = $1 AND outcome = $2 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, string(OutcomeSucceeded))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Ping implements Repository.
func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (Record, error) {
	var (
		rec        Record
		outcome    string
		result     []byte
		durationMs int64
	)
	if err := row.Scan(
		&rec.ID, &rec.SessionID, &rec.Input.Region, &rec.Input.PropertyType, &rec.Input.MonthlyRent,
		&rec.Input.FurnitureAppliances, &rec.Input.RenovationCost, &rec.Input.ManagementFeeRate,
		&rec.Input.CleaningFee, &outcome, &rec.HTTPStatus, &rec.Error, &result, &durationMs, &rec.CreatedAt,
	); err != nil {
		return Record{}, err
	}
	rec.Outcome = Outcome(outcome)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if len(result) > 0 {
		parsed, err := simulation.NewResult(result)
		if err != nil {
			return Record{}, fmt.Errorf("history: record %s: %w", rec.ID, err)
		}
		rec.Result = parsed
	}
	return rec, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
