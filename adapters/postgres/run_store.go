// Package postgres persists run artifacts as JSONB rows.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"narpstat/domain/analysis"
	"narpstat/domain/core"
	"narpstat/ports"
)

// RunStore implements ports.RunStore for PostgreSQL
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore creates the store and ensures its table exists
func NewRunStore(db *sqlx.DB) (*RunStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_runs (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			seed BIGINT NOT NULL,
			payload JSONB NOT NULL
		)`)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db}, nil
}

var _ ports.RunStore = (*RunStore)(nil)

// Save upserts the run artifact as a JSONB payload
func (s *RunStore) Save(ctx context.Context, run *analysis.AnalysisRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, kind, created_at, seed, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			created_at = EXCLUDED.created_at,
			seed = EXCLUDED.seed,
			payload = EXCLUDED.payload`,
		run.ID.String(), string(run.Kind), run.CreatedAt.Time(), run.Seed, payload)
	return err
}

// Get retrieves a run by id
func (s *RunStore) Get(ctx context.Context, id core.RunID) (*analysis.AnalysisRun, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM analysis_runs WHERE id = $1`, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("run", id.String())
	}
	if err != nil {
		return nil, err
	}
	var run analysis.AnalysisRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns runs newest first, optionally limited
func (s *RunStore) List(ctx context.Context, limit int) ([]*analysis.AnalysisRun, error) {
	query := `SELECT payload FROM analysis_runs ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*analysis.AnalysisRun
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var run analysis.AnalysisRun
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
