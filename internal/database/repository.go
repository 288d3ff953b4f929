package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS tuning_studies (
    id           UUID PRIMARY KEY,
    name         TEXT NOT NULL,
    mode         TEXT NOT NULL,
    directions   TEXT[] NOT NULL,
    n_trials     INTEGER NOT NULL,
    status       TEXT NOT NULL,
    host         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tuning_studies_name_idx ON tuning_studies (name, created_at DESC);
CREATE TABLE IF NOT EXISTS tuning_trials (
    study_id     UUID NOT NULL REFERENCES tuning_studies(id) ON DELETE CASCADE,
    number       INTEGER NOT NULL,
    state        TEXT NOT NULL,
    objective_values DOUBLE PRECISION[],
    params       JSONB NOT NULL DEFAULT '{}',
    user_attrs   JSONB NOT NULL DEFAULT '{}',
    error        TEXT,
    started_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    PRIMARY KEY (study_id, number)
);`

// Repository stores studies and trials in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects, pings and makes sure the tables exist.
func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// CreateStudy inserts a study with a fresh ID and status running.
func (r *Repository) CreateStudy(ctx context.Context, s *Study) (string, error) {
	s.ID = uuid.NewString()
	if s.Status == "" {
		s.Status = StatusRunning
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO tuning_studies (id, name, mode, directions, n_trials, status, host)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING created_at`,
		s.ID, s.Name, s.Mode, s.Directions, s.NTrials, s.Status, s.Host,
	).Scan(&s.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert study: %w", err)
	}
	return s.ID, nil
}

// UpdateStudyStatus sets the status; terminal statuses also stamp
// completed_at.
func (r *Repository) UpdateStudyStatus(ctx context.Context, studyID, status string) error {
	var err error
	switch status {
	case StatusCompleted, StatusFailed:
		_, err = r.pool.Exec(ctx,
			`UPDATE tuning_studies SET status = $1, completed_at = $2 WHERE id = $3`,
			status, time.Now(), studyID)
	default:
		_, err = r.pool.Exec(ctx, `UPDATE tuning_studies SET status = $1 WHERE id = $2`, status, studyID)
	}
	if err != nil {
		return fmt.Errorf("update study status: %w", err)
	}
	return nil
}

// SaveTrials upserts trials in one transaction.
func (r *Repository) SaveTrials(ctx context.Context, studyID string, trials []Trial) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range trials {
		batch.Queue(
			`INSERT INTO tuning_trials
			    (study_id, number, state, objective_values, params, user_attrs, error, started_at, completed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			 ON CONFLICT (study_id, number) DO UPDATE SET
			    state = EXCLUDED.state,
			    objective_values = EXCLUDED.objective_values,
			    params = EXCLUDED.params,
			    user_attrs = EXCLUDED.user_attrs,
			    error = EXCLUDED.error,
			    completed_at = EXCLUDED.completed_at`,
			studyID, t.Number, t.State, t.Values, nonNil(t.Params), nonNil(t.UserAttrs),
			t.Error, t.StartedAt, t.CompletedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert trials: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetStudyByName returns the most recent study with the given name, or nil
// if there is none.
func (r *Repository) GetStudyByName(ctx context.Context, name string) (*Study, error) {
	var s Study
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, mode, directions, n_trials, status, host, created_at, completed_at
		 FROM tuning_studies WHERE name = $1
		 ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&s.ID, &s.Name, &s.Mode, &s.Directions, &s.NTrials, &s.Status, &s.Host, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query study: %w", err)
	}
	return &s, nil
}

// ListTrials returns the trials of a study in trial order.
func (r *Repository) ListTrials(ctx context.Context, studyID string) ([]Trial, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT study_id, number, state, objective_values, params, user_attrs, error, started_at, completed_at
		 FROM tuning_trials WHERE study_id = $1 ORDER BY number`, studyID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var trials []Trial
	for rows.Next() {
		var t Trial
		if err := rows.Scan(&t.StudyID, &t.Number, &t.State, &t.Values, &t.Params, &t.UserAttrs,
			&t.Error, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan trial row: %w", err)
		}
		trials = append(trials, t)
	}
	return trials, rows.Err()
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
