package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// StepStore persists per-(run, canonical step) progress rows.
type StepStore struct {
	db *sqlx.DB
}

// NewStepStore builds a StepStore over client's pool.
func NewStepStore(client *Client) *StepStore {
	return &StepStore{db: client.db}
}

type stepRow struct {
	ID           string         `db:"id"`
	RunID        string         `db:"run_id"`
	StepName     string         `db:"step_name"`
	StepOrder    int            `db:"step_order"`
	Status       string         `db:"status"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	ErrorMessage sql.NullString `db:"error_message"`
}

func (r stepRow) toModel() *models.StepProgress {
	p := &models.StepProgress{
		ID:        r.ID,
		RunID:     r.RunID,
		StepName:  models.StepName(r.StepName),
		StepOrder: r.StepOrder,
		Status:    models.StepStatus(r.Status),
	}
	if r.StartedAt.Valid {
		p.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		p.CompletedAt = &r.CompletedAt.Time
	}
	if r.ErrorMessage.Valid {
		p.ErrorMessage = &r.ErrorMessage.String
	}
	return p
}

// InitForRun seeds one pending row per S_CANON step for a freshly queued run,
// inside a single transaction so the seed is all-or-nothing.
func (s *StepStore) InitForRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range models.StepOrder {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO step_progress (id, run_id, step_name, step_order, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, step_name) DO NOTHING
		`, uuid.New().String(), runID, string(name), models.StepOrderOf(name), string(models.StepStatusPending))
		if err != nil {
			return fmt.Errorf("failed to seed step progress for %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// ListByRun returns every step row for a run, ordered by its canonical
// position.
func (s *StepStore) ListByRun(ctx context.Context, runID string) ([]*models.StepProgress, error) {
	var rows []stepRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM step_progress WHERE run_id = $1 ORDER BY step_order
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step progress: %w", err)
	}
	out := make([]*models.StepProgress, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Get fetches a single step's progress row.
func (s *StepStore) Get(ctx context.Context, runID string, step models.StepName) (*models.StepProgress, error) {
	var row stepRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM step_progress WHERE run_id = $1 AND step_name = $2
	`, runID, string(step))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch step progress: %w", err)
	}
	return row.toModel(), nil
}

// TransitionToRunning moves a step from pending to running, guarding with a
// status check so a redelivered claim does not double-start a step already
// running or finished (spec §5).
func (s *StepStore) TransitionToRunning(ctx context.Context, runID string, step models.StepName, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_progress SET status = $1, started_at = $2
		WHERE run_id = $3 AND step_name = $4 AND status = $5
	`, string(models.StepStatusRunning), at, runID, string(step), string(models.StepStatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to transition step to running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// Complete marks a step finished successfully.
func (s *StepStore) Complete(ctx context.Context, runID string, step models.StepName, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE step_progress SET status = $1, completed_at = $2 WHERE run_id = $3 AND step_name = $4
	`, string(models.StepStatusCompleted), at, runID, string(step))
	if err != nil {
		return fmt.Errorf("failed to complete step progress: %w", err)
	}
	return nil
}

// Fail marks a step failed with its error message.
func (s *StepStore) Fail(ctx context.Context, runID string, step models.StepName, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE step_progress SET status = $1, completed_at = $2, error_message = $3
		WHERE run_id = $4 AND step_name = $5
	`, string(models.StepStatusFailed), at, message, runID, string(step))
	if err != nil {
		return fmt.Errorf("failed to fail step progress: %w", err)
	}
	return nil
}
