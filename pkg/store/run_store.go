package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ideapanel/ideapanel/pkg/apierr"
	"github.com/ideapanel/ideapanel/pkg/models"
)

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("store: record not found")

// RunStore persists models.Run rows.
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore builds a RunStore over client's pool.
func NewRunStore(client *Client) *RunStore {
	return &RunStore{db: client.db}
}

type runRow struct {
	ID          string         `db:"id"`
	ParentRunID sql.NullString `db:"parent_run_id"`
	RunType     string         `db:"run_type"`
	Status      string         `db:"status"`
	Priority    string         `db:"priority"`

	CreatedAt   time.Time    `db:"created_at"`
	QueuedAt    sql.NullTime `db:"queued_at"`
	StartedAt   sql.NullTime `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	UpdatedAt   time.Time    `db:"updated_at"`

	RetryCount int `db:"retry_count"`

	InputIdea    string `db:"input_idea"`
	ExtraContext []byte `db:"extra_context"`

	Model          string  `db:"model"`
	Temperature    float64 `db:"temperature"`
	ParametersJSON []byte  `db:"parameters_json"`
	EditInputJSON  []byte  `db:"edit_input_json"`

	OverallWeightedConfidence sql.NullFloat64 `db:"overall_weighted_confidence"`
	DecisionLabel             sql.NullString  `db:"decision_label"`

	ErrorMessage   sql.NullString `db:"error_message"`
	LastErrorCode  sql.NullString `db:"last_error_code"`
	DeadLetteredAt sql.NullTime   `db:"dead_lettered_at"`
}

func (r runRow) toModel() (*models.Run, error) {
	var params models.RunParameters
	if len(r.ParametersJSON) > 0 {
		if err := json.Unmarshal(r.ParametersJSON, &params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run parameters: %w", err)
		}
	}

	run := &models.Run{
		ID:             r.ID,
		RunType:        models.RunType(r.RunType),
		Status:         models.RunStatus(r.Status),
		Priority:       models.RunPriority(r.Priority),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		RetryCount:     r.RetryCount,
		InputIdea:      r.InputIdea,
		Model:          r.Model,
		Temperature:    r.Temperature,
		ParametersJSON: params,
	}
	if len(r.EditInputJSON) > 0 {
		var editInput models.RevisionEditInput
		if err := json.Unmarshal(r.EditInputJSON, &editInput); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run edit input: %w", err)
		}
		run.EditInput = &editInput
	}
	if r.ParentRunID.Valid {
		run.ParentRunID = &r.ParentRunID.String
	}
	if len(r.ExtraContext) > 0 {
		run.ExtraContext = json.RawMessage(r.ExtraContext)
	}
	if r.QueuedAt.Valid {
		run.QueuedAt = &r.QueuedAt.Time
	}
	if r.StartedAt.Valid {
		run.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		run.CompletedAt = &r.CompletedAt.Time
	}
	if r.OverallWeightedConfidence.Valid {
		run.OverallWeightedConfidence = &r.OverallWeightedConfidence.Float64
	}
	if r.DecisionLabel.Valid {
		label := models.DecisionLabel(r.DecisionLabel.String)
		run.DecisionLabel = &label
	}
	if r.ErrorMessage.Valid {
		run.ErrorMessage = &r.ErrorMessage.String
	}
	if r.LastErrorCode.Valid {
		run.LastErrorCode = &r.LastErrorCode.String
	}
	if r.DeadLetteredAt.Valid {
		run.DeadLetteredAt = &r.DeadLetteredAt.Time
	}
	return run, nil
}

// Create inserts a new run row, opening its own transaction so the caller
// never has to reason about a partial write.
func (s *RunStore) Create(ctx context.Context, run *models.Run) error {
	params, err := json.Marshal(run.ParametersJSON)
	if err != nil {
		return fmt.Errorf("failed to marshal run parameters: %w", err)
	}
	var editInput []byte
	if run.EditInput != nil {
		editInput, err = json.Marshal(run.EditInput)
		if err != nil {
			return fmt.Errorf("failed to marshal run edit input: %w", err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, parent_run_id, run_type, status, priority,
			created_at, updated_at, input_idea, extra_context,
			model, temperature, parameters_json, edit_input_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, run.ID, run.ParentRunID, string(run.RunType), string(run.Status), string(run.Priority),
		run.CreatedAt, run.UpdatedAt, run.InputIdea, nullableJSON(run.ExtraContext),
		run.Model, run.Temperature, params, nullableBytes(editInput))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return tx.Commit()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Get fetches a run by id.
func (s *RunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	return row.toModel()
}

// ListRevisions returns the run rootRunID plus every run whose parent_run_id
// is rootRunID, newest first. Revisions of those revisions are not included.
func (s *RunStore) ListRevisions(ctx context.Context, rootRunID string) ([]*models.Run, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM runs WHERE id = $1 OR parent_run_id = $1 ORDER BY created_at DESC
	`, rootRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	out := make([]*models.Run, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ListFilter is the set of optional predicates List applies; a nil field
// means "don't filter on this" (spec §4.3's general /v1/runs listing, which
// must work without a parent_run_id).
type ListFilter struct {
	Status        *models.RunStatus
	RunType       *models.RunType
	ParentRunID   *string
	Decision      *models.DecisionLabel
	MinConfidence *float64
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// List returns runs matching filter, newest first, along with the total
// match count ignoring Limit/Offset (for pagination metadata). ParentRunID,
// when set, matches both the parent itself and its direct revisions, the
// same one-level match ListRevisions implements; every other predicate
// is independent of parentage, unlike ListRevisions.
func (s *RunStore) List(ctx context.Context, filter ListFilter) ([]*models.Run, int, error) {
	where := []string{"1 = 1"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != nil {
		where = append(where, "status = "+arg(string(*filter.Status)))
	}
	if filter.RunType != nil {
		where = append(where, "run_type = "+arg(string(*filter.RunType)))
	}
	if filter.ParentRunID != nil {
		placeholder := arg(*filter.ParentRunID)
		where = append(where, fmt.Sprintf("(id = %s OR parent_run_id = %s)", placeholder, placeholder))
	}
	if filter.Decision != nil {
		where = append(where, "decision_label = "+arg(string(*filter.Decision)))
	}
	if filter.MinConfidence != nil {
		where = append(where, "overall_weighted_confidence >= "+arg(*filter.MinConfidence))
	}
	if filter.From != nil {
		where = append(where, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at <= "+arg(*filter.To))
	}

	query := fmt.Sprintf(`SELECT * FROM runs WHERE %s ORDER BY created_at DESC`, strings.Join(where, " AND "))

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	total := len(rows)

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if filter.Offset > len(rows) {
		rows = nil
	} else {
		end := filter.Offset + limit
		if end > len(rows) {
			end = len(rows)
		}
		rows = rows[filter.Offset:end]
	}

	out := make([]*models.Run, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, nil
}

// ClaimOutcome reports what Claim decided for a Run (spec §4.7's claim
// protocol).
type ClaimOutcome int

const (
	// ClaimAcquired means the caller now owns the run and should execute it;
	// Claim has already transitioned it to running (and bumped retry_count
	// on a failed -> queued -> running reset).
	ClaimAcquired ClaimOutcome = iota
	// ClaimAlreadyCompleted means the run is done; the caller should ack and
	// do nothing else (idempotent skip).
	ClaimAlreadyCompleted
	// ClaimHeldByOther means another worker holds a non-stale running claim;
	// the caller should leave the run alone and retry the delivery later.
	ClaimHeldByOther
)

// Claim implements spec §4.7's claim protocol as a single row-locked
// transaction: `SELECT ... FOR UPDATE` the run, then decide and apply the
// one legal transition for its current status. This replaces a plain
// `UPDATE ... WHERE status = $1` CAS, which a caller could silently ignore
// the result of and proceed anyway — the row lock instead makes "another
// worker already holds this run" an outcome Claim itself detects and
// reports, per this codebase's own "row-lock claim vs optimistic UPDATE"
// design note.
func (s *RunStore) Claim(ctx context.Context, id string, now time.Time, ackDeadline time.Duration) (*models.Run, ClaimOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ClaimHeldByOther, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row runRow
	err = tx.QueryRowxContext(ctx, `SELECT * FROM runs WHERE id = $1 FOR UPDATE`, id).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ClaimHeldByOther, ErrNotFound
	}
	if err != nil {
		return nil, ClaimHeldByOther, fmt.Errorf("failed to lock run for claim: %w", err)
	}
	run, err := row.toModel()
	if err != nil {
		return nil, ClaimHeldByOther, err
	}

	switch run.Status {
	case models.RunStatusCompleted:
		if err := tx.Commit(); err != nil {
			return nil, ClaimHeldByOther, fmt.Errorf("failed to commit claim: %w", err)
		}
		return run, ClaimAlreadyCompleted, nil

	case models.RunStatusFailed:
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = $1, retry_count = retry_count + 1, started_at = $2, updated_at = $2 WHERE id = $3
		`, string(models.RunStatusRunning), now, id); err != nil {
			return nil, ClaimHeldByOther, fmt.Errorf("failed to reset failed run for retry: %w", err)
		}
		run.Status = models.RunStatusRunning
		run.RetryCount++
		run.StartedAt = &now

	case models.RunStatusQueued:
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = $1, started_at = $2, updated_at = $2 WHERE id = $3
		`, string(models.RunStatusRunning), now, id); err != nil {
			return nil, ClaimHeldByOther, fmt.Errorf("failed to transition run to running: %w", err)
		}
		run.Status = models.RunStatusRunning
		run.StartedAt = &now

	case models.RunStatusRunning:
		stale := run.StartedAt != nil && now.Sub(*run.StartedAt) > ackDeadline
		if !stale {
			if err := tx.Commit(); err != nil {
				return nil, ClaimHeldByOther, fmt.Errorf("failed to commit claim: %w", err)
			}
			return run, ClaimHeldByOther, nil
		}
		// Reclaim: the run's started_at predates the ack deadline, so the
		// worker that last held it is presumed dead.
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET started_at = $1, updated_at = $1 WHERE id = $2
		`, now, id); err != nil {
			return nil, ClaimHeldByOther, fmt.Errorf("failed to reclaim stale running run: %w", err)
		}
		run.StartedAt = &now

	default:
		return nil, ClaimHeldByOther, fmt.Errorf("run %q has unrecognized status %q", id, run.Status)
	}

	if err := tx.Commit(); err != nil {
		return nil, ClaimHeldByOther, fmt.Errorf("failed to commit claim: %w", err)
	}
	return run, ClaimAcquired, nil
}

// UpdateStatus transitions a run's status and bumps updated_at, guarding the
// transition with a status-gated WHERE clause so a redelivered claim cannot
// move a run backwards out of a state another worker already advanced past.
// The returned bool is false when the guard didn't match (no-op, not an
// error — the caller treats this as "already handled").
func (s *RunStore) UpdateStatus(ctx context.Context, id string, from, to models.RunStatus, now time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
	`, string(to), now, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update run status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit status update: %w", err)
	}
	return affected > 0, nil
}

// MarkStarted stamps started_at once, the first time a worker claims the run.
func (s *RunStore) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET started_at = $1, updated_at = $1 WHERE id = $2 AND started_at IS NULL
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark run started: %w", err)
	}
	return nil
}

// Complete records the terminal decision label, confidence and completion
// timestamp together in one transaction.
func (s *RunStore) Complete(ctx context.Context, id string, label models.DecisionLabel, confidence float64, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = $1, decision_label = $2, overall_weighted_confidence = $3,
			completed_at = $4, updated_at = $4 WHERE id = $5
	`, string(models.RunStatusCompleted), string(label), confidence, at, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return tx.Commit()
}

// Fail records a terminal failure with its classified error code, and stamps
// dead_lettered_at when the caller has exhausted the broker's retry budget.
func (s *RunStore) Fail(ctx context.Context, id string, kind apierr.Kind, message string, deadLettered bool, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deadLetteredAt any
	if deadLettered {
		deadLetteredAt = at
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = $1, error_message = $2, last_error_code = $3,
			dead_lettered_at = COALESCE(dead_lettered_at, $4), completed_at = $5, updated_at = $5
		WHERE id = $6
	`, string(models.RunStatusFailed), message, string(kind), deadLetteredAt, at, id)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return tx.Commit()
}

// IncrementRetry bumps retry_count and resets a run back to queued, the
// retry-reset transition models.RunStatus documents.
func (s *RunStore) IncrementRetry(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, retry_count = retry_count + 1, updated_at = $2 WHERE id = $3
	`, string(models.RunStatusQueued), at, id)
	if err != nil {
		return fmt.Errorf("failed to increment run retry count: %w", err)
	}
	return nil
}
