package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// DecisionStore persists the exactly-one-per-completed-run aggregation
// result.
type DecisionStore struct {
	db *sqlx.DB
}

// NewDecisionStore builds a DecisionStore over client's pool.
func NewDecisionStore(client *Client) *DecisionStore {
	return &DecisionStore{db: client.db}
}

type decisionRow struct {
	ID                        string         `db:"id"`
	RunID                     string         `db:"run_id"`
	DecisionJSON              []byte         `db:"decision_json"`
	OverallWeightedConfidence float64        `db:"overall_weighted_confidence"`
	DecisionNotes             sql.NullString `db:"decision_notes"`
	CreatedAt                 time.Time      `db:"created_at"`
}

func (r decisionRow) toModel() (*models.Decision, error) {
	var agg models.DecisionAggregation
	if err := json.Unmarshal(r.DecisionJSON, &agg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision aggregation: %w", err)
	}
	d := &models.Decision{
		ID:                        r.ID,
		RunID:                     r.RunID,
		DecisionJSON:              agg,
		OverallWeightedConfidence: r.OverallWeightedConfidence,
		CreatedAt:                 r.CreatedAt,
	}
	if r.DecisionNotes.Valid {
		d.DecisionNotes = &r.DecisionNotes.String
	}
	return d, nil
}

// Create inserts the aggregate_decision step's output. The (run_id) UNIQUE
// constraint makes a redelivered aggregate step idempotent the same way
// ProposalStore.Create is (spec §5).
func (s *DecisionStore) Create(ctx context.Context, d *models.Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	agg, err := json.Marshal(d.DecisionJSON)
	if err != nil {
		return fmt.Errorf("failed to marshal decision aggregation: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (id, run_id, decision_json, overall_weighted_confidence, decision_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.RunID, agg, d.OverallWeightedConfidence, d.DecisionNotes, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return tx.Commit()
}

// GetByRun fetches the decision for a run.
func (s *DecisionStore) GetByRun(ctx context.Context, runID string) (*models.Decision, error) {
	var row decisionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM decisions WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch decision: %w", err)
	}
	return row.toModel()
}
