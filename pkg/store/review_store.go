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

// ReviewStore persists one PersonaReview row per (run, persona).
type ReviewStore struct {
	db *sqlx.DB
}

// NewReviewStore builds a ReviewStore over client's pool.
func NewReviewStore(client *Client) *ReviewStore {
	return &ReviewStore{db: client.db}
}

type reviewRow struct {
	ID                      string    `db:"id"`
	RunID                   string    `db:"run_id"`
	PersonaID               string    `db:"persona_id"`
	PersonaName             string    `db:"persona_name"`
	ReviewJSON              []byte    `db:"review_json"`
	ConfidenceScore         float64   `db:"confidence_score"`
	BlockingIssuesPresent   bool      `db:"blocking_issues_present"`
	SecurityConcernsPresent bool      `db:"security_concerns_present"`
	PromptParametersJSON    []byte    `db:"prompt_parameters_json"`
	CreatedAt               time.Time `db:"created_at"`
}

func (r reviewRow) toModel() (*models.PersonaReview, error) {
	var payload models.ReviewPayload
	if err := json.Unmarshal(r.ReviewJSON, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal review payload: %w", err)
	}
	var params models.PromptParameters
	if err := json.Unmarshal(r.PromptParametersJSON, &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompt parameters: %w", err)
	}
	return &models.PersonaReview{
		ID:                      r.ID,
		RunID:                   r.RunID,
		PersonaID:               models.PersonaID(r.PersonaID),
		PersonaName:             r.PersonaName,
		ReviewJSON:              payload,
		ConfidenceScore:         r.ConfidenceScore,
		BlockingIssuesPresent:   r.BlockingIssuesPresent,
		SecurityConcernsPresent: r.SecurityConcernsPresent,
		PromptParametersJSON:    params,
		CreatedAt:               r.CreatedAt,
	}, nil
}

// Create inserts one persona's review. The (run_id, persona_id) UNIQUE
// constraint is the idempotency guard for a redelivered review step (spec
// §5): the worker checks GetByRunAndPersona first, and a constraint
// violation here is returned as an error like any other insert failure.
func (s *ReviewStore) Create(ctx context.Context, r *models.PersonaReview) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	review, err := json.Marshal(r.ReviewJSON)
	if err != nil {
		return fmt.Errorf("failed to marshal review payload: %w", err)
	}
	params, err := json.Marshal(r.PromptParametersJSON)
	if err != nil {
		return fmt.Errorf("failed to marshal prompt parameters: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO persona_reviews (
			id, run_id, persona_id, persona_name, review_json, confidence_score,
			blocking_issues_present, security_concerns_present, prompt_parameters_json, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.RunID, string(r.PersonaID), r.PersonaName, review, r.ConfidenceScore,
		r.BlockingIssuesPresent, r.SecurityConcernsPresent, params, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert persona review: %w", err)
	}
	return tx.Commit()
}

// ListByRun returns every persona review recorded for a run, used by the
// aggregate_decision step once all five have landed.
func (s *ReviewStore) ListByRun(ctx context.Context, runID string) ([]*models.PersonaReview, error) {
	var rows []reviewRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM persona_reviews WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list persona reviews: %w", err)
	}
	out := make([]*models.PersonaReview, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetByRunAndPersona fetches one persona's review for a run, used by the
// worker's review step to skip a persona whose review is already stored.
func (s *ReviewStore) GetByRunAndPersona(ctx context.Context, runID string, persona models.PersonaID) (*models.PersonaReview, error) {
	var row reviewRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM persona_reviews WHERE run_id = $1 AND persona_id = $2
	`, runID, string(persona))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch persona review: %w", err)
	}
	return row.toModel()
}

// CountByRun reports how many of the five personas have recorded a review
// for runID.
func (s *ReviewStore) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM persona_reviews WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count persona reviews: %w", err)
	}
	return n, nil
}
