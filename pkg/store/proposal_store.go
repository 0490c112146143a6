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

// ProposalStore persists the exactly-one-per-run expansion artifact.
type ProposalStore struct {
	db *sqlx.DB
}

// NewProposalStore builds a ProposalStore over client's pool.
func NewProposalStore(client *Client) *ProposalStore {
	return &ProposalStore{db: client.db}
}

type proposalRow struct {
	ID                     string         `db:"id"`
	RunID                  string         `db:"run_id"`
	ExpandedProposalJSON   []byte         `db:"expanded_proposal_json"`
	ProposalDiffJSON       []byte         `db:"proposal_diff_json"`
	EditNotes              sql.NullString `db:"edit_notes"`
	PersonaTemplateVersion string         `db:"persona_template_version"`
	CreatedAt              time.Time      `db:"created_at"`
}

func (r proposalRow) toModel() (*models.ProposalVersion, error) {
	var expanded models.ExpandedProposal
	if err := json.Unmarshal(r.ExpandedProposalJSON, &expanded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal expanded proposal: %w", err)
	}
	v := &models.ProposalVersion{
		ID:                     r.ID,
		RunID:                  r.RunID,
		ExpandedProposalJSON:   expanded,
		PersonaTemplateVersion: r.PersonaTemplateVersion,
		CreatedAt:              r.CreatedAt,
	}
	if len(r.ProposalDiffJSON) > 0 {
		var diff models.ProposalDiff
		if err := json.Unmarshal(r.ProposalDiffJSON, &diff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proposal diff: %w", err)
		}
		v.ProposalDiffJSON = &diff
	}
	if r.EditNotes.Valid {
		v.EditNotes = &r.EditNotes.String
	}
	return v, nil
}

// Create inserts the expand step's output. The (run_id) UNIQUE constraint
// makes a redelivered expand step idempotent: the second insert attempt
// returns a constraint violation the caller should treat as "already done"
// rather than retry (spec §5).
func (s *ProposalStore) Create(ctx context.Context, v *models.ProposalVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	expanded, err := json.Marshal(v.ExpandedProposalJSON)
	if err != nil {
		return fmt.Errorf("failed to marshal expanded proposal: %w", err)
	}
	var diff []byte
	if v.ProposalDiffJSON != nil {
		diff, err = json.Marshal(v.ProposalDiffJSON)
		if err != nil {
			return fmt.Errorf("failed to marshal proposal diff: %w", err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposal_versions (
			id, run_id, expanded_proposal_json, proposal_diff_json, edit_notes, persona_template_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.RunID, expanded, nullableBytes(diff), v.EditNotes, v.PersonaTemplateVersion, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert proposal version: %w", err)
	}
	return tx.Commit()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// GetByRun fetches the proposal version belonging to a run.
func (s *ProposalStore) GetByRun(ctx context.Context, runID string) (*models.ProposalVersion, error) {
	var row proposalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM proposal_versions WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proposal version: %w", err)
	}
	return row.toModel()
}

// Exists reports whether the expand step has already produced an artifact
// for runID, letting the worker short-circuit a redelivered expand step
// without re-calling the LLM (spec §5).
func (s *ProposalStore) Exists(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM proposal_versions WHERE run_id = $1)`, runID)
	if err != nil {
		return false, fmt.Errorf("failed to check proposal existence: %w", err)
	}
	return exists, nil
}
