// Package broker is the Job Broker Adapter (spec §4.4): a durable job_queue
// table plus PostgreSQL LISTEN/NOTIFY wake-ups, generalizing this codebase's
// pkg/events publish/listen pair from WebSocket event fan-out to work-queue
// dispatch. Enqueue persists a row and pg_notifies a single channel inside
// one transaction (pg_notify is transactional — held until COMMIT, exactly
// as this codebase's EventPublisher.persistAndNotify relies on); the pipeline
// worker pool claims rows with SELECT ... FOR UPDATE SKIP LOCKED rather than
// consuming the NOTIFY payload directly, so a missed notification never
// strands a job — the worker pool also polls on a fixed interval as a
// fallback (spec §4.4 edge case).
package broker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// JobsChannel is the single NOTIFY channel every enqueue wakes.
const JobsChannel = "ideapanel_jobs"

// Publisher enqueues jobs for the pipeline worker pool.
type Publisher struct {
	db *sql.DB
}

// NewPublisher wraps the database/sql handle backing a store.Client (obtained
// via client.DB().DB, the same *sql.DB pkg/events.NewEventPublisher expects).
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// Enqueue inserts a pending job_queue row for runID and wakes the worker
// pool via pg_notify, both inside one transaction.
func (p *Publisher) Enqueue(ctx context.Context, runID string, priority models.RunPriority, maxAttempts int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_queue (run_id, status, priority, max_attempts)
		VALUES ($1, 'pending', $2, $3)
	`, runID, string(priority), maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", JobsChannel, runID)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue transaction: %w", err)
	}
	return nil
}
