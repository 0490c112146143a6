package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNoJob is returned by Claim when no pending job is available.
var ErrNoJob = errors.New("broker: no pending job")

// Job is one claimed job_queue row.
type Job struct {
	ID          int64
	RunID       string
	Priority    string
	Attempts    int
	MaxAttempts int
}

// Queue implements the claim/ack/nack/dead-letter lifecycle over job_queue
// using SELECT ... FOR UPDATE SKIP LOCKED, the same row-locking claim this
// codebase's pkg/queue/worker.go uses for alert_sessions.
type Queue struct {
	db *sqlx.DB
}

// NewQueue wraps a *sqlx.DB (store.Client.DB()).
func NewQueue(db *sqlx.DB) *Queue {
	return &Queue{db: db}
}

// Claim atomically locks and marks running the next available pending job
// for workerID (high priority first, then oldest available_at), skipping
// rows already locked by a concurrent claimant.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job Job
	err = tx.QueryRowxContext(ctx, `
		SELECT id, run_id, priority, attempts, max_attempts
		FROM job_queue
		WHERE status = 'pending' AND available_at <= now()
		ORDER BY priority = 'high' DESC, available_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.RunID, &job.Priority, &job.Attempts, &job.MaxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE job_queue SET status = 'running', attempts = attempts + 1,
			locked_by = $1, locked_at = now() WHERE id = $2
	`, workerID, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	job.Attempts++
	return &job, nil
}

// Ack marks a job permanently done (its Run reached a terminal state).
func (q *Queue) Ack(ctx context.Context, jobID int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE job_queue SET status = 'done' WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack returns a job to pending after delay, for a retryable failure that has
// not yet exhausted max_attempts.
func (q *Queue) Nack(ctx context.Context, jobID int64, delay time.Duration, lastError string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', available_at = now() + $1, last_error = $2,
			locked_by = NULL, locked_at = NULL
		WHERE id = $3
	`, delay, lastError, jobID)
	if err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

// ReclaimStale resets any job_queue row still marked running past ackDeadline
// back to pending, for the case a worker crashed or was killed between
// Claim and its next Ack/Nack and so never released its lock (spec
// WORKER_ACK_DEADLINE_SECONDS). Returns the number of rows reclaimed.
func (q *Queue) ReclaimStale(ctx context.Context, ackDeadline time.Duration) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', available_at = now(), locked_by = NULL, locked_at = NULL
		WHERE status = 'running' AND locked_at < now() - $1::interval
	`, fmt.Sprintf("%f seconds", ackDeadline.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reclaim row count: %w", err)
	}
	return n, nil
}

// DeadLetter marks a job permanently failed after its attempts are exhausted
// or it hit a non-retryable error (spec §4.4, §6).
func (q *Queue) DeadLetter(ctx context.Context, jobID int64, lastError string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'dead_letter', last_error = $1 WHERE id = $2
	`, lastError, jobID)
	if err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return nil
}
