package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/mockprep/internal/db"
)

// Repository is the sqlite-backed job queue.
type Repository struct {
	db *db.DB
}

func NewRepository(d *db.DB) *Repository { return &Repository{db: d} }

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

// Enqueue inserts a job into the jobs table and returns the new ID
func (r *Repository) Enqueue(ctx context.Context, j *Job) (int64, error) {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = time.Now()
	}
	if len(j.Payload) == 0 {
		j.Payload = json.RawMessage("{}")
	}
	now := millis(time.Now())
	q := `INSERT INTO jobs(type, payload, status, attempts, max_attempts, priority, scheduled_at, created, updated) VALUES(?,?,?,?,?,?,?,?,?)`
	res, err := r.db.Exec(ctx, q, j.Type, string(j.Payload), StatusQueued, j.Attempts, j.MaxAttempts, j.Priority, millis(j.ScheduledAt), now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	j.ID, j.Status = id, StatusQueued
	return id, nil
}

// FetchNext claims the next due job, respecting priority and schedule. The
// claim is a single UPDATE so two workers never receive the same job.
func (r *Repository) FetchNext(ctx context.Context) (*Job, error) {
	now := millis(time.Now())
	q := `UPDATE jobs SET status = ?, locked_at = ?, updated = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN (?, ?) AND COALESCE(next_try_at, 0) <= ? AND scheduled_at <= ?
			ORDER BY priority ASC, scheduled_at ASC, id ASC LIMIT 1)
		RETURNING id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated`
	row := r.db.QueryRow(ctx, q, StatusRunning, now, now, StatusQueued, StatusRetry, now, now)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch next job: %w", err)
	}
	return j, nil
}

// GetJob returns the job or nil when it does not exist (or was dead-lettered).
func (r *Repository) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := r.db.QueryRow(ctx, `SELECT id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		j                             Job
		payload                       string
		scheduledAt, created, updated int64
		nextTry                       sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.Priority, &scheduledAt, &nextTry, &j.LastError, &created, &updated); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.ScheduledAt = time.UnixMilli(scheduledAt)
	j.Created = time.UnixMilli(created)
	j.Updated = time.UnixMilli(updated)
	if nextTry.Valid {
		t := time.UnixMilli(nextTry.Int64)
		j.NextTryAt = &t
	}
	return &j, nil
}

// UpdateJob updates attempts, status, next_try_at, last_error
func (r *Repository) UpdateJob(ctx context.Context, j *Job) error {
	var nextTry any
	if j.NextTryAt != nil {
		nextTry = millis(*j.NextTryAt)
	}
	q := `UPDATE jobs SET status = ?, attempts = ?, next_try_at = ?, last_error = ?, locked_at = NULL, updated = ? WHERE id = ?`
	_, err := r.db.Exec(ctx, q, j.Status, j.Attempts, nextTry, j.LastError, millis(time.Now()), j.ID)
	return err
}

// RequeueStale returns jobs left running by a crashed worker to the queue.
func (r *Repository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now()
	res, err := r.db.Exec(ctx, `UPDATE jobs SET status = ?, locked_at = NULL, updated = ? WHERE status = ? AND locked_at <= ?`,
		StatusRetry, millis(now), StatusRunning, millis(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// MoveToDeadLetter moves a job to dead_letter_jobs and deletes the original
func (r *Repository) MoveToDeadLetter(ctx context.Context, j *Job) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		insert := `INSERT INTO dead_letter_jobs(job_id, type, payload, attempts, last_error, failed_at) VALUES(?,?,?,?,?,?)`
		if _, err := tx.ExecContext(ctx, insert, j.ID, j.Type, string(j.Payload), j.Attempts, j.LastError, millis(time.Now())); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		return err
	})
}

// DeadLetter is a job that will not be retried.
type DeadLetter struct {
	ID        int64           `json:"id"`
	JobID     int64           `json:"job_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	FailedAt  time.Time       `json:"failed_at"`
}

// ListDeadLetters returns the most recent dead-lettered jobs first.
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryRows(ctx, `SELECT id, job_id, type, payload, attempts, last_error, failed_at FROM dead_letter_jobs ORDER BY failed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			d        DeadLetter
			payload  string
			failedAt int64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.Type, &payload, &d.Attempts, &d.LastError, &failedAt); err != nil {
			return nil, err
		}
		d.Payload = json.RawMessage(payload)
		d.FailedAt = time.UnixMilli(failedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
