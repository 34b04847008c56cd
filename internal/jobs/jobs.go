// Package jobs runs background work with at-least-once delivery. The default
// queue is the sqlite jobs table drained by a WorkerPool; a RabbitMQ broker
// offers the same Handler contract.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job status values stored in the jobs table.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusRetry   = "retry"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// DefaultMaxAttempts is the total number of runs a job gets, retries included.
const DefaultMaxAttempts = 3

// Job represents a background job
type Job struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"` // failed runs so far
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// FinalAttempt reports whether a failure of the current run will not be retried.
func (j *Job) FinalAttempt() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

// Handler is the function that processes a job
type Handler func(ctx context.Context, j *Job) error

// Enqueuer accepts work for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any) error
}

// ErrNoHandler is recorded on jobs whose type has no registered handler.
var ErrNoHandler = errors.New("no handler")

// IsRetryable reports whether err asks to be retried. Errors opt in by
// implementing Retryable() bool; everything else is permanent.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// Backoff maps the number of failed runs to the delay before the next one.
type Backoff func(attempt int) time.Duration

// FixedBackoff waits d between every run.
func FixedBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles from base up to max.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return base
		}
		if attempt > 30 {
			return max
		}
		d := base * time.Duration(1<<uint(attempt-1))
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// RetryPolicy decides what happens to a job after its handler returns.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     Backoff
}

// DefaultRetryPolicy is three runs with a fixed ten second pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: FixedBackoff(10 * time.Second)}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = FixedBackoff(10 * time.Second)
	}
	return p
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
)

// settle records the handler result on j and returns what to do with it.
func (p RetryPolicy) settle(j *Job, err error) (outcome, time.Duration) {
	if err == nil {
		j.Status = StatusDone
		return outcomeDone, 0
	}
	j.Attempts++
	j.LastError = err.Error()
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = p.MaxAttempts
	}
	if !IsRetryable(err) || j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		return outcomeDead, 0
	}
	d := p.Backoff(j.Attempts)
	t := time.Now().Add(d)
	j.NextTryAt = &t
	j.Status = StatusRetry
	return outcomeRetry, d
}

// sleep waits d unless ctx or stop ends first; it reports whether the full
// delay elapsed.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
