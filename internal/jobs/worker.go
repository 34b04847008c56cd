// inputs: job table rows, handlers map
// outputs: job status updates, retries with backoff, dead-letter moves on permanent failure
// error modes: db errors, handler errors (retryable or not)
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// PoolOptions tunes a WorkerPool. Zero values take defaults.
type PoolOptions struct {
	Workers      int
	Retry        RetryPolicy
	PollInterval time.Duration
	// StaleAfter is how long a job may stay running before Start requeues it.
	StaleAfter time.Duration
}

type WorkerPool struct {
	repo        *Repository
	handlers    map[string]Handler
	logger      *slog.Logger
	workerCount int
	retry       RetryPolicy
	poll        time.Duration
	staleAfter  time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ Enqueuer = (*WorkerPool)(nil)

func NewWorkerPool(repo *Repository, handlers map[string]Handler, logger *slog.Logger, opts PoolOptions) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		repo:        repo,
		handlers:    handlers,
		logger:      logger,
		workerCount: opts.Workers,
		retry:       opts.Retry.withDefaults(),
		poll:        opts.PollInterval,
		staleAfter:  opts.StaleAfter,
		stop:        make(chan struct{}),
	}
}

// Start requeues jobs abandoned by a previous process and launches the workers.
func (p *WorkerPool) Start(ctx context.Context) {
	if n, err := p.repo.RequeueStale(ctx, p.staleAfter); err != nil {
		p.logger.Error("requeue stale jobs", "err", err)
	} else if n > 0 {
		p.logger.Info("requeued stale jobs", "count", n)
	}
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them. It is safe to call twice.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Info("worker stopping", "id", id)
			return
		case <-ctx.Done():
			p.logger.Info("context canceled, worker exiting", "id", id)
			return
		default:
		}

		job, err := p.repo.FetchNext(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("fetch job", "err", err)
			}
			sleep(ctx, p.stop, time.Second)
			continue
		}
		if job == nil {
			sleep(ctx, p.stop, p.poll)
			continue
		}
		p.run(ctx, job)
	}
}

// run executes one claimed job and records the outcome.
func (p *WorkerPool) run(ctx context.Context, job *Job) {
	log := p.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1)

	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = StatusFailed
		job.LastError = ErrNoHandler.Error()
		if err := p.repo.MoveToDeadLetter(ctx, job); err != nil {
			log.Error("move to dead letter", "err", err)
		}
		return
	}

	err := h(ctx, job)
	switch o, backoff := p.retry.settle(job, err); o {
	case outcomeDone:
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			log.Error("mark job done", "err", upErr)
		}
	case outcomeRetry:
		log.Warn("job failed, retry scheduled", "err", err, "backoff", backoff)
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			log.Error("update job for retry", "err", upErr)
		}
	case outcomeDead:
		log.Error("job failed permanently", "err", err, "attempts", job.Attempts)
		if mvErr := p.repo.MoveToDeadLetter(ctx, job); mvErr != nil {
			log.Error("move to dead letter", "err", mvErr)
		}
	}
}

// Enqueue creates a job with the pool's retry budget and persists it.
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	j := &Job{Type: typ, Payload: b, MaxAttempts: p.retry.MaxAttempts, ScheduledAt: time.Now()}
	_, err = p.repo.Enqueue(ctx, j)
	return err
}
