package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dbfs "github.com/garnizeh/mockprep/db"
	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/config"
	"github.com/garnizeh/mockprep/internal/db"
	"github.com/garnizeh/mockprep/internal/jobs"
	"github.com/garnizeh/mockprep/internal/pipeline"
	"github.com/garnizeh/mockprep/internal/repository/sqlite"
	"github.com/garnizeh/mockprep/internal/service"
	"github.com/garnizeh/mockprep/pkg/gemini"
	"github.com/garnizeh/mockprep/pkg/jobingest"
	"github.com/garnizeh/mockprep/pkg/ollama"
	"github.com/garnizeh/mockprep/pkg/storage"
	"github.com/garnizeh/mockprep/pkg/videoindex"
)

// application holds every wired component. Only one of pool and broker is
// set, depending on the queue driver.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *db.DB
	repo     *sqlite.SQLiteRepo
	files    *storage.LocalStorage
	orch     *pipeline.Orchestrator
	svc      *service.Service
	jobsRepo *jobs.Repository
	pool     *jobs.WorkerPool
	broker   *jobs.Broker

	closers []func() error
}

func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*db.DB, error) {
	d, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return d, nil
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	d, err := openDB(ctx, cfg, logger, true)
	if err != nil {
		return nil, err
	}
	a := &application{cfg: cfg, logger: logger, db: d, closers: []func() error{d.Close}}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *application) wire(ctx context.Context) error {
	cfg := a.cfg
	a.repo = sqlite.New(a.db, a.logger)

	files, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.files = files

	backend, err := a.textBackend(ctx)
	if err != nil {
		return err
	}
	loader, err := ai.NewLoader(nil)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	aiOpts := ai.Options{Timeout: cfg.AI.Timeout, MaxQuestions: cfg.AI.MaxQuestions, Logger: a.logger}

	// without credentials every run fails fast with a non-retryable error
	var video pipeline.VideoAnalyzer
	vc, err := videoindex.New(cfg.Video, files, a.logger)
	switch {
	case err == nil:
		video = vc
	case errors.Is(err, videoindex.ErrNotConfigured):
		a.logger.Warn("video analysis backend not configured")
	default:
		return fmt.Errorf("video backend: %w", err)
	}

	policy, err := cfg.TraitPolicy()
	if err != nil {
		return err
	}
	a.orch = pipeline.New(a.repo, video, ai.NewFeedbackSynthesizer(backend, loader, aiOpts), policy, a.logger)
	// half the queue window, so a job requeued as stale always finds its
	// interview reclaimable
	a.orch.SetReclaimAfter(cfg.Queue.StaleAfter / 2)

	handlers := map[string]jobs.Handler{pipeline.JobType: a.orch.Handler()}
	var queue jobs.Enqueuer
	switch cfg.Queue.Driver {
	case config.DriverAMQP:
		b, err := jobs.DialBroker(cfg.Queue.URL, cfg.Queue.Name, handlers, cfg.RetryPolicy(), a.logger)
		if err != nil {
			return err
		}
		a.broker = b
		a.closers = append(a.closers, b.Close)
		queue = b
	default:
		a.jobsRepo = jobs.NewRepository(a.db)
		a.pool = jobs.NewWorkerPool(a.jobsRepo, handlers, a.logger, jobs.PoolOptions{
			Workers:      cfg.Queue.Workers,
			Retry:        cfg.RetryPolicy(),
			PollInterval: cfg.Queue.PollInterval,
			StaleAfter:   cfg.Queue.StaleAfter,
		})
		queue = a.pool
	}

	a.svc = service.New(service.Deps{
		Store:     a.repo,
		Files:     files,
		Fetcher:   jobingest.New(cfg.Ingest.Timeout, cfg.Ingest.MaxChars),
		Questions: ai.NewQuestionGenerator(backend, loader, aiOpts),
		Queue:     queue,
		Traits:    policy,
		Logger:    a.logger,
	})
	return nil
}

// textBackend returns nil for the none provider; every AI call then falls
// back to its deterministic default.
func (a *application) textBackend(ctx context.Context) (ai.TextGenerator, error) {
	switch a.cfg.AI.Provider {
	case config.ProviderGemini:
		g, err := gemini.NewGenerator(ctx, a.cfg.AI.Gemini, nil, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return g, nil
	case config.ProviderOllama:
		c, err := ollama.NewDefaultClient(a.cfg.AI.Ollama)
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	}
	return nil, nil
}

// runWorkers processes jobs until ctx is done.
func (a *application) runWorkers(ctx context.Context) error {
	if a.broker != nil {
		return a.broker.Run(ctx, a.cfg.Queue.Workers)
	}
	a.pool.Start(ctx)
	<-ctx.Done()
	a.pool.Stop()
	return nil
}

func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
