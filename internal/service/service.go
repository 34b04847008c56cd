// Package service is the application layer between the HTTP API and the
// repositories: interview creation, recording upload and personality profiles.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/jobs"
	"github.com/garnizeh/mockprep/internal/traits"
	"github.com/garnizeh/mockprep/pkg/jobingest"
	"github.com/garnizeh/mockprep/pkg/repository"
	"github.com/garnizeh/mockprep/pkg/storage"
)

var (
	// ErrNotFound covers missing interviews and interviews owned by someone else.
	ErrNotFound = errors.New("interview not found")
	// ErrInvalidInput is wrapped by request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrVideoMissing means a submitted object key does not exist in storage.
	ErrVideoMissing = errors.New("video object not found")
)

// Store is the persistence the service needs.
type Store interface {
	repository.InterviewRepo
	repository.JobPostingRepo
	repository.TraitRepo
}

// VideoStore keeps uploaded recordings. *storage.LocalStorage implements it.
type VideoStore interface {
	IssueUploadTarget(ctx context.Context, interviewID, filename, contentType string) (storage.UploadTarget, error)
	Save(ctx context.Context, key string, r io.Reader) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// PageFetcher retrieves job posting text. *jobingest.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (jobingest.Page, error)
}

// QuestionSource generates interview questions. *ai.QuestionGenerator implements it.
type QuestionSource interface {
	Generate(ctx context.Context, jc ai.JobContext) ai.Result[[]ai.GeneratedQuestion]
}

// Deps wires a Service. Fetcher may be nil to disable job page ingestion.
type Deps struct {
	Store     Store
	Files     VideoStore
	Fetcher   PageFetcher
	Questions QuestionSource
	Queue     jobs.Enqueuer
	Traits    traits.Policy
	Logger    *slog.Logger
}

type Service struct {
	store     Store
	files     VideoStore
	fetcher   PageFetcher
	questions QuestionSource
	queue     jobs.Enqueuer
	policy    traits.Policy
	logger    *slog.Logger
}

func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:     d.Store,
		files:     d.Files,
		fetcher:   d.Fetcher,
		questions: d.Questions,
		queue:     d.Queue,
		policy:    d.Traits,
		logger:    d.Logger,
	}
}
