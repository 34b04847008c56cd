package repository

import (
	"context"
	"errors"
	"time"

	"github.com/garnizeh/mockprep/internal/interview"
	"github.com/garnizeh/mockprep/pkg/models"
)

// ErrNotFound is returned by operations that must act on an existing row.
// Plain lookups return nil, nil instead.
var ErrNotFound = errors.New("not found")

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type JobPostingRepo interface {
	CreateJobPosting(ctx context.Context, j *models.JobPosting) (string, error)
	GetJobPosting(ctx context.Context, id string) (*models.JobPosting, error)
}

// NewInterview is everything written when an interview is created.
type NewInterview struct {
	Interview *models.Interview
	Job       *models.JobPosting
	Questions []models.Question
}

// Completion is the result committed by a successful pipeline run.
type Completion struct {
	Transcript     string
	Feedback       models.Feedback
	PersonalityFit models.PersonalityFit
	// Traits folds the outcome into the user's current profile inside the
	// same transaction. Nil leaves the profile alone.
	Traits func(current map[string]float64) map[string]float64
}

type InterviewRepo interface {
	// CreateInterview stores the interview, its optional job posting and its
	// questions atomically, leaving the interview in questions_ready.
	CreateInterview(ctx context.Context, n NewInterview) error
	GetInterview(ctx context.Context, id string) (*models.Interview, error)
	ListInterviewsByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Interview, error)
	ListQuestions(ctx context.Context, interviewID string) ([]models.Question, error)
	DeleteInterview(ctx context.Context, id string) error

	// AttachVideo records the storage reference and fires EventVideoUploaded,
	// clearing the results of any earlier run.
	AttachVideo(ctx context.Context, id, ref, mime string, size *int64) error
	// BeginProcessing fires EventProcessingStarted (or EventRetryStarted for a
	// retryable failure) as a compare-and-set. It returns the new attempt
	// number, or ok=false when the interview was not in a startable state.
	BeginProcessing(ctx context.Context, id string) (attempt int, ok bool, err error)
	// ReclaimProcessing takes over an interview left in processing, with no
	// update for at least idle, under a new attempt number. ok=false means
	// it is not processing or its owner is still within the window.
	ReclaimProcessing(ctx context.Context, id string, idle time.Duration) (attempt int, ok bool, err error)
	// Fail fires EventProcessingFailed and records the error payload. A
	// positive attempt restricts it to that processing attempt; ok=false
	// means the guard did not match and nothing was written.
	Fail(ctx context.Context, id string, attempt int, perr models.PipelineError) (ok bool, err error)
	// Complete fires EventProcessingSucceeded for the given attempt and
	// writes the results plus the trait update in one transaction. ok=false
	// means the attempt no longer owns the interview and nothing was written.
	Complete(ctx context.Context, id string, attempt int, c Completion) (ok bool, err error)
	// ClearRetryable marks a failure as final so no retry may restart it.
	ClearRetryable(ctx context.Context, id string) error
	GetStatus(ctx context.Context, id string) (interview.Status, error)
}

type TraitRepo interface {
	GetTraits(ctx context.Context, userID int64) (map[string]float64, error)
	SetTraits(ctx context.Context, userID int64, traits map[string]float64) error
}

type ResponseRepo interface {
	CreateResponse(ctx context.Context, r *models.Response) (string, error)
	ListResponses(ctx context.Context, questionID string) ([]models.Response, error)
}
