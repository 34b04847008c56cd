package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/interview"
	"github.com/garnizeh/mockprep/internal/pipeline"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/repository"
	"github.com/garnizeh/mockprep/pkg/storage"
)

// CreateInput describes the target role of a new interview. Every field is optional.
type CreateInput struct {
	JobURL      string `json:"job_url"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// generatedQuestions is the audit trail stored with the interview.
type generatedQuestions struct {
	Source    models.Source          `json:"source"`
	Reason    string                 `json:"fallback_reason,omitempty"`
	Questions []ai.GeneratedQuestion `json:"questions"`
}

// Create generates questions for the role and stores the interview in
// questions_ready. A job URL without a description is fetched first; a
// failed fetch only loses context.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*models.Interview, error) {
	in = trimInput(in)
	if in.Description == "" && in.JobURL != "" && s.fetcher != nil {
		page, err := s.fetcher.Fetch(ctx, in.JobURL)
		if err != nil {
			s.logger.Warn("job posting fetch failed", "url", in.JobURL, "err", err)
		} else {
			in.Description = page.Text
			if in.Title == "" {
				in.Title = page.Title
			}
		}
	}

	jc := ai.JobContext{URL: in.JobURL, Company: in.Company, Title: in.Title, Description: in.Description}
	res := s.questions.Generate(ctx, jc)
	qs := res.Value
	if len(qs) == 0 {
		qs = ai.GeneralQuestions()
	}

	audit := generatedQuestions{Source: models.SourceBackend, Questions: qs}
	if res.IsFallback() {
		audit.Source = models.SourceFallback
		audit.Reason = res.Reason.Error()
	}
	raw, err := json.Marshal(audit)
	if err != nil {
		return nil, fmt.Errorf("encode generated questions: %w", err)
	}

	status, err := interview.Transition(interview.StatusCreated, interview.EventQuestionsGenerated)
	if err != nil {
		return nil, err
	}
	iv := &models.Interview{UserID: userID, Status: status, GeneratedQuestions: raw}

	n := repository.NewInterview{Interview: iv, Questions: make([]models.Question, 0, len(qs))}
	if !jc.Empty() || in.Location != "" {
		n.Job = &models.JobPosting{
			URL:         in.JobURL,
			Title:       in.Title,
			Company:     in.Company,
			Location:    in.Location,
			Description: in.Description,
		}
	}
	for _, q := range qs {
		n.Questions = append(n.Questions, models.Question{Prompt: q.Prompt, Competency: q.Competency})
	}

	if err := s.store.CreateInterview(ctx, n); err != nil {
		return nil, fmt.Errorf("create interview: %w", err)
	}
	s.logger.Info("interview created", "interview_id", iv.ID, "questions", len(n.Questions), "fallback", res.IsFallback())
	return iv, nil
}

func trimInput(in CreateInput) CreateInput {
	in.JobURL = strings.TrimSpace(in.JobURL)
	in.Title = strings.TrimSpace(in.Title)
	in.Company = strings.TrimSpace(in.Company)
	in.Location = strings.TrimSpace(in.Location)
	in.Description = strings.TrimSpace(in.Description)
	return in
}

// Get returns the user's interview with its questions.
func (s *Service) Get(ctx context.Context, userID int64, id string) (*models.Interview, error) {
	iv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	qs, err := s.store.ListQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	iv.Questions = qs
	return iv, nil
}

func (s *Service) List(ctx context.Context, userID int64, limit, offset int) ([]models.Interview, error) {
	return s.store.ListInterviewsByUser(ctx, userID, limit, offset)
}

// Status returns the current lifecycle status of an interview.
func (s *Service) Status(ctx context.Context, id string) (interview.Status, error) {
	st, err := s.store.GetStatus(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrNotFound
	}
	return st, err
}

// IssueUploadTarget reserves a storage key for the interview's recording.
func (s *Service) IssueUploadTarget(ctx context.Context, userID int64, id, filename, contentType string) (storage.UploadTarget, error) {
	iv, err := s.owned(ctx, userID, id)
	if err != nil {
		return storage.UploadTarget{}, err
	}
	if _, err := interview.Transition(iv.Status, interview.EventVideoUploaded); err != nil {
		return storage.UploadTarget{}, err
	}
	return s.files.IssueUploadTarget(ctx, id, filename, contentType)
}

// UploadVideo stores r under key (a fresh key when empty), attaches it to the
// interview and queues processing.
func (s *Service) UploadVideo(ctx context.Context, userID int64, id, key, filename, contentType string, r io.Reader) (*models.Interview, error) {
	iv, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if _, err := interview.Transition(iv.Status, interview.EventVideoUploaded); err != nil {
		return nil, err
	}
	if key == "" {
		t, err := s.files.IssueUploadTarget(ctx, id, filename, contentType)
		if err != nil {
			return nil, err
		}
		key = t.ObjectKey
	}
	if err := checkKey(id, key); err != nil {
		return nil, err
	}

	size, err := s.files.Save(ctx, key, r)
	if err != nil {
		return nil, fmt.Errorf("save video: %w", err)
	}
	return s.attach(ctx, id, key, contentType, &size)
}

// Submit attaches an object that was already written to storage.
func (s *Service) Submit(ctx context.Context, userID int64, id, key, contentType string) (*models.Interview, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	if err := checkKey(id, key); err != nil {
		return nil, err
	}
	ok, err := s.files.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVideoMissing
	}
	return s.attach(ctx, id, key, contentType, nil)
}

func (s *Service) attach(ctx context.Context, id, key, contentType string, size *int64) (*models.Interview, error) {
	if err := s.store.AttachVideo(ctx, id, key, contentType, size); err != nil {
		return nil, err
	}
	if err := s.EnqueueProcessing(ctx, id); err != nil {
		// the interview stays uploaded; `mockprep process <id>` recovers it
		s.logger.Error("enqueue processing", "interview_id", id, "err", err)
	}
	return s.store.GetInterview(ctx, id)
}

// EnqueueProcessing hands the interview to the job queue and returns at once.
func (s *Service) EnqueueProcessing(ctx context.Context, id string) error {
	if s.queue == nil {
		return errors.New("no job queue configured")
	}
	return s.queue.Enqueue(ctx, pipeline.JobType, pipeline.Payload{InterviewID: id})
}

func checkKey(id, key string) error {
	if key == "" || !strings.HasPrefix(key, storage.KeyPrefix(id)) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: object key %q does not belong to interview %s", ErrInvalidInput, key, id)
	}
	return nil
}

func (s *Service) owned(ctx context.Context, userID int64, id string) (*models.Interview, error) {
	iv, err := s.store.GetInterview(ctx, id)
	if err != nil {
		return nil, err
	}
	if iv == nil || iv.UserID != userID {
		return nil, ErrNotFound
	}
	return iv, nil
}
