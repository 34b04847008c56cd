package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	dbfs "github.com/garnizeh/mockprep/db"
	dbpkg "github.com/garnizeh/mockprep/internal/db"
	"github.com/garnizeh/mockprep/internal/interview"
	sqlite "github.com/garnizeh/mockprep/internal/repository/sqlite"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/repository"
)

func setupRepo(t *testing.T) *sqlite.SQLiteRepo {
	t.Helper()
	ctx := context.Background()
	d, err := dbpkg.New(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := dbpkg.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlite.New(d, nil)
}

func createUser(t *testing.T, repo *sqlite.SQLiteRepo, name string) int64 {
	t.Helper()
	id, err := repo.CreateUser(context.Background(), &models.User{Username: name, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

// createInterview stores an interview in questions_ready with two questions.
func createInterview(t *testing.T, repo *sqlite.SQLiteRepo, userID int64) *models.Interview {
	t.Helper()
	iv := &models.Interview{UserID: userID, Status: interview.StatusQuestionsReady}
	err := repo.CreateInterview(context.Background(), repository.NewInterview{
		Interview: iv,
		Questions: []models.Question{{Prompt: "Tell me about yourself", Order: 7}, {Prompt: "Why this role?"}},
	})
	if err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
	return iv
}

func TestUserCRUD(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if _, err := repo.CreateUser(ctx, nil); err == nil {
		t.Fatalf("expected error when creating nil user")
	}
	if _, err := repo.CreateUser(ctx, &models.User{Username: "  "}); err == nil {
		t.Fatalf("expected error for blank username")
	}

	got, err := repo.GetUserByID(ctx, 9999)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for missing user, got %#v, %v", got, err)
	}

	id := createUser(t, repo, "alice")
	got, err = repo.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got == nil || got.ID != id || got.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %#v", got)
	}

	if _, err := repo.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "x"}); err == nil {
		t.Fatalf("expected unique violation for duplicate username")
	}
}

func TestCreateInterviewWithJobAndQuestions(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	uid := createUser(t, repo, "bob")

	iv := &models.Interview{UserID: uid, Status: interview.StatusQuestionsReady, GeneratedQuestions: []byte(`[{"prompt":"a"}]`)}
	job := &models.JobPosting{URL: "https://example.com/job", Title: "Backend Engineer", Company: "Acme"}
	err := repo.CreateInterview(ctx, repository.NewInterview{
		Interview: iv,
		Job:       job,
		Questions: []models.Question{{Prompt: "first", Order: 4}, {Prompt: "second", Order: 1}},
	})
	if err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
	if iv.ID == "" || job.ID == "" {
		t.Fatalf("expected ids to be assigned")
	}
	if iv.JobID == nil || *iv.JobID != job.ID {
		t.Fatalf("expected interview to reference job %s", job.ID)
	}

	got, err := repo.GetInterview(ctx, iv.ID)
	if err != nil || got == nil {
		t.Fatalf("GetInterview: %v %#v", err, got)
	}
	if got.Status != interview.StatusQuestionsReady || got.Attempts != 0 {
		t.Fatalf("unexpected interview: %#v", got)
	}
	if string(got.GeneratedQuestions) != `[{"prompt":"a"}]` {
		t.Fatalf("generated questions = %s", got.GeneratedQuestions)
	}
	if got.Created.IsZero() {
		t.Fatalf("expected created timestamp")
	}

	qs, err := repo.ListQuestions(ctx, iv.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 2 || qs[0].Prompt != "first" || qs[0].Order != 0 || qs[1].Order != 1 {
		t.Fatalf("unexpected questions: %#v", qs)
	}

	jp, err := repo.GetJobPosting(ctx, job.ID)
	if err != nil || jp == nil || jp.UserID != uid || jp.Company != "Acme" {
		t.Fatalf("GetJobPosting: %v %#v", err, jp)
	}

	list, err := repo.ListInterviewsByUser(ctx, uid, 10, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListInterviewsByUser: %v %d", err, len(list))
	}

	missing, err := repo.GetInterview(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing interview")
	}
	if _, err := repo.GetStatus(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateInterviewRollsBackOnError(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	// no such user: the foreign key fails and the job posting must not survive
	job := &models.JobPosting{URL: "https://example.com"}
	err := repo.CreateInterview(ctx, repository.NewInterview{
		Interview: &models.Interview{UserID: 42, Status: interview.StatusCreated},
		Job:       job,
	})
	if err == nil {
		t.Fatalf("expected foreign key error")
	}
	jp, err := repo.GetJobPosting(ctx, job.ID)
	if err != nil || jp != nil {
		t.Fatalf("expected job posting to be rolled back, got %#v %v", jp, err)
	}
}

func TestProcessingLifecycle(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	uid := createUser(t, repo, "carol")
	iv := createInterview(t, repo, uid)

	// nothing to process before a recording is attached
	if _, ok, err := repo.BeginProcessing(ctx, iv.ID); err != nil || ok {
		t.Fatalf("expected BeginProcessing to refuse, ok=%v err=%v", ok, err)
	}

	size := int64(2048)
	if err := repo.AttachVideo(ctx, iv.ID, "interviews/x/video.webm", "video/webm", &size); err != nil {
		t.Fatalf("AttachVideo: %v", err)
	}
	if st, _ := repo.GetStatus(ctx, iv.ID); st != interview.StatusUploaded {
		t.Fatalf("status = %s, want uploaded", st)
	}

	attempt, ok, err := repo.BeginProcessing(ctx, iv.ID)
	if err != nil || !ok || attempt != 1 {
		t.Fatalf("BeginProcessing = %d %v %v", attempt, ok, err)
	}
	// a second claim loses
	if _, ok, _ := repo.BeginProcessing(ctx, iv.ID); ok {
		t.Fatalf("expected second BeginProcessing to lose")
	}
	// re-upload is not allowed mid-run
	if err := repo.AttachVideo(ctx, iv.ID, "other", "video/webm", nil); !errors.Is(err, interview.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	if err := repo.SetTraits(ctx, uid, map[string]float64{"openness": 10}); err != nil {
		t.Fatalf("SetTraits: %v", err)
	}

	done, err := repo.Complete(ctx, iv.ID, attempt, repository.Completion{
		Transcript: "[0.00-1.00] hello",
		Feedback:   models.Feedback{Summary: "good", Strengths: []string{"clear"}, Source: models.SourceBackend},
		PersonalityFit: models.PersonalityFit{
			JobFit:    models.FitScore{Score: 0.8},
			Archetype: models.ArchetypeResult{Archetype: "analyst"},
		},
		Traits: func(cur map[string]float64) map[string]float64 {
			out := map[string]float64{}
			for k, v := range cur {
				out[k] = v + 5
			}
			return out
		},
	})
	if err != nil || !done {
		t.Fatalf("Complete = %v %v", done, err)
	}

	got, err := repo.GetInterview(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.Status != interview.StatusComplete || got.Transcript != "[0.00-1.00] hello" {
		t.Fatalf("unexpected interview: %#v", got)
	}
	if got.Feedback == nil || got.Feedback.Summary != "good" {
		t.Fatalf("unexpected feedback: %#v", got.Feedback)
	}
	if got.PersonalityFit == nil || got.PersonalityFit.Archetype.Archetype != "analyst" {
		t.Fatalf("unexpected fit: %#v", got.PersonalityFit)
	}
	if got.VideoSize == nil || *got.VideoSize != 2048 {
		t.Fatalf("unexpected video size: %v", got.VideoSize)
	}

	traits, err := repo.GetTraits(ctx, uid)
	if err != nil || traits["openness"] != 15 {
		t.Fatalf("traits = %v %v", traits, err)
	}

	// a completed interview can be re-uploaded, which clears the previous results
	if err := repo.AttachVideo(ctx, iv.ID, "again", "video/mp4", nil); err != nil {
		t.Fatalf("AttachVideo after complete: %v", err)
	}
	got, _ = repo.GetInterview(ctx, iv.ID)
	if got.Feedback != nil || got.PersonalityFit != nil || got.Transcript != "" || got.Attempts != 1 {
		t.Fatalf("expected cleared results with attempts kept, got %#v", got)
	}
}

func TestFailRetryAndSupersededCompletion(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	uid := createUser(t, repo, "dave")
	iv := createInterview(t, repo, uid)
	if err := repo.AttachVideo(ctx, iv.ID, "ref", "video/webm", nil); err != nil {
		t.Fatalf("AttachVideo: %v", err)
	}

	first, _, _ := repo.BeginProcessing(ctx, iv.ID)
	ok, err := repo.Fail(ctx, iv.ID, first, models.PipelineError{Kind: "analysis_backend_failure", Message: "503", Retryable: true})
	if err != nil || !ok {
		t.Fatalf("Fail = %v %v", ok, err)
	}
	got, _ := repo.GetInterview(ctx, iv.ID)
	if got.Status != interview.StatusFailed || got.Error == nil || !got.Error.Retryable || !got.Retryable {
		t.Fatalf("unexpected failed interview: %#v", got)
	}

	second, ok, err := repo.BeginProcessing(ctx, iv.ID)
	if err != nil || !ok || second != 2 {
		t.Fatalf("retry BeginProcessing = %d %v %v", second, ok, err)
	}
	got, _ = repo.GetInterview(ctx, iv.ID)
	if got.Error != nil {
		t.Fatalf("expected error cleared on retry")
	}

	// the first attempt no longer owns the interview
	done, err := repo.Complete(ctx, iv.ID, first, repository.Completion{
		Transcript: "stale",
		Traits: func(map[string]float64) map[string]float64 {
			return map[string]float64{"stale": 1}
		},
	})
	if err != nil || done {
		t.Fatalf("expected stale Complete to be rejected, got %v %v", done, err)
	}
	if ok, _ := repo.Fail(ctx, iv.ID, first, models.PipelineError{Kind: "x"}); ok {
		t.Fatalf("expected stale Fail to be rejected")
	}
	traits, _ := repo.GetTraits(ctx, uid)
	if len(traits) != 0 {
		t.Fatalf("stale completion touched traits: %v", traits)
	}

	// a non-retryable failure is final
	if ok, _ := repo.Fail(ctx, iv.ID, second, models.PipelineError{Kind: "persistence_failure"}); !ok {
		t.Fatalf("expected Fail to apply")
	}
	if _, ok, _ := repo.BeginProcessing(ctx, iv.ID); ok {
		t.Fatalf("expected non-retryable failure to block a retry")
	}
}

func TestReclaimProcessing(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	iv := createInterview(t, repo, createUser(t, repo, "gina"))

	// only processing interviews can be reclaimed
	if _, ok, err := repo.ReclaimProcessing(ctx, iv.ID, 0); err != nil || ok {
		t.Fatalf("reclaimed a questions_ready interview: ok=%v err=%v", ok, err)
	}
	if err := repo.AttachVideo(ctx, iv.ID, "ref", "video/webm", nil); err != nil {
		t.Fatalf("AttachVideo: %v", err)
	}
	first, ok, _ := repo.BeginProcessing(ctx, iv.ID)
	if !ok {
		t.Fatalf("BeginProcessing refused")
	}

	// an owner inside the idle window keeps the interview
	if _, ok, err := repo.ReclaimProcessing(ctx, iv.ID, time.Hour); err != nil || ok {
		t.Fatalf("reclaimed a live attempt: ok=%v err=%v", ok, err)
	}

	second, ok, err := repo.ReclaimProcessing(ctx, iv.ID, 0)
	if err != nil || !ok || second != first+1 {
		t.Fatalf("ReclaimProcessing = %d %v %v", second, ok, err)
	}
	if st, _ := repo.GetStatus(ctx, iv.ID); st != interview.StatusProcessing {
		t.Fatalf("status after reclaim = %s", st)
	}

	// the abandoned attempt can no longer commit
	if done, err := repo.Complete(ctx, iv.ID, first, repository.Completion{Transcript: "stale"}); err != nil || done {
		t.Fatalf("abandoned attempt committed: %v %v", done, err)
	}
	if done, err := repo.Complete(ctx, iv.ID, second, repository.Completion{Transcript: "fresh"}); err != nil || !done {
		t.Fatalf("reclaiming attempt could not commit: %v %v", done, err)
	}
	if _, ok, _ := repo.ReclaimProcessing(ctx, iv.ID, 0); ok {
		t.Fatalf("reclaimed a complete interview")
	}
}

func TestClearRetryable(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	iv := createInterview(t, repo, createUser(t, repo, "erin"))
	_ = repo.AttachVideo(ctx, iv.ID, "ref", "", nil)
	attempt, _, _ := repo.BeginProcessing(ctx, iv.ID)
	_, _ = repo.Fail(ctx, iv.ID, attempt, models.PipelineError{Kind: "analysis_backend_failure", Retryable: true})

	if err := repo.ClearRetryable(ctx, iv.ID); err != nil {
		t.Fatalf("ClearRetryable: %v", err)
	}
	if _, ok, _ := repo.BeginProcessing(ctx, iv.ID); ok {
		t.Fatalf("expected exhausted failure to stay failed")
	}
}

func TestBeginProcessingRequiresVideoRef(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	uid := createUser(t, repo, "frank")

	iv := &models.Interview{UserID: uid, Status: interview.StatusUploaded}
	if err := repo.CreateInterview(ctx, repository.NewInterview{Interview: iv}); err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
	if _, ok, err := repo.BeginProcessing(ctx, iv.ID); err != nil || ok {
		t.Fatalf("expected refusal without a video reference, ok=%v err=%v", ok, err)
	}

	// the pipeline can still record the failure without an attempt guard
	ok, err := repo.Fail(ctx, iv.ID, 0, models.PipelineError{Kind: "missing_video_reference"})
	if err != nil || !ok {
		t.Fatalf("Fail = %v %v", ok, err)
	}
	if st, _ := repo.GetStatus(ctx, iv.ID); st != interview.StatusFailed {
		t.Fatalf("status = %s", st)
	}
}

func TestAttachVideoErrors(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.AttachVideo(ctx, "missing", "ref", "", nil); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	iv := createInterview(t, repo, createUser(t, repo, "gina"))
	if err := repo.AttachVideo(ctx, iv.ID, " ", "", nil); err == nil {
		t.Fatalf("expected error for blank reference")
	}
}

func TestDeleteInterviewCascades(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	iv := createInterview(t, repo, createUser(t, repo, "hank"))
	qs, _ := repo.ListQuestions(ctx, iv.ID)

	if _, err := repo.CreateResponse(ctx, &models.Response{QuestionID: qs[0].ID, TranscriptExcerpt: "answer"}); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	resps, err := repo.ListResponses(ctx, qs[0].ID)
	if err != nil || len(resps) != 1 || resps[0].TranscriptExcerpt != "answer" {
		t.Fatalf("ListResponses: %v %#v", err, resps)
	}

	if err := repo.DeleteInterview(ctx, iv.ID); err != nil {
		t.Fatalf("DeleteInterview: %v", err)
	}
	qs, _ = repo.ListQuestions(ctx, iv.ID)
	if len(qs) != 0 {
		t.Fatalf("expected questions deleted, got %d", len(qs))
	}
	resps, _ = repo.ListResponses(ctx, "")
	if len(resps) != 0 {
		t.Fatalf("expected no responses")
	}
}

func TestTraitsDefaultEmpty(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	uid := createUser(t, repo, "ivy")

	got, err := repo.GetTraits(ctx, uid)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty profile, got %v %v", got, err)
	}
	if err := repo.SetTraits(ctx, uid, map[string]float64{"conscientiousness": 50}); err != nil {
		t.Fatalf("SetTraits: %v", err)
	}
	if err := repo.SetTraits(ctx, uid, map[string]float64{"openness": 25}); err != nil {
		t.Fatalf("SetTraits: %v", err)
	}
	got, _ = repo.GetTraits(ctx, uid)
	if len(got) != 1 || got["openness"] != 25 {
		t.Fatalf("expected replaced profile, got %v", got)
	}
}
