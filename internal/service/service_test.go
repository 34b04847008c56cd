package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	dbfs "github.com/garnizeh/mockprep/db"
	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/db"
	"github.com/garnizeh/mockprep/internal/interview"
	"github.com/garnizeh/mockprep/internal/pipeline"
	"github.com/garnizeh/mockprep/internal/repository/sqlite"
	"github.com/garnizeh/mockprep/internal/service"
	"github.com/garnizeh/mockprep/internal/traits"
	"github.com/garnizeh/mockprep/pkg/jobingest"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/storage"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []pipeline.Payload
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, typ string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if typ != pipeline.JobType {
		return fmt.Errorf("unexpected job type %q", typ)
	}
	q.jobs = append(q.jobs, payload.(pipeline.Payload))
	return nil
}

type stubFetcher struct {
	page  jobingest.Page
	err   error
	calls int
}

func (f *stubFetcher) Fetch(context.Context, string) (jobingest.Page, error) {
	f.calls++
	return f.page, f.err
}

type env struct {
	svc     *service.Service
	repo    *sqlite.SQLiteRepo
	files   *storage.LocalStorage
	queue   *recordingQueue
	fetcher *stubFetcher
	userID  int64
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	d, err := db.New(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := sqlite.New(d, nil)
	uid, err := repo.CreateUser(ctx, &models.User{Username: "u", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	files, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	policy, _ := traits.NewPolicy(nil, 0, 0, "")

	e := &env{repo: repo, files: files, queue: &recordingQueue{}, fetcher: &stubFetcher{}, userID: uid}
	e.svc = service.New(service.Deps{
		Store:     repo,
		Files:     files,
		Fetcher:   e.fetcher,
		Questions: ai.NewQuestionGenerator(nil, nil, ai.Options{}),
		Queue:     e.queue,
		Traits:    policy,
	})
	return e
}

func TestCreateWithoutContextUsesGeneralQuestions(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	iv, err := e.svc.Create(ctx, e.userID, service.CreateInput{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if iv.Status != interview.StatusQuestionsReady || iv.JobID != nil {
		t.Fatalf("unexpected interview: %#v", iv)
	}
	if len(iv.Questions) != len(ai.GeneralQuestions()) {
		t.Fatalf("questions = %d", len(iv.Questions))
	}
	if e.fetcher.calls != 0 {
		t.Fatalf("fetcher called without a url")
	}

	var audit struct {
		Source    string                 `json:"source"`
		Reason    string                 `json:"fallback_reason"`
		Questions []ai.GeneratedQuestion `json:"questions"`
	}
	if err := json.Unmarshal(iv.GeneratedQuestions, &audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if audit.Source != string(models.SourceFallback) || audit.Reason == "" || len(audit.Questions) != len(iv.Questions) {
		t.Fatalf("unexpected audit trail: %#v", audit)
	}
}

func TestCreateFetchesJobDescription(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.fetcher.page = jobingest.Page{Title: "Platform Engineer", Text: "Own the deployment pipeline."}

	iv, err := e.svc.Create(ctx, e.userID, service.CreateInput{JobURL: " https://jobs.example.com/1 ", Company: "Acme"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.fetcher.calls != 1 || iv.JobID == nil {
		t.Fatalf("expected fetch and a job posting, calls=%d job=%v", e.fetcher.calls, iv.JobID)
	}
	job, _ := e.repo.GetJobPosting(ctx, *iv.JobID)
	if job.Title != "Platform Engineer" || job.Description != "Own the deployment pipeline." || job.URL != "https://jobs.example.com/1" {
		t.Fatalf("unexpected job posting: %#v", job)
	}
	if !strings.Contains(iv.Questions[0].Prompt, "Platform Engineer") && !strings.Contains(iv.Questions[0].Prompt, "Acme") {
		t.Fatalf("expected context questions, got %q", iv.Questions[0].Prompt)
	}
}

func TestCreateSurvivesFetchFailure(t *testing.T) {
	e := setup(t)
	e.fetcher.err = errors.New("403")

	iv, err := e.svc.Create(context.Background(), e.userID, service.CreateInput{JobURL: "https://jobs.example.com/1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if iv.Status != interview.StatusQuestionsReady || len(iv.Questions) == 0 {
		t.Fatalf("unexpected interview: %#v", iv)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	iv, _ := e.svc.Create(ctx, e.userID, service.CreateInput{})

	got, err := e.svc.Get(ctx, e.userID, iv.ID)
	if err != nil || len(got.Questions) == 0 {
		t.Fatalf("Get: %v", err)
	}
	if _, err := e.svc.Get(ctx, e.userID+1, iv.ID); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
	if _, err := e.svc.Status(ctx, "missing"); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := e.svc.List(ctx, e.userID, 10, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v %d", err, len(list))
	}
}

func TestUploadVideoAttachesAndEnqueues(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	iv, _ := e.svc.Create(ctx, e.userID, service.CreateInput{})

	target, err := e.svc.IssueUploadTarget(ctx, e.userID, iv.ID, "answer.webm", "video/webm")
	if err != nil {
		t.Fatalf("IssueUploadTarget: %v", err)
	}
	if target.Mode != storage.ModeLocal || !strings.HasPrefix(target.ObjectKey, storage.KeyPrefix(iv.ID)) {
		t.Fatalf("unexpected target: %#v", target)
	}

	got, err := e.svc.UploadVideo(ctx, e.userID, iv.ID, target.ObjectKey, "answer.webm", "video/webm", strings.NewReader("video-bytes"))
	if err != nil {
		t.Fatalf("UploadVideo: %v", err)
	}
	if got.Status != interview.StatusUploaded || got.VideoRef != target.ObjectKey || got.VideoSize == nil || *got.VideoSize != 11 {
		t.Fatalf("unexpected interview: %#v", got)
	}
	if len(e.queue.jobs) != 1 || e.queue.jobs[0].InterviewID != iv.ID {
		t.Fatalf("expected one processing job, got %#v", e.queue.jobs)
	}

	// uploading again mid-pipeline is refused
	if _, _, err := e.repo.BeginProcessing(ctx, iv.ID); err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}
	_, err = e.svc.UploadVideo(ctx, e.userID, iv.ID, "", "b.webm", "video/webm", strings.NewReader("x"))
	if !errors.Is(err, interview.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestUploadVideoRejectsForeignKey(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	iv, _ := e.svc.Create(ctx, e.userID, service.CreateInput{})

	_, err := e.svc.UploadVideo(ctx, e.userID, iv.ID, "interviews/other/x.webm", "x.webm", "", strings.NewReader("x"))
	if !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUploadSurvivesQueueFailure(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.queue.err = errors.New("broker down")
	iv, _ := e.svc.Create(ctx, e.userID, service.CreateInput{})

	got, err := e.svc.UploadVideo(ctx, e.userID, iv.ID, "", "a.mp4", "video/mp4", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("UploadVideo: %v", err)
	}
	if got.Status != interview.StatusUploaded {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestSubmitRequiresStoredObject(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	iv, _ := e.svc.Create(ctx, e.userID, service.CreateInput{})
	key := storage.KeyPrefix(iv.ID) + "direct.webm"

	if _, err := e.svc.Submit(ctx, e.userID, iv.ID, key, "video/webm"); !errors.Is(err, service.ErrVideoMissing) {
		t.Fatalf("expected ErrVideoMissing, got %v", err)
	}
	if _, err := e.files.Save(ctx, key, strings.NewReader("bytes")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := e.svc.Submit(ctx, e.userID, iv.ID, key, "video/webm")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != interview.StatusUploaded || got.VideoRef != key {
		t.Fatalf("unexpected interview: %#v", got)
	}
	if len(e.queue.jobs) != 1 {
		t.Fatalf("expected processing to be enqueued")
	}
}

func TestPersonality(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	if err := e.svc.InitProfile(ctx, e.userID); err != nil {
		t.Fatalf("InitProfile: %v", err)
	}
	p, err := e.svc.Personality(ctx, e.userID)
	if err != nil || len(p) != len(traits.DefaultNames) || p["openness"] != 50 {
		t.Fatalf("unexpected default profile: %v %v", p, err)
	}

	res, err := e.svc.UpdatePersonality(ctx, e.userID, map[string]float64{"Openness": 70, "grit": 500})
	if err != nil {
		t.Fatalf("UpdatePersonality: %v", err)
	}
	if len(res.Changes) != 1 || len(res.Conflicts) != 1 {
		t.Fatalf("unexpected merge result: %#v", res)
	}
	p, _ = e.svc.Personality(ctx, e.userID)
	if p["openness"] != 70 || p["extraversion"] != 50 {
		t.Fatalf("unexpected profile: %v", p)
	}

	if _, err := e.svc.UpdatePersonality(ctx, e.userID, map[string]float64{"grit": -1}); !errors.Is(err, service.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
