package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/garnizeh/mockprep/api"
	dbfs "github.com/garnizeh/mockprep/db"
	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/config"
	"github.com/garnizeh/mockprep/internal/db"
	"github.com/garnizeh/mockprep/internal/repository/sqlite"
	"github.com/garnizeh/mockprep/internal/service"
	"github.com/garnizeh/mockprep/internal/traits"
	"github.com/garnizeh/mockprep/pkg/models"
	"github.com/garnizeh/mockprep/pkg/storage"
)

type countingQueue struct {
	mu    sync.Mutex
	count int
}

func (q *countingQueue) Enqueue(context.Context, string, any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.count++
	return nil
}

type server struct {
	t     *testing.T
	srv   *httptest.Server
	queue *countingQueue
}

func newServer(t *testing.T, maxUpload int64) *server {
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
	files, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	policy, _ := traits.NewPolicy(nil, 0, 0, "")
	q := &countingQueue{}
	svc := service.New(service.Deps{
		Store:     repo,
		Files:     files,
		Questions: ai.NewQuestionGenerator(nil, nil, ai.Options{}),
		Queue:     q,
		Traits:    policy,
	})

	cfg := &config.Config{JWTSecret: "routes-secret", TokenDuration: time.Hour, MaxUploadBytes: maxUpload}
	srv := httptest.NewServer(api.SetupRoutes(cfg, "test", "now", svc, repo, d))
	t.Cleanup(srv.Close)
	return &server{t: t, srv: srv, queue: q}
}

func (s *server) do(method, path, token string, body any) (int, []byte) {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, s.srv.URL+path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(req)
}

func (s *server) send(req *http.Request) (int, []byte) {
	s.t.Helper()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, b
}

func (s *server) signup(username string) string {
	s.t.Helper()
	status, b := s.do(http.MethodPost, "/v1/auth/signup", "", map[string]string{"username": username, "password": "pw"})
	if status != http.StatusCreated {
		s.t.Fatalf("signup: %d %s", status, b)
	}
	var ar struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(b, &ar)
	return ar.Token
}

func (s *server) upload(token, id string, video []byte) (int, []byte) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("video", "answer.webm")
	_, _ = fw.Write(video)
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/v1/interviews/"+id+"/video", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return s.send(req)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t, 0)
	for _, path := range []string{"/v1/interviews", "/v1/personality"} {
		if status, _ := s.do(http.MethodGet, path, "", nil); status != http.StatusUnauthorized {
			t.Fatalf("%s without token: got %d", path, status)
		}
	}
	if status, _ := s.do(http.MethodGet, "/health", "", nil); status != http.StatusOK {
		t.Fatalf("health: got %d", status)
	}
}

func TestInterviewFlow(t *testing.T) {
	s := newServer(t, 1<<20)
	token := s.signup("alice")

	status, b := s.do(http.MethodPost, "/v1/interviews", token, map[string]string{"title": "Backend Engineer", "company": "Acme"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, b)
	}
	var iv models.Interview
	if err := json.Unmarshal(b, &iv); err != nil {
		t.Fatalf("decode interview: %v", err)
	}
	if iv.Status != "questions_ready" || len(iv.Questions) == 0 {
		t.Fatalf("unexpected interview: %s", b)
	}

	status, b = s.do(http.MethodGet, "/v1/interviews", token, nil)
	var list []models.Interview
	_ = json.Unmarshal(b, &list)
	if status != http.StatusOK || len(list) != 1 || list[0].ID != iv.ID {
		t.Fatalf("list: %d %s", status, b)
	}

	if status, b = s.do(http.MethodGet, "/v1/interviews?limit=x", token, nil); status != http.StatusBadRequest {
		t.Fatalf("bad limit: %d %s", status, b)
	}

	status, b = s.upload(token, iv.ID, []byte("fake video"))
	if status != http.StatusAccepted {
		t.Fatalf("upload: %d %s", status, b)
	}
	if s.queue.count != 1 {
		t.Fatalf("expected processing job, got %d", s.queue.count)
	}

	status, b = s.do(http.MethodGet, "/v1/interviews/"+iv.ID+"/status", token, nil)
	var st struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(b, &st)
	if status != http.StatusOK || st.Status != "uploaded" {
		t.Fatalf("status: %d %s", status, b)
	}

	// another user cannot see it
	other := s.signup("mallory")
	if status, _ := s.do(http.MethodGet, "/v1/interviews/"+iv.ID, other, nil); status != http.StatusNotFound {
		t.Fatalf("foreign get: got %d", status)
	}
	if status, _ := s.upload(other, iv.ID, []byte("x")); status != http.StatusNotFound {
		t.Fatalf("foreign upload: got %d", status)
	}
}

func TestUploadTargetAndSubmit(t *testing.T) {
	s := newServer(t, 0)
	token := s.signup("bob")
	_, b := s.do(http.MethodPost, "/v1/interviews", token, nil)
	var iv models.Interview
	_ = json.Unmarshal(b, &iv)

	status, b := s.do(http.MethodPost, "/v1/interviews/"+iv.ID+"/upload-target", token, map[string]string{"filename": "a.mp4", "content_type": "video/mp4"})
	if status != http.StatusOK {
		t.Fatalf("upload-target: %d %s", status, b)
	}
	var target storage.UploadTarget
	_ = json.Unmarshal(b, &target)
	if target.ObjectKey == "" {
		t.Fatalf("empty object key: %s", b)
	}

	// nothing was written under the key yet
	status, b = s.do(http.MethodPost, "/v1/interviews/"+iv.ID+"/submit", token, map[string]string{"object_key": target.ObjectKey})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("submit missing object: %d %s", status, b)
	}

	status, _ = s.do(http.MethodPost, "/v1/interviews/"+iv.ID+"/submit", token, map[string]string{"object_key": "interviews/elsewhere/a.mp4"})
	if status != http.StatusBadRequest {
		t.Fatalf("submit foreign key: got %d", status)
	}
}

func TestUploadTwiceWhileUploadedConflicts(t *testing.T) {
	s := newServer(t, 0)
	token := s.signup("carol")
	_, b := s.do(http.MethodPost, "/v1/interviews", token, nil)
	var iv models.Interview
	_ = json.Unmarshal(b, &iv)

	if status, b := s.upload(token, iv.ID, []byte("one")); status != http.StatusAccepted {
		t.Fatalf("first upload: %d %s", status, b)
	}
	// the first recording has not been processed yet
	if status, b := s.upload(token, iv.ID, []byte("two")); status != http.StatusConflict {
		t.Fatalf("second upload: %d %s", status, b)
	}
}

func TestPersonalityRoutes(t *testing.T) {
	s := newServer(t, 0)
	token := s.signup("dave")

	status, b := s.do(http.MethodGet, "/v1/personality", token, nil)
	var p struct {
		Traits map[string]float64 `json:"traits"`
	}
	_ = json.Unmarshal(b, &p)
	if status != http.StatusOK || p.Traits["openness"] != 50 {
		t.Fatalf("get personality: %d %s", status, b)
	}

	status, b = s.do(http.MethodPut, "/v1/personality", token, map[string]any{"traits": map[string]float64{"openness": 65, "bogus": 900}})
	var res traits.MergeResult
	_ = json.Unmarshal(b, &res)
	if status != http.StatusOK || res.Merged["openness"] != 65 || len(res.Conflicts) != 1 {
		t.Fatalf("put personality: %d %s", status, b)
	}

	status, _ = s.do(http.MethodPut, "/v1/personality", token, map[string]any{"traits": map[string]float64{"bogus": -3}})
	if status != http.StatusBadRequest {
		t.Fatalf("all-invalid update: got %d", status)
	}
	status, _ = s.do(http.MethodPut, "/v1/personality", token, map[string]any{})
	if status != http.StatusBadRequest {
		t.Fatalf("missing traits: got %d", status)
	}
}
