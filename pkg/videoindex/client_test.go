package videoindex_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garnizeh/mockprep/pkg/videoindex"
	"github.com/tidwall/gjson"
)

type memSource map[string]string

func (m memSource) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	s, ok := m[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

// fakeBackend serves the asset/index/analyze endpoints. assetStatus is
// returned for asset polls after pendingPolls "processing" answers.
type fakeBackend struct {
	assetStatus  string
	pendingPolls int32
	polls        atomic.Int32
	uploaded     atomic.Value
	prompt       atomic.Value
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /assets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(file)
		f.uploaded.Store(string(b))
		_, _ = w.Write([]byte(`{"_id":"asset-1"}`))
	})
	mux.HandleFunc("GET /assets/asset-1", func(w http.ResponseWriter, r *http.Request) {
		if f.polls.Add(1) <= f.pendingPolls {
			_, _ = w.Write([]byte(`{"status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"` + f.assetStatus + `"}`))
	})
	mux.HandleFunc("POST /indexes/idx/indexed-assets", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_id":"ia-1"}`))
	})
	mux.HandleFunc("GET /indexes/idx/indexed-assets/ia-1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transcription") == "true" {
			_, _ = w.Write([]byte(`{"status":"ready","transcription":[{"start":0,"end":1.5,"value":"Hello"},{"value":"no timing"},{"start":2,"end":3,"value":""}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	mux.HandleFunc("GET /indexes/idx/videos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filename") != "rec.mp4" {
			t.Errorf("unexpected filename query %q", r.URL.Query().Get("filename"))
		}
		_, _ = w.Write([]byte(`{"data":[{"_id":"video-9"}]}`))
	})
	mux.HandleFunc("POST /analyze", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(b, "video_id").String() != "video-9" {
			http.Error(w, `{"message":"bad video"}`, http.StatusBadRequest)
			return
		}
		f.prompt.Store(gjson.GetBytes(b, "prompt").String())
		_, _ = w.Write([]byte(`{"data":"Clear answers with metrics."}`))
	})
	return mux
}

func newClient(t *testing.T, srv *httptest.Server, maxWait time.Duration) *videoindex.Client {
	t.Helper()
	c, err := videoindex.New(videoindex.Config{
		BaseURL:      srv.URL,
		APIKey:       "key",
		IndexID:      "idx",
		PollInterval: 5 * time.Millisecond,
		MaxWait:      maxWait,
	}, memSource{"interviews/1/rec.mp4": "video-bytes"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAnalyze_Success(t *testing.T) {
	fb := &fakeBackend{assetStatus: "ready", pendingPolls: 2}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c := newClient(t, srv, 5*time.Second)
	got, err := c.Analyze(context.Background(), "interviews/1/rec.mp4", "Question: Q1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Text != "Clear answers with metrics." {
		t.Fatalf("unexpected analysis %q", got.Text)
	}
	if got.Transcript != "[0.00-1.50] Hello\nno timing" {
		t.Fatalf("unexpected transcript %q", got.Transcript)
	}
	if fb.uploaded.Load() != "video-bytes" {
		t.Fatalf("recording not streamed to backend")
	}
	if fb.prompt.Load() != "Question: Q1" {
		t.Fatalf("prompt not forwarded: %v", fb.prompt.Load())
	}
	if fb.polls.Load() != 3 {
		t.Fatalf("expected 3 asset polls, got %d", fb.polls.Load())
	}
}

func TestAnalyze_DefaultPrompt(t *testing.T) {
	fb := &fakeBackend{assetStatus: "ready"}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c := newClient(t, srv, 5*time.Second)
	if _, err := c.Analyze(context.Background(), "interviews/1/rec.mp4", " "); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fb.prompt.Load() != videoindex.DefaultPrompt {
		t.Fatalf("expected default prompt")
	}
}

func TestAnalyze_FailedStatus(t *testing.T) {
	fb := &fakeBackend{assetStatus: "failed"}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c := newClient(t, srv, 5*time.Second)
	_, err := c.Analyze(context.Background(), "interviews/1/rec.mp4", "")
	if !errors.Is(err, videoindex.ErrProcessingFailed) {
		t.Fatalf("expected ErrProcessingFailed, got %v", err)
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	fb := &fakeBackend{assetStatus: "processing", pendingPolls: 1 << 20}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c := newClient(t, srv, 50*time.Millisecond)
	_, err := c.Analyze(context.Background(), "interviews/1/rec.mp4", "")
	if !errors.Is(err, videoindex.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAnalyze_BackendError(t *testing.T) {
	fb := &fakeBackend{assetStatus: "ready"}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c, err := videoindex.New(videoindex.Config{BaseURL: srv.URL, APIKey: "wrong", IndexID: "idx"}, memSource{"r.mp4": "x"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Analyze(context.Background(), "r.mp4", "")
	if !errors.Is(err, videoindex.ErrBackend) || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestAnalyze_MissingRecording(t *testing.T) {
	fb := &fakeBackend{assetStatus: "ready"}
	srv := httptest.NewServer(fb.handler(t))
	defer srv.Close()

	c := newClient(t, srv, time.Second)
	if _, err := c.Analyze(context.Background(), "nope.mp4", ""); err == nil {
		t.Fatalf("expected error for missing recording")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := videoindex.New(videoindex.Config{IndexID: "idx"}, memSource{}, nil)
	if !errors.Is(err, videoindex.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
