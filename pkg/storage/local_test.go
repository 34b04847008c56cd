package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/garnizeh/mockprep/pkg/storage"
)

func TestLocalStorage_SaveOpenExists(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	target, err := s.IssueUploadTarget(ctx, "iv-1", "my take (1).mp4", "video/mp4")
	if err != nil {
		t.Fatalf("IssueUploadTarget: %v", err)
	}
	if target.Mode != storage.ModeLocal || !strings.HasPrefix(target.ObjectKey, "interviews/iv-1/") {
		t.Fatalf("unexpected target: %+v", target)
	}
	if !strings.HasSuffix(target.ObjectKey, "my_take__1_.mp4") {
		t.Fatalf("filename not sanitized: %s", target.ObjectKey)
	}

	ok, err := s.Exists(ctx, target.ObjectKey)
	if err != nil || ok {
		t.Fatalf("expected object to be absent, ok=%v err=%v", ok, err)
	}

	n, err := s.Save(ctx, target.ObjectKey, strings.NewReader("frames"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 bytes written, got %d", n)
	}

	ok, err = s.Exists(ctx, target.ObjectKey)
	if err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}

	rc, err := s.Open(ctx, target.ObjectKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "frames" {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	for _, key := range []string{"../etc/passwd", "/abs", "", "a/../../b"} {
		if _, err := s.Save(context.Background(), key, strings.NewReader("x")); !errors.Is(err, storage.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestLocalStorage_OpenMissing(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	if _, err := s.Open(context.Background(), "interviews/x/none.mp4"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStorage_SaveHonoursContext(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Save(ctx, "interviews/x/a.mp4", strings.NewReader("x")); err == nil {
		t.Fatalf("expected cancelled save to fail")
	}
	ok, _ := s.Exists(context.Background(), "interviews/x/a.mp4")
	if ok {
		t.Fatalf("cancelled save must not leave an object")
	}
}
