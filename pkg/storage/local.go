// Package storage keeps interview recordings on the local filesystem and
// hands out upload targets for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ModeLocal means the client uploads through the API's multipart endpoint.
const ModeLocal = "local"

var (
	ErrInvalidKey = errors.New("invalid object key")
	ErrNotFound   = errors.New("object not found")
)

// UploadTarget tells a client where and how to upload a recording.
type UploadTarget struct {
	Mode      string            `json:"mode"`
	ObjectKey string            `json:"object_key"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// LocalStorage stores objects under BaseDir.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("storage base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", baseDir, err)
	}
	return &LocalStorage{BaseDir: baseDir}, nil
}

// KeyPrefix is the namespace holding an interview's recordings.
func KeyPrefix(interviewID string) string {
	return path.Join("interviews", interviewID) + "/"
}

// IssueUploadTarget reserves a fresh object key for an interview recording.
func (s *LocalStorage) IssueUploadTarget(ctx context.Context, interviewID, filename, contentType string) (UploadTarget, error) {
	if strings.TrimSpace(interviewID) == "" {
		return UploadTarget{}, errors.New("interview id is required")
	}
	name := sanitizeName(filename)
	key := KeyPrefix(interviewID) + uuid.NewString() + "-" + name

	t := UploadTarget{
		Mode:      ModeLocal,
		ObjectKey: key,
		URL:       "/v1/interviews/" + interviewID + "/video",
	}
	if contentType != "" {
		t.Headers = map[string]string{"Content-Type": contentType}
	}
	return t, nil
}

// Save writes r to key, replacing any previous object, and returns the size.
func (s *LocalStorage) Save(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create object file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, fmt.Errorf("failed to commit object %s: %w", key, err)
	}
	return n, nil
}

// Open returns a reader over key. The caller closes it.
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// Exists reports whether key holds an object.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Mode().IsRegular(), nil
}

// resolve maps a slash-separated key to a path inside BaseDir.
func (s *LocalStorage) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.BaseDir, filepath.FromSlash(clean)), nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "recording.webm"
	}
	return out
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
