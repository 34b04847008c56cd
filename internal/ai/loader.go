package ai

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

// Schema names shipped with the package.
const (
	SchemaQuestion  = "question"
	SchemaFeedback  = "feedback"
	SchemaArchetype = "archetype"
	SchemaFit       = "fit"
)

// Loader loads and caches compiled JSON schemas keyed by file name.
type Loader struct {
	fsys  fs.FS
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewLoader compiles every schemas/*.json file in fsys. A nil fsys uses the
// schemas embedded in the binary.
func NewLoader(fsys fs.FS) (*Loader, error) {
	if fsys == nil {
		fsys = embeddedSchemas
	}
	l := &Loader{
		fsys:  fsys,
		cache: make(map[string]*jsonschema.Schema),
	}
	// initial load
	if err := l.Reload(); err != nil {
		return nil, err
	}

	return l, nil
}

// MustLoader returns the loader over the embedded schemas.
func MustLoader() *Loader {
	l, err := NewLoader(nil)
	if err != nil {
		panic(err)
	}
	return l
}

// GetSchema returns a compiled schema by name.
func (l *Loader) GetSchema(name string) (*jsonschema.Schema, bool) {
	l.mu.RLock()
	s, ok := l.cache[name]
	l.mu.RUnlock()

	return s, ok
}

// Reload reads and compiles all schemas again.
func (l *Loader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := fs.Glob(l.fsys, "schemas/*.json")
	if err != nil {
		return fmt.Errorf("list schemas: %w", err)
	}

	newCache := make(map[string]*jsonschema.Schema, len(files))
	for _, f := range files {
		b, err := fs.ReadFile(l.fsys, f)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", f, err)
		}
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal(b, rs); err != nil {
			return fmt.Errorf("compile schema %s: %w", f, err)
		}

		newCache[strings.TrimSuffix(path.Base(f), ".json")] = rs
	}

	l.cache = newCache
	return nil
}

// Validate checks doc against the named schema. Any violation is reported
// as ErrMalformedOutput.
func (l *Loader) Validate(ctx context.Context, name string, doc []byte) error {
	s, ok := l.GetSchema(name)
	if !ok || s == nil {
		return fmt.Errorf("no schema named %s", name)
	}

	verrs, err := s.ValidateBytes(ctx, doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return fmt.Errorf("%w: %s", ErrMalformedOutput, sb.String())
	}
	return nil
}
