package pipeline

import (
	"errors"
	"fmt"

	"github.com/garnizeh/mockprep/pkg/videoindex"
)

// Kind classifies a pipeline failure. The value is stored in the interview's
// error payload.
type Kind string

const (
	KindMissingVideoReference  Kind = "missing_video_reference"
	KindAnalysisBackendFailure Kind = "analysis_backend_failure"
	KindPersistenceFailure     Kind = "persistence_failure"
)

var (
	// ErrMissingVideo is wrapped by KindMissingVideoReference errors.
	ErrMissingVideo = errors.New("interview has no video reference")
	// ErrSuperseded means a newer attempt owns the interview; nothing was written.
	ErrSuperseded = errors.New("processing attempt superseded")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether running the pipeline again may succeed. Only
// video backend failures qualify, and not when the backend is unconfigured.
func (e *Error) Retryable() bool {
	return e.Kind == KindAnalysisBackendFailure && !errors.Is(e.Err, videoindex.ErrNotConfigured)
}
