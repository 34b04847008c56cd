// Package ai wraps the text-generation backend behind fail-soft adapters:
// question generation, feedback synthesis, archetype classification and
// job-fit scoring. None of the adapters return errors; every call yields a
// usable value tagged with whether the backend produced it.
package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrNoContext means there was nothing to send to the backend.
	ErrNoContext = errors.New("no context provided")
	// ErrNotConfigured means no text backend is wired.
	ErrNotConfigured = errors.New("text backend not configured")
	// ErrBackendUnavailable covers transport failures, timeouts and empty output.
	ErrBackendUnavailable = errors.New("text backend unavailable")
	// ErrMalformedOutput means the backend answered with something unusable.
	ErrMalformedOutput = errors.New("malformed backend output")
)

const defaultTimeout = 60 * time.Second

// TextGenerator is the text backend: one prompt in, free text out.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Result distinguishes backend-produced data from a substituted default.
type Result[T any] struct {
	Value T
	// Reason is nil for enriched results and explains the fallback otherwise.
	Reason error
}

func Enriched[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Fallback[T any](v T, reason error) Result[T] {
	if reason == nil {
		reason = ErrBackendUnavailable
	}
	return Result[T]{Value: v, Reason: reason}
}

// IsFallback reports whether Value is a substituted default.
func (r Result[T]) IsFallback() bool {
	return r.Reason != nil
}

// Options configures the adapters.
type Options struct {
	// Timeout bounds each backend call.
	Timeout time.Duration
	// MaxQuestions caps the number of generated questions kept.
	MaxQuestions int
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxQuestions <= 0 {
		o.MaxQuestions = 10
	}
	if o.Logger == nil {
		o.Logger = logger
	}
	return o
}

// package-level logger; callers can override via SetLogger.
var logger = slog.Default()

// SetLogger sets the package logger used when Options.Logger is nil.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	logger = l
}

// call runs one bounded backend request and classifies the failure modes.
func call(ctx context.Context, backend TextGenerator, timeout time.Duration, prompt string) (string, error) {
	if backend == nil {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := backend.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return "", err
		}
		return "", errors.Join(ErrBackendUnavailable, err)
	}
	if out == "" {
		return "", ErrBackendUnavailable
	}
	return out, nil
}
