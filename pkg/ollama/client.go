// Package ollama is a text backend over a local Ollama instance with
// retries, per-request timeouts and a small circuit breaker.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
)

var (
	ErrCircuitOpen = errors.New("ollama circuit open")
	// ErrEmptyResponse is returned when the model produced no text after
	// reasoning blocks were removed.
	ErrEmptyResponse = errors.New("ollama returned an empty response")
)

// package-level logger for pkg/ollama; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/ollama. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Client generates text with one configured model.
type Client struct {
	api     *api.Client
	cfg     Config
	http    *http.Client
	breaker *breaker
	closed  atomic.Bool
}

// Completion is one successful generation.
type Completion struct {
	Text     string
	Model    string
	Attempts int
	Latency  time.Duration
}

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	logger.Info("ollama client created",
		slog.String("base_url", cfg.BaseURL),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
	)
	return &Client{
		api:     api.NewClient(u, httpClient),
		cfg:     cfg,
		http:    httpClient,
		breaker: newBreaker(cfg.CircuitFailureThreshold, cfg.CircuitReset),
	}, nil
}

// NewDefaultClient uses a pooled transport suited to a long-lived process.
func NewDefaultClient(cfg Config) (*Client, error) {
	return NewClient(cfg, &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	})
}

// Close releases idle connections on the underlying transport. It is idempotent.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.http != nil && c.http.Transport != nil {
		if tr, ok := c.http.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
			logger.Debug("ollama client closed idle connections")
		}
	}
	return nil
}

// Health checks that the instance answers and has at least one model.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	models, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if len(models) == 0 {
		return errors.New("health check failed: no models installed")
	}
	return nil
}

// ModelInfo is a lightweight model descriptor returned by ListModels.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListModels returns the models installed on the instance.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if !c.breaker.allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := c.api.List(ctx)
	if err != nil {
		c.breaker.failure()
		return nil, err
	}
	c.breaker.success()

	out := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, ModelInfo{Name: m.Name, Size: m.Size})
	}
	return out, nil
}

// Generate implements the text backend contract with the configured model.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := c.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Complete sends prompt to the configured model, concatenating the streamed
// chunks. Failed attempts are retried with linear backoff until the retry
// budget or ctx runs out.
func (c *Client) Complete(ctx context.Context, prompt string) (Completion, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries+1; attempt++ {
		if !c.breaker.allow() {
			return Completion{}, ErrCircuitOpen
		}

		start := time.Now()
		text, err := c.generateOnce(ctx, prompt)
		if err == nil {
			c.breaker.success()
			return Completion{Text: text, Model: c.cfg.Model, Attempts: attempt, Latency: time.Since(start)}, nil
		}

		lastErr = err
		c.breaker.failure()
		logger.Warn("ollama generate failed",
			slog.String("model", c.cfg.Model),
			slog.Int("attempt", attempt),
			slog.Any("err", err),
		)
		if attempt > c.cfg.Retries {
			break
		}

		t := time.NewTimer(c.cfg.Backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return Completion{}, fmt.Errorf("generate cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return Completion{}, fmt.Errorf("generate failed after %d attempts: %w", c.cfg.Retries+1, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := &api.GenerateRequest{
		Model:   c.cfg.Model,
		Prompt:  prompt,
		Options: c.cfg.options(),
	}
	var sb strings.Builder
	err := c.api.Generate(ctx, req, func(r api.GenerateResponse) error {
		sb.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", err
	}

	text := stripReasoning(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripReasoning drops <think> blocks emitted by reasoning models.
func stripReasoning(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}
