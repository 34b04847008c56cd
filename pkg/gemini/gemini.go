// Package gemini is a text backend over the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// ErrMissingAPIKey is returned at construction when no key is configured.
var ErrMissingAPIKey = errors.New("gemini api key is required")

// Config holds the Gemini backend settings.
type Config struct {
	APIKey      string        `yaml:"api_key" json:"-"`
	Model       string        `yaml:"model" json:"model"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	Retries     int           `yaml:"retries" json:"retries"`
	Backoff     time.Duration `yaml:"backoff" json:"backoff"`
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
}

// Generator sends prompts to Gemini and returns the concatenated text parts.
type Generator struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// NewGenerator creates a Generator configured for the Gemini API backend.
// httpClient may be nil.
func NewGenerator(ctx context.Context, cfg Config, httpClient *http.Client, logger *slog.Logger) (*Generator, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Generator{client: client, cfg: cfg, logger: logger}, nil
}

// Generate sends prompt to the configured model. Retryable API errors are
// retried with exponential backoff.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("gemini generator is not initialized")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.cfg.Temperature),
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := g.cfg.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), genConfig)
		if err == nil {
			out := textOf(resp)
			if out == "" {
				return "", errors.New("gemini returned no text")
			}
			g.logger.Debug("gemini generate",
				slog.String("model", g.cfg.Model),
				slog.Int("attempt", attempt+1),
				slog.Duration("latency", time.Since(start)),
			)
			return out, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}
		g.logger.Warn("gemini generate failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return "", fmt.Errorf("generate content: %w", lastErr)
}

func textOf(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return strings.TrimSpace(builder.String())
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code, ok := apiErrorCode(err)
	if ok {
		switch code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF")
}

// apiErrorCode extracts the HTTP status from a genai.APIError, which the SDK
// may return by value or by pointer.
func apiErrorCode(err error) (int, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, true
	}
	return 0, false
}
