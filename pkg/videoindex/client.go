// Package videoindex extracts a transcript and a free-text analysis from a
// stored recording using a video-understanding API: upload the asset, wait
// for it, index it, wait again, then read the transcription and run an
// analysis prompt against the indexed video.
package videoindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL      = "https://api.twelvelabs.io/v1.3"
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 15 * time.Minute
)

var (
	ErrNotConfigured    = errors.New("video backend not configured")
	ErrProcessingFailed = errors.New("video processing failed")
	ErrTimeout          = errors.New("video processing timed out")
	ErrBackend          = errors.New("video backend error")
)

// DefaultPrompt is the analysis instruction used when the caller has none.
const DefaultPrompt = `You are an interview analysis assistant. Analyze a recorded mock interview using the transcript (and timestamps if provided). Focus only on observable communication signals based on the candidate's words and structure.

Pay attention to:
- clarity and structure of answers
- specificity and concrete examples (metrics, outcomes, scope)
- ownership and agency language ("I did", decisions made)
- collaboration and stakeholder mentions
- reflection and tradeoffs
- filler, vague, or hedging language ("kind of", "maybe")

Cite evidence by quoting short phrases from the transcript and include timestamps when available. Give constructive, actionable feedback.

Do NOT infer personality, emotions, confidence, or any protected or sensitive attributes. Do NOT make assumptions beyond the words used.

Return a concise analysis with:
1) a brief overall summary
2) 3-5 strengths with evidence
3) 3-5 improvement suggestions with example rewrites`

// Config holds the video backend settings.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	IndexID      string        `yaml:"index_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxWait bounds the whole Analyze call, polling included.
	MaxWait        time.Duration `yaml:"max_wait"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Source opens stored recordings by reference.
type Source interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Analysis is what the backend extracted from one recording.
type Analysis struct {
	Transcript string
	Text       string
}

// Client talks to the video backend.
type Client struct {
	http   *resty.Client
	cfg    Config
	files  Source
	logger *slog.Logger
}

// New builds a client. Missing credentials are a construction error.
func New(cfg Config, files Source, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.IndexID) == "" {
		return nil, fmt.Errorf("%w: api key and index id are required", ErrNotConfigured)
	}
	if files == nil {
		return nil, errors.New("video source is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.RequestTimeout)

	return &Client{http: hc, cfg: cfg, files: files, logger: logger}, nil
}

// Analyze runs the full upload, index, transcribe, analyze sequence for the
// recording at ref. The whole call is bounded by Config.MaxWait.
func (c *Client) Analyze(ctx context.Context, ref, prompt string) (Analysis, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	deadline := time.Now().Add(c.cfg.MaxWait)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	filename := path.Base(ref)
	log := c.logger.With(slog.String("ref", ref))

	assetID, err := c.upload(ctx, ref, filename)
	if err != nil {
		return Analysis{}, err
	}
	log.Info("video asset uploaded", slog.String("asset_id", assetID))
	if err := c.waitReady(ctx, deadline, "/assets/"+assetID); err != nil {
		return Analysis{}, fmt.Errorf("asset %s: %w", assetID, err)
	}

	indexedID, err := c.index(ctx, assetID)
	if err != nil {
		return Analysis{}, err
	}
	indexedPath := "/indexes/" + c.cfg.IndexID + "/indexed-assets/" + indexedID
	if err := c.waitReady(ctx, deadline, indexedPath); err != nil {
		return Analysis{}, fmt.Errorf("indexed asset %s: %w", indexedID, err)
	}
	log.Info("video indexed", slog.String("indexed_asset_id", indexedID))

	transcript, err := c.transcription(ctx, indexedPath)
	if err != nil {
		return Analysis{}, err
	}

	videoID, err := c.resolveVideoID(ctx, filename)
	if err != nil {
		return Analysis{}, err
	}

	text, err := c.analyze(ctx, videoID, prompt)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{Transcript: transcript, Text: text}, nil
}

func (c *Client) upload(ctx context.Context, ref, filename string) (string, error) {
	rc, err := c.files.Open(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer rc.Close()

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"method": "direct", "filename": filename}).
		SetFileReader("file", filename, rc).
		Post("/assets")
	body, err := checked(ctx, resp, err, "upload asset")
	if err != nil {
		return "", err
	}
	id := idOf(body)
	if id == "" {
		return "", fmt.Errorf("%w: upload asset: missing asset id", ErrBackend)
	}
	return id, nil
}

func (c *Client) index(ctx context.Context, assetID string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"asset_id": assetID}).
		Post("/indexes/" + c.cfg.IndexID + "/indexed-assets")
	body, err := checked(ctx, resp, err, "index asset")
	if err != nil {
		return "", err
	}
	id := idOf(body)
	if id == "" {
		return "", fmt.Errorf("%w: index asset: missing indexed asset id", ErrBackend)
	}
	return id, nil
}

// waitReady polls p at the configured interval until its status is ready
// or failed, or the deadline passes.
func (c *Client) waitReady(ctx context.Context, deadline time.Time, p string) error {
	for {
		resp, err := c.http.R().SetContext(ctx).Get(p)
		body, err := checked(ctx, resp, err, "poll status")
		if err != nil {
			return err
		}

		status := strings.ToLower(gjson.Get(body, "status").String())
		c.logger.Debug("video status", slog.String("path", p), slog.String("status", status))
		switch status {
		case "ready":
			return nil
		case "failed":
			return fmt.Errorf("%w: status=%s", ErrProcessingFailed, status)
		}

		if time.Now().Add(c.cfg.PollInterval).After(deadline) {
			return fmt.Errorf("%w after %s (last status %q)", ErrTimeout, c.cfg.MaxWait, status)
		}
		t := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}
}

func (c *Client) transcription(ctx context.Context, indexedPath string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("transcription", "true").
		Get(indexedPath)
	body, err := checked(ctx, resp, err, "fetch transcription")
	if err != nil {
		return "", err
	}
	return FormatTranscription(gjson.Get(body, "transcription")), nil
}

func (c *Client) resolveVideoID(ctx context.Context, filename string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":        "1",
			"page_limit":  "1",
			"sort_by":     "created_at",
			"sort_option": "desc",
			"filename":    filename,
		}).
		Get("/indexes/" + c.cfg.IndexID + "/videos")
	body, err := checked(ctx, resp, err, "resolve video")
	if err != nil {
		return "", err
	}
	for _, item := range gjson.Get(body, "data").Array() {
		if id := idOf(item.Raw); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: unable to resolve video id for %s", ErrBackend, filename)
}

func (c *Client) analyze(ctx context.Context, videoID, prompt string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"video_id": videoID, "prompt": prompt, "stream": false}).
		Post("/analyze")
	body, err := checked(ctx, resp, err, "analyze")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(gjson.Get(body, "data").String()), nil
}

// FormatTranscription renders segments as "[start-end] text" lines; segments
// without timing are emitted as bare text.
func FormatTranscription(segments gjson.Result) string {
	var lines []string
	segments.ForEach(func(_, seg gjson.Result) bool {
		text := strings.TrimSpace(seg.Get("value").String())
		if text == "" {
			return true
		}
		start, end := seg.Get("start"), seg.Get("end")
		if start.Type == gjson.Number && end.Type == gjson.Number {
			lines = append(lines, fmt.Sprintf("[%.2f-%.2f] %s", start.Float(), end.Float(), text))
		} else {
			lines = append(lines, text)
		}
		return true
	})
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func idOf(body string) string {
	if id := gjson.Get(body, "_id").String(); id != "" {
		return id
	}
	return gjson.Get(body, "id").String()
}

// checked turns transport failures and error statuses into ErrBackend,
// and context expiry into ErrTimeout.
func checked(ctx context.Context, resp *resty.Response, err error, op string) (string, error) {
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrTimeout, op, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
	}
	if resp.IsError() {
		msg := gjson.Get(resp.String(), "message").String()
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("%w: %s: status %d: %s", ErrBackend, op, resp.StatusCode(), msg)
	}
	return resp.String(), nil
}
