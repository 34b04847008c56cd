package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garnizeh/mockprep/internal/jobs"
	"github.com/garnizeh/mockprep/internal/traits"
	"github.com/garnizeh/mockprep/pkg/gemini"
	"github.com/garnizeh/mockprep/pkg/jobingest"
	"github.com/garnizeh/mockprep/pkg/ollama"
	"github.com/garnizeh/mockprep/pkg/videoindex"
)

const insecureJWTSecret = "supersecretkey"

// Text backend providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderNone   = "none"
)

// Queue drivers.
const (
	DriverSQLite = "sqlite"
	DriverAMQP   = "amqp"
)

// ErrMissingCredentials is returned by Validate when a selected backend has no credentials.
var ErrMissingCredentials = errors.New("missing credentials")

type Config struct {
	Env            string        `yaml:"env"`
	Addr           string        `yaml:"addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	APITimeout     time.Duration `yaml:"timeout"`
	DatabasePath   string        `yaml:"database_path"`
	TokenDuration  time.Duration `yaml:"token_duration"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`

	Storage StorageConfig     `yaml:"storage"`
	AI      AIConfig          `yaml:"ai"`
	Video   videoindex.Config `yaml:"video"`
	Queue   QueueConfig       `yaml:"queue"`
	Traits  TraitsConfig      `yaml:"traits"`
	Ingest  IngestConfig      `yaml:"ingest"`
	Log     LogConfig         `yaml:"log"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

type AIConfig struct {
	// Provider is gemini, ollama or none.
	Provider     string        `yaml:"provider"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxQuestions int           `yaml:"max_questions"`
	Gemini       gemini.Config `yaml:"gemini"`
	Ollama       ollama.Config `yaml:"ollama"`
}

type QueueConfig struct {
	// Driver is sqlite or amqp.
	Driver       string        `yaml:"driver"`
	URL          string        `yaml:"url"`
	Name         string        `yaml:"name"`
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      string        `yaml:"backoff"` // fixed or exponential
	BackoffDelay time.Duration `yaml:"backoff_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// StaleAfter is how long a job may run before a restarted pool requeues it.
	StaleAfter time.Duration `yaml:"stale_after"`
}

type TraitsConfig struct {
	Names     []string `yaml:"names"`
	Delta     float64  `yaml:"delta"`
	Max       float64  `yaml:"max"`
	Selection string   `yaml:"selection"`
}

type IngestConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxChars int           `yaml:"max_chars"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig builds the configuration from environment defaults and then
// overlays the YAML file at path, when given.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Env:            getEnv("MOCKPREP_ENV", ""),
		Addr:           getEnv("MOCKPREP_ADDR", ":8080"),
		JWTSecret:      getEnv("MOCKPREP_JWT_SECRET", insecureJWTSecret),
		APITimeout:     15 * time.Second,
		DatabasePath:   getEnv("MOCKPREP_DATABASE_PATH", "mockprep.db"),
		TokenDuration:  time.Hour,
		MaxUploadBytes: 512 << 20,
		Storage:        StorageConfig{Dir: getEnv("MOCKPREP_STORAGE_DIR", "data/uploads")},
		AI: AIConfig{
			Provider: getEnv("MOCKPREP_AI_PROVIDER", ProviderNone),
			Gemini:   gemini.Config{APIKey: os.Getenv("GEMINI_API_KEY"), Model: os.Getenv("GEMINI_MODEL")},
			Ollama:   ollama.Config{BaseURL: os.Getenv("OLLAMA_BASE_URL"), Model: os.Getenv("OLLAMA_MODEL"), Retries: 2},
		},
		Video: videoindex.Config{
			APIKey:  os.Getenv("TL_API_KEY"),
			IndexID: os.Getenv("TL_INDEX_ID"),
		},
		Queue: QueueConfig{
			Driver:  getEnv("MOCKPREP_QUEUE_DRIVER", DriverSQLite),
			URL:     os.Getenv("MOCKPREP_AMQP_URL"),
			Workers: getEnvInt("MOCKPREP_WORKERS", 2),
		},
		Log: LogConfig{Level: getEnv("MOCKPREP_LOG_LEVEL", "info"), Format: getEnv("MOCKPREP_LOG_FORMAT", "json")},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	return cfg, nil
}

// Development reports whether insecure defaults are acceptable.
func (c *Config) Development() bool {
	env := c.Env
	if env == "" {
		env = os.Getenv("MOCKPREP_ENV")
	}
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}

// Validate fills defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt_secret is required")
	}
	if c.JWTSecret == insecureJWTSecret && !c.Development() {
		return errors.New("jwt_secret uses the insecure default; set MOCKPREP_JWT_SECRET or run with MOCKPREP_ENV=development")
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}
	if c.TokenDuration <= 0 {
		c.TokenDuration = time.Hour
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 512 << 20
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/uploads"
	}

	if err := c.validateAI(); err != nil {
		return err
	}
	if (c.Video.APIKey == "") != (c.Video.IndexID == "") {
		return fmt.Errorf("video: api_key and index_id must be set together: %w", ErrMissingCredentials)
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if _, err := c.TraitPolicy(); err != nil {
		return fmt.Errorf("traits: %w", err)
	}

	if c.Ingest.Timeout <= 0 {
		c.Ingest.Timeout = jobingest.DefaultTimeout
	}
	if c.Ingest.MaxChars <= 0 {
		c.Ingest.MaxChars = jobingest.DefaultMaxChars
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAI() error {
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider == "" {
		c.AI.Provider = ProviderNone
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if c.AI.MaxQuestions <= 0 {
		c.AI.MaxQuestions = 10
	}

	d := ollama.DefaultConfig()
	o := &c.AI.Ollama
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Retries == 0 {
		o.Retries = d.Retries
	}
	if o.Backoff <= 0 {
		o.Backoff = d.Backoff
	}

	switch c.AI.Provider {
	case ProviderGemini:
		if strings.TrimSpace(c.AI.Gemini.APIKey) == "" {
			return fmt.Errorf("ai.gemini.api_key (GEMINI_API_KEY): %w", ErrMissingCredentials)
		}
	case ProviderOllama, ProviderNone:
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	return nil
}

func (c *Config) validateQueue() error {
	q := &c.Queue
	q.Driver = strings.ToLower(strings.TrimSpace(q.Driver))
	switch q.Driver {
	case "":
		q.Driver = DriverSQLite
	case DriverSQLite:
	case DriverAMQP:
		if q.URL == "" {
			return errors.New("queue.url is required for the amqp driver")
		}
	default:
		return fmt.Errorf("unknown queue.driver %q", q.Driver)
	}
	if q.Name == "" {
		q.Name = "mockprep.jobs"
	}
	if q.Workers <= 0 {
		q.Workers = 2
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = jobs.DefaultMaxAttempts
	}
	if q.BackoffDelay <= 0 {
		q.BackoffDelay = 10 * time.Second
	}
	if q.PollInterval <= 0 {
		q.PollInterval = 500 * time.Millisecond
	}
	if q.StaleAfter <= 0 {
		q.StaleAfter = 30 * time.Minute
	}
	switch q.Backoff {
	case "":
		q.Backoff = "fixed"
	case "fixed", "exponential":
	default:
		return fmt.Errorf("unknown queue.backoff %q", q.Backoff)
	}
	return nil
}

// RetryPolicy is the job retry policy described by the queue section.
func (c *Config) RetryPolicy() jobs.RetryPolicy {
	p := jobs.RetryPolicy{MaxAttempts: c.Queue.MaxAttempts, Backoff: jobs.FixedBackoff(c.Queue.BackoffDelay)}
	if c.Queue.Backoff == "exponential" {
		p.Backoff = jobs.ExponentialBackoff(c.Queue.BackoffDelay, 5*time.Minute)
	}
	return p
}

// TraitPolicy builds the trait update policy.
func (c *Config) TraitPolicy() (traits.Policy, error) {
	return traits.NewPolicy(c.Traits.Names, c.Traits.Delta, c.Traits.Max, c.Traits.Selection)
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
