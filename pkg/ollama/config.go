package ollama

import "time"

// Config configures the Ollama text backend. Zero fields take the values
// from DefaultConfig, except Retries where zero means a single attempt.
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"` // per Generate call

	// Retries after the first attempt; the wait grows linearly from Backoff.
	Retries int           `yaml:"retries" json:"retries"`
	Backoff time.Duration `yaml:"backoff" json:"backoff"`

	// The breaker opens after CircuitFailureThreshold consecutive failures
	// and lets one trial call through once CircuitReset has passed.
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold" json:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset" json:"circuit_reset"`

	// Sent as model options (temperature, num_predict) when non-zero.
	Temperature float32 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultConfig targets a local Ollama on its standard port.
func DefaultConfig() Config {
	return Config{
		BaseURL:                 "http://localhost:11434",
		Model:                   "llama3.1",
		Timeout:                 60 * time.Second,
		Retries:                 2,
		Backoff:                 500 * time.Millisecond,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.CircuitFailureThreshold <= 0 {
		c.CircuitFailureThreshold = d.CircuitFailureThreshold
	}
	if c.CircuitReset <= 0 {
		c.CircuitReset = d.CircuitReset
	}
	return c
}

func (c Config) options() map[string]any {
	opts := map[string]any{}
	if c.Temperature > 0 {
		opts["temperature"] = c.Temperature
	}
	if c.MaxTokens > 0 {
		opts["num_predict"] = c.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
