// Package config provides configuration management for the prompt scoring server.
// It covers the HTTP listener, the completion backends, the result cache,
// request validation and runtime behavior such as logging and rate limiting.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server         ServerConfig              `yaml:"server"`
	LLM            LLMConfig                 `yaml:"llm"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Cache          CacheConfig               `yaml:"cache"`
	Scoring        ScoringConfig             `yaml:"scoring"`
	Validation     ValidationConfig          `yaml:"validation"`
	RateLimit      RateLimitConfig           `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig      `yaml:"circuit_breaker"`
	Logging        LoggingConfig             `yaml:"logging"`
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Scoring calls can take a while on reasoning models, so keep this above ScoreTimeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ScoreTimeout bounds a single /score request including the upstream call.
	// Zero disables the deadline.
	ScoreTimeout time.Duration `yaml:"score_timeout"`

	// MaxBodyBytes caps the size of a /score request body (default: 512KB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// StaticDir optionally serves a frontend: index.html at "/" and the
	// directory under "/static/".
	StaticDir string `yaml:"static_dir"`

	// CORS configures cross-origin access
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// LLMConfig holds the default completion backend configuration.
type LLMConfig struct {
	// Provider specifies the backend type: "openai" and "gemini" use their
	// native SDKs, anything else ("anthropic", "ollama", ...) goes through gollm.
	Provider string `yaml:"provider"`

	// Model is the default model identifier used when a request names none
	Model string `yaml:"model"`

	// Models lists additional model identifiers the same backend may serve
	Models []string `yaml:"models,omitempty"`

	// APIKey is the authentication key for the provider's API.
	// Use environment variables (e.g., ${OPENAI_API_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible proxies, Ollama, ...)
	BaseURL string `yaml:"base_url"`

	// ReasoningModelPrefixes identify reasoning-capable model families
	ReasoningModelPrefixes []string `yaml:"reasoning_model_prefixes"`

	// ReasoningEffort is the effort requested from reasoning models
	ReasoningEffort string `yaml:"reasoning_effort"`

	// MaxCompletionTokens is the default completion cap for reasoning models
	MaxCompletionTokens int64 `yaml:"max_completion_tokens"`

	// MaxCompletionTokensCap is the hard ceiling any retry may escalate to
	MaxCompletionTokensCap int64 `yaml:"max_completion_tokens_cap"`

	// StandardMaxCompletionTokens is the completion cap for non-reasoning models
	StandardMaxCompletionTokens int64 `yaml:"standard_max_completion_tokens"`

	// Temperature is used for non-reasoning models only
	Temperature float64 `yaml:"temperature"`

	// Seed requests reproducible sampling where the provider supports it
	Seed int64 `yaml:"seed"`

	// Verbosity hints reasoning models to keep output short
	Verbosity string `yaml:"verbosity"`

	// RequestTimeout bounds each upstream HTTP request (0 leaves it to ScoreTimeout)
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the SDK-level transport retry count for transient failures
	MaxRetries int `yaml:"max_retries"`
}

// ProviderConfig holds configuration for an additional named backend
type ProviderConfig struct {
	Type    string   `yaml:"type"`     // Backend type (openai, gemini, anthropic, ollama, ...)
	Models  []string `yaml:"models"`   // Model identifiers served by this backend
	APIKey  string   `yaml:"api_key"`  // API key for authentication
	BaseURL string   `yaml:"base_url"` // Optional endpoint override
}

// CacheConfig defines the in-memory result cache.
type CacheConfig struct {
	// Enabled turns caching on/off (default: true)
	Enabled bool `yaml:"enabled"`

	// TTL specifies how long to keep cached results (default: 24h)
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries caps the number of cached results; the oldest insertion is
	// evicted first (default: 1000)
	MaxEntries int `yaml:"max_entries"`
}

// RateLimitConfig configures per-client request limiting on /score.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// CircuitBreakerConfig configures the breaker guarding each backend.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			ScoreTimeout:    90 * time.Second,
			MaxBodyBytes:    512 * 1024,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},

		LLM: LLMConfig{
			Provider:                    "openai",
			Model:                       "gpt-5-mini",
			ReasoningModelPrefixes:      []string{"gpt-5", "o1", "o3", "o4"},
			ReasoningEffort:             "low",
			MaxCompletionTokens:         1200,
			MaxCompletionTokensCap:      4000,
			StandardMaxCompletionTokens: 800,
			Temperature:                 0,
			Seed:                        42,
			Verbosity:                   "low",
			MaxRetries:                  2,
		},

		Cache: CacheConfig{
			Enabled:    true,
			TTL:        24 * time.Hour,
			MaxEntries: 1000,
		},

		Validation: ValidationConfig{
			MaxPromptTokens: 0,
			TokenizerModel:  "gpt-4o",
		},

		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 30,
			Burst:             10,
		},

		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references in the raw
// configuration text. Nested references are expanded until stable.
func expandEnvVars(s string) (string, error) {
	if open := strings.Count(s, "${"); open > 0 {
		for _, ref := range strings.Split(s, "${")[1:] {
			if !strings.Contains(ref, "}") {
				return "", fmt.Errorf("unterminated variable reference")
			}
		}
	}

	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	})

	for prev := ""; prev != result; {
		prev = result
		result = os.Expand(result, os.Getenv)
	}

	return result, nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// Decode YAML on top of defaults; an empty document keeps the defaults
	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.applyEnvFallbacks()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// envKeyForProvider names the environment variable consulted when a backend
// has no API key configured.
func envKeyForProvider(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	}
	return ""
}

func (c *Config) applyEnvFallbacks() {
	if c.LLM.APIKey == "" {
		if name := envKeyForProvider(c.LLM.Provider); name != "" {
			c.LLM.APIKey = os.Getenv(name)
		}
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			if env := envKeyForProvider(p.Type); env != "" {
				p.APIKey = os.Getenv(env)
				c.Providers[name] = p
			}
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}
	if c.Server.ScoreTimeout < 0 {
		return fmt.Errorf("negative score timeout: %v", c.Server.ScoreTimeout)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive: %d", c.Server.MaxBodyBytes)
	}

	// LLM validation
	if c.LLM.Provider == "" {
		return fmt.Errorf("empty LLM provider")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("empty LLM model")
	}
	switch c.LLM.ReasoningEffort {
	case "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("invalid reasoning effort: %s", c.LLM.ReasoningEffort)
	}
	if c.LLM.MaxCompletionTokens <= 0 || c.LLM.StandardMaxCompletionTokens <= 0 {
		return fmt.Errorf("completion token caps must be positive")
	}
	if c.LLM.MaxCompletionTokensCap < c.LLM.MaxCompletionTokens ||
		c.LLM.MaxCompletionTokensCap < c.LLM.StandardMaxCompletionTokens {
		return fmt.Errorf("max completion tokens cap (%d) is below a default cap", c.LLM.MaxCompletionTokensCap)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2: %v", c.LLM.Temperature)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("negative max retries: %d", c.LLM.MaxRetries)
	}
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("empty type for provider %s", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s serves no models", name)
		}
	}

	// Cache validation
	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive: %v", c.Cache.TTL)
		}
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max entries must be positive: %d", c.Cache.MaxEntries)
		}
	}

	if c.Scoring.MaxTextRunes < 0 {
		return fmt.Errorf("negative max text runes: %d", c.Scoring.MaxTextRunes)
	}
	if c.Validation.MaxPromptTokens < 0 {
		return fmt.Errorf("negative max prompt tokens: %d", c.Validation.MaxPromptTokens)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_minute and burst")
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
