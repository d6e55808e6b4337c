package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	yamlConfig := `
server:
  port: 9090
  read_timeout: 45s
  score_timeout: 60s
  cors:
    allowed_origins: ["https://prompt-scoring.example"]

llm:
  provider: openai
  model: gpt-4.1-mini
  models: [gpt-5-mini]
  reasoning_effort: medium

cache:
  ttl: 1h
  max_entries: 50

logging:
  level: debug
  format: text
`

	config, err := Load(strings.NewReader(yamlConfig))
	if err != nil {
		t.Fatalf("Failed to load valid config: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("unexpected port: got %d, want %d", config.Server.Port, 9090)
	}
	if config.Server.ReadTimeout != 45*time.Second {
		t.Errorf("unexpected read timeout: got %v, want %v", config.Server.ReadTimeout, 45*time.Second)
	}
	if config.Server.ScoreTimeout != 60*time.Second {
		t.Errorf("unexpected score timeout: got %v", config.Server.ScoreTimeout)
	}
	if len(config.Server.CORS.AllowedOrigins) != 1 {
		t.Errorf("unexpected origins: %v", config.Server.CORS.AllowedOrigins)
	}

	if config.LLM.Model != "gpt-4.1-mini" {
		t.Errorf("unexpected model: got %s, want %s", config.LLM.Model, "gpt-4.1-mini")
	}
	if config.LLM.ReasoningEffort != "medium" {
		t.Errorf("unexpected reasoning effort: got %s", config.LLM.ReasoningEffort)
	}
	// Fields absent from the file keep their defaults
	if config.LLM.MaxCompletionTokensCap != 4000 {
		t.Errorf("default completion cap lost: got %d", config.LLM.MaxCompletionTokensCap)
	}

	if !config.Cache.Enabled || config.Cache.TTL != time.Hour || config.Cache.MaxEntries != 50 {
		t.Errorf("unexpected cache config: %+v", config.Cache)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("unexpected log level: got %s, want %s", config.Logging.Level, "debug")
	}
	if config.Logging.Format != "text" {
		t.Errorf("unexpected log format: got %s, want %s", config.Logging.Format, "text")
	}
}

func TestLoadEmptyDocumentKeepsDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LLM.Model != DefaultConfig().LLM.Model {
		t.Errorf("unexpected model: %s", config.LLM.Model)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name: "invalid port",
			config: `
server:
  port: -1
`,
			want: "invalid port",
		},
		{
			name: "invalid log level",
			config: `
logging:
  level: invalid
`,
			want: "invalid log level",
		},
		{
			name: "empty provider",
			config: `
llm:
  provider: ""
`,
			want: "empty LLM provider",
		},
		{
			name: "unknown reasoning effort",
			config: `
llm:
  reasoning_effort: extreme
`,
			want: "invalid reasoning effort",
		},
		{
			name: "cap below default",
			config: `
llm:
  max_completion_tokens: 5000
`,
			want: "cap",
		},
		{
			name: "cache without ttl",
			config: `
cache:
  enabled: true
  ttl: 0s
`,
			want: "cache ttl",
		},
		{
			name: "provider without models",
			config: `
providers:
  claude:
    type: anthropic
`,
			want: "serves no models",
		},
		{
			name: "rate limit without budget",
			config: `
rate_limit:
  enabled: true
  requests_per_minute: 0
`,
			want: "rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.config))
			if err == nil {
				t.Error("expected error, got nil")
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("unexpected error: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Server.Port != 8080 {
		t.Errorf("unexpected default port: got %d, want %d", config.Server.Port, 8080)
	}
	if config.LLM.Provider != "openai" {
		t.Errorf("unexpected default provider: got %s, want %s", config.LLM.Provider, "openai")
	}
	if config.LLM.Seed != 42 {
		t.Errorf("unexpected default seed: got %d", config.LLM.Seed)
	}
	if config.Cache.TTL != 24*time.Hour {
		t.Errorf("unexpected default cache ttl: got %v", config.Cache.TTL)
	}
	if config.Logging.Level != "info" {
		t.Errorf("unexpected default log level: got %s, want %s", config.Logging.Level, "info")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}
