package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestEnvironmentVariableExpansion tests various scenarios of environment variable expansion
func TestEnvironmentVariableExpansion(t *testing.T) {
	testCases := []struct {
		name       string
		envVars    map[string]string
		yamlConfig string
		validate   func(*testing.T, *Config)
		wantErr    bool
		errMsg     string
	}{
		{
			name: "basic env var expansion",
			envVars: map[string]string{
				"SCORE_API_KEY": "test-key-123",
			},
			yamlConfig: `
llm:
    provider: openai
    api_key: ${SCORE_API_KEY}
    model: gpt-4.1-mini`,
			validate: func(t *testing.T, c *Config) {
				if c.LLM.APIKey != "test-key-123" {
					t.Errorf("API key not expanded correctly, got %s, want test-key-123", c.LLM.APIKey)
				}
			},
		},
		{
			name: "default value syntax",
			yamlConfig: `
llm:
    provider: openai
    model: ${SCORE_MODEL:-gpt-5-mini}`,
			validate: func(t *testing.T, c *Config) {
				if c.LLM.Model != "gpt-5-mini" {
					t.Errorf("default not applied, got %s", c.LLM.Model)
				}
			},
		},
		{
			name: "multiple env vars in single value",
			envVars: map[string]string{
				"API_HOST":    "llm.internal",
				"API_VERSION": "v1",
			},
			yamlConfig: `
llm:
    provider: openai
    base_url: https://${API_HOST}/${API_VERSION}
    model: gpt-4.1-mini`,
			validate: func(t *testing.T, c *Config) {
				expected := "https://llm.internal/v1"
				if c.LLM.BaseURL != expected {
					t.Errorf("Multiple env vars not expanded correctly, got %s, want %s",
						c.LLM.BaseURL, expected)
				}
			},
		},
		{
			name: "provider key falls back to its conventional variable",
			envVars: map[string]string{
				"OPENAI_API_KEY": "from-env",
			},
			yamlConfig: `
llm:
    provider: openai
    model: gpt-4.1-mini`,
			validate: func(t *testing.T, c *Config) {
				if c.LLM.APIKey != "from-env" {
					t.Errorf("fallback key not applied, got %q", c.LLM.APIKey)
				}
			},
		},
		{
			name: "unterminated reference",
			yamlConfig: `
llm:
    api_key: ${BROKEN_KEY
`,
			wantErr: true,
			errMsg:  "unterminated",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			config, err := Load(strings.NewReader(tc.yamlConfig))

			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tc.errMsg)
				} else if !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("Expected error containing %q, got %v", tc.errMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			tc.validate(t, config)
		})
	}
}

// TestLoadFile loads a configuration file from disk
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "promptscore.yaml")
	content := `
llm:
    provider: gemini
    model: gemini-2.5-flash
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.LLM.Provider != "gemini" {
		t.Errorf("unexpected provider %s", config.LLM.Provider)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
