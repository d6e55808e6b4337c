package config

// ScoringConfig tunes how normalized results are produced.
type ScoringConfig struct {
	// MaxTextRunes truncates each feedback field to this many runes.
	// Zero keeps whatever the model returned.
	MaxTextRunes int `yaml:"max_text_runes"`
}

// ValidationConfig defines limits applied to incoming prompts before scoring
type ValidationConfig struct {
	// MaxPromptTokens rejects prompts longer than this many tokens (0 disables)
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// TokenizerModel selects the tiktoken encoding used for counting
	TokenizerModel string `yaml:"tokenizer_model"`
}
