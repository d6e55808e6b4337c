package validation

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// fallbackEncoding is used when the configured model has no known encoding.
const fallbackEncoding = "cl100k_base"

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	CountTokens(text string) int
}

// tiktokenWrapper wraps tiktoken to implement our Tokenizer interface
type tiktokenWrapper struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenWrapper) CountTokens(text string) int {
	return len(t.Encode(text, nil, nil))
}

// runeEstimate approximates four runes per token. It backs the counter when
// no tiktoken encoding could be loaded.
type runeEstimate struct{}

func (runeEstimate) CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// TokenCounter counts prompt tokens with tiktoken. The encoding is loaded
// on first use since tiktoken may fetch its ranks over the network.
type TokenCounter struct {
	model  string
	logger *zap.Logger

	once      sync.Once
	tokenizer Tokenizer
}

// NewTokenCounter creates a counter using the encoding of model.
func NewTokenCounter(model string, logger *zap.Logger) *TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCounter{model: model, logger: logger}
}

// NewTokenCounterWithTokenizer creates a counter over an existing tokenizer.
func NewTokenCounterWithTokenizer(t Tokenizer) *TokenCounter {
	tc := &TokenCounter{tokenizer: t, logger: zap.NewNop()}
	tc.once.Do(func() {})
	return tc
}

func (tc *TokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(tc.model)
	if err == nil {
		tc.tokenizer = &tiktokenWrapper{enc}
		return
	}
	tc.logger.Debug("No encoding for model, using fallback",
		zap.String("model", tc.model),
		zap.String("encoding", fallbackEncoding),
		zap.Error(err))

	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err == nil {
		tc.tokenizer = &tiktokenWrapper{enc}
		return
	}
	tc.logger.Warn("Failed to load tiktoken encoding, estimating tokens from rune count", zap.Error(err))
	tc.tokenizer = runeEstimate{}
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	tc.once.Do(tc.load)
	return tc.tokenizer.CountTokens(text)
}
