package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/promptscore/server/scoring"
)

// MockCompleter implements scoring.Completer. CompleteFunc decides each
// reply; every request is recorded.
type MockCompleter struct {
	CompleteFunc func(context.Context, scoring.CompletionRequest) (scoring.Completion, error)

	mu       sync.Mutex
	requests []scoring.CompletionRequest
}

var _ scoring.Completer = (*MockCompleter)(nil)

// NewMockCompleter returns a completer that always answers text with usage.
func NewMockCompleter(text string, usage scoring.Usage) *MockCompleter {
	return &MockCompleter{
		CompleteFunc: func(context.Context, scoring.CompletionRequest) (scoring.Completion, error) {
			return scoring.Completion{Text: text, Usage: usage}, nil
		},
	}
}

// Complete records req and delegates to CompleteFunc.
func (m *MockCompleter) Complete(ctx context.Context, req scoring.CompletionRequest) (scoring.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return scoring.Completion{}, err
	}
	if m.CompleteFunc == nil {
		return scoring.Completion{}, nil
	}
	return m.CompleteFunc(ctx, req)
}

// Requests returns every request seen so far.
func (m *MockCompleter) Requests() []scoring.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scoring.CompletionRequest(nil), m.requests...)
}
