package scoring

import (
	"context"
	"sync"
)

// stubCompleter replays scripted replies and records every request.
type stubCompleter struct {
	mu       sync.Mutex
	replies  []stubReply
	requests []CompletionRequest
}

type stubReply struct {
	text  string
	usage Usage
	err   error
}

func (s *stubCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if len(s.replies) == 0 {
		return Completion{}, nil
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return Completion{Text: r.text, Usage: r.usage}, r.err
}

func (s *stubCompleter) calls() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompletionRequest(nil), s.requests...)
}
