package circuitbreaker

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is matched by every rejection from an open breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// OpenError reports a call rejected without reaching the backend.
type OpenError struct {
	Name string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Name, e.Err)
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

func (e *OpenError) Unwrap() error { return e.Err }
