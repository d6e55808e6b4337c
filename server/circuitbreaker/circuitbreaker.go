// Package circuitbreaker guards completion backends with sony/gobreaker,
// exporting breaker state as Prometheus gauges.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teilomillet/promptscore/server/metrics"
)

// State mirrors gobreaker's states: closed, half-open, open.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Config holds configuration for the circuit breaker
type Config struct {
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Cyclic period of the closed state for clearing counts
	Timeout          time.Duration // Period of the open state before half-open
	FailureThreshold uint32        // Consecutive failures that trip the circuit

	// IsSuccessful classifies errors that should not count as failures.
	// Defaults to err == nil.
	IsSuccessful func(err error) bool
}

// CircuitBreaker wraps a gobreaker.CircuitBreaker for one backend.
type CircuitBreaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCircuitBreaker creates a breaker named after the backend it guards.
// m may be nil.
func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger, m *metrics.Metrics) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	b := &CircuitBreaker{name: name, logger: logger, metrics: m}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			b.setGauge(to)
		},
		IsSuccessful: cfg.IsSuccessful,
	})
	b.setGauge(StateClosed)
	return b
}

// Execute runs fn unless the circuit is open. Rejections wrap ErrCircuitOpen.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if b.metrics != nil {
			b.metrics.BreakerRejected.WithLabelValues(b.name).Inc()
		}
		return &OpenError{Name: b.name, Err: err}
	}
	return err
}

// State returns the current state of the circuit breaker
func (b *CircuitBreaker) State() State {
	return b.cb.State()
}

// Name returns the guarded backend's name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

func (b *CircuitBreaker) setGauge(s State) {
	if b.metrics != nil {
		b.metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
	}
}
