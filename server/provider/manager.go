// Package provider implements the completion backends and the Manager
// routing each model identifier to the backend that serves it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/teilomillet/promptscore/config"
	"github.com/teilomillet/promptscore/server/circuitbreaker"
	"github.com/teilomillet/promptscore/server/metrics"
	"github.com/teilomillet/promptscore/server/scoring"
)

// Backend is a named completer and the models it serves.
type Backend struct {
	Name      string
	Completer scoring.Completer
	Models    []string
}

type route struct {
	backend string
	comp    scoring.Completer
	breaker *circuitbreaker.CircuitBreaker
}

// Manager routes completion requests by model and guards every backend
// with a circuit breaker. It implements scoring.Completer.
type Manager struct {
	routes       map[string]route
	breakers     map[string]*circuitbreaker.CircuitBreaker
	defaultModel string
	logger       *zap.Logger
}

var _ scoring.Completer = (*Manager)(nil)

// NewManager builds the backends described by cfg: the primary backend of
// the llm section plus every entry under providers. counter estimates
// usage for backends that report none and may be nil.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, counter TokenCounter) (*Manager, error) {
	primary, err := newBackend(ctx, cfg.LLM.Provider, cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg, counter)
	if err != nil {
		return nil, err
	}
	primary.Models = append([]string{cfg.LLM.Model}, cfg.LLM.Models...)
	backends := []Backend{primary}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := cfg.Providers[name]
		b, err := newBackend(ctx, name, pc.Type, pc.APIKey, pc.BaseURL, cfg, counter)
		if err != nil {
			return nil, err
		}
		b.Models = pc.Models
		backends = append(backends, b)
	}

	return NewManagerWithBackends(cfg.LLM.Model, backends, BreakerConfig(cfg.CircuitBreaker), logger, m)
}

// BreakerConfig converts the configuration section into breaker settings.
// Parameter rejections and caller cancellations do not count as failures.
func BreakerConfig(c config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		MaxRequests:      c.MaxRequests,
		Interval:         c.Interval,
		Timeout:          c.Timeout,
		FailureThreshold: c.FailureThreshold,
		IsSuccessful: func(err error) bool {
			var rejected *scoring.ParamRejectedError
			return err == nil ||
				errors.As(err, &rejected) ||
				errors.Is(err, context.Canceled)
		},
	}
}

func newBackend(ctx context.Context, name, kind, apiKey, baseURL string, cfg *config.Config, counter TokenCounter) (Backend, error) {
	switch kind {
	case "openai":
		return Backend{Name: name, Completer: NewOpenAI(OpenAIConfig{
			APIKey:         apiKey,
			BaseURL:        baseURL,
			MaxRetries:     cfg.LLM.MaxRetries,
			RequestTimeout: cfg.LLM.RequestTimeout,
		})}, nil
	case "gemini":
		g, err := NewGemini(ctx, GeminiConfig{APIKey: apiKey, BaseURL: baseURL})
		if err != nil {
			return Backend{}, fmt.Errorf("backend %s: %w", name, err)
		}
		return Backend{Name: name, Completer: g}, nil
	default:
		factory := NewGollmFactory(GollmConfig{Provider: kind, APIKey: apiKey, BaseURL: baseURL})
		return Backend{Name: name, Completer: NewGollm(factory, counter)}, nil
	}
}

// NewManagerWithBackends creates a manager over prebuilt backends.
// defaultModel must be served by one of them.
func NewManagerWithBackends(defaultModel string, backends []Backend, cb circuitbreaker.Config, logger *zap.Logger, m *metrics.Metrics) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mgr := &Manager{
		routes:       make(map[string]route),
		breakers:     make(map[string]*circuitbreaker.CircuitBreaker),
		defaultModel: defaultModel,
		logger:       logger,
	}

	for _, b := range backends {
		if b.Completer == nil {
			return nil, fmt.Errorf("backend %s has no completer", b.Name)
		}
		breaker, ok := mgr.breakers[b.Name]
		if !ok {
			breaker = circuitbreaker.NewCircuitBreaker(b.Name, cb, logger.With(zap.String("backend", b.Name)), m)
			mgr.breakers[b.Name] = breaker
		}
		for _, model := range b.Models {
			if prev, dup := mgr.routes[model]; dup {
				return nil, fmt.Errorf("%w: %s (%s, %s)", ErrDuplicateModel, model, prev.backend, b.Name)
			}
			mgr.routes[model] = route{backend: b.Name, comp: b.Completer, breaker: breaker}
		}
	}

	if _, ok := mgr.routes[defaultModel]; !ok {
		return nil, fmt.Errorf("%w: default model %s", ErrUnknownModel, defaultModel)
	}

	logger.Info("Completion backends ready",
		zap.String("default_model", defaultModel),
		zap.Strings("models", mgr.Models()))
	return mgr, nil
}

// Complete routes req to the backend serving req.Model.
func (m *Manager) Complete(ctx context.Context, req scoring.CompletionRequest) (scoring.Completion, error) {
	r, ok := m.routes[req.Model]
	if !ok {
		return scoring.Completion{}, &scoring.UpstreamError{Model: req.Model, Err: ErrUnknownModel}
	}

	var out scoring.Completion
	err := r.breaker.Execute(func() error {
		var err error
		out, err = r.comp.Complete(ctx, req)
		return err
	})
	if err != nil {
		m.logger.Debug("Backend call failed",
			zap.String("backend", r.backend),
			zap.String("model", req.Model),
			zap.Error(err))
	}
	return out, err
}

// Supports reports whether some backend serves model.
func (m *Manager) Supports(model string) bool {
	_, ok := m.routes[model]
	return ok
}

// Models returns every served model identifier, sorted.
func (m *Manager) Models() []string {
	models := make([]string, 0, len(m.routes))
	for model := range m.routes {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// DefaultModel returns the model used when a request names none.
func (m *Manager) DefaultModel() string {
	return m.defaultModel
}

// BreakerState returns the breaker state of the named backend.
func (m *Manager) BreakerState(backend string) (circuitbreaker.State, bool) {
	b, ok := m.breakers[backend]
	if !ok {
		return circuitbreaker.StateClosed, false
	}
	return b.State(), true
}
