package scoring

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/teilomillet/promptscore/server/metrics"
)

// Usage counts the tokens of one or more upstream calls.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// CompletionRequest is a single call to a completion backend. Nil or empty
// optional fields are omitted from the upstream request.
type CompletionRequest struct {
	Model           string
	System          string
	User            string
	MaxTokens       int64
	Temperature     *float64
	ReasoningEffort string
	Verbosity       string
	Seed            *int64
	JSONOutput      bool
}

// without returns a copy of r with the named parameter removed.
func (r CompletionRequest) without(param string) (CompletionRequest, bool) {
	switch param {
	case ParamTemperature:
		if r.Temperature == nil {
			return r, false
		}
		r.Temperature = nil
	case ParamReasoningEffort:
		if r.ReasoningEffort == "" {
			return r, false
		}
		r.ReasoningEffort = ""
	case ParamVerbosity:
		if r.Verbosity == "" {
			return r, false
		}
		r.Verbosity = ""
	case ParamSeed:
		if r.Seed == nil {
			return r, false
		}
		r.Seed = nil
	case ParamResponseFormat:
		if !r.JSONOutput {
			return r, false
		}
		r.JSONOutput = false
	default:
		return r, false
	}
	return r, true
}

// Completion is the text and token usage returned by a backend.
type Completion struct {
	Text  string
	Usage Usage
}

// Completer is a remote text-completion capability. Implementations
// return *ParamRejectedError when the upstream refuses a parameter.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// InvokerConfig holds the parameter adaptation rules.
type InvokerConfig struct {
	ReasoningPrefixes           []string
	ReasoningEffort             string
	MaxCompletionTokens         int64
	MaxCompletionTokensCap      int64
	StandardMaxCompletionTokens int64
	Temperature                 float64
	Seed                        int64
	Verbosity                   string
}

// DefaultInvokerConfig mirrors the configuration defaults.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		ReasoningPrefixes:           []string{"gpt-5", "o1", "o3", "o4"},
		ReasoningEffort:             "low",
		MaxCompletionTokens:         1200,
		MaxCompletionTokensCap:      4000,
		StandardMaxCompletionTokens: 800,
		Temperature:                 0,
		Seed:                        42,
		Verbosity:                   "low",
	}
}

var effortLadder = []string{"minimal", "low", "medium", "high"}

// escalateEffort returns the next effort level, saturating at "high".
func escalateEffort(effort string) string {
	for i, e := range effortLadder {
		if e == effort && i+1 < len(effortLadder) {
			return effortLadder[i+1]
		}
	}
	return "high"
}

// Invoker calls a Completer with model-specific parameters and the bounded
// retry policy: one retry without a rejected parameter, and one escalation
// retry when the text comes back empty.
type Invoker struct {
	completer Completer
	cfg       InvokerConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewInvoker creates an Invoker. m may be nil.
func NewInvoker(completer Completer, cfg InvokerConfig, logger *zap.Logger, m *metrics.Metrics) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{completer: completer, cfg: cfg, logger: logger, metrics: m}
}

// IsReasoningModel reports whether model belongs to a reasoning family.
func (inv *Invoker) IsReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range inv.cfg.ReasoningPrefixes {
		if strings.HasPrefix(m, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Request builds the first-attempt request for model.
func (inv *Invoker) Request(p Payload, model string) CompletionRequest {
	seed := inv.cfg.Seed
	req := CompletionRequest{
		Model:      model,
		System:     p.System,
		User:       p.User,
		Seed:       &seed,
		JSONOutput: true,
	}
	if inv.IsReasoningModel(model) {
		req.ReasoningEffort = inv.cfg.ReasoningEffort
		req.Verbosity = inv.cfg.Verbosity
		req.MaxTokens = min(inv.cfg.MaxCompletionTokens, inv.cfg.MaxCompletionTokensCap)
	} else {
		temp := inv.cfg.Temperature
		req.Temperature = &temp
		req.MaxTokens = min(inv.cfg.StandardMaxCompletionTokens, inv.cfg.MaxCompletionTokensCap)
	}
	return req
}

// Invoke returns the model's raw text and the usage of every attempt.
func (inv *Invoker) Invoke(ctx context.Context, p Payload, model string) (string, Usage, error) {
	req := inv.Request(p, model)
	logger := inv.logger.With(zap.String("model", model))

	var usage Usage
	comp, err := inv.call(ctx, logger, &req)
	usage = usage.Add(comp.Usage)
	if err != nil {
		return "", usage, err
	}
	if strings.TrimSpace(comp.Text) != "" {
		return comp.Text, usage, nil
	}

	// Empty output usually means the cap was spent on reasoning
	retry := req
	retry.MaxTokens = min(req.MaxTokens*2, inv.cfg.MaxCompletionTokensCap)
	if retry.ReasoningEffort != "" {
		retry.ReasoningEffort = escalateEffort(retry.ReasoningEffort)
	}
	inv.countRetry("empty_output")
	logger.Warn("Empty completion, retrying with a larger budget",
		zap.Int64("max_tokens", retry.MaxTokens),
		zap.String("reasoning_effort", retry.ReasoningEffort))

	comp, err = inv.call(ctx, logger, &retry)
	usage = usage.Add(comp.Usage)
	if err != nil {
		return "", usage, err
	}
	if strings.TrimSpace(comp.Text) == "" {
		return "", usage, &EmptyResponseError{Model: model, Attempts: 2}
	}
	return comp.Text, usage, nil
}

// call performs one attempt, retrying once with a rejected parameter
// removed. On success *req reflects the parameters that were accepted.
func (inv *Invoker) call(ctx context.Context, logger *zap.Logger, req *CompletionRequest) (Completion, error) {
	comp, err := inv.completer.Complete(ctx, *req)
	if err == nil {
		return comp, nil
	}

	var rejected *ParamRejectedError
	if !errors.As(err, &rejected) {
		return comp, wrapUpstream(req.Model, err)
	}
	stripped, ok := req.without(rejected.Param)
	if !ok {
		return comp, wrapUpstream(req.Model, err)
	}

	inv.countRetry("param_rejected")
	logger.Info("Upstream rejected parameter, retrying without it",
		zap.String("param", rejected.Param))

	comp2, err := inv.completer.Complete(ctx, stripped)
	comp2.Usage = comp2.Usage.Add(comp.Usage)
	if err != nil {
		return comp2, wrapUpstream(req.Model, err)
	}
	*req = stripped
	return comp2, nil
}

func (inv *Invoker) countRetry(reason string) {
	if inv.metrics != nil {
		inv.metrics.RetriesTotal.WithLabelValues(reason).Inc()
	}
}

func wrapUpstream(model string, err error) error {
	var up *UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &UpstreamError{Model: model, Err: err}
}
