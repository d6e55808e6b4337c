package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/teilomillet/gollm"

	"github.com/teilomillet/promptscore/server/scoring"
)

// TokenCounter estimates the token count of text. Backends whose client
// does not report usage rely on it.
type TokenCounter interface {
	Count(text string) int
}

// GollmOptions are the generation options a gollm client is built with.
// gollm applies options per client, so each distinct set gets its own.
type GollmOptions struct {
	MaxTokens   int64
	Temperature *float64
	Seed        *int64
}

func (o GollmOptions) key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "max=%d", o.MaxTokens)
	if o.Temperature != nil {
		fmt.Fprintf(&b, ",temp=%g", *o.Temperature)
	}
	if o.Seed != nil {
		fmt.Fprintf(&b, ",seed=%d", *o.Seed)
	}
	return b.String()
}

// GollmFactory builds a client for model with the given options.
type GollmFactory func(model string, opts GollmOptions) (gollm.LLM, error)

// GollmConfig configures a gollm-backed completer.
type GollmConfig struct {
	Provider string // gollm provider name: anthropic, groq, mistral, ollama, ...
	APIKey   string
	BaseURL  string // Ollama endpoint override
}

// NewGollmFactory returns a factory creating real gollm clients.
func NewGollmFactory(cfg GollmConfig) GollmFactory {
	return func(model string, opts GollmOptions) (gollm.LLM, error) {
		llm, err := gollm.NewLLM(
			gollm.SetProvider(cfg.Provider),
			gollm.SetModel(model),
			gollm.SetAPIKey(cfg.APIKey),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s client: %w", cfg.Provider, err)
		}
		if cfg.BaseURL != "" && cfg.Provider == "ollama" {
			if err := llm.SetOllamaEndpoint(cfg.BaseURL); err != nil {
				return nil, fmt.Errorf("failed to set ollama endpoint: %w", err)
			}
		}
		ApplyGollmOptions(llm, opts)
		return llm, nil
	}
}

// ApplyGollmOptions sets the generation options on an existing client.
func ApplyGollmOptions(llm gollm.LLM, opts GollmOptions) {
	if opts.MaxTokens > 0 {
		llm.SetOption("max_tokens", int(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		llm.SetOption("temperature", *opts.Temperature)
	}
	if opts.Seed != nil {
		llm.SetOption("seed", int(*opts.Seed))
	}
}

// Gollm is a scoring.Completer for any provider gollm supports. gollm does
// not surface token usage, so usage is estimated with the TokenCounter.
type Gollm struct {
	factory GollmFactory
	counter TokenCounter

	mu      sync.Mutex
	clients map[string]gollm.LLM
}

var _ scoring.Completer = (*Gollm)(nil)

// NewGollm creates a gollm backend. counter may be nil, in which case
// usage is reported as zero.
func NewGollm(factory GollmFactory, counter TokenCounter) *Gollm {
	return &Gollm{
		factory: factory,
		counter: counter,
		clients: make(map[string]gollm.LLM),
	}
}

func (g *Gollm) client(model string, opts GollmOptions) (gollm.LLM, error) {
	key := model + "|" + opts.key()

	g.mu.Lock()
	defer g.mu.Unlock()
	if llm, ok := g.clients[key]; ok {
		return llm, nil
	}
	llm, err := g.factory(model, opts)
	if err != nil {
		return nil, err
	}
	g.clients[key] = llm
	return llm, nil
}

// Complete sends req as a system and user message pair. Reasoning effort,
// verbosity and the JSON response format have no gollm equivalent; the
// rubric already demands a bare JSON object.
func (g *Gollm) Complete(ctx context.Context, req scoring.CompletionRequest) (scoring.Completion, error) {
	llm, err := g.client(req.Model, GollmOptions{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Seed:        req.Seed,
	})
	if err != nil {
		return scoring.Completion{}, err
	}

	prompt := &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	text, err := llm.Generate(ctx, prompt)
	if err != nil {
		return scoring.Completion{}, classifyGollmError(err)
	}

	out := scoring.Completion{Text: text}
	if g.counter != nil {
		in := int64(g.counter.Count(req.System) + g.counter.Count(req.User))
		outTokens := int64(g.counter.Count(text))
		out.Usage = scoring.Usage{InputTokens: in, OutputTokens: outTokens, TotalTokens: in + outTokens}
	}
	return out, nil
}

// classifyGollmError recognizes provider 400s that name a parameter.
// gollm flattens provider errors into text, so matching is textual.
func classifyGollmError(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "400") && !strings.Contains(msg, "invalid_request") && !strings.Contains(msg, "unsupported") {
		return err
	}
	for _, p := range []string{scoring.ParamTemperature, scoring.ParamSeed} {
		if strings.Contains(msg, p) {
			return &scoring.ParamRejectedError{Param: p, Err: err}
		}
	}
	return err
}
