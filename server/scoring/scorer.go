package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/promptscore/server/cache"
	"github.com/teilomillet/promptscore/server/metrics"
)

// CachedEvaluation is what the result cache holds: the parsed response
// before normalization, tagged with the schema it was requested under.
type CachedEvaluation struct {
	Raw        map[string]any
	Usage      Usage
	Version    int
	Model      string
	InsertedAt time.Time
}

// Outcome is the result of one Score call.
type Outcome struct {
	Result   Result
	Usage    Usage
	CacheHit bool
	Model    string
}

// Options wires a Scorer. Cache and Metrics may be nil.
type Options struct {
	Builder      *Builder
	Invoker      *Invoker
	Normalizer   Normalizer
	Cache        *cache.Cache[CachedEvaluation]
	DefaultModel string
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Scorer composes request building, invocation, parsing, caching and
// normalization into a single operation.
type Scorer struct {
	builder      *Builder
	invoker      *Invoker
	normalizer   Normalizer
	cache        *cache.Cache[CachedEvaluation]
	defaultModel string
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewScorer validates opts and returns a Scorer.
func NewScorer(opts Options) (*Scorer, error) {
	if opts.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("default model is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		builder:      opts.Builder,
		invoker:      opts.Invoker,
		normalizer:   opts.Normalizer,
		cache:        opts.Cache,
		defaultModel: opts.DefaultModel,
		logger:       logger,
		metrics:      opts.Metrics,
	}, nil
}

// Schema returns the schema new results are produced under.
func (s *Scorer) Schema() Schema { return s.builder.Schema() }

// DefaultModel returns the model used when a call names none.
func (s *Scorer) DefaultModel() string { return s.defaultModel }

// Score evaluates prompt and returns feedback in lang only. An empty model
// selects the default model. Cache hits report zero usage.
func (s *Scorer) Score(ctx context.Context, prompt string, lang Language, model string) (Outcome, error) {
	start := time.Now()
	if model == "" {
		model = s.defaultModel
	}
	schema := s.builder.Schema()

	payload, err := s.builder.Build(prompt, lang)
	if err != nil {
		return Outcome{}, err
	}

	key := cache.Key(schema.Tag(), model, string(lang), prompt)
	logger := s.logger.With(
		zap.String("model", model),
		zap.String("lang", string(lang)),
		zap.Int("prompt_len", len(prompt)),
		zap.String("cache_key", key[:12]),
	)

	compute := func(ctx context.Context) (CachedEvaluation, error) {
		text, usage, err := s.invoker.Invoke(ctx, payload, model)
		if err != nil {
			return CachedEvaluation{}, err
		}
		s.countTokens(model, usage)
		raw, err := Parse(text)
		if err != nil {
			var empty *EmptyResponseError
			if errors.As(err, &empty) {
				empty.Model = model
			}
			return CachedEvaluation{}, err
		}
		return CachedEvaluation{
			Raw:        raw,
			Usage:      usage,
			Version:    schema.Version,
			Model:      model,
			InsertedAt: time.Now(),
		}, nil
	}

	var (
		entry CachedEvaluation
		hit   bool
	)
	if s.cache != nil {
		entry, hit, err = s.cache.GetOrCompute(ctx, key, compute)
	} else {
		entry, err = compute(ctx)
	}
	if err != nil {
		s.observe(classify(err), lang, hit, start)
		logger.Warn("Scoring failed", zap.Error(err))
		return Outcome{}, err
	}

	entrySchema, ok := SchemaForVersion(entry.Version)
	if !ok {
		entrySchema = schema
	}
	result := s.normalizer.Normalize(entry.Raw, entrySchema)
	result.RestrictTo(lang)

	if len(result.Missing) > 0 {
		logger.Debug("Model omitted required metrics", zap.Any("missing", result.Missing))
		if s.metrics != nil && !hit {
			for _, m := range result.Missing {
				s.metrics.MissingMetrics.WithLabelValues(string(m)).Inc()
			}
		}
	}

	out := Outcome{
		Result:   result,
		CacheHit: hit,
		Model:    entry.Model,
	}
	if !hit {
		out.Usage = entry.Usage
	}

	s.observe("ok", lang, hit, start)
	logger.Debug("Scored prompt",
		zap.Bool("cache_hit", hit),
		zap.Int("overall", result.Overall),
		zap.Int64("total_tokens", out.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// classify maps err to a metrics label.
func classify(err error) string {
	var (
		empty     *EmptyResponseError
		malformed *MalformedResponseError
		upstream  *UpstreamError
	)
	switch {
	case errors.As(err, &empty):
		return "empty"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &upstream):
		return "upstream"
	}
	return "error"
}

func (s *Scorer) observe(result string, lang Language, hit bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ScoresTotal.WithLabelValues(result, string(lang)).Inc()
	label := "miss"
	if hit {
		label = "hit"
	}
	s.metrics.ScoreDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (s *Scorer) countTokens(model string, u Usage) {
	if s.metrics == nil {
		return
	}
	s.metrics.TokensTotal.WithLabelValues(model, "input").Add(float64(u.InputTokens))
	s.metrics.TokensTotal.WithLabelValues(model, "output").Add(float64(u.OutputTokens))
}
