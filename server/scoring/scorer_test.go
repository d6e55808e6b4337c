package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/promptscore/server/cache"
	"github.com/teilomillet/promptscore/server/metrics"
)

const fullReply = `{
  "clarity": 81, "specificity": 62.5, "constraints": 140, "intent": -3,
  "safety": 97, "evaluability": 55, "overall": 70,
  "comment_en": "Good.", "improved_prompt_en": "Better prompt.",
  "comment_ja": "良い。", "improved_prompt_ja": "より良いプロンプト。",
  "comment_fr": "Bien.", "improved_prompt_fr": "Meilleure invite."
}`

func newTestScorer(t *testing.T, stub *stubCompleter, withCache bool) (*Scorer, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	b, err := NewBuilder(CurrentSchema)
	require.NoError(t, err)

	opts := Options{
		Builder:      b,
		Invoker:      NewInvoker(stub, DefaultInvokerConfig(), zaptest.NewLogger(t), m),
		DefaultModel: "gpt-5-mini",
		Logger:       zaptest.NewLogger(t),
		Metrics:      m,
	}
	if withCache {
		opts.Cache = cache.New[CachedEvaluation](cache.Options{TTL: 24 * time.Hour, MaxEntries: 1000, Metrics: m})
	}
	s, err := NewScorer(opts)
	require.NoError(t, err)
	return s, m
}

func TestScoreFreshResult(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{{text: fullReply, usage: Usage{300, 120, 420}}}}
	s, m := newTestScorer(t, stub, true)

	out, err := s.Score(context.Background(), "write a haiku", English, "")
	require.NoError(t, err)

	assert.False(t, out.CacheHit)
	assert.Equal(t, "gpt-5-mini", out.Model)
	assert.Equal(t, Usage{300, 120, 420}, out.Usage)
	assert.Equal(t, map[Metric]int{
		Clarity: 81, Specificity: 63, Constraints: 100, Intent: 0, Safety: 97, Evaluability: 55,
	}, out.Result.Metrics)
	assert.Equal(t, 70, out.Result.Overall)
	assert.Equal(t, Feedback{Comment: "Good.", ImprovedPrompt: "Better prompt."}, out.Result.Feedback[English])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoresTotal.WithLabelValues("ok", "en")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("gpt-5-mini", "input")))
}

func TestScoreClearsOtherLanguages(t *testing.T) {
	for _, lang := range CurrentSchema.Languages {
		t.Run(string(lang), func(t *testing.T) {
			stub := &stubCompleter{replies: []stubReply{{text: fullReply}}}
			s, _ := newTestScorer(t, stub, true)

			out, err := s.Score(context.Background(), "p", lang, "")
			require.NoError(t, err)

			populated := 0
			for l, fb := range out.Result.Feedback {
				if l != lang {
					assert.Equal(t, Feedback{}, fb, l)
					continue
				}
				if fb != (Feedback{}) {
					populated++
				}
			}
			assert.Equal(t, 1, populated)
		})
	}
}

func TestScoreCacheHit(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{{text: fullReply, usage: Usage{300, 120, 420}}}}
	s, m := newTestScorer(t, stub, true)
	ctx := context.Background()

	first, err := s.Score(ctx, "write a haiku", English, "gpt-5-mini")
	require.NoError(t, err)
	second, err := s.Score(ctx, "write a haiku", English, "gpt-5-mini")
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, Usage{}, second.Usage)
	assert.Equal(t, first.Result, second.Result)
	assert.Len(t, stub.calls(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
}

func TestScoreCacheIsPerLanguageAndModel(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{{text: fullReply}}}
	s, _ := newTestScorer(t, stub, true)
	ctx := context.Background()

	_, err := s.Score(ctx, "p", English, "")
	require.NoError(t, err)
	out, err := s.Score(ctx, "p", Japanese, "")
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	out, err = s.Score(ctx, "p", English, "gpt-4.1-mini")
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, "gpt-4.1-mini", out.Model)

	assert.Len(t, stub.calls(), 3)
}

func TestScoreCachedEntryStillClearsLanguages(t *testing.T) {
	// The cache holds the parsed reply with every language, so a hit must
	// be restricted again.
	stub := &stubCompleter{replies: []stubReply{{text: fullReply}}}
	s, _ := newTestScorer(t, stub, true)
	ctx := context.Background()

	_, err := s.Score(ctx, "p", French, "")
	require.NoError(t, err)
	out, err := s.Score(ctx, "p", French, "")
	require.NoError(t, err)
	require.True(t, out.CacheHit)
	assert.Equal(t, Feedback{}, out.Result.Feedback[English])
	assert.Equal(t, Feedback{}, out.Result.Feedback[Japanese])
	assert.Equal(t, "Bien.", out.Result.Feedback[French].Comment)
}

func TestScoreWithoutCache(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{{text: fullReply}}}
	s, _ := newTestScorer(t, stub, false)

	for i := 0; i < 2; i++ {
		out, err := s.Score(context.Background(), "p", English, "")
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
	}
	assert.Len(t, stub.calls(), 2)
}

func TestScoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		replies []stubReply
		label   string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "malformed",
			replies: []stubReply{{text: "I refuse to answer in JSON."}},
			label:   "malformed",
			check: func(t *testing.T, err error) {
				var malformed *MalformedResponseError
				require.ErrorAs(t, err, &malformed)
				assert.Equal(t, "I refuse to answer in JSON.", malformed.Raw)
			},
		},
		{
			name:    "empty",
			replies: []stubReply{{text: ""}, {text: " "}},
			label:   "empty",
			check: func(t *testing.T, err error) {
				var empty *EmptyResponseError
				require.ErrorAs(t, err, &empty)
				assert.Equal(t, "gpt-5-mini", empty.Model)
			},
		},
		{
			name:    "upstream",
			replies: []stubReply{{err: errors.New("401 unauthorized")}},
			label:   "upstream",
			check: func(t *testing.T, err error) {
				var upstream *UpstreamError
				require.ErrorAs(t, err, &upstream)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCompleter{replies: tt.replies}
			s, m := newTestScorer(t, stub, true)

			_, err := s.Score(context.Background(), "p", English, "")
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoresTotal.WithLabelValues(tt.label, "en")))

			// Failures are not cached
			calls := len(stub.calls())
			_, err = s.Score(context.Background(), "p", English, "")
			require.Error(t, err)
			assert.Greater(t, len(stub.calls()), calls)
		})
	}
}

func TestScoreShapeIsStable(t *testing.T) {
	replies := []string{fullReply, `{"clarity": 10}`, `{"overall": "n/a", "comment_en": 5}`}
	var shapes [][]string
	for _, r := range replies {
		stub := &stubCompleter{replies: []stubReply{{text: r}}}
		s, _ := newTestScorer(t, stub, false)
		out, err := s.Score(context.Background(), "p", English, "")
		require.NoError(t, err)

		b, err := json.Marshal(out.Result)
		require.NoError(t, err)
		var generic map[string]any
		require.NoError(t, json.Unmarshal(b, &generic))

		var keys []string
		for k := range generic {
			keys = append(keys, k)
		}
		for m := range out.Result.Metrics {
			keys = append(keys, "metric:"+string(m))
		}
		for l := range out.Result.Feedback {
			keys = append(keys, "lang:"+string(l))
		}
		sort.Strings(keys)
		shapes = append(shapes, keys)
	}
	assert.Equal(t, shapes[0], shapes[1])
	assert.Equal(t, shapes[0], shapes[2])
}

func TestScoreUnsupportedLanguage(t *testing.T) {
	s, _ := newTestScorer(t, &stubCompleter{}, true)
	_, err := s.Score(context.Background(), "p", Language("de"), "")
	assert.Error(t, err)
}

func TestNewScorerRequiresCollaborators(t *testing.T) {
	_, err := NewScorer(Options{})
	assert.Error(t, err)
}
