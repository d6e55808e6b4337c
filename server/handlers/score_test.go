package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/promptscore/server/cache"
	"github.com/teilomillet/promptscore/server/handlers"
	"github.com/teilomillet/promptscore/server/middleware"
	"github.com/teilomillet/promptscore/server/mocks"
	"github.com/teilomillet/promptscore/server/scoring"
	"github.com/teilomillet/promptscore/server/validation"
)

const reply = `Sure! {"clarity": 80, "specificity": 61.5, "constraints": 40, "intent": 90,
"safety": 100, "evaluability": 30, "overall": 66,
"comment_en": "Add an output format.", "improved_prompt_en": "Write a haiku about autumn. Output three lines.",
"comment_ja": "出力形式を追加してください。", "improved_prompt_ja": "秋の俳句を書いてください。"}`

type models []string

func (m models) Supports(model string) bool {
	for _, s := range m {
		if s == model {
			return true
		}
	}
	return false
}

func (m models) DefaultModel() string { return m[0] }

func newHandler(t *testing.T, completer scoring.Completer) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)

	b, err := scoring.NewBuilder(scoring.CurrentSchema)
	require.NoError(t, err)
	s, err := scoring.NewScorer(scoring.Options{
		Builder:      b,
		Invoker:      scoring.NewInvoker(completer, scoring.DefaultInvokerConfig(), logger, nil),
		Cache:        cache.New[scoring.CachedEvaluation](cache.Options{TTL: time.Hour, MaxEntries: 10}),
		DefaultModel: "gpt-5-mini",
		Logger:       logger,
	})
	require.NoError(t, err)

	v := validation.New(validation.Options{
		Schema: scoring.CurrentSchema,
		Models: models{"gpt-5-mini", "gpt-4.1-mini"},
	})
	return middleware.RequestID(v.Middleware(handlers.NewScoreHandler(s, logger)))
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/score", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScoreHandler(t *testing.T) {
	completer := mocks.NewMockCompleter(reply, scoring.Usage{InputTokens: 900, OutputTokens: 150, TotalTokens: 1050})
	h := newHandler(t, completer)

	rec := post(h, `{"prompt": "write a haiku", "lang": "ja"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gpt-5-mini", rec.Header().Get(handlers.HeaderModel))
	assert.Equal(t, "900", rec.Header().Get(handlers.HeaderInputTokens))
	assert.Equal(t, "150", rec.Header().Get(handlers.HeaderOutputTokens))
	assert.Equal(t, "1050", rec.Header().Get(handlers.HeaderTotalTokens))
	assert.Equal(t, "MISS", rec.Header().Get(handlers.HeaderCache))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		"clarity", "comment_en", "comment_fr", "comment_ja", "constraints", "evaluability",
		"improved_prompt_en", "improved_prompt_fr", "improved_prompt_ja", "intent", "overall",
		"safety", "specificity",
	}, keys)

	assert.Equal(t, 80.0, body["clarity"])
	assert.Equal(t, 62.0, body["specificity"])
	assert.Equal(t, 66.0, body["overall"])
	assert.Equal(t, "出力形式を追加してください。", body["comment_ja"])
	assert.Equal(t, "秋の俳句を書いてください。", body["improved_prompt_ja"])
	assert.Equal(t, "", body["comment_en"])
	assert.Equal(t, "", body["improved_prompt_en"])
	assert.Equal(t, "", body["comment_fr"])

	// Identical request is served from the cache with zero usage
	rec = post(h, `{"prompt": "write a haiku", "lang": "ja"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get(handlers.HeaderCache))
	assert.Equal(t, "0", rec.Header().Get(handlers.HeaderTotalTokens))
	assert.Len(t, completer.Requests(), 1)

	// A different language is a different cache entry
	rec = post(h, `{"prompt": "write a haiku"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(handlers.HeaderCache))
	var en map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&en))
	assert.Equal(t, "Add an output format.", en["comment_en"])
	assert.Equal(t, "", en["comment_ja"])
}

func TestScoreHandlerSelectsModel(t *testing.T) {
	completer := mocks.NewMockCompleter(reply, scoring.Usage{})
	h := newHandler(t, completer)

	rec := post(h, `{"prompt": "write a haiku", "model": "gpt-4.1-mini"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gpt-4.1-mini", rec.Header().Get(handlers.HeaderModel))

	reqs := completer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4.1-mini", reqs[0].Model)
}

func TestScoreHandlerFailures(t *testing.T) {
	tests := []struct {
		name        string
		completer   scoring.Completer
		wantInError string
	}{
		{
			name: "upstream failure",
			completer: &mocks.MockCompleter{
				CompleteFunc: func(context.Context, scoring.CompletionRequest) (scoring.Completion, error) {
					return scoring.Completion{}, errors.New("401 invalid api key")
				},
			},
			wantInError: "invalid api key",
		},
		{
			name:        "empty output",
			completer:   mocks.NewMockCompleter("  ", scoring.Usage{}),
			wantInError: "empty",
		},
		{
			name:        "malformed output",
			completer:   mocks.NewMockCompleter("I cannot evaluate this prompt.", scoring.Usage{}),
			wantInError: "malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(newHandler(t, tt.completer), `{"prompt": "write a haiku"}`)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Empty(t, rec.Header().Get(handlers.HeaderCache))

			var body struct {
				Type      string         `json:"type"`
				Message   string         `json:"message"`
				RequestID string         `json:"request_id"`
				Details   map[string]any `json:"details"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "scoring_error", body.Type)
			assert.Equal(t, "Failed to score prompt via LLM", body.Message)
			assert.NotEmpty(t, body.RequestID)
			assert.Contains(t, body.Details["error"], tt.wantInError)
		})
	}
}

func TestScoreHandlerRejectsBeforeScoring(t *testing.T) {
	completer := mocks.NewMockCompleter(reply, scoring.Usage{})
	h := newHandler(t, completer)

	for _, body := range []string{
		`{"prompt": ""}`,
		`{"prompt": "hi", "lang": "es"}`,
		`{"prompt": "hi", "model": "gpt-2"}`,
		`not json`,
	} {
		rec := post(h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, completer.Requests())
}

func TestScoreHandlerRequiresValidation(t *testing.T) {
	completer := mocks.NewMockCompleter(reply, scoring.Usage{})
	b, err := scoring.NewBuilder(scoring.CurrentSchema)
	require.NoError(t, err)
	s, err := scoring.NewScorer(scoring.Options{
		Builder:      b,
		Invoker:      scoring.NewInvoker(completer, scoring.DefaultInvokerConfig(), nil, nil),
		DefaultModel: "gpt-5-mini",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handlers.NewScoreHandler(s, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/score", strings.NewReader(`{"prompt":"x"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, completer.Requests())
}

func TestResponseBodyFillsOlderResults(t *testing.T) {
	old := scoring.Normalizer{}.Normalize(map[string]any{"clarity": 50, "overall": 40, "comment_en": "ok"}, scoring.SchemaV1)

	body := handlers.ResponseBody(old, scoring.CurrentSchema)
	assert.Equal(t, 0, body["evaluability"])
	assert.Equal(t, 50, body["clarity"])
	assert.Equal(t, "", body["comment_fr"])
	assert.Equal(t, "ok", body["comment_en"])
	assert.Len(t, body, 13)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handlers.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
