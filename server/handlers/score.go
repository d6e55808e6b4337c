// Package handlers provides the HTTP handlers of the scoring server.
//
// POST /score expects a body already decoded by validation.Middleware and
// answers either a fully normalized result or one generic scoring error.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/teilomillet/promptscore/errors"
	"github.com/teilomillet/promptscore/server/middleware"
	"github.com/teilomillet/promptscore/server/scoring"
	"github.com/teilomillet/promptscore/server/validation"
)

// Response headers describing how a score was produced.
const (
	HeaderModel        = "X-Model"
	HeaderInputTokens  = "X-Input-Tokens"
	HeaderOutputTokens = "X-Output-Tokens"
	HeaderTotalTokens  = "X-Total-Tokens"
	HeaderCache        = "X-Cache"
)

// Scorer is the scoring operation the handler serves.
type Scorer interface {
	Score(ctx context.Context, prompt string, lang scoring.Language, model string) (scoring.Outcome, error)
	Schema() scoring.Schema
}

// ScoreHandler serves POST /score.
type ScoreHandler struct {
	scorer Scorer
	logger *zap.Logger
}

// NewScoreHandler creates a handler scoring through s.
func NewScoreHandler(s Scorer, logger *zap.Logger) *ScoreHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreHandler{scorer: s, logger: logger}
}

func (h *ScoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	req, ok := validation.FromContext(r.Context())
	if !ok {
		serr := errors.NewInternalError(requestID, fmt.Errorf("score request reached the handler unvalidated"))
		errors.LogError(h.logger, serr, requestID)
		errors.WriteError(w, serr)
		return
	}

	out, err := h.scorer.Score(r.Context(), req.Prompt, req.Lang, req.Model)
	if err != nil {
		serr := errors.NewScoringError(requestID, err)
		errors.LogError(h.logger, serr, requestID)
		errors.WriteError(w, serr)
		return
	}

	hdr := w.Header()
	hdr.Set(HeaderModel, out.Model)
	hdr.Set(HeaderInputTokens, strconv.FormatInt(out.Usage.InputTokens, 10))
	hdr.Set(HeaderOutputTokens, strconv.FormatInt(out.Usage.OutputTokens, 10))
	hdr.Set(HeaderTotalTokens, strconv.FormatInt(out.Usage.TotalTokens, 10))
	if out.CacheHit {
		hdr.Set(HeaderCache, "HIT")
	} else {
		hdr.Set(HeaderCache, "MISS")
	}
	hdr.Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(ResponseBody(out.Result, h.scorer.Schema())); err != nil {
		h.logger.Error("Failed to encode score response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// ResponseBody flattens r into the wire shape of schema: one integer per
// metric, overall, and a comment and improved prompt field per language.
// Fields schema has but r lacks are zero.
func ResponseBody(r scoring.Result, schema scoring.Schema) map[string]any {
	body := make(map[string]any, len(schema.Metrics)+1+2*len(schema.Languages))
	for _, m := range schema.Metrics {
		body[string(m)] = r.Metrics[m]
	}
	body[scoring.OverallKey] = r.Overall
	for _, lang := range schema.Languages {
		fb := r.Feedback[lang]
		body[scoring.CommentKey(lang)] = fb.Comment
		body[scoring.ImprovedPromptKey(lang)] = fb.ImprovedPrompt
	}
	return body
}
