package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/teilomillet/promptscore/server/scoring"
)

// GeminiConfig configures a Gemini API backend.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini is a scoring.Completer backed by the Gemini generateContent API.
type Gemini struct {
	client *genai.Client
}

var _ scoring.Completer = (*Gemini)(nil)

// thinkingBudgets maps reasoning effort to a Gemini thinking token budget.
var thinkingBudgets = map[string]int32{
	"minimal": 0,
	"low":     512,
	"medium":  2048,
	"high":    8192,
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Complete sends the rubric as system instruction and the framed prompt
// as the single user turn.
func (g *Gemini) Complete(ctx context.Context, req scoring.CompletionRequest) (scoring.Completion, error) {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.System}}},
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.Seed != nil {
		gc.Seed = genai.Ptr(int32(*req.Seed))
	}
	if req.JSONOutput {
		gc.ResponseMIMEType = "application/json"
	}
	if budget, ok := thinkingBudgets[req.ReasoningEffort]; ok {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: req.User}},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, gc)
	if err != nil {
		return scoring.Completion{}, classifyGeminiError(err)
	}

	var out scoring.Completion
	if u := resp.UsageMetadata; u != nil {
		out.Usage = scoring.Usage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
			TotalTokens:  int64(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var b strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		out.Text = b.String()
	}
	return out, nil
}

func classifyGeminiError(err error) error {
	var code int
	var msg string
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, msg = apiErr.Code, apiErr.Message
	case errors.As(err, &apiErrPtr):
		code, msg = apiErrPtr.Code, apiErrPtr.Message
	default:
		return err
	}
	if code != http.StatusBadRequest {
		return err
	}

	msg = strings.ToLower(msg)
	fields := []struct{ field, param string }{
		{"thinking", scoring.ParamReasoningEffort},
		{"temperature", scoring.ParamTemperature},
		{"seed", scoring.ParamSeed},
		{"response_mime_type", scoring.ParamResponseFormat},
		{"responsemimetype", scoring.ParamResponseFormat},
	}
	for _, f := range fields {
		if strings.Contains(msg, f.field) {
			return &scoring.ParamRejectedError{Param: f.param, Err: err}
		}
	}
	return err
}
