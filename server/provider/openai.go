package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/teilomillet/promptscore/server/scoring"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	MaxRetries     int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// OpenAI is a scoring.Completer backed by the chat completions API.
type OpenAI struct {
	client openai.Client
}

var _ scoring.Completer = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	var opts []openaiopt.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, openaiopt.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, openaiopt.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openaiopt.WithHTTPClient(cfg.HTTPClient))
	}
	opts = append(opts, openaiopt.WithMaxRetries(cfg.MaxRetries))

	return &OpenAI{client: openai.NewClient(opts...)}
}

// Complete sends req as a system and user message pair.
func (o *OpenAI) Complete(ctx context.Context, req scoring.CompletionRequest) (scoring.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}
	if req.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var opts []openaiopt.RequestOption
	if req.Verbosity != "" {
		opts = append(opts, openaiopt.WithJSONSet("verbosity", req.Verbosity))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return scoring.Completion{}, classifyOpenAIError(err)
	}

	out := scoring.Completion{
		Usage: scoring.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		out.Text = messageText(msg.Content, msg.JSON.Content.Raw())
	}
	return out, nil
}

// messageText returns the message content. Some compatible servers send
// content as an array of typed parts; only "text" parts are kept, in order.
func messageText(content, raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") {
		return content
	}

	var parts []struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return content
	}

	var b strings.Builder
	for _, p := range parts {
		if p.Type != "text" || len(p.Text) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(p.Text, &s); err == nil {
			b.WriteString(s)
			continue
		}
		var v struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(p.Text, &v); err == nil {
			b.WriteString(v.Value)
		}
	}
	return b.String()
}

// rejectableParams maps request body fields to CompletionRequest parameters.
var rejectableParams = []struct {
	field string
	param string
}{
	{"temperature", scoring.ParamTemperature},
	{"reasoning_effort", scoring.ParamReasoningEffort},
	{"verbosity", scoring.ParamVerbosity},
	{"seed", scoring.ParamSeed},
	{"response_format", scoring.ParamResponseFormat},
	{"max_completion_tokens", scoring.ParamMaxTokens},
}

// classifyOpenAIError turns a 400 naming a request parameter into a
// ParamRejectedError.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return err
	}
	text := strings.ToLower(apiErr.Param + " " + apiErr.Message + " " + apiErr.Error())
	for _, rp := range rejectableParams {
		if apiErr.Param == rp.field || strings.Contains(text, rp.field) {
			return &scoring.ParamRejectedError{Param: rp.param, Err: err}
		}
	}
	return err
}
