// Package validation decodes and checks /score request bodies before they
// reach the scoring core.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/teilomillet/promptscore/errors"
	"github.com/teilomillet/promptscore/server/middleware"
	"github.com/teilomillet/promptscore/server/scoring"
)

// ScoreRequest is the body of POST /score.
type ScoreRequest struct {
	Prompt string `json:"prompt" validate:"required,notblank"`
	Lang   string `json:"lang,omitempty" validate:"omitempty,language"`
	Model  string `json:"model,omitempty" validate:"omitempty,model"`
}

// Request is a validated ScoreRequest with defaults resolved.
type Request struct {
	Prompt string
	Lang   scoring.Language
	Model  string
	Tokens int // prompt tokens, zero when no limit is configured
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ModelSet reports which model identifiers can be requested.
type ModelSet interface {
	Supports(model string) bool
	DefaultModel() string
}

// Options configures a Validator.
type Options struct {
	Schema          scoring.Schema
	Models          ModelSet
	Counter         *TokenCounter
	MaxPromptTokens int   // 0 disables the limit
	MaxBodyBytes    int64 // 0 disables the limit
	Logger          *zap.Logger
}

// Validator checks /score requests.
type Validator struct {
	validate *validator.Validate
	opts     Options
	logger   *zap.Logger
}

type requestKey struct{}

// New creates a Validator. The language rule follows opts.Schema and the
// model rule follows opts.Models.
func New(opts Options) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		lang, err := scoring.ParseLanguage(fl.Field().String())
		return err == nil && opts.Schema.SupportsLanguage(lang)
	})
	_ = validate.RegisterValidation("model", func(fl validator.FieldLevel) bool {
		return opts.Models == nil || opts.Models.Supports(fl.Field().String())
	})

	return &Validator{validate: validate, opts: opts, logger: logger}
}

// Decode reads, checks and resolves the request body of r.
func (v *Validator) Decode(w http.ResponseWriter, r *http.Request) (Request, *errors.ServiceError) {
	requestID := middleware.GetRequestID(r.Context())

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return Request{}, errors.NewValidationError(requestID, "Invalid Content-Type header", map[string]interface{}{
				"errors": []FieldError{{
					Field:   "header:Content-Type",
					Message: "Content-Type must be application/json",
					Code:    "invalid_content_type",
				}},
			})
		}
	}

	body := r.Body
	if v.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, v.opts.MaxBodyBytes)
	}

	var req ScoreRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return Request{}, errors.NewValidationError(requestID, "Invalid request format", map[string]interface{}{
			"errors": []FieldError{{
				Field:   "body",
				Message: err.Error(),
				Code:    "invalid_json",
			}},
		})
	}

	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Request{}, errors.NewInternalError(requestID, err)
		}
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{
				Field:   fe.Field(),
				Message: v.message(fe),
				Code:    fe.Tag() + "_validation_failed",
			})
		}
		return Request{}, errors.NewValidationError(requestID, "Request validation failed", map[string]interface{}{
			"errors": details,
		})
	}

	lang, _ := scoring.ParseLanguage(req.Lang)
	out := Request{Prompt: req.Prompt, Lang: lang, Model: req.Model}
	if out.Model == "" && v.opts.Models != nil {
		out.Model = v.opts.Models.DefaultModel()
	}

	if v.opts.MaxPromptTokens > 0 && v.opts.Counter != nil {
		out.Tokens = v.opts.Counter.Count(req.Prompt)
		if out.Tokens > v.opts.MaxPromptTokens {
			return Request{}, errors.NewValidationError(requestID, "Prompt too long", map[string]interface{}{
				"errors": []FieldError{{
					Field:   "prompt",
					Message: fmt.Sprintf("prompt has %d tokens, the limit is %d", out.Tokens, v.opts.MaxPromptTokens),
					Code:    "token_limit_exceeded",
				}},
			})
		}
	}

	return out, nil
}

func (v *Validator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "language":
		langs := make([]string, 0, len(v.opts.Schema.Languages))
		for _, l := range v.opts.Schema.Languages {
			langs = append(langs, string(l))
		}
		return fmt.Sprintf("lang must be one of: %s", strings.Join(langs, ", "))
	case "model":
		return fmt.Sprintf("model %q is not served", fe.Value())
	default:
		return fmt.Sprintf("validation failed on '%s'", fe.Tag())
	}
}

// Middleware validates the request body and stores the resolved Request
// in the context for the next handler.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, serr := v.Decode(w, r)
		if serr != nil {
			v.logger.Debug("Rejected score request",
				zap.String("request_id", serr.RequestID),
				zap.Any("details", serr.Details))
			errors.WriteError(w, serr)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), req)))
	})
}

// WithRequest returns a copy of ctx carrying req.
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// FromContext returns the Request stored by Middleware.
func FromContext(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}
