package scoring

import (
	"fmt"
)

// EmptyResponseError reports that the model produced no usable text, even
// after the escalation retry.
type EmptyResponseError struct {
	Model    string
	Attempts int
}

func (e *EmptyResponseError) Error() string {
	if e.Model == "" {
		return "empty response from model"
	}
	return fmt.Sprintf("empty response from model %s after %d attempt(s)", e.Model, e.Attempts)
}

// MalformedResponseError reports model output that no parse strategy could
// turn into a JSON object. Raw keeps the original text for diagnostics.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// UpstreamError wraps a transport, authentication or rejection failure from
// the completion backend.
type UpstreamError struct {
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream completion failed for model %s: %v", e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ParamRejectedError is returned by a Completer when the upstream refuses a
// request parameter. Param holds the parameter name as understood by
// CompletionRequest: "temperature", "reasoning_effort", "verbosity", "seed",
// "response_format" or "max_tokens".
type ParamRejectedError struct {
	Param string
	Err   error
}

func (e *ParamRejectedError) Error() string {
	return fmt.Sprintf("parameter %s rejected: %v", e.Param, e.Err)
}

func (e *ParamRejectedError) Unwrap() error { return e.Err }

// Parameter names carried by ParamRejectedError.
const (
	ParamTemperature     = "temperature"
	ParamReasoningEffort = "reasoning_effort"
	ParamVerbosity       = "verbosity"
	ParamSeed            = "seed"
	ParamResponseFormat  = "response_format"
	ParamMaxTokens       = "max_tokens"
)
