package errors

import (
	"net/http"
)

// ScoringFailedMessage is the client-facing message of every scoring failure.
const ScoringFailedMessage = "Failed to score prompt via LLM"

// NewError creates a ServiceError with full control over its fields.
// Prefer one of the specialized constructors below.
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *ServiceError {
	return &ServiceError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewValidationError creates a 400 for malformed or invalid requests.
//
// Example:
//
//	err := NewValidationError("req_123", "Invalid request", map[string]interface{}{
//	    "field": "lang",
//	    "error": "must be one of en ja fr",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *ServiceError {
	return &ServiceError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewScoringError creates the 500 returned whenever a prompt could not be
// scored. The cause is surfaced under details.error.
func NewScoringError(requestID string, cause error) *ServiceError {
	details := map[string]interface{}{}
	if cause != nil {
		details["error"] = cause.Error()
	}
	return &ServiceError{
		Type:      ScoringError,
		Message:   ScoringFailedMessage,
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		Details:   details,
		err:       cause,
	}
}

// NewRateLimitError creates a 429 telling the client when to retry.
func NewRateLimitError(requestID string, retryAfter int) *ServiceError {
	return &ServiceError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewInternalError creates a 500 for unexpected failures such as panics.
func NewInternalError(requestID string, err error) *ServiceError {
	return &ServiceError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
