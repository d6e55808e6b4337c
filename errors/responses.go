package errors

import (
	"errors"
)

// ErrorResponse is the wire shape of a ServiceError, used by clients and
// tests decoding error bodies.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// As is a wrapper around errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
