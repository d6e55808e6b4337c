package provider

import "errors"

var (
	// ErrUnknownModel indicates that no backend serves the requested model
	ErrUnknownModel = errors.New("no backend serves the requested model")

	// ErrDuplicateModel indicates that two backends claim the same model
	ErrDuplicateModel = errors.New("model served by more than one backend")
)
