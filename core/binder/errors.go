package binder

import "errors"

var (
	// ErrUnsupportedMediaType means the Content-Type does not match the binder.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrFailedToParseForm    = errors.New("failed to parse form data")
	ErrFailedToParseQuery   = errors.New("failed to parse query parameters")
	// ErrBodyTooLarge means the body exceeded the binder's limit.
	ErrBodyTooLarge = errors.New("request body too large")
)
