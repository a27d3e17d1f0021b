package apiclient

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig       = errors.New("apiclient: invalid config")
	ErrUpstreamUnavailable = errors.New("apiclient: upstream unavailable")
	ErrUnauthorized        = errors.New("apiclient: unauthorized")

	// ErrInvalidResponse is an upstream body that cannot be decoded.
	ErrInvalidResponse = fmt.Errorf("%w: invalid response", ErrUpstreamUnavailable)
)

// UpstreamError is a non-2xx answer from the upstream auth endpoints.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("apiclient: upstream status %d", e.Status)
	}
	return fmt.Sprintf("apiclient: upstream status %d: %s", e.Status, e.Message)
}

// StatusCode lets HTTP error handlers reuse the upstream status.
func (e *UpstreamError) StatusCode() int { return e.Status }
