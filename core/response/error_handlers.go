package response

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/authproxy/core/handler"
)

type statusCode interface {
	StatusCode() int
}

// ToHTTPError converts any error into an HTTPError.
// HTTPError values pass through. Errors exposing StatusCode() map to the
// matching predefined error. Everything else becomes a 500 whose message
// does not leak the cause.
func ToHTTPError(err error) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	status := http.StatusInternalServerError
	var sc statusCode
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	base, ok := httpErrorsByStatus[status]
	if !ok {
		base = ErrInternalServerError
	}
	return base.WithError(err)
}

// ErrorHandler renders errors as plain text.
func ErrorHandler[C handler.Context](ctx C, err error) {
	httpErr := ToHTTPError(err)
	Render(ctx, StringWithStatus(httpErr.Message, httpErr.Status))
}

// JSONErrorHandler renders errors as {"error": "<message>"}.
func JSONErrorHandler[C handler.Context](ctx C, err error) {
	httpErr := ToHTTPError(err)
	Render(ctx, JSONWithStatus(httpErr, httpErr.Status))
}
