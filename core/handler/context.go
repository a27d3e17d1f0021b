package handler

import (
	"context"
	"net/http"
)

// Context is the contract every request context satisfies.
// Values stored with SetValue are visible through Value for the rest of the request.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
	Param(key string) string
	SetValue(key, val any)
}
