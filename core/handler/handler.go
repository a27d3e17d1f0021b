// Package handler defines the request processing contract shared by the
// router, the middleware and the application handlers.
//
// A handler receives a typed request context and returns a Response closure.
// The router invokes the closure and routes any returned error to its error
// handler, so handlers never write error bodies themselves.
package handler

import "net/http"

// Response renders an HTTP response.
// It sets headers, status code, and writes the body.
// A returned error is passed to the router's error handler.
type Response func(w http.ResponseWriter, r *http.Request) error

// HandlerFunc is a type-safe request handler with custom context support.
type HandlerFunc[C Context] func(ctx C) Response

// ErrorHandler handles errors raised while processing a request.
type ErrorHandler[C Context] func(ctx C, err error)

// Middleware wraps a handler to add cross-cutting behavior.
type Middleware[C Context] func(next HandlerFunc[C]) HandlerFunc[C]

// Chain wraps endpoint with middlewares so that the first middleware runs first.
func Chain[C Context](endpoint HandlerFunc[C], middlewares ...Middleware[C]) HandlerFunc[C] {
	h := endpoint
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
