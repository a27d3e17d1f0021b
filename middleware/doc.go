// Package middleware provides handler.Middleware implementations shared by the
// application: request IDs, access logging, security headers, response
// timing, client IP extraction, rate limiting and session loading.
//
// Every middleware follows the same shape: a zero-config constructor and a
// WithConfig variant whose config struct carries an optional Skip predicate.
//
//	r.Use(
//		middleware.RequestID[*authproxy.Context](),
//		middleware.LoggingWithLogger[*authproxy.Context](log),
//		middleware.Session[*authproxy.Context](store),
//	)
package middleware
