// Package router maps HTTP requests to typed handlers.
//
// Routing is delegated to the standard library pattern engine, so patterns
// follow net/http.ServeMux syntax: an optional method, a host-less path,
// {name} segments and a trailing {name...} wildcard. The router adds the
// typed context, middleware composition, panic recovery and a single error
// handler that also renders 404 and 405 responses.
//
//	r := router.New[*router.Context](
//		router.WithErrorHandler(response.JSONErrorHandler[*router.Context]),
//	)
//	r.Use(middleware.RequestID[*router.Context]())
//	r.Get("/users/{id}", func(ctx *router.Context) handler.Response {
//		return response.JSON(map[string]string{"id": ctx.Param("id")})
//	})
//
// The catch-all "/" pattern is reserved for unmatched requests. Use "/{$}"
// to register a handler for the site root.
package router

import (
	"net/http"

	"github.com/dmitrymomot/authproxy/core/handler"
)

// Router is the routing interface implemented by New.
type Router[C handler.Context] interface {
	http.Handler
	Routes

	Get(pattern string, h handler.HandlerFunc[C])
	Post(pattern string, h handler.HandlerFunc[C])
	Put(pattern string, h handler.HandlerFunc[C])
	Delete(pattern string, h handler.HandlerFunc[C])
	Patch(pattern string, h handler.HandlerFunc[C])
	Head(pattern string, h handler.HandlerFunc[C])
	Options(pattern string, h handler.HandlerFunc[C])

	// Handle registers h for every HTTP method.
	Handle(pattern string, h handler.HandlerFunc[C])
	// Method registers h for the listed methods only.
	Method(pattern string, h handler.HandlerFunc[C], methods ...string)

	// Use appends global middleware. It must be called before any route is registered.
	Use(middlewares ...handler.Middleware[C])
	// With returns an inline router whose routes run the extra middlewares.
	With(middlewares ...handler.Middleware[C]) Router[C]
	// Group calls fn with an inline router sharing the parent's middleware stack.
	Group(fn func(r Router[C])) Router[C]
}

// Routes provides route introspection.
type Routes interface {
	Routes() []Route
}

// Route describes a registered route. Method is empty for method-less patterns.
type Route struct {
	Method  string
	Pattern string
}

// New creates a router. A context factory is required for any context type
// other than *Context.
func New[C handler.Context](opts ...Option[C]) Router[C] {
	return newMux(opts...)
}
