package router

import (
	"context"
	"net/http"
	"time"
)

// Context is the default request context.
// It delegates context.Context methods to the request's context.
type Context struct {
	w http.ResponseWriter
	r *http.Request
}

// NewContext creates a Context for the given request.
// It satisfies the context factory signature used by WithContextFactory.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{w: w, r: r}
}

func (c *Context) Deadline() (deadline time.Time, ok bool) { return c.r.Context().Deadline() }
func (c *Context) Done() <-chan struct{}                     { return c.r.Context().Done() }
func (c *Context) Err() error                                { return c.r.Context().Err() }
func (c *Context) Value(key any) any                         { return c.r.Context().Value(key) }

// SetValue stores a value in the request's context.
func (c *Context) SetValue(key, val any) {
	c.r = c.r.WithContext(context.WithValue(c.r.Context(), key, val))
}

// Request returns the current request, including values added with SetValue.
func (c *Context) Request() *http.Request { return c.r }

// ResponseWriter returns the response writer for this request.
func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }

// Param returns the value of the named path wildcard.
func (c *Context) Param(key string) string { return c.r.PathValue(key) }
