package authproxy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/authproxy/core/session"
	"github.com/dmitrymomot/authproxy/middleware"
)

// Context is the request context passed to every handler of the app.
type Context struct {
	w http.ResponseWriter
	r *http.Request
}

func (c *Context) Deadline() (deadline time.Time, ok bool) { return c.r.Context().Deadline() }
func (c *Context) Done() <-chan struct{}                     { return c.r.Context().Done() }
func (c *Context) Err() error                                { return c.r.Context().Err() }
func (c *Context) Value(key any) any                         { return c.r.Context().Value(key) }

// SetValue stores a value in the request's context.
func (c *Context) SetValue(key, val any) {
	c.r = c.r.WithContext(context.WithValue(c.r.Context(), key, val))
}

func (c *Context) Request() *http.Request              { return c.r }
func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }
func (c *Context) Param(key string) string             { return c.r.PathValue(key) }

// Session returns the session loaded by the session middleware.
func (c *Context) Session() session.Session {
	sess, _ := middleware.GetSession(c)
	return sess
}

// WantsHTML reports whether the caller is a browser navigation.
func (c *Context) WantsHTML() bool {
	return strings.Contains(c.r.Header.Get("Accept"), "text/html")
}

func newContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{w: w, r: r}
}
