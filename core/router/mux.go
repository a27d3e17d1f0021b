package router

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/dmitrymomot/authproxy/core/handler"
)

var knownMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// state is shared between a router and the inline routers derived from it.
type state[C handler.Context] struct {
	sm           *http.ServeMux
	middlewares  []handler.Middleware[C]
	errorHandler handler.ErrorHandler[C]
	newContext   func(http.ResponseWriter, *http.Request) C
	logger       *slog.Logger
	routes       []Route
}

type mux[C handler.Context] struct {
	root        *state[C]
	parent      *mux[C]
	middlewares []handler.Middleware[C] // inline routers only
}

func newMux[C handler.Context](opts ...Option[C]) *mux[C] {
	m := &mux[C]{
		root: &state[C]{
			sm:           http.NewServeMux(),
			errorHandler: defaultErrorHandler[C],
			logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.root.newContext == nil {
		m.root.newContext = func(w http.ResponseWriter, r *http.Request) C {
			var zero C
			if _, ok := any(zero).(*Context); ok {
				return any(NewContext(w, r)).(C)
			}
			panic(ErrNoContextFactory)
		}
	}

	m.root.sm.HandleFunc("/", m.root.fallback)

	return m
}

// ServeHTTP implements http.Handler.
func (m *mux[C]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.root.sm.ServeHTTP(newResponseWriter(w), r)
}

func (s *state[C]) serve(w http.ResponseWriter, r *http.Request, endpoint handler.HandlerFunc[C]) {
	ww := newResponseWriter(w)
	ctx := s.newContext(ww, r)

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		perr := &panicError{value: p, stack: debug.Stack()}
		if ww.Written() {
			s.logger.Error("panic after response written",
				slog.Any("value", perr.value),
				slog.String("stack", string(perr.stack)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
			)
			return
		}
		s.errorHandler(ctx, perr)
	}()

	fn := endpoint
	if len(s.middlewares) > 0 {
		fn = handler.Chain(endpoint, s.middlewares...)
	}

	resp := fn(ctx)
	if resp == nil {
		s.errorHandler(ctx, ErrNilResponse)
		return
	}

	// ctx.Request carries values stored by middleware through SetValue.
	if err := resp(ww, ctx.Request()); err != nil {
		s.errorHandler(ctx, err)
	}
}

// fallback answers requests no pattern matched, distinguishing 405 from 404.
func (s *state[C]) fallback(w http.ResponseWriter, r *http.Request) {
	err := ErrNotFound
	if allowed := s.allowedMethods(r); len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		err = ErrMethodNotAllowed
	}

	s.serve(w, r, func(C) handler.Response {
		return func(http.ResponseWriter, *http.Request) error { return err }
	})
}

func (s *state[C]) allowedMethods(r *http.Request) []string {
	var allowed []string
	for _, method := range knownMethods {
		if method == r.Method {
			continue
		}
		probe := *r
		probe.Method = method
		if _, pattern := s.sm.Handler(&probe); pattern != "" && pattern != "/" {
			allowed = append(allowed, method)
		}
	}
	return allowed
}

func (m *mux[C]) Get(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodGet, pattern, h)
}

func (m *mux[C]) Post(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPost, pattern, h)
}

func (m *mux[C]) Put(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPut, pattern, h)
}

func (m *mux[C]) Delete(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodDelete, pattern, h)
}

func (m *mux[C]) Patch(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPatch, pattern, h)
}

func (m *mux[C]) Head(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodHead, pattern, h)
}

func (m *mux[C]) Options(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodOptions, pattern, h)
}

func (m *mux[C]) Handle(pattern string, h handler.HandlerFunc[C]) {
	m.handle("", pattern, h)
}

func (m *mux[C]) Method(pattern string, h handler.HandlerFunc[C], methods ...string) {
	if len(methods) == 0 {
		panic(fmt.Errorf("%w: no methods provided", ErrInvalidMethod))
	}

	seen := make(map[string]bool, len(methods))
	for _, method := range methods {
		method = strings.ToUpper(method)
		if !isKnownMethod(method) {
			panic(fmt.Errorf("%w: %s", ErrInvalidMethod, method))
		}
		if seen[method] {
			continue
		}
		seen[method] = true
		m.handle(method, pattern, h)
	}
}

func (m *mux[C]) Use(middlewares ...handler.Middleware[C]) {
	if m.parent != nil {
		m.middlewares = append(m.middlewares, middlewares...)
		return
	}
	if len(m.root.routes) > 0 {
		panic("router: all middlewares must be defined before routes on a mux")
	}
	m.root.middlewares = append(m.root.middlewares, middlewares...)
}

func (m *mux[C]) With(middlewares ...handler.Middleware[C]) Router[C] {
	return &mux[C]{
		root:        m.root,
		parent:      m,
		middlewares: middlewares,
	}
}

func (m *mux[C]) Group(fn func(r Router[C])) Router[C] {
	im := m.With()
	if fn != nil {
		fn(im)
	}
	return im
}

func (m *mux[C]) Routes() []Route {
	routes := make([]Route, len(m.root.routes))
	copy(routes, m.root.routes)
	return routes
}

func (m *mux[C]) handle(method, pattern string, h handler.HandlerFunc[C]) {
	if pattern == "" || pattern[0] != '/' || pattern == "/" {
		panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, pattern))
	}

	if mws := m.inlineMiddlewares(); len(mws) > 0 {
		h = handler.Chain(h, mws...)
	}

	full := pattern
	if method != "" {
		full = method + " " + pattern
	}

	root := m.root
	root.sm.HandleFunc(full, func(w http.ResponseWriter, r *http.Request) {
		root.serve(w, r, h)
	})
	root.routes = append(root.routes, Route{Method: method, Pattern: pattern})
}

// inlineMiddlewares collects middleware from the inline router chain, outermost first.
func (m *mux[C]) inlineMiddlewares() []handler.Middleware[C] {
	var all []handler.Middleware[C]
	for curr := m; curr != nil && curr.parent != nil; curr = curr.parent {
		all = append(append([]handler.Middleware[C]{}, curr.middlewares...), all...)
	}
	return all
}

func isKnownMethod(method string) bool {
	for _, m := range knownMethods {
		if m == method {
			return true
		}
	}
	return false
}
