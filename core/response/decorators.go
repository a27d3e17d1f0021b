package response

import (
	"net/http"

	"github.com/dmitrymomot/authproxy/core/handler"
)

// Cache-Control values shared by handlers.
const (
	CacheNoStore = "no-store"
)

// WithHeaders sets headers before the wrapped response renders.
func WithHeaders(resp handler.Response, headers map[string]string) handler.Response {
	if resp == nil || len(headers) == 0 {
		return resp
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		return resp(w, r)
	}
}

// WithCookie sets cookie before the wrapped response renders.
func WithCookie(resp handler.Response, cookie *http.Cookie) handler.Response {
	if resp == nil || cookie == nil {
		return resp
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		http.SetCookie(w, cookie)
		return resp(w, r)
	}
}

// WithCacheControl sets the Cache-Control header unless the handler already set one.
// An empty policy leaves the response untouched.
func WithCacheControl(resp handler.Response, policy string) handler.Response {
	if resp == nil || policy == "" {
		return resp
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		if w.Header().Get("Cache-Control") == "" {
			w.Header().Set("Cache-Control", policy)
		}
		return resp(w, r)
	}
}

// NoStore marks a response as not cacheable by browsers or shared caches.
func NoStore(resp handler.Response) handler.Response {
	return WithCacheControl(resp, CacheNoStore)
}
