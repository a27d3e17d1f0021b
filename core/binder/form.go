package binder

import (
	"fmt"
	"mime"
	"net/http"
)

// DefaultMaxFormSize caps url-encoded request bodies.
const DefaultMaxFormSize = 64 << 10

// Form binds application/x-www-form-urlencoded bodies through `form` tags.
func Form() Binder {
	return func(r *http.Request, v any) error {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/x-www-form-urlencoded" {
			return fmt.Errorf("%w: expected application/x-www-form-urlencoded", ErrUnsupportedMediaType)
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(nil, r.Body, DefaultMaxFormSize)
		}
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToParseForm, err)
		}
		return bindToStruct(v, "form", r.PostForm, ErrFailedToParseForm)
	}
}

// Query binds the URL query through `query` tags.
func Query() Binder {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
