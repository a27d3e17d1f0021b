package binder

import "net/http"

// Binder decodes part of a request into v.
type Binder func(r *http.Request, v any) error
