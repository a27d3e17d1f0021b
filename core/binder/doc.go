// Package binder decodes request bodies and query strings into structs.
//
//	var req struct {
//		Username string `json:"username"`
//		Password string `json:"password"`
//	}
//	if err := binder.JSON()(r, &req); err != nil {
//		return response.Error(response.ErrBadRequest.WithError(err))
//	}
//
// Form and Query bind url-encoded values through `form` and `query` tags.
// Untagged fields use the lowercased field name and `-` skips a field.
// Bound form and query strings have NUL bytes, line breaks and other control
// characters removed. JSON strings are kept verbatim.
package binder
