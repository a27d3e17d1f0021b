package response

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrymomot/authproxy/core/handler"
)

const contentTypeJSON = "application/json; charset=utf-8"

// JSON creates an application/json response with 200 OK status.
func JSON(v any) handler.Response {
	return JSONWithStatus(v, http.StatusOK)
}

// JSONWithStatus creates an application/json response with a custom status code.
// A zero status means 204 for nil data and 200 otherwise.
func JSONWithStatus(v any, status int) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", contentTypeJSON)

		if status == 0 {
			if v == nil {
				status = http.StatusNoContent
			} else {
				status = http.StatusOK
			}
		}
		w.WriteHeader(status)

		if !bodyAllowed(status) || r.Method == http.MethodHead {
			return nil
		}
		return json.NewEncoder(w).Encode(v)
	}
}

// RawJSON relays an already encoded JSON document without re-encoding it.
func RawJSON(body []byte, status int) handler.Response {
	return Bytes(body, contentTypeJSON, status)
}
