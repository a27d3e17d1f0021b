package middleware_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/core/router"
)

type ctx = *router.Context

// serve registers endpoint behind mws on GET /test and performs req.
func serve(req *http.Request, endpoint handler.HandlerFunc[ctx], mws ...handler.Middleware[ctx]) *httptest.ResponseRecorder {
	r := router.New[ctx](
		router.WithErrorHandler(response.JSONErrorHandler[ctx]),
		router.WithMiddleware(mws...),
	)
	r.Handle("/test", endpoint)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ok(c ctx) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		_, err := w.Write([]byte("ok"))
		return err
	}
}
