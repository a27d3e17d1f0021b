package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrymomot/authproxy/core/handler"
)

// ResponseTimeConfig configures the response time middleware.
type ResponseTimeConfig struct {
	Skip func(ctx handler.Context) bool
	// HeaderName defaults to "X-Response-Time".
	HeaderName string
}

// ResponseTime reports the handling time in milliseconds in X-Response-Time.
// The value is measured when headers are about to be sent.
func ResponseTime[C handler.Context]() handler.Middleware[C] {
	return ResponseTimeWithConfig[C](ResponseTimeConfig{})
}

// ResponseTimeWithConfig is ResponseTime with custom configuration.
func ResponseTimeWithConfig[C handler.Context](cfg ResponseTimeConfig) handler.Middleware[C] {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-Response-Time"
	}

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			start := time.Now()
			resp := next(ctx)

			return func(w http.ResponseWriter, r *http.Request) error {
				tw := &timingWriter{ResponseWriter: w, start: start, header: cfg.HeaderName}
				if resp == nil {
					return nil
				}
				return resp(tw, r)
			}
		}
	}
}

type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	header      string
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		elapsed := float64(time.Since(w.start).Microseconds()) / 1000
		w.Header().Set(w.header, fmt.Sprintf("%.2fms", elapsed))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *timingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
