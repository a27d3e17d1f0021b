package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/pkg/ratelimiter"
)

// RateLimitConfig configures the rate limit middleware.
type RateLimitConfig struct {
	Skip    func(ctx handler.Context) bool
	Limiter ratelimiter.RateLimiter
	// KeyExtractor picks the bucket key (default: client IP).
	KeyExtractor func(ctx handler.Context) string
	// ErrorHandler renders a denied request (default: 429 with the JSON error body).
	ErrorHandler func(ctx handler.Context, result *ratelimiter.Result) handler.Response
	// SetHeaders adds X-RateLimit-* headers to every response.
	SetHeaders bool
}

// RateLimit rejects requests once the limiter's bucket for the key is empty.
// Limiter failures fail open: the request proceeds and the error is not surfaced.
func RateLimit[C handler.Context](cfg RateLimitConfig) handler.Middleware[C] {
	if cfg.Limiter == nil {
		panic("ratelimit middleware: limiter is required")
	}
	if cfg.KeyExtractor == nil {
		cfg.KeyExtractor = func(ctx handler.Context) string {
			return "ip:" + clientIPFrom(ctx)
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(handler.Context, *ratelimiter.Result) handler.Response {
			return response.Error(response.ErrTooManyRequests.WithMessage("Too many requests"))
		}
	}

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			result, err := cfg.Limiter.Allow(ctx, cfg.KeyExtractor(ctx))
			if err != nil {
				return next(ctx)
			}

			if !result.Allowed() {
				// Retry-After is always set on denials.
				return WithRateLimitHeaders(cfg.ErrorHandler(ctx, result), result)
			}

			resp := next(ctx)
			if cfg.SetHeaders {
				return WithRateLimitHeaders(resp, result)
			}
			return resp
		}
	}
}

// WithRateLimitHeaders decorates resp with X-RateLimit-* headers and, for
// denied results, Retry-After in whole seconds.
func WithRateLimitHeaders(resp handler.Response, result *ratelimiter.Result) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed() {
			secs := int(math.Ceil(result.RetryAfter().Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(1, secs)))
		}

		if resp == nil {
			return nil
		}
		return resp(w, r)
	}
}
