package middleware

import (
	"net/http"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/pkg/clientip"
)

type clientIPContextKey struct{}

// ClientIPConfig configures the client IP middleware.
type ClientIPConfig struct {
	Skip func(ctx handler.Context) bool
	// Resolve extracts the address. Defaults to clientip.GetIP.
	Resolve func(r *http.Request) string
}

// ClientIP resolves the client address once and stores it in the request context.
func ClientIP[C handler.Context]() handler.Middleware[C] {
	return ClientIPWithConfig[C](ClientIPConfig{})
}

// ClientIPWithConfig is ClientIP with custom configuration.
func ClientIPWithConfig[C handler.Context](cfg ClientIPConfig) handler.Middleware[C] {
	if cfg.Resolve == nil {
		cfg.Resolve = clientip.GetIP
	}
	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip == nil || !cfg.Skip(ctx) {
				ctx.SetValue(clientIPContextKey{}, cfg.Resolve(ctx.Request()))
			}
			return next(ctx)
		}
	}
}

// GetClientIP returns the address stored by ClientIP.
func GetClientIP(ctx handler.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPContextKey{}).(string)
	return ip, ok && ip != ""
}

func clientIPFrom(ctx handler.Context) string {
	if ip, ok := GetClientIP(ctx); ok {
		return ip
	}
	return clientip.GetIP(ctx.Request())
}
