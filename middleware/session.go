package middleware

import (
	"log/slog"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/logger"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/core/session"
)

// Header names carrying session credentials on the inbound request.
const (
	AuthorizationHeader = "Authorization"
	RefreshTokenHeader  = "Refresh-Token"
)

type sessionContextKey struct{}

// SessionReader is the part of session.Store the middleware needs.
type SessionReader interface {
	Get(ctx handler.Context) session.Session
}

// SessionConfig configures the session middleware.
type SessionConfig struct {
	Skip  func(ctx handler.Context) bool
	Store SessionReader
	// RequireAuth rejects logged-out requests with ErrorHandler.
	RequireAuth bool
	// ErrorHandler renders the rejection (default: 401 JSON).
	ErrorHandler func(ctx handler.Context) handler.Response
	Logger       *slog.Logger
}

// Session loads the session for every request, stores it in the context and
// copies its tokens onto the inbound request headers.
func Session[C handler.Context](store SessionReader) handler.Middleware[C] {
	return SessionWithConfig[C](SessionConfig{Store: store})
}

// SessionWithConfig is Session with custom configuration.
func SessionWithConfig[C handler.Context](cfg SessionConfig) handler.Middleware[C] {
	if cfg.Store == nil {
		panic("session middleware: store is required")
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(handler.Context) handler.Response {
			return response.Error(response.ErrUnauthorized.WithMessage("Authentication required"))
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			sess := cfg.Store.Get(ctx)
			ctx.SetValue(sessionContextKey{}, sess)

			h := ctx.Request().Header
			if sess.AccessToken != "" {
				h.Set(AuthorizationHeader, "Bearer "+sess.AccessToken)
			}
			if sess.RefreshToken != "" {
				h.Set(RefreshTokenHeader, sess.RefreshToken)
			}

			if cfg.RequireAuth && !sess.IsLoggedIn {
				cfg.Logger.DebugContext(ctx, "unauthenticated request rejected",
					logger.Path(ctx.Request().URL.Path))
				return cfg.ErrorHandler(ctx)
			}

			return next(ctx)
		}
	}
}

// GetSession returns the session loaded by the Session middleware.
// A request the middleware skipped reports the logged-out default and false.
func GetSession(ctx handler.Context) (session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return sess, ok
}
