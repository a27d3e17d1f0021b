package authproxy

import (
	"net/http"
	"net/url"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/health"
	"github.com/dmitrymomot/authproxy/middleware"
)

func (a *App) routes() {
	r := a.router

	r.Get("/health", health.Liveness[*Context])
	r.Get("/health/ready", health.Readiness[*Context](a.logger, a.checks...))
	r.Get("/metrics", a.metricsEndpoint)

	limited := r.With(middleware.RateLimit[*Context](middleware.RateLimitConfig{
		Limiter: a.limiter,
		KeyExtractor: func(ctx handler.Context) string {
			ip, _ := middleware.GetClientIP(ctx)
			return "login:ip:" + ip
		},
		ErrorHandler: a.loginRateLimited,
	}))

	limited.Post("/api/auth/login", a.login)
	r.Post("/api/auth/logout", a.logout)
	r.Get("/api/auth/session", a.session)
	r.Handle("/api/", a.proxy)

	r.Get("/{$}", a.home)
	r.Get("/login", a.loginPage)
	limited.Post("/login", a.loginForm)
	r.Post("/logout", a.logoutForm)

	r.With(middleware.SessionWithConfig[*Context](middleware.SessionConfig{
		Store:        a.sessions,
		RequireAuth:  true,
		ErrorHandler: redirectToLogin,
		Logger:       a.logger,
	})).Get("/profile", a.profilePage)
}

func (a *App) metricsEndpoint(*Context) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		a.metrics.Handler().ServeHTTP(w, r)
		return nil
	}
}

// redirectToLogin sends an anonymous visitor to the login page, remembering
// where they were headed.
func redirectToLogin(ctx handler.Context) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		http.Redirect(w, r, loginURL(ctx.Request().URL.Path), http.StatusFound)
		return nil
	}
}

func loginURL(redirectTo string) string {
	if redirectTo == "" || redirectTo == "/" {
		return "/login"
	}
	return "/login?redirectTo=" + url.QueryEscape(redirectTo)
}
