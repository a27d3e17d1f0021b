package authproxy

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrymomot/authproxy/app/authproxy/views"
	"github.com/dmitrymomot/authproxy/core/binder"
	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/logger"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/core/session"
	"github.com/dmitrymomot/authproxy/middleware"
	"github.com/dmitrymomot/authproxy/pkg/apiclient"
	"github.com/dmitrymomot/authproxy/pkg/metrics"
	"github.com/dmitrymomot/authproxy/pkg/ratelimiter"
)

const maxLoginBodyBytes = 64 << 10

var (
	errTooManyLogins = response.ErrTooManyRequests.WithMessage("Too many login attempts")
	errLogoutFailed  = response.ErrInternalServerError.WithMessage("Failed to logout")
)

type loginRequest struct {
	Username   string `json:"username" form:"username"`
	Password   string `json:"password" form:"password"`
	RedirectTo string `json:"-" form:"redirectTo"`
}

// sessionResponse is the public view of a session. Tokens never leave the proxy.
type sessionResponse struct {
	IsLoggedIn bool          `json:"isLoggedIn"`
	User       *session.User `json:"user,omitempty"`
}

// rateLimitedError carries the limiter result so Retry-After can be set.
type rateLimitedError struct {
	result *ratelimiter.Result
}

func (e *rateLimitedError) Error() string   { return errTooManyLogins.Message }
func (e *rateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

func (a *App) login(ctx *Context) handler.Response {
	var req loginRequest
	if err := binder.JSONWithLimit(maxLoginBodyBytes)(ctx.Request(), &req); err != nil {
		return response.Error(response.ErrBadRequest.WithMessage("Invalid request body").WithError(err))
	}

	sess, err := a.signIn(ctx, req.Username, req.Password)
	if err != nil {
		var limited *rateLimitedError
		if errors.As(err, &limited) {
			return middleware.WithRateLimitHeaders(response.Error(errTooManyLogins), limited.result)
		}
		return response.Error(err)
	}

	return response.NoStore(response.JSON(sessionResponse{IsLoggedIn: true, User: sess.User}))
}

func (a *App) logout(ctx *Context) handler.Response {
	if _, err := a.sessions.Update(ctx, session.LoggedOut()); err != nil {
		a.logger.ErrorContext(ctx, "logout failed", logger.Error(err))
		return response.Error(errLogoutFailed.WithError(err))
	}
	return response.NoStore(response.JSON(map[string]bool{"success": true}))
}

func (a *App) session(ctx *Context) handler.Response {
	sess := ctx.Session()
	return response.NoStore(response.JSON(sessionResponse{IsLoggedIn: sess.IsLoggedIn, User: sess.User}))
}

// signIn authenticates against upstream and stores the result in the session.
// Errors are ready to render: the upstream status for rejections, 429 for
// throttled usernames, 500 for everything else.
func (a *App) signIn(ctx *Context, username, password string) (session.Session, error) {
	key := "login:user:" + strings.ToLower(strings.TrimSpace(username))
	if res, err := a.limiter.Allow(ctx, key); err != nil {
		a.logger.WarnContext(ctx, "login rate limiter unavailable", logger.Error(err))
	} else if !res.Allowed() {
		a.metrics.LoginAttempt(metrics.LoginRateLimited)
		return session.Session{}, &rateLimitedError{result: res}
	}

	res, err := a.client.Login(ctx, username, password)
	if err != nil {
		var upstream *apiclient.UpstreamError
		if errors.As(err, &upstream) {
			a.metrics.LoginAttempt(metrics.LoginRejected)
			a.logger.InfoContext(ctx, "login rejected",
				logger.Username(username),
				logger.StatusCode(upstream.Status),
			)
			msg := upstream.Message
			if msg == "" {
				msg = "Authentication failed"
			}
			return session.Session{}, response.NewHTTPError(upstream.Status, msg).WithError(err)
		}

		a.metrics.LoginAttempt(metrics.LoginError)
		a.logger.ErrorContext(ctx, "login failed", logger.Username(username), logger.Error(err))
		return session.Session{}, response.ErrInternalServerError.WithError(err)
	}

	user := session.User{
		ID:        res.ID,
		Username:  res.Username,
		Email:     res.Email,
		FirstName: res.FirstName,
		LastName:  res.LastName,
		Gender:    res.Gender,
		Image:     res.Image,
	}
	sess, err := a.sessions.Update(ctx, session.LoggedIn(user, res.AccessToken, res.RefreshToken))
	if err != nil {
		a.metrics.LoginAttempt(metrics.LoginError)
		a.logger.ErrorContext(ctx, "store session failed", logger.Error(err))
		return session.Session{}, response.ErrInternalServerError.WithError(err)
	}

	a.metrics.LoginAttempt(metrics.LoginSuccess)
	a.logger.InfoContext(ctx, "user logged in", logger.UserID(user.ID), logger.Username(user.Username))
	return sess, nil
}

// loginRateLimited renders a per-IP throttle for both the API and the form.
func (a *App) loginRateLimited(ctx handler.Context, _ *ratelimiter.Result) handler.Response {
	a.metrics.LoginAttempt(metrics.LoginRateLimited)
	if ctx.Request().URL.Path == "/login" {
		return a.renderLogin(ctx, views.LoginData{Error: errTooManyLogins.Message}, http.StatusTooManyRequests)
	}
	return response.Error(errTooManyLogins)
}
