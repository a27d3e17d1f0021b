package authproxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrymomot/authproxy/app/authproxy/views"
	"github.com/dmitrymomot/authproxy/core/binder"
	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/logger"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/core/session"
	"github.com/dmitrymomot/authproxy/pkg/apiclient"
)

const defaultLanding = "/profile"

func (a *App) home(ctx *Context) handler.Response {
	if ctx.Session().IsLoggedIn {
		return response.Redirect(defaultLanding)
	}
	return response.Redirect("/login")
}

func (a *App) loginPage(ctx *Context) handler.Response {
	var q struct {
		RedirectTo string `query:"redirectTo"`
	}
	_ = binder.Query()(ctx.Request(), &q)
	redirectTo := safeRedirect(q.RedirectTo)
	if ctx.Session().IsLoggedIn {
		return response.Redirect(redirectTo)
	}
	return a.renderLogin(ctx, views.LoginData{RedirectTo: redirectTo}, http.StatusOK)
}

func (a *App) loginForm(ctx *Context) handler.Response {
	var req loginRequest
	if err := binder.Form()(ctx.Request(), &req); err != nil {
		return a.renderLogin(ctx, views.LoginData{Error: "Invalid form submission"}, http.StatusBadRequest)
	}

	form := views.LoginData{
		Username:   req.Username,
		RedirectTo: safeRedirect(req.RedirectTo),
	}
	if _, err := a.signIn(ctx, req.Username, req.Password); err != nil {
		httpErr := response.ToHTTPError(err)
		form.Error = httpErr.Message
		return a.renderLogin(ctx, form, httpErr.Status)
	}
	return response.RedirectSeeOther(form.RedirectTo)
}

func (a *App) logoutForm(ctx *Context) handler.Response {
	if _, err := a.sessions.Update(ctx, session.LoggedOut()); err != nil {
		a.logger.ErrorContext(ctx, "logout failed", logger.Error(err))
		return response.Error(errLogoutFailed.WithError(err))
	}
	return response.RedirectSeeOther("/login")
}

func (a *App) profilePage(ctx *Context) handler.Response {
	sess := ctx.Session()
	if sess.User == nil {
		a.sessions.Clear(ctx)
		return response.Redirect(loginURL(ctx.Request().URL.Path))
	}
	data := views.ProfileData{User: *sess.User}

	ext, err := a.fetchProfile(ctx, sess)
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		a.sessions.Clear(ctx)
		return response.Redirect(loginURL(ctx.Request().URL.Path))
	case err != nil:
		a.logger.WarnContext(ctx, "extended profile unavailable", logger.Error(err))
		data.ExtendedError = "Could not load the extended profile."
	default:
		data.Extended = ext
	}

	return response.NoStore(response.Templ(views.Profile(data)))
}

// fetchProfile loads GET /auth/me through the refreshing client.
func (a *App) fetchProfile(ctx *Context, sess session.Session) (*views.ExtendedProfile, error) {
	resp, err := a.client.Do(ctx, &apiclient.Request{
		Method: http.MethodGet,
		Path:   "/auth/me",
		Credentials: apiclient.Credentials{
			AccessToken:  sess.AccessToken,
			RefreshToken: sess.RefreshToken,
		},
		OnRefresh: a.persistTokens(ctx, sess),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &apiclient.UpstreamError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var ext views.ExtendedProfile
	if err := json.Unmarshal(resp.Body, &ext); err != nil {
		return nil, errors.Join(apiclient.ErrInvalidResponse, err)
	}
	return &ext, nil
}

func (a *App) renderLogin(ctx handler.Context, form views.LoginData, status int) handler.Response {
	if form.RedirectTo == "" {
		form.RedirectTo = defaultLanding
	}
	return response.NoStore(response.TemplWithStatus(views.Login(form), status))
}

// safeRedirect accepts local absolute paths only.
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return defaultLanding
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultLanding
	}
	return u.RequestURI()
}
