package authproxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/logger"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/core/session"
	"github.com/dmitrymomot/authproxy/middleware"
	"github.com/dmitrymomot/authproxy/pkg/apiclient"
)

// Response headers describing the proxied call.
const (
	HeaderProxyPath   = "X-Proxy-Path"
	HeaderProxyStatus = "X-Proxy-Status"
)

// strippedHeaders never reach upstream. Accept-Encoding is dropped so the
// upstream body arrives uncompressed and can be checked as JSON.
var strippedHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
	"Cookie",
	"Content-Length",
	"Accept-Encoding",
}

var errAuthRequired = response.ErrUnauthorized.WithMessage("Authentication required")

// proxy forwards /api/<path> to the upstream API with the session's tokens
// and relays the JSON answer.
func (a *App) proxy(ctx *Context) handler.Response {
	r := ctx.Request()
	method := r.Method
	path := strings.TrimPrefix(r.URL.Path, "/api")
	pathHeader := map[string]string{HeaderProxyPath: strings.TrimPrefix(path, "/")}

	var body []byte
	if method != http.MethodGet && method != http.MethodHead && r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, a.config.ProxyMaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return response.Error(response.NewHTTPError(http.StatusRequestEntityTooLarge, "Request body too large"))
			}
			return response.Error(response.ErrBadRequest.WithMessage("Invalid request body").WithError(err))
		}
	}

	sess := ctx.Session()
	resp, err := a.client.Do(ctx, &apiclient.Request{
		Method:      method,
		Path:        path,
		RawQuery:    r.URL.RawQuery,
		Header:      forwardHeaders(r.Header),
		Body:        body,
		Credentials: credentialsFrom(r.Header),
		OnRefresh:   a.persistTokens(ctx, sess),
	})
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return response.WithHeaders(a.sessionExpired(ctx, err), pathHeader)
		}
		a.logger.ErrorContext(ctx, "proxy request failed",
			logger.Method(method),
			logger.Upstream(path),
			logger.Error(err),
		)
		return response.WithHeaders(failedTo(method, err), pathHeader)
	}

	headers := map[string]string{
		HeaderProxyPath:   pathHeader[HeaderProxyPath],
		HeaderProxyStatus: fmt.Sprint(resp.StatusCode),
	}

	if method == http.MethodHead || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return response.WithHeaders(response.Status(resp.StatusCode), headers)
	}
	if !resp.IsJSON() {
		a.logger.ErrorContext(ctx, "upstream returned a non-JSON body",
			logger.Method(method),
			logger.Upstream(path),
			logger.StatusCode(resp.StatusCode),
		)
		return response.WithHeaders(failedTo(method, apiclient.ErrInvalidResponse), pathHeader)
	}

	out := response.WithHeaders(response.RawJSON(resp.Body, resp.StatusCode), headers)
	if method == http.MethodGet && resp.StatusCode < http.StatusBadRequest {
		out = response.WithCacheControl(out, a.config.ProxyCacheControl)
	}
	return out
}

// persistTokens writes a refreshed pair into the caller's session cookie.
// Anonymous callers that sent their own tokens get nothing persisted.
func (a *App) persistTokens(ctx *Context, sess session.Session) func(apiclient.TokenPair) error {
	return func(pair apiclient.TokenPair) error {
		if !sess.IsLoggedIn {
			return nil
		}
		_, err := a.sessions.Update(ctx, session.Tokens(pair.AccessToken, pair.RefreshToken))
		return err
	}
}

// sessionExpired logs the caller out after the refresh could not recover.
func (a *App) sessionExpired(ctx *Context, err error) handler.Response {
	a.sessions.Clear(ctx)
	if ctx.WantsHTML() {
		return response.Redirect("/login")
	}
	return response.Error(errAuthRequired.WithError(err))
}

func failedTo(method string, cause error) handler.Response {
	msg := fmt.Sprintf("Failed to %s data", strings.ToLower(method))
	return response.Error(response.NewHTTPError(http.StatusInternalServerError, msg).WithError(cause))
}

func forwardHeaders(in http.Header) http.Header {
	out := in.Clone()
	for _, name := range in.Values("Connection") {
		for _, field := range strings.Split(name, ",") {
			out.Del(strings.TrimSpace(field))
		}
	}
	for _, name := range strippedHeaders {
		out.Del(name)
	}
	return out
}

func credentialsFrom(h http.Header) apiclient.Credentials {
	access, _ := strings.CutPrefix(h.Get(middleware.AuthorizationHeader), "Bearer ")
	return apiclient.Credentials{
		AccessToken:  strings.TrimSpace(access),
		RefreshToken: h.Get(middleware.RefreshTokenHeader),
	}
}
