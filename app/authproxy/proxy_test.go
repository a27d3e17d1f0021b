package authproxy_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyForwardsWithSessionTokens(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))
	b.login()

	rec := b.request(http.MethodGet, "/api/posts?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "posts", rec.Header().Get("X-Proxy-Path"))
	assert.Equal(t, "200", rec.Header().Get("X-Proxy-Status"))
	assert.Equal(t, "private, max-age=60, stale-while-revalidate=300", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"posts":[{"id":1,"title":"hello"}]}`, rec.Body.String())

	h := up.header()
	assert.Equal(t, "Bearer access-0", h.Get("Authorization"))
	assert.Equal(t, "refresh-0", h.Get("Refresh-Token"))
	assert.Empty(t, h.Get("Cookie"), "session cookie must not reach upstream")
}

func TestProxyRelaysMethodBodyAndQuery(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))

	rec := b.request(http.MethodPost, "/api/echo?x=1", `{"title":"new"}`, "Connection", "X-Drop", "X-Drop", "1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"method":"POST","body":"{\"title\":\"new\"}"}`, rec.Body.String())
	assert.Equal(t, "echo", rec.Header().Get("X-Proxy-Path"))
	assert.Equal(t, "201", rec.Header().Get("X-Proxy-Status"))
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	h := up.header()
	assert.Empty(t, h.Get("X-Drop"))
	assert.Empty(t, h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "x=1", up.query())
}

func TestProxyRelaysUpstreamErrors(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))

	rec := b.request(http.MethodGet, "/api/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Not found"}`, rec.Body.String())
	assert.Equal(t, "404", rec.Header().Get("X-Proxy-Status"))

	// Anonymous 401s pass through: there is nothing to refresh.
	rec = b.request(http.MethodGet, "/api/posts", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Token Expired!"}`, rec.Body.String())
}

func TestProxyFailures(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	dead := newUpstream(t)
	dead.Close()

	tests := []struct {
		name    string
		baseURL string
		method  string
		path    string
		body    string
		want    string
		proxied string
	}{
		{"non-JSON body on GET", up.URL, http.MethodGet, "/api/text", "", `{"error":"Failed to get data"}`, "text"},
		{"non-JSON body on POST", up.URL, http.MethodPost, "/api/text", `{}`, `{"error":"Failed to post data"}`, "text"},
		{"network error", dead.URL, http.MethodDelete, "/api/posts/1", "", `{"error":"Failed to delete data"}`, "posts/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newBrowser(t, testConfig(tt.baseURL))
			rec := b.request(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
			assert.Equal(t, tt.proxied, rec.Header().Get("X-Proxy-Path"))
			assert.Empty(t, rec.Header().Get("X-Proxy-Status"))
		})
	}
}

func TestProxyEmptyResponses(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))

	rec := b.request(http.MethodDelete, "/api/empty", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = b.request(http.MethodHead, "/api/echo", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestProxyRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))
	b.login()
	before := b.sessionCookie()

	up.expire()

	rec := b.request(http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, up.refreshCount())
	assert.Equal(t, "Bearer access-1", up.header().Get("Authorization"))
	assert.NotEqual(t, before, b.sessionCookie(), "refreshed tokens are persisted")

	rec = b.request(http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, up.refreshCount(), "the new token is used without another refresh")
}

func TestProxyConcurrentExpiredRequestsShareOneRefresh(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))
	b.login()
	up.expire()

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
			for _, c := range b.jar.Cookies(siteURL) {
				req.AddCookie(c)
			}
			rec := httptest.NewRecorder()
			b.handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 1, up.refreshCount())
}

func TestProxyRefreshExhausted(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)

	t.Run("API caller gets 401 and loses the session", func(t *testing.T) {
		b := newBrowser(t, testConfig(up.URL))
		b.login()
		up.expire()
		up.setFailRefresh(true)
		t.Cleanup(func() { up.setFailRefresh(false) })

		rec := b.request(http.MethodGet, "/api/posts", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Authentication required"}`, rec.Body.String())
		assert.Equal(t, "posts", rec.Header().Get("X-Proxy-Path"))
		assert.Empty(t, b.sessionCookie())

		rec = b.request(http.MethodGet, "/api/auth/session", "")
		assert.JSONEq(t, `{"isLoggedIn":false}`, rec.Body.String())
	})

	t.Run("browser navigation is redirected to login", func(t *testing.T) {
		b := newBrowser(t, testConfig(up.URL))
		b.login()
		up.expire()
		up.setFailRefresh(true)
		t.Cleanup(func() { up.setFailRefresh(false) })

		rec := b.request(http.MethodGet, "/api/posts", "", "Accept", "text/html")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
		assert.Empty(t, b.sessionCookie())
	})
}

func TestResponseHeaders(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	b := newBrowser(t, testConfig(up.URL))

	rec := b.request(http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Regexp(t, `^\d+\.\d{2}ms$`, rec.Header().Get("X-Response-Time"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(up.URL)
	cfg.CORSAllowedOrigins = []string{"http://app.test"}
	b := newBrowser(t, cfg)

	rec := b.request(http.MethodOptions, "/api/posts", "",
		"Origin", "http://app.test",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Refresh-Token",
	)
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}
