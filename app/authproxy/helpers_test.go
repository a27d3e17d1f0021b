package authproxy_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authproxy/app/authproxy"
	"github.com/dmitrymomot/authproxy/core/cookie"
	"github.com/dmitrymomot/authproxy/core/server"
	"github.com/dmitrymomot/authproxy/core/session"
	"github.com/dmitrymomot/authproxy/pkg/apiclient"
)

// upstream mimics the auth endpoints of the upstream API.
type upstream struct {
	*httptest.Server

	mu          sync.Mutex
	access      string
	refresh     string
	generation  int
	refreshes   int
	failRefresh bool
	lastHeader  http.Header
	lastQuery   string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	up := &upstream{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Username != "emilys" || in.Password != "emilyspass" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid credentials"})
			return
		}
		up.mu.Lock()
		up.access, up.refresh = "access-0", "refresh-0"
		up.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 1, "username": "emilys", "email": "emily.johnson@x.dummyjson.com",
			"firstName": "Emily", "lastName": "Johnson", "gender": "female",
			"image": "https://dummyjson.com/icon/emilys/128",
			"accessToken": "access-0", "refreshToken": "refresh-0",
		})
	})

	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		up.mu.Lock()
		defer up.mu.Unlock()
		if up.failRefresh || in.RefreshToken != up.refresh {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid refresh token"})
			return
		}
		up.generation++
		up.refreshes++
		up.access = fmt.Sprintf("access-%d", up.generation)
		up.refresh = fmt.Sprintf("refresh-%d", up.generation)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": up.access, "refreshToken": up.refresh})
	})

	mux.HandleFunc("/posts", up.protected(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"posts": []map[string]any{{"id": 1, "title": "hello"}}})
	}))
	mux.HandleFunc("GET /auth/me", up.protected(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 1, "username": "emilys", "email": "emily.johnson@x.dummyjson.com",
			"firstName": "Emily", "lastName": "Johnson", "gender": "female", "phone": "+81 965-431-3024",
		})
	}))
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		up.mu.Lock()
		up.lastHeader = r.Header.Clone()
		up.lastQuery = r.URL.RawQuery
		up.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"method": r.Method, "body": string(body)})
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "not json")
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
	})

	up.Server = httptest.NewServer(mux)
	t.Cleanup(up.Close)
	return up
}

func (up *upstream) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up.mu.Lock()
		ok := up.access != "" && r.Header.Get("Authorization") == "Bearer "+up.access
		up.lastHeader = r.Header.Clone()
		up.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token Expired!"})
			return
		}
		next(w, r)
	}
}

// expire invalidates the current access token. The refresh token stays valid.
func (up *upstream) expire() {
	up.mu.Lock()
	defer up.mu.Unlock()
	up.access = "expired-elsewhere"
}

func (up *upstream) setFailRefresh(v bool) {
	up.mu.Lock()
	defer up.mu.Unlock()
	up.failRefresh = v
}

func (up *upstream) refreshCount() int {
	up.mu.Lock()
	defer up.mu.Unlock()
	return up.refreshes
}

func (up *upstream) header() http.Header {
	up.mu.Lock()
	defer up.mu.Unlock()
	return up.lastHeader
}

func (up *upstream) query() string {
	up.mu.Lock()
	defer up.mu.Unlock()
	return up.lastQuery
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(baseURL string) authproxy.Config {
	return authproxy.Config{
		Cookie:  cookie.DefaultConfig(),
		Session: session.Config{CookieName: session.DefaultCookieName},
		Upstream: apiclient.Config{
			BaseURL:        baseURL,
			Timeout:        5 * time.Second,
			RefreshTimeout: 5 * time.Second,
			ExpiresInMins:  30,
			RefreshGrace:   time.Minute,
		},
		Server:            server.DefaultConfig(),
		AppName:           "authproxy",
		Env:               "test",
		LogLevel:          "debug",
		SessionPassword:   strings.Repeat("p", authproxy.MinSessionPasswordLength),
		LoginRateLimit:    20,
		LoginRateWindow:   time.Minute,
		ProxyCacheControl: "private, max-age=60, stale-while-revalidate=300",
		ProxyMaxBodyBytes: 1 << 20,
	}
}

// browser drives the app handler in process and keeps cookies between calls.
type browser struct {
	t       *testing.T
	handler http.Handler
	jar     http.CookieJar
}

var siteURL = &url.URL{Scheme: "http", Host: "proxy.test", Path: "/"}

func newBrowser(t *testing.T, cfg authproxy.Config, opts ...authproxy.Option) *browser {
	t.Helper()
	app, err := authproxy.New(cfg, opts...)
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, handler: app.Handler(), jar: jar}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.jar.Cookies(siteURL) {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	b.jar.SetCookies(siteURL, rec.Result().Cookies())
	return rec
}

func (b *browser) request(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return b.do(req)
}

func (b *browser) form(target string, values url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) login() {
	b.t.Helper()
	rec := b.request(http.MethodPost, "/api/auth/login", `{"username":"emilys","password":"emilyspass"}`)
	require.Equal(b.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (b *browser) sessionCookie() string {
	for _, c := range b.jar.Cookies(siteURL) {
		if c.Name == session.DefaultCookieName {
			return c.Value
		}
	}
	return ""
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
