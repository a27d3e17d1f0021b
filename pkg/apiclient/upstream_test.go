package apiclient_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authproxy/pkg/apiclient"
)

// upstream is a fake of the demo API: login, refresh with rotation, and
// bearer-protected resources.
type upstream struct {
	srv *httptest.Server

	mu      sync.Mutex
	access  string
	refresh string
	gen     int

	gate          chan struct{}
	failRefresh   bool
	refreshStatus int

	refreshCalls atomic.Int32
	rejected     atomic.Int32
	resourceHits atomic.Int32
	seenBearer   sync.Map
}

type upstreamOption func(*upstream)

func withGate(gate chan struct{}) upstreamOption { return func(u *upstream) { u.gate = gate } }
func withFailingRefresh() upstreamOption      { return func(u *upstream) { u.failRefresh = true } }

// withRefreshStatus makes /auth/refresh answer status regardless of the token.
func withRefreshStatus(status int) upstreamOption {
	return func(u *upstream) { u.refreshStatus = status }
}

// withAccessToken sets the access token protected resources accept.
func withAccessToken(token string) upstreamOption {
	return func(u *upstream) { u.access = token }
}

func newUpstream(t *testing.T, opts ...upstreamOption) *upstream {
	t.Helper()

	u := &upstream{access: "access-0", refresh: "refresh-0"}
	for _, opt := range opts {
		opt(u)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", u.login)
	mux.HandleFunc("POST /auth/refresh", u.handleRefresh)
	mux.HandleFunc("/posts", u.protected(`{"posts":[{"id":1,"title":"hello"}],"total":1}`))
	mux.HandleFunc("GET /auth/me", u.protected(`{"id":1,"username":"emilys","age":28}`))
	mux.HandleFunc("/always401", func(w http.ResponseWriter, r *http.Request) {
		u.rejected.Add(1)
		writeJSON(w, http.StatusUnauthorized, `{"message":"Unauthorized"}`)
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"message":"boom"}`)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		out, _ := json.Marshal(map[string]any{
			"method":        r.Method,
			"query":         r.URL.RawQuery,
			"path":          r.URL.Path,
			"authorization": r.Header.Get("Authorization"),
			"refreshToken":  r.Header.Get("Refresh-Token"),
			"contentLength": r.ContentLength,
			"custom":        r.Header.Get("X-Custom"),
		})
		writeJSON(w, http.StatusOK, string(out))
	})

	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) client(t *testing.T, opts ...apiclient.Option) *apiclient.Client {
	t.Helper()
	c, err := apiclient.New(apiclient.Config{
		BaseURL:           u.srv.URL,
		Timeout:           5 * time.Second,
		RefreshTimeout:    5 * time.Second,
		ExpiresInMins:     30,
		RefreshGrace:      time.Minute,
		ExpiryLeeway:      30 * time.Second,
		PreemptiveRefresh: true,
	}, opts...)
	require.NoError(t, err)
	return c
}

func (u *upstream) tokens() (string, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.access, u.refresh
}

func (u *upstream) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username      string `json:"username"`
		Password      string `json:"password"`
		ExpiresInMins int    `json:"expiresInMins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, `{"message":"bad body"}`)
		return
	}
	if body.Username != "emilys" || body.Password != "emilyspass" || body.ExpiresInMins != 30 {
		writeJSON(w, http.StatusBadRequest, `{"message":"Invalid credentials"}`)
		return
	}

	access, refresh := u.tokens()
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{
		"id":1,"username":"emilys","email":"emily.johnson@x.dummyjson.com",
		"firstName":"Emily","lastName":"Johnson","gender":"female",
		"image":"https://dummyjson.com/icon/emilys/128",
		"accessToken":%q,"refreshToken":%q}`, access, refresh))
}

func (u *upstream) handleRefresh(w http.ResponseWriter, r *http.Request) {
	u.refreshCalls.Add(1)
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-r.Context().Done():
			return
		}
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if u.refreshStatus != 0 {
		writeJSON(w, u.refreshStatus, `{"message":"try later"}`)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failRefresh || body.RefreshToken != u.refresh {
		writeJSON(w, http.StatusUnauthorized, `{"message":"Invalid refresh token"}`)
		return
	}
	u.gen++
	u.access = fmt.Sprintf("access-%d", u.gen)
	u.refresh = fmt.Sprintf("refresh-%d", u.gen)
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"accessToken":%q,"refreshToken":%q}`, u.access, u.refresh))
}

func (u *upstream) protected(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.resourceHits.Add(1)
		bearer := r.Header.Get("Authorization")
		u.seenBearer.Store(bearer, true)

		access, _ := u.tokens()
		if bearer != "Bearer "+access {
			u.rejected.Add(1)
			writeJSON(w, http.StatusUnauthorized, `{"message":"Token Expired!"}`)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// recorder counts observer events.
type recorder struct {
	mu        sync.Mutex
	requests  map[string]int
	refreshes []error
	coalesced atomic.Int32
}

func newRecorder() *recorder { return &recorder{requests: make(map[string]int)} }

func (r *recorder) UpstreamRequest(method string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[fmt.Sprintf("%s %d", method, status)]++
}

func (r *recorder) RefreshCompleted(err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, err)
}

func (r *recorder) RefreshCoalesced() { r.coalesced.Add(1) }

func (r *recorder) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refreshes)
}
