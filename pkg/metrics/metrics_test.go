package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authproxy/pkg/apiclient"
	"github.com/dmitrymomot/authproxy/pkg/metrics"
)

var _ apiclient.Observer = (*metrics.Collector)(nil)

func TestCollector_Counts(t *testing.T) {
	t.Parallel()

	c := metrics.New()
	c.UpstreamRequest("GET", 200)
	c.UpstreamRequest("GET", 200)
	c.UpstreamRequest("GET", 401)
	c.RefreshCompleted(nil, 120*time.Millisecond)
	c.RefreshCompleted(errors.New("rejected"), 80*time.Millisecond)
	c.RefreshCoalesced()
	c.LoginAttempt(metrics.LoginSuccess)
	c.LoginAttempt(metrics.LoginRateLimited)

	expected := `
# HELP authproxy_upstream_requests_total Upstream API calls by method and status. Status 0 means no response.
# TYPE authproxy_upstream_requests_total counter
authproxy_upstream_requests_total{method="GET",status="200"} 2
authproxy_upstream_requests_total{method="GET",status="401"} 1
# HELP authproxy_token_refresh_total Token exchanges by result.
# TYPE authproxy_token_refresh_total counter
authproxy_token_refresh_total{result="failure"} 1
authproxy_token_refresh_total{result="success"} 1
# HELP authproxy_token_refresh_coalesced_total Callers that reused a token exchange started by another request.
# TYPE authproxy_token_refresh_coalesced_total counter
authproxy_token_refresh_coalesced_total 1
# HELP authproxy_login_attempts_total Login attempts by result.
# TYPE authproxy_login_attempts_total counter
authproxy_login_attempts_total{result="rate_limited"} 1
authproxy_login_attempts_total{result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"authproxy_upstream_requests_total",
		"authproxy_token_refresh_total",
		"authproxy_token_refresh_coalesced_total",
		"authproxy_login_attempts_total",
	))

	count, err := testutil.GatherAndCount(c.Registry(), "authproxy_token_refresh_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	c := metrics.New(metrics.WithRuntimeMetrics())
	c.UpstreamRequest("POST", 0)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), `authproxy_upstream_requests_total{method="POST",status="0"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
