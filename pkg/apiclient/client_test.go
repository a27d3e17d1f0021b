package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authproxy/pkg/apiclient"
)

var expired = apiclient.Credentials{AccessToken: "expired", RefreshToken: "refresh-0"}

func getPosts(creds apiclient.Credentials) *apiclient.Request {
	return &apiclient.Request{Method: http.MethodGet, Path: "/posts", Credentials: creds}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "dummyjson.com", "ftp://dummyjson.com", "://"} {
		_, err := apiclient.New(apiclient.Config{BaseURL: base})
		assert.ErrorIs(t, err, apiclient.ErrInvalidConfig, base)
	}

	assert.Panics(t, func() { apiclient.MustNew(apiclient.Config{}) })
}

func TestDo_ForwardsRequest(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	c := up.client(t)

	resp, err := c.Do(context.Background(), &apiclient.Request{
		Method:      http.MethodPost,
		Path:        "/echo",
		RawQuery:    "limit=5&skip=10",
		Header:      http.Header{"X-Custom": {"yes"}, "Content-Type": {"application/json"}},
		Body:        []byte(`{"title":"x"}`),
		Credentials: apiclient.Credentials{AccessToken: "a", RefreshToken: "r"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsJSON())
	assert.Nil(t, resp.Refreshed)

	var echo map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &echo))
	assert.Equal(t, "POST", echo["method"])
	assert.Equal(t, "/echo", echo["path"])
	assert.Equal(t, "limit=5&skip=10", echo["query"])
	assert.Equal(t, "Bearer a", echo["authorization"])
	assert.Equal(t, "r", echo["refreshToken"])
	assert.Equal(t, "yes", echo["custom"])
	assert.EqualValues(t, len(`{"title":"x"}`), echo["contentLength"])
}

func TestDo_GetOmitsBody(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	resp, err := up.client(t).Do(context.Background(), &apiclient.Request{
		Method: http.MethodGet,
		Path:   "/echo",
		Body:   []byte(`ignored`),
	})
	require.NoError(t, err)

	var echo map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &echo))
	assert.EqualValues(t, 0, echo["contentLength"])
	assert.Empty(t, echo["authorization"])
}

func TestDo_NonUnauthorizedPassesThrough(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	resp, err := up.client(t).Do(context.Background(), &apiclient.Request{
		Method:      http.MethodGet,
		Path:        "/boom",
		Credentials: expired,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"message":"boom"}`, string(resp.Body))
	assert.Zero(t, up.refreshCalls.Load())
}

func TestDo_UnauthorizedWithoutRefreshTokenPassesThrough(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	resp, err := up.client(t).Do(context.Background(), getPosts(apiclient.Credentials{}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, up.refreshCalls.Load())
}

func TestDo_NetworkFailure(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))
	up.srv.Close()

	_, err := c.Do(context.Background(), getPosts(expired))
	require.ErrorIs(t, err, apiclient.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, apiclient.ErrUnauthorized)
	assert.Equal(t, 1, obs.requests["GET 0"])
}

func TestDo_Timeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	up := newUpstream(t, withGate(block))
	c, err := apiclient.New(apiclient.Config{
		BaseURL:        up.srv.URL,
		Timeout:        time.Second,
		RefreshTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	// The refresh hangs behind the gate and must give up on its own.
	start := time.Now()
	_, err = c.Do(context.Background(), getPosts(expired))
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo_RefreshAndRetry(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))

	var persisted []apiclient.TokenPair
	req := getPosts(expired)
	req.OnRefresh = func(p apiclient.TokenPair) error {
		persisted = append(persisted, p)
		return nil
	}

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"posts":[{"id":1,"title":"hello"}],"total":1}`, string(resp.Body))

	want := apiclient.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NotNil(t, resp.Refreshed)
	assert.Equal(t, want, *resp.Refreshed)
	assert.Equal(t, []apiclient.TokenPair{want}, persisted)
	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.Equal(t, 1, obs.requests["GET 401"])
	assert.Equal(t, 1, obs.requests["GET 200"])
	assert.Equal(t, 1, obs.requests["POST 200"])
	assert.Equal(t, []error{nil}, obs.refreshes)
}

func TestDo_PersistFailureDoesNotBlockRetry(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	req := getPosts(expired)
	req.OnRefresh = func(apiclient.TokenPair) error { return errors.New("cookie too large") }

	resp, err := up.client(t).Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_RetriedRequestFailsWithoutSecondRefresh(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	var handled atomic.Int32
	c := up.client(t, apiclient.WithOnUnauthorized(func(_ context.Context, _ *apiclient.Request, err error) error {
		handled.Add(1)
		return err
	}))

	_, err := c.Do(context.Background(), &apiclient.Request{
		Method:      http.MethodGet,
		Path:        "/always401",
		Credentials: expired,
	})
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)

	var upErr *apiclient.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)

	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.EqualValues(t, 2, up.rejected.Load())
	assert.EqualValues(t, 1, handled.Load())
}

func TestDo_RefreshRejected(t *testing.T) {
	t.Parallel()

	up := newUpstream(t, withFailingRefresh())
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))

	resp, err := c.Do(context.Background(), getPosts(expired))
	assert.Nil(t, resp)
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)

	var upErr *apiclient.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "Invalid refresh token", upErr.Message)
	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.Equal(t, 1, obs.refreshCount())
}

func TestDo_OnUnauthorizedReplacesError(t *testing.T) {
	t.Parallel()

	errLoginRequired := errors.New("login required")
	up := newUpstream(t, withFailingRefresh())
	c := up.client(t, apiclient.WithOnUnauthorized(func(context.Context, *apiclient.Request, error) error {
		return errLoginRequired
	}))

	_, err := c.Do(context.Background(), getPosts(expired))
	assert.ErrorIs(t, err, errLoginRequired)
}

func TestDo_PreemptiveRefresh(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	c := up.client(t)

	token := mintJWT(t, time.Now().Add(5*time.Second))
	resp, err := c.Do(context.Background(), getPosts(apiclient.Credentials{AccessToken: token, RefreshToken: "refresh-0"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.Refreshed)
	assert.Equal(t, "access-1", resp.Refreshed.AccessToken)

	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.EqualValues(t, 1, up.resourceHits.Load(), "the stale token is never sent")
	_, sent := up.seenBearer.Load("Bearer " + token)
	assert.False(t, sent)
}

func TestDo_PreemptiveRefreshFailureSendsCurrentToken(t *testing.T) {
	t.Parallel()

	token := mintJWT(t, time.Now().Add(10*time.Second))
	up := newUpstream(t, withAccessToken(token), withRefreshStatus(http.StatusServiceUnavailable))
	var unauthorized atomic.Int32
	c := up.client(t, apiclient.WithOnUnauthorized(func(_ context.Context, _ *apiclient.Request, err error) error {
		unauthorized.Add(1)
		return err
	}))

	resp, err := c.Do(context.Background(), getPosts(apiclient.Credentials{AccessToken: token, RefreshToken: "refresh-0"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, resp.Refreshed)

	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.EqualValues(t, 1, up.resourceHits.Load())
	_, sent := up.seenBearer.Load("Bearer " + token)
	assert.True(t, sent)
	assert.Zero(t, unauthorized.Load())
}

func TestDo_PreemptiveRefreshFailureThenRejected(t *testing.T) {
	t.Parallel()

	up := newUpstream(t, withRefreshStatus(http.StatusServiceUnavailable))
	token := mintJWT(t, time.Now().Add(10*time.Second))

	_, err := up.client(t).Do(context.Background(), getPosts(apiclient.Credentials{AccessToken: token, RefreshToken: "refresh-0"}))
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)

	// The 401 on the current token starts a regular refresh, which fails too.
	assert.EqualValues(t, 2, up.refreshCalls.Load())
	assert.EqualValues(t, 1, up.resourceHits.Load())
}

func TestDo_PreemptiveRefreshCancelled(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	up := newUpstream(t, withGate(gate))
	token := mintJWT(t, time.Now().Add(10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := up.client(t).Do(ctx, getPosts(apiclient.Credentials{AccessToken: token, RefreshToken: "refresh-0"}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, up.resourceHits.Load())
}

func TestDo_FreshJWTIsNotRefreshed(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	token := mintJWT(t, time.Now().Add(time.Hour))

	resp, err := up.client(t).Do(context.Background(), getPosts(apiclient.Credentials{AccessToken: token, RefreshToken: "refresh-0"}))
	require.NoError(t, err)
	// The upstream only accepts access-0, so the call is refreshed reactively.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, up.resourceHits.Load())
	_, sent := up.seenBearer.Load("Bearer " + token)
	assert.True(t, sent)
}

func TestDo_GraceReusesExchangedPair(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))

	for range 3 {
		resp, err := c.Do(context.Background(), getPosts(expired))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, resp.Refreshed)
		assert.Equal(t, "access-1", resp.Refreshed.AccessToken)
	}

	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.EqualValues(t, 2, obs.coalesced.Load())
}

func TestDo_GraceExpires(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	var now atomic.Pointer[time.Time]
	start := time.Now()
	now.Store(&start)
	c := up.client(t, apiclient.WithClock(func() time.Time { return *now.Load() }))

	_, err := c.Do(context.Background(), getPosts(expired))
	require.NoError(t, err)

	later := start.Add(2 * time.Minute)
	now.Store(&later)

	// refresh-0 was rotated upstream, so a new exchange with it is rejected.
	_, err = c.Do(context.Background(), getPosts(expired))
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)
	assert.EqualValues(t, 2, up.refreshCalls.Load())
}

func mintJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return token
}

// waitForJoiners blocks until n callers have joined the exchange in flight.
func waitForJoiners(t *testing.T, obs *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return obs.coalesced.Load() >= int32(n) }, 5*time.Second, time.Millisecond)
	// Joiners report before subscribing to the flight.
	time.Sleep(20 * time.Millisecond)
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	t.Parallel()

	const n = 10
	gate := make(chan struct{})
	up := newUpstream(t, withGate(gate))
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))

	type result struct {
		resp *apiclient.Response
		err  error
	}
	results := make(chan result, n)
	var persisted atomic.Int32

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := getPosts(expired)
			req.OnRefresh = func(apiclient.TokenPair) error {
				persisted.Add(1)
				return nil
			}
			resp, err := c.Do(context.Background(), req)
			results <- result{resp, err}
		}()
	}

	waitForJoiners(t, obs, n-1)
	close(gate)
	wg.Wait()
	close(results)

	for res := range results {
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.resp.StatusCode)
		assert.JSONEq(t, `{"posts":[{"id":1,"title":"hello"}],"total":1}`, string(res.resp.Body))
	}
	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.EqualValues(t, n, persisted.Load())
	assert.Equal(t, 1, obs.refreshCount())
}

func TestDo_ConcurrentUnauthorizedFailTogether(t *testing.T) {
	t.Parallel()

	const n = 10
	gate := make(chan struct{})
	up := newUpstream(t, withGate(gate), withFailingRefresh())
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), getPosts(expired))
			errs <- err
		}()
	}

	waitForJoiners(t, obs, n-1)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, apiclient.ErrUnauthorized)
	}
	assert.EqualValues(t, 1, up.refreshCalls.Load())
	assert.EqualValues(t, n, up.rejected.Load(), "no request is replayed")
}

func TestDo_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	up := newUpstream(t, withGate(gate))
	obs := newRecorder()
	c := up.client(t, apiclient.WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, getPosts(expired))
		first <- err
	}()
	require.Eventually(t, func() bool { return up.refreshCalls.Load() == 1 }, 5*time.Second, time.Millisecond)

	second := make(chan *apiclient.Response, 1)
	go func() {
		resp, err := c.Do(context.Background(), getPosts(expired))
		assert.NoError(t, err)
		second <- resp
	}()
	waitForJoiners(t, obs, 1)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(gate)
	resp := <-second
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, up.refreshCalls.Load())
}
