package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/authproxy/core/logger"
)

// maxBodySize caps upstream bodies read into memory.
const maxBodySize = 10 << 20

// Header names carrying credentials to the upstream API.
const (
	HeaderAuthorization = "Authorization"
	HeaderRefreshToken  = "Refresh-Token"
)

// Credentials are the tokens a request is sent with.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// TokenPair is the result of a token exchange. RefreshToken is empty when
// upstream did not rotate it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Request is a replayable upstream call.
type Request struct {
	Method string
	// Path is appended to the base URL.
	Path     string
	RawQuery string
	Header   http.Header
	// Body is buffered so the call can be re-issued. Ignored for GET and HEAD.
	Body        []byte
	Credentials Credentials
	// OnRefresh is called with the new pair before the call is replayed.
	// An error is logged and does not stop the replay.
	OnRefresh func(TokenPair) error
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Refreshed is set when the tokens were exchanged during the call.
	Refreshed *TokenPair
}

// IsJSON reports whether the body is syntactically valid JSON.
func (r *Response) IsJSON() bool {
	return len(r.Body) > 0 && json.Valid(r.Body)
}

// Client talks to the upstream API and keeps its credentials fresh.
type Client struct {
	cfg            Config
	base           *url.URL
	http           HTTPDoer
	onUnauthorized UnauthorizedHandler
	observer       Observer
	logger         *slog.Logger
	now            func() time.Time

	flights singleflight.Group

	mu      sync.Mutex
	recent  map[string]exchanged
	waiting map[string]int
}

type exchanged struct {
	pair TokenPair
	at   time.Time
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	if cfg.ExpiresInMins <= 0 {
		cfg.ExpiresInMins = 30
	}

	c := &Client{
		cfg:      cfg,
		base:     base,
		http:     &http.Client{},
		observer: nopObserver{},
		logger:   logger.Discard(),
		now:      time.Now,
		recent:   make(map[string]exchanged),
		waiting:  make(map[string]int),
		onUnauthorized: func(_ context.Context, _ *Request, err error) error {
			return err
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustNew is New that panics on an invalid config.
func MustNew(cfg Config, opts ...Option) *Client {
	c, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Do sends req, refreshing the credentials at most once.
//
// A non-401 response is returned as is, whatever its status. A 401 with no
// refresh token is returned as is too. Otherwise the call waits for the
// token exchange shared by every caller holding the same refresh token and
// is replayed with the new access token. If the exchange fails, or the
// replay is rejected again, the result is an error matching ErrUnauthorized
// passed through the unauthorized handler.
//
// A JWT access token close to expiry is exchanged before sending. If that
// exchange fails the request still goes out with the current token.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	creds := req.Credentials
	var refreshed *TokenPair
	retried := false

	if c.expiresSoon(creds) {
		pair, err := c.exchange(ctx, creds.RefreshToken)
		switch {
		case err == nil:
			retried = true
			creds = c.applyRefresh(ctx, req, creds, pair)
			refreshed = &pair
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			// The access token is still valid, so send it. A 401 on it
			// goes through the regular refresh below.
			c.logger.WarnContext(ctx, "preemptive refresh failed, sending current token",
				logger.Method(req.Method),
				logger.Path(req.Path),
				logger.Error(err),
			)
		}
	}

	resp, err := c.send(ctx, req, creds)
	if err != nil {
		return nil, err
	}
	resp.Refreshed = refreshed

	if resp.StatusCode != http.StatusUnauthorized || creds.RefreshToken == "" {
		return resp, nil
	}
	if retried {
		return nil, c.fail(ctx, req, rejected(resp))
	}

	pair, err := c.exchange(ctx, creds.RefreshToken)
	if err != nil {
		return nil, c.fail(ctx, req, err)
	}
	creds = c.applyRefresh(ctx, req, creds, pair)

	resp, err = c.send(ctx, req, creds)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, c.fail(ctx, req, rejected(resp))
	}
	resp.Refreshed = &pair
	return resp, nil
}

func (c *Client) applyRefresh(ctx context.Context, req *Request, creds Credentials, pair TokenPair) Credentials {
	creds.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		creds.RefreshToken = pair.RefreshToken
	}
	if req.OnRefresh != nil {
		if err := req.OnRefresh(pair); err != nil {
			c.logger.WarnContext(ctx, "persist refreshed tokens failed", logger.Error(err))
		}
	}
	return creds
}

// fail turns err into the final unauthorized error. A cancelled caller
// gets its context error instead.
func (c *Client) fail(ctx context.Context, req *Request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	if !errors.Is(err, ErrUnauthorized) {
		err = fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	c.logger.InfoContext(ctx, "upstream rejected credentials",
		logger.Method(req.Method),
		logger.Path(req.Path),
		logger.Error(err),
	)
	return c.onUnauthorized(ctx, req, err)
}

func rejected(resp *Response) error {
	return &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(resp.Body)}
}

// send performs one upstream call with creds.
func (c *Client) send(ctx context.Context, req *Request, creds Credentials) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}

	hr, err := http.NewRequestWithContext(ctx, method, c.url(req.Path, req.RawQuery), body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	if req.Header != nil {
		hr.Header = req.Header.Clone()
	}
	if creds.AccessToken != "" {
		hr.Header.Set(HeaderAuthorization, "Bearer "+creds.AccessToken)
	}
	if creds.RefreshToken != "" {
		hr.Header.Set(HeaderRefreshToken, creds.RefreshToken)
	}

	res, err := c.http.Do(hr)
	if err != nil {
		c.observer.UpstreamRequest(method, 0)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUpstreamUnavailable, method, req.Path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		c.observer.UpstreamRequest(method, 0)
		return nil, fmt.Errorf("%w: read %s %s: %w", ErrUpstreamUnavailable, method, req.Path, err)
	}
	c.observer.UpstreamRequest(method, res.StatusCode)

	c.logger.DebugContext(ctx, "upstream call",
		logger.Method(method),
		logger.Path(req.Path),
		logger.StatusCode(res.StatusCode),
	)

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}

func (c *Client) url(path, rawQuery string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// upstreamMessage extracts {"message": ...} from an upstream error body.
func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}
