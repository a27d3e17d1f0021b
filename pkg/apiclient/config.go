package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrymomot/authproxy/core/logger"
)

// Config holds the environment-driven settings of the upstream client.
type Config struct {
	BaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"https://dummyjson.com"`
	// Timeout bounds every upstream call, including reading the body.
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	// RefreshTimeout bounds a token exchange. It does not depend on the
	// caller that started the exchange.
	RefreshTimeout time.Duration `env:"UPSTREAM_REFRESH_TIMEOUT" envDefault:"10s"`
	// ExpiresInMins is sent to upstream on login and refresh.
	ExpiresInMins int `env:"UPSTREAM_TOKEN_EXPIRES_IN_MINS" envDefault:"30"`
	// PreemptiveRefresh exchanges tokens before sending when the access
	// token is a JWT expiring within ExpiryLeeway.
	PreemptiveRefresh bool          `env:"UPSTREAM_PREEMPTIVE_REFRESH" envDefault:"true"`
	ExpiryLeeway      time.Duration `env:"UPSTREAM_EXPIRY_LEEWAY" envDefault:"30s"`
	// RefreshGrace is how long an exchanged pair is reused for late 401s
	// that still carry the old refresh token.
	RefreshGrace time.Duration `env:"UPSTREAM_REFRESH_GRACE" envDefault:"30s"`
}

func (c Config) validate() (*url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %w", ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: base url must be an absolute http(s) url", ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.RefreshTimeout < 0 || c.ExpiryLeeway < 0 || c.RefreshGrace < 0 {
		return nil, fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return u, nil
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UnauthorizedHandler runs when refreshing cannot recover a request.
// Its return value is what Do returns. The default returns err unchanged.
type UnauthorizedHandler func(ctx context.Context, req *Request, err error) error

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport used for upstream calls.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithOnUnauthorized replaces the default unauthorized handler.
func WithOnUnauthorized(h UnauthorizedHandler) Option {
	return func(c *Client) {
		if h != nil {
			c.onUnauthorized = h
		}
	}
}

// WithObserver reports upstream calls and refreshes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.With(logger.Component("apiclient"))
		}
	}
}

// WithClock overrides time.Now for expiry checks and the grace cache.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
