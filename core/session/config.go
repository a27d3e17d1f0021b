package session

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/authproxy/core/cookie"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "auth-session"

// Config is the environment configuration for a Store.
type Config struct {
	CookieName string `env:"SESSION_COOKIE_NAME" envDefault:"auth-session"`
	// MaxAge bounds the session lifetime. Zero keeps a browser-session cookie with no embedded expiry.
	MaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"0"`
	// Domain scopes the session cookie, e.g. to share it across subdomains.
	// Empty falls back to the cookie manager's domain.
	Domain string `env:"SESSION_COOKIE_DOMAIN" envDefault:""`
}

// Option configures a Store.
type Option func(*Store)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.name = name
		}
	}
}

// WithMaxAge sets the session lifetime. It is embedded in the sealed value and
// mirrored in the cookie's Max-Age.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithCookieOptions sets attributes applied to every session cookie write.
func WithCookieOptions(opts ...cookie.Option) Option {
	return func(s *Store) {
		s.cookieOpts = append(s.cookieOpts, opts...)
	}
}

// WithLogger sets the logger used to report undecodable cookies.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFromConfig creates a Store from configuration. opts are applied last.
func NewFromConfig(cfg Config, cookies *cookie.Manager, opts ...Option) *Store {
	base := []Option{WithCookieName(cfg.CookieName), WithMaxAge(cfg.MaxAge)}
	if cfg.Domain != "" {
		base = append(base, WithCookieOptions(cookie.WithDomain(cfg.Domain)))
	}
	return New(cookies, append(base, opts...)...)
}
