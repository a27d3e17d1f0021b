package authproxy

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/authproxy/core/cookie"
	"github.com/dmitrymomot/authproxy/core/server"
	"github.com/dmitrymomot/authproxy/core/session"
	redisdb "github.com/dmitrymomot/authproxy/integration/database/redis"
	"github.com/dmitrymomot/authproxy/pkg/apiclient"
	"github.com/dmitrymomot/authproxy/pkg/clientip"
)

// MinSessionPasswordLength is the shortest accepted SESSION_PASSWORD.
const MinSessionPasswordLength = 32

// ErrWeakSessionPassword is returned by Validate for short passwords.
var ErrWeakSessionPassword = errors.New("authproxy: session password is too short")

// Config is the application configuration.
type Config struct {
	Cookie   cookie.Config
	Session  session.Config
	Upstream apiclient.Config
	Server   server.Config

	AppName  string `env:"APP_NAME" envDefault:"authproxy"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// SessionPassword seals the session cookie. COOKIE_SECRETS, when set,
	// lists retired passwords still accepted for decryption.
	SessionPassword string `env:"SESSION_PASSWORD,required"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// TrustedProxies lists the proxies (CIDR or address) whose forwarding
	// headers identify the client. Empty means the peer address is used.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Redis, when configured, holds the login rate limit buckets.
	Redis           redisdb.Config
	LoginRateLimit  int           `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`

	ProxyCacheControl string `env:"PROXY_CACHE_CONTROL" envDefault:"private, max-age=60, stale-while-revalidate=300"`
	// ProxyMaxBodyBytes caps the forwarded request body.
	ProxyMaxBodyBytes int64 `env:"PROXY_MAX_BODY_BYTES" envDefault:"1048576"`
}

// IsProduction reports whether the app runs in production mode.
func (c Config) IsProduction() bool { return c.Env == "production" }

// Validate checks settings the env tags cannot express.
func (c Config) Validate() error {
	if len(c.SessionPassword) < MinSessionPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakSessionPassword, MinSessionPasswordLength)
	}
	if c.LoginRateLimit <= 0 || c.LoginRateWindow <= 0 {
		return errors.New("authproxy: login rate limit and window must be positive")
	}
	if _, err := clientip.ParsePrefixes(c.TrustedProxies); err != nil {
		return fmt.Errorf("authproxy: invalid trusted proxy: %w", err)
	}
	return nil
}

// secrets returns the cookie secrets with the session password first.
func (c Config) secrets() string {
	if c.Cookie.Secrets == "" {
		return c.SessionPassword
	}
	return c.SessionPassword + "," + c.Cookie.Secrets
}
