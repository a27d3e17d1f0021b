// Package authproxy wires the session-aware API proxy: the encrypted
// session cookie, the refreshing upstream client, the proxy and auth
// routes, and the server-rendered login and profile pages.
package authproxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/authproxy/core/cookie"
	"github.com/dmitrymomot/authproxy/core/health"
	"github.com/dmitrymomot/authproxy/core/logger"
	"github.com/dmitrymomot/authproxy/core/response"
	"github.com/dmitrymomot/authproxy/core/router"
	"github.com/dmitrymomot/authproxy/core/server"
	"github.com/dmitrymomot/authproxy/core/session"
	redisdb "github.com/dmitrymomot/authproxy/integration/database/redis"
	"github.com/dmitrymomot/authproxy/middleware"
	"github.com/dmitrymomot/authproxy/pkg/apiclient"
	"github.com/dmitrymomot/authproxy/pkg/clientip"
	"github.com/dmitrymomot/authproxy/pkg/metrics"
	"github.com/dmitrymomot/authproxy/pkg/ratelimiter"
)

// RateLimitKeyPrefix namespaces login buckets in Redis.
const RateLimitKeyPrefix = "authproxy:ratelimit:"

// App is the assembled proxy.
type App struct {
	config   Config
	logger   *slog.Logger
	router   router.Router[*Context]
	server   *server.Server
	sessions *session.Store
	client   *apiclient.Client
	metrics  *metrics.Collector
	limiter  ratelimiter.RateLimiter
	memStore *ratelimiter.MemoryStore
	checks   []health.Check

	redis      redis.UniversalClient
	httpClient apiclient.HTTPDoer
}

// Option configures an App.
type Option func(*App) error

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		a.logger = l
		return nil
	}
}

// WithRedis stores login rate limit buckets in Redis and adds a readiness check.
func WithRedis(client redis.UniversalClient) Option {
	return func(a *App) error {
		if client == nil {
			return errors.New("redis client cannot be nil")
		}
		a.redis = client
		return nil
	}
}

// WithUpstreamHTTPClient sets the transport used for upstream calls.
func WithUpstreamHTTPClient(doer apiclient.HTTPDoer) Option {
	return func(a *App) error {
		if doer == nil {
			return errors.New("http client cannot be nil")
		}
		a.httpClient = doer
		return nil
	}
}

// WithMetrics replaces the default metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *App) error {
		if c == nil {
			return errors.New("metrics collector cannot be nil")
		}
		a.metrics = c
		return nil
	}
}

// New assembles the app from cfg.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: logger.Discard()}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.metrics == nil {
		a.metrics = metrics.New(metrics.WithRuntimeMetrics())
	}

	cookieCfg := cfg.Cookie
	cookieCfg.Secrets = cfg.secrets()
	if cfg.IsProduction() {
		cookieCfg.Secure = true
	}
	cookies, err := cookie.NewFromConfig(cookieCfg)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewFromConfig(cfg.Session, cookies,
		session.WithLogger(a.logger.With(logger.Component("session"))))

	clientOpts := []apiclient.Option{
		apiclient.WithObserver(a.metrics),
		apiclient.WithLogger(a.logger),
	}
	if a.httpClient != nil {
		clientOpts = append(clientOpts, apiclient.WithHTTPClient(a.httpClient))
	}
	if a.client, err = apiclient.New(cfg.Upstream, clientOpts...); err != nil {
		return nil, err
	}

	var store ratelimiter.Store
	if a.redis != nil {
		a.checks = append(a.checks, health.Check{Name: "redis", Fn: redisdb.Healthcheck(a.redis)})
		store = ratelimiter.NewRedisStore(a.redis, ratelimiter.WithKeyPrefix(RateLimitKeyPrefix))
	} else {
		a.memStore = ratelimiter.NewMemoryStore(
			ratelimiter.WithMemoryStoreLogger(a.logger.With(logger.Component("ratelimiter"))))
		store = a.memStore
	}
	if a.limiter, err = ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       cfg.LoginRateLimit,
		RefillRate:     cfg.LoginRateLimit,
		RefillInterval: cfg.LoginRateWindow,
	}); err != nil {
		return nil, err
	}

	if a.server, err = server.NewFromConfig(cfg.Server, server.WithLogger(a.logger)); err != nil {
		return nil, err
	}

	proxies, err := clientip.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	a.router = router.New[*Context](
		router.WithContextFactory(newContext),
		router.WithErrorHandler[*Context](errorHandler),
		router.WithLogger[*Context](a.logger),
		router.WithMiddleware[*Context](
			middleware.RequestID[*Context](),
			middleware.ClientIPWithConfig[*Context](middleware.ClientIPConfig{Resolve: clientip.Trusted(proxies)}),
			middleware.LoggingWithLogger[*Context](a.logger),
			middleware.ResponseTime[*Context](),
			middleware.SecurityHeadersWithConfig[*Context](securityConfig(cfg)),
			middleware.Session[*Context](a.sessions),
		),
	)
	a.routes()

	return a, nil
}

// Handler returns the router wrapped with CORS and response compression.
func (a *App) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: a.config.CORSAllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
			http.MethodPatch, http.MethodHead, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Refresh-Token"},
		ExposedHeaders:   []string{"X-Response-Time", "X-Proxy-Path", "X-Proxy-Status"},
		MaxAge:           600,
		AllowCredentials: true,
	})
	return gzhttp.GzipHandler(c.Handler(a.router))
}

// Run serves until ctx is cancelled. The in-memory limiter is swept in the
// background when Redis is not configured.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.memStore != nil {
		g.Go(a.memStore.Run(ctx))
	}
	g.Go(a.server.Run(ctx, a.Handler()))
	return g.Wait()
}

func securityConfig(cfg Config) middleware.SecurityHeadersConfig {
	sc := middleware.DefaultSecurity
	sc.IsDevelopment = !cfg.IsProduction()
	return sc
}

// errorHandler renders JSON for API routes and plain text elsewhere.
func errorHandler(ctx *Context, err error) {
	if strings.HasPrefix(ctx.Request().URL.Path, "/api/") {
		response.JSONErrorHandler(ctx, err)
		return
	}
	response.ErrorHandler(ctx, err)
}
