// Package metrics exports proxy and token refresh counters in the Prometheus
// text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authproxy"

// Login attempt results.
const (
	LoginSuccess     = "success"
	LoginRejected    = "rejected"
	LoginRateLimited = "rate_limited"
	LoginError       = "error"
)

// Collector owns a private registry with the proxy metrics.
// It satisfies apiclient.Observer.
type Collector struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	refreshTotal     *prometheus.CounterVec
	refreshCoalesced prometheus.Counter
	refreshDuration  prometheus.Histogram
	loginAttempts    *prometheus.CounterVec
}

// Option configures a Collector.
type Option func(*options)

type options struct {
	runtime bool
}

// WithRuntimeMetrics adds the Go runtime and process collectors.
func WithRuntimeMetrics() Option {
	return func(o *options) { o.runtime = true }
}

// New creates a Collector with all metrics registered.
func New(opts ...Option) *Collector {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API calls by method and status. Status 0 means no response.",
		}, []string{"method", "status"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token exchanges by result.",
		}, []string{"result"}),
		refreshCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_coalesced_total",
			Help:      "Callers that reused a token exchange started by another request.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_refresh_duration_seconds",
			Help:      "Duration of token exchanges.",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.upstreamRequests,
		c.refreshTotal,
		c.refreshCoalesced,
		c.refreshDuration,
		c.loginAttempts,
	)
	if o.runtime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return c
}

// UpstreamRequest counts one upstream call.
func (c *Collector) UpstreamRequest(method string, status int) {
	c.upstreamRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RefreshCompleted records one token exchange.
func (c *Collector) RefreshCompleted(err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.refreshTotal.WithLabelValues(result).Inc()
	c.refreshDuration.Observe(elapsed.Seconds())
}

// RefreshCoalesced counts a caller that joined an exchange in flight.
func (c *Collector) RefreshCoalesced() {
	c.refreshCoalesced.Inc()
}

// LoginAttempt counts a login by result.
func (c *Collector) LoginAttempt(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
