package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/authproxy/core/handler"
	"github.com/dmitrymomot/authproxy/core/logger"
	"github.com/dmitrymomot/authproxy/core/response"
)

// DefaultCheckTimeout bounds a readiness run.
const DefaultCheckTimeout = 3 * time.Second

// Check is a named dependency probe.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// Report is the probe response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness reports that the process is serving requests.
func Liveness[C handler.Context](C) handler.Response {
	return response.NoStore(response.JSON(Report{Status: "ok"}))
}

// Readiness runs checks concurrently. A failing check is logged and marks
// the whole report unavailable with 503.
func Readiness[C handler.Context](log *slog.Logger, checks ...Check) handler.HandlerFunc[C] {
	if log == nil {
		log = logger.Discard()
	}

	return func(ctx C) handler.Response {
		cctx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
		defer cancel()

		var (
			mu     sync.Mutex
			report = Report{Status: "ready", Checks: make(map[string]string, len(checks))}
		)

		var g errgroup.Group
		for _, check := range checks {
			g.Go(func() error {
				status := "ok"
				if err := check.Fn(cctx); err != nil {
					status = "unavailable"
					log.ErrorContext(ctx, "readiness check failed",
						logger.Component(check.Name),
						logger.Error(err),
					)
				}

				mu.Lock()
				report.Checks[check.Name] = status
				if status != "ok" {
					report.Status = "unavailable"
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		code := http.StatusOK
		if report.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		return response.NoStore(response.JSONWithStatus(report, code))
	}
}
