// Package health provides the liveness and readiness probe handlers.
//
//	r.Get("/health", health.Liveness[*authproxy.Context])
//	r.Get("/health/ready", health.Readiness[*authproxy.Context](log,
//		health.Check{Name: "redis", Fn: store.Healthcheck},
//	))
//
// Liveness never touches dependencies. Readiness runs every check in
// parallel and answers 503 when any of them fails.
package health
