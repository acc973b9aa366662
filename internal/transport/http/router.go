// Package httptransport assembles the public HTTP surface: the verification
// endpoints, health, and metrics. Transport stays thin; every decision
// belongs to the services behind it.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vicinity/internal/platform/middleware"
	"vicinity/internal/verification/handler"
	"vicinity/pkg/platform/httputil"
)

// HealthCheck probes one dependency. Checks run with a short deadline; a
// failing check makes /healthz report unhealthy.
type HealthCheck func(ctx context.Context) error

// NewRouter wires middleware and mounts all endpoints.
func NewRouter(verification *handler.Handler, checks map[string]HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientIP)

	r.Get("/healthz", handleHealth(checks))
	r.Handle("/metrics", promhttp.Handler())

	verification.Register(r)
	return r
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": overall,
			"checks": results,
		})
	}
}
