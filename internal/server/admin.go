package server

import (
	"net/http"

	"LiquidityBridge/internal/observability"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAdminRouter serves health checks and Prometheus metrics.
func NewAdminRouter(health *observability.HealthChecker, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.ReadinessHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
