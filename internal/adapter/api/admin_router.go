package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/logrelay/internal/adapter/api/handler"
	"github.com/V4T54L/logrelay/internal/adapter/api/middleware"
)

// NewAdminRouter creates the HTTP router of the admin server shared by both
// roles. stats and tail may be nil; their routes are then not registered.
func NewAdminRouter(gatherer prometheus.Gatherer, stats handler.StatsProvider, tail handler.TailReader, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(stats, tail, logger)

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if stats != nil || tail != nil {
		mux.HandleFunc("GET /stats", adminHandler.Stats)
	}
	if tail != nil {
		mux.HandleFunc("GET /tail", adminHandler.Tail)
	}

	return middleware.Logging(logger)(mux)
}
