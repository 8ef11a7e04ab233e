package api

import (
	"log/slog"
	"net/http"

	"github.com/lucasrpinho/distributed-sensor-ingestion/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func NewRouter(h *Handlers, redisClient *redis.Client, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", h.ListMetrics)
		r.Get("/metrics/summary", h.Summary)

		r.Get("/producer-config", h.GetProducerConfig)
		r.With(middleware.Idempotency(redisClient)).Put("/producer-config", h.UpdateProducerConfig)
	})

	r.Handle("/metrics", promhttp.Handler())

	if log != nil {
		log.Info("Registered routes",
			slog.Any("routes", []string{
				"GET /api/metrics",
				"GET /api/metrics/summary (cached)",
				"GET /api/producer-config",
				"PUT /api/producer-config (idempotent)",
				"GET /metrics",
			}))
	}

	return r
}
