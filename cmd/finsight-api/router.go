package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/finsight/cmd/finsight-api/handlers"
	"github.com/spherical-ai/finsight/internal/observability"
)

// RouterConfig holds HTTP settings of the API router.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// NewRouter creates the API router. ready reports whether the backing
// services are reachable.
func NewRouter(logger *observability.Logger, tasks *handlers.TaskHandler, ready func(context.Context) error, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"finsight"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			logger.Warn().Err(err).Msg("Readiness check failed")
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// streams stay open until the run ends
		r.Get("/tasks/{taskId}/events", tasks.StreamTask)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
			}
			if cfg.MaxBodyBytes > 0 {
				r.Use(chimiddleware.RequestSize(cfg.MaxBodyBytes))
			}

			r.Post("/documents", tasks.SubmitDocument)
			r.Post("/batches/{kind}", tasks.SubmitBatch)
			r.Get("/tasks/{taskId}", tasks.GetTask)
			r.Get("/runs", tasks.ListRuns)
		})
	})

	return r
}

func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
