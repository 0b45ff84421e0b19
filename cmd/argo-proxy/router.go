package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/argonne-lcf/argoproxy/internal/logging"
	"github.com/argonne-lcf/argoproxy/internal/metrics"
)

// newRouter builds the HTTP router.
func newRouter(p *proxy) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware())

	r.Post("/v1/chat", instrument("chat", p.handleChatPassthrough))
	r.Post("/v1/chat/completions", instrument("chat_completions", p.handleChatCompletions))
	r.Post("/v1/completions", instrument("completions", p.handleCompletions))
	r.Post("/v1/embeddings", instrument("embeddings", p.handleEmbeddings))
	r.Post("/v1/responses", instrument("responses", p.handleResponses))

	r.Get("/v1/models", instrument("models", p.handleModels))
	r.Get("/v1/status", instrument("status", p.handleStatus))
	r.Get("/v1/docs", handleDocs)
	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger emits one access-log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// instrument records the request counter and duration histogram for one
// route. The model label is filled in by the handler once it has resolved
// the upstream id, through the pointer planted in the context.
func instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		model := new(string)
		next(ww, r.WithContext(withModelLabel(r.Context(), model)))

		if *model == "" {
			*model = "none"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestsTotal.WithLabelValues(endpoint, *model, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

type modelLabelKey struct{}

func withModelLabel(ctx context.Context, model *string) context.Context {
	return context.WithValue(ctx, modelLabelKey{}, model)
}

// setModelLabel reports the resolved upstream model for metric labelling.
func setModelLabel(ctx context.Context, model string) {
	if p, ok := ctx.Value(modelLabelKey{}).(*string); ok {
		*p = model
	}
}
