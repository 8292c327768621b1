package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "image_generations",
		Help: "The total number of generation requests by model and outcome",
	}, []string{"model", "outcome"})
	invoiceCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_created",
		Help: "The total number of lightning invoices issued",
	})
	retrievalCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "image_retrievals",
		Help: "The total number of retrieve requests by outcome",
	}, []string{"outcome"})
	moderationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_rejections",
		Help: "The total number of prompts rejected by moderation",
	})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_duration_seconds",
		Help: "Latency of requests in second.",
	}, []string{"path", "code"})
)

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The route pattern is only known once chi has routed the request.
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		httpDuration.WithLabelValues(pattern, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}
