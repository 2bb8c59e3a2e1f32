package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/nodetunnel/internal/util"
)

// MetricsHandler exposes the process stats at /metrics.
func MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	util.RegisterStats(reg)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

// ServeMetrics serves MetricsHandler on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		util.LogInfo("metrics available at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("metrics server stopped: %v", err)
		}
	}()
}
