// Package health serves the liveness and metrics endpoints of the background
// processes.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/metrics"
)

// Check reports whether a dependency is reachable
type Check func(ctx context.Context) error

// Handler answers /health with 503 when any check fails and serves /metrics
func Handler(m *metrics.Metrics, checks map[string]Check, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	return mux
}

// Serve runs the health server on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, m *metrics.Metrics, checks map[string]Check, log *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(m, checks, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Health check server starting", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Health check server error", zap.Error(err))
	}
}
