package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/metrics"
)

func TestHandler_Health(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]Check
		wantCode int
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
		},
		{
			name: "all healthy",
			checks: map[string]Check{
				"clickhouse": func(ctx context.Context) error { return nil },
				"postgres":   func(ctx context.Context) error { return nil },
			},
			wantCode: http.StatusOK,
		},
		{
			name: "one failing",
			checks: map[string]Check{
				"clickhouse": func(ctx context.Context) error { return nil },
				"postgres":   func(ctx context.Context) error { return errors.New("connection refused") },
			},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Handler(nil, tt.checks, zap.NewNop())

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHandler_Metrics(t *testing.T) {
	m := metrics.NewNop()
	m.TimersFired.Inc()

	w := httptest.NewRecorder()
	Handler(m, nil, zap.NewNop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "engagement_journey_timers_fired_total 1")
}

func TestHandler_MetricsDisabled(t *testing.T) {
	w := httptest.NewRecorder()
	Handler(nil, nil, zap.NewNop()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
