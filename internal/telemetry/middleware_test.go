package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/syncbox/internal/logctx"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusAccepted))
	assert.Equal(t, "4xx", statusClass(http.StatusNotFound))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
	assert.Equal(t, "unknown", statusClass(0))
}

func TestRoutePattern(t *testing.T) {
	var got string

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			got = routePattern(req)
		})
	})
	r.Get("/v1/users/{owner}/transfers/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/users/alice/transfers/42", nil))
	assert.Equal(t, "/v1/users/{owner}/transfers/{id}", got)

	assert.Equal(t, unmatchedRoute, routePattern(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestMiddleware_DisabledTelemetryPassesThrough(t *testing.T) {
	h := NewHTTPMiddleware(&Telemetry{}).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHTTPLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  slog.Level
	}{
		{name: "ok", path: "/v1/users/alice/transfers", status: http.StatusOK, level: slog.LevelInfo},
		{name: "probe", path: "/healthz", status: http.StatusOK, level: slog.LevelDebug},
		{name: "client error", path: "/v1/users/alice/transfers", status: http.StatusBadRequest, level: slog.LevelWarn},
		{name: "server error", path: "/healthz", status: http.StatusServiceUnavailable, level: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))
			h.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level.String(), entry["level"])
			assert.InDelta(t, tt.status, entry["status"], 0)
		})
	}
}
