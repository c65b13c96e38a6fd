package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestHealthHandler(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		checks   map[string]Pinger
		wantCode int
		wantData map[string]any
	}{
		{
			name:     "no dependencies",
			wantCode: http.StatusOK,
			wantData: map[string]any{"status": "ok"},
		},
		{
			name:     "all healthy",
			checks:   map[string]Pinger{"storage": ok, "redis": ok},
			wantCode: http.StatusOK,
			wantData: map[string]any{"status": "ok", "storage": "ok", "redis": "ok"},
		},
		{
			name:     "redis down",
			checks:   map[string]Pinger{"storage": ok, "redis": down},
			wantCode: http.StatusServiceUnavailable,
			wantData: map[string]any{"status": "degraded", "storage": "ok", "redis": "unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(newNoopLogger(), tt.checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantData, resp["data"])
		})
	}
}
