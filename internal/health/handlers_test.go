package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		register   func(m *Manager)
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "healthy",
			register:   func(m *Manager) { m.Register(&mockChecker{name: "ffmpeg"}) },
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "degraded still answers 200",
			register:   func(m *Manager) { m.RegisterOptional(&mockChecker{name: "redis", err: errors.New("down")}) },
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name:       "down",
			register:   func(m *Manager) { m.Register(&mockChecker{name: "ffmpeg", err: errors.New("missing")}) },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(testLogger())
			tt.register(manager)
			handler := NewHandler(manager)

			rec := httptest.NewRecorder()
			handler.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, 1)
			assert.NotEmpty(t, resp.Uptime)
		})
	}
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "ffmpeg"})
	handler := NewHandler(manager)

	rec := httptest.NewRecorder()
	handler.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no checks have run yet")

	manager.RunChecks(context.Background())

	rec = httptest.NewRecorder()
	handler.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(testLogger()))

	rec := httptest.NewRecorder()
	handler.HandleLive(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alive", resp["status"])
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "1s"},
		{90 * time.Second, "1m30s"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "26h3m4s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.in))
	}
}
