package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/framestep/internal/config"
	apperrors "github.com/zsiec/framestep/internal/errors"
	"github.com/zsiec/framestep/internal/media/memory"
	"github.com/zsiec/framestep/internal/navigator"
	"github.com/zsiec/framestep/internal/session"
	"github.com/zsiec/framestep/internal/stillcache"
	"github.com/zsiec/framestep/pkg/version"
)

type testEnv struct {
	server   *Server
	sessions *session.Manager
	redis    *miniredis.Miniredis
}

type envOptions struct {
	source         memory.Options
	extractTimeout time.Duration
	rateLimit      float64
	burst          int
	cache          bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)

	if opts.source.Width == 0 {
		opts.source = memory.DefaultOptions()
	}
	opener := func(ctx context.Context, path string) (navigator.Source, float64, error) {
		return memory.New(opts.source), opts.source.FPS, nil
	}
	sessions := session.NewManager(session.Config{
		MaxSessions:    8,
		ExtractTimeout: opts.extractTimeout,
	}, opener, log)

	env := &testEnv{sessions: sessions}

	var stills *stillcache.Cache
	if opts.cache {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		stills = stillcache.New(client, log, "", time.Minute)
		env.redis = mr
	}

	env.server = New(&config.ServerConfig{
		HTTPPort:       8080,
		StillRateLimit: opts.rateLimit,
		StillBurst:     opts.burst,
	}, log, sessions, stills)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.GetRouter().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) open(t *testing.T) session.Info {
	t.Helper()
	return e.openPath(t, "clip.mp4")
}

func (e *testEnv) openPath(t *testing.T, path string) session.Info {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/sessions", OpenSessionRequest{Path: path})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info session.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	return info
}

func decodeInfo(t *testing.T, rec *httptest.ResponseRecorder) session.Info {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info session.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	return info
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandleVersion(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info version.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	info := env.open(t)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "clip.mp4", info.Path)
	assert.Equal(t, 30.0, info.FPS)
	assert.Equal(t, 300, info.TotalFrames)
	assert.Equal(t, 0, info.CurrentFrame)

	rec := env.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, info.ID, list.Sessions[0].ID)

	got := decodeInfo(t, env.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID, nil))
	assert.Equal(t, info.ID, got.ID)

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeSessionNotFound, decodeError(t, rec).Error.Code)
}

func TestOpenSession_BadRequest(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing path", map[string]interface{}{"fps": 25}},
		{"unknown field", map[string]interface{}{"path": "a.mp4", "speed": 2}},
		{"negative fps", map[string]interface{}{"path": "a.mp4", "fps": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestNavigationEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.open(t).ID
	base := "/api/v1/sessions/" + id

	info := decodeInfo(t, env.do(t, http.MethodPost, base+"/seek", map[string]int{"frame": 45}))
	assert.Equal(t, 45, info.CurrentFrame)
	assert.InDelta(t, 1.5, info.Position, 1e-9)

	info = decodeInfo(t, env.do(t, http.MethodPost, base+"/next", nil))
	assert.Equal(t, 46, info.CurrentFrame)

	info = decodeInfo(t, env.do(t, http.MethodPost, base+"/previous", nil))
	assert.Equal(t, 45, info.CurrentFrame)

	info = decodeInfo(t, env.do(t, http.MethodPost, base+"/seek", map[string]int{"frame": 500}))
	assert.Equal(t, 300, info.CurrentFrame)
	assert.InDelta(t, 10.0, info.Position, 1e-9)

	info = decodeInfo(t, env.do(t, http.MethodPost, base+"/seek", map[string]int{"frame": -5}))
	assert.Equal(t, 0, info.CurrentFrame)

	rec := env.do(t, http.MethodPost, base+"/seek", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/missing/next", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func assertStillColor(t *testing.T, rec *httptest.ResponseRecorder, frame int) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, navigator.ContentTypePNG, rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	got, ok := colorful.MakeColor(img.At(0, 0))
	require.True(t, ok)
	want, _ := colorful.MakeColor(memory.FrameColor(frame))
	assert.Less(t, got.DistanceRgb(want), 0.01)
}

func TestStill(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	id := env.open(t).ID
	base := "/api/v1/sessions/" + id

	decodeInfo(t, env.do(t, http.MethodPost, base+"/seek", map[string]int{"frame": 12}))

	rec := env.do(t, http.MethodGet, base+"/still", nil)
	assert.Equal(t, "12", rec.Header().Get(headerFrameIndex))
	assert.Empty(t, rec.Header().Get(headerStillCache))
	assertStillColor(t, rec, 12)

	rec = env.do(t, http.MethodGet, base+"/still?frame=90", nil)
	assert.Equal(t, "90", rec.Header().Get(headerFrameIndex))
	assert.Equal(t, "3.000000", rec.Header().Get(headerFrameTime))
	assertStillColor(t, rec, 90)

	// extraction leaves the position where it was
	info := decodeInfo(t, env.do(t, http.MethodGet, base, nil))
	assert.Equal(t, 12, info.CurrentFrame)

	rec = env.do(t, http.MethodGet, base+"/still?frame=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStill_Unavailable(t *testing.T) {
	opts := memory.DefaultOptions()
	opts.SeekDelay = -1
	env := newTestEnv(t, envOptions{source: opts, extractTimeout: 20 * time.Millisecond})
	id := env.open(t).ID

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/still?frame=3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeStillUnavailable, decodeError(t, rec).Error.Code)
}

func TestStill_Cache(t *testing.T) {
	env := newTestEnv(t, envOptions{cache: true})
	id := env.open(t).ID
	path := "/api/v1/sessions/" + id + "/still?frame=30"

	rec := env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "miss", rec.Header().Get(headerStillCache))
	assertStillColor(t, rec, 30)
	assert.True(t, env.redis.Exists("framestep:stills:clip.mp4@30:30"))

	rec = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "hit", rec.Header().Get(headerStillCache))
	assertStillColor(t, rec, 30)

	// a cache outage falls back to extraction
	env.redis.Close()
	rec = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "miss", rec.Header().Get(headerStillCache))
	assertStillColor(t, rec, 30)
}

func TestStill_CacheDroppedWhenFileChanges(t *testing.T) {
	env := newTestEnv(t, envOptions{cache: true})
	file := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(file, []byte("first cut"), 0o644))
	key := "framestep:stills:" + file + "@30:30"

	id := env.openPath(t, file).ID
	env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/still?frame=30", nil)
	require.True(t, env.redis.Exists(key))

	// reopening the unchanged file keeps its stills
	env.openPath(t, file)
	assert.True(t, env.redis.Exists(key))

	require.NoError(t, os.WriteFile(file, []byte("director's cut"), 0o644))
	env.openPath(t, file)
	assert.False(t, env.redis.Exists(key))
}

func TestCloseSession_Purge(t *testing.T) {
	env := newTestEnv(t, envOptions{cache: true})
	keep := env.open(t).ID
	purge := env.open(t).ID

	env.do(t, http.MethodGet, "/api/v1/sessions/"+keep+"/still?frame=30", nil)
	require.True(t, env.redis.Exists("framestep:stills:clip.mp4@30:30"))

	rec := env.do(t, http.MethodDelete, "/api/v1/sessions/"+keep, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, env.redis.Exists("framestep:stills:clip.mp4@30:30"))

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+purge+"?purge=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+purge+"?purge=1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, env.redis.Exists("framestep:stills:clip.mp4@30:30"))
	assert.Equal(t, 0, env.sessions.Count())

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+purge+"?purge=1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStill_RateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{rateLimit: 0.001, burst: 1})
	id := env.open(t).ID
	path := "/api/v1/sessions/" + id + "/still"

	rec := env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	t.Run("request id assigned", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/live", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("request id propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		rec := httptest.NewRecorder()
		env.server.GetRouter().ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("cors headers", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/version", nil)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), headerFrameIndex)
	})

	t.Run("not found", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/v1/sessions", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	handler := env.server.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.server.config.HTTPPort = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
