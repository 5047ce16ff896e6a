package session

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/zsiec/framestep/internal/errors"
	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/metrics"
	"github.com/zsiec/framestep/internal/navigator"
)

// Opener opens the video at path. It returns the source and the frame rate
// the video reports, or 0 when it reports none.
type Opener func(ctx context.Context, path string) (navigator.Source, float64, error)

// Config holds session manager settings.
type Config struct {
	IdleTimeout      time.Duration
	ReapInterval     time.Duration
	MaxSessions      int
	DefaultFPS       float64
	ExtractTimeout   time.Duration
	MaxSurfacePixels int
	AllowedRoots     []string
}

// Manager owns the open sessions.
type Manager struct {
	cfg    Config
	open   Opener
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager.
func NewManager(cfg Config, open Opener, logger *logrus.Logger) *Manager {
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = navigator.DefaultFPS
	}
	if cfg.MaxSurfacePixels <= 0 {
		cfg.MaxSurfacePixels = navigator.DefaultMaxSurfacePixels
	}
	return &Manager{
		cfg:      cfg,
		open:     open,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open opens path and binds a navigator to it. A positive fps overrides the
// frame rate reported by the video.
func (m *Manager) Open(ctx context.Context, path string, fps float64) (*Session, error) {
	if strings.TrimSpace(path) == "" {
		return nil, apperrors.NewValidationError("path is required")
	}
	if fps < 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return nil, apperrors.NewValidationError("fps must be a non-negative finite number")
	}
	if !m.allowed(path) {
		return nil, apperrors.NewValidationError("path is outside the allowed media roots").
			WithDetails(map[string]interface{}{"path": path})
	}
	if err := m.checkCapacity(); err != nil {
		return nil, err
	}

	src, reported, err := m.open(ctx, path)
	if err != nil {
		return nil, apperrors.NewMediaError(err, path)
	}

	if fps <= 0 {
		fps = reported
	}
	if fps <= 0 {
		fps = m.cfg.DefaultFPS
	}

	id := uuid.New().String()
	nav := navigator.New(src, fps,
		navigator.WithLogger(logger.NewLogrusAdapter(logger.WithSession(m.logger, id))),
		navigator.WithExtractTimeout(m.cfg.ExtractTimeout),
		navigator.WithSurfaceFactory(navigator.BoundedSurfaces(m.cfg.MaxSurfacePixels)),
	)
	sess := newSession(id, path, nav, m.now())

	m.mu.Lock()
	if m.closed || (m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions) {
		closed := m.closed
		m.mu.Unlock()
		m.closeSource(sess)
		if closed {
			return nil, apperrors.NewServiceDownError("session manager")
		}
		return nil, m.limitError()
	}
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SetActiveSessions(count)
	logger.WithSession(m.logger, id).WithFields(logrus.Fields{
		"path":         path,
		"fps":          nav.FPS(),
		"total_frames": nav.TotalFrames(),
	}).Info("Session opened")

	return sess, nil
}

func (m *Manager) checkCapacity() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return apperrors.NewServiceDownError("session manager")
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return m.limitError()
	}
	return nil
}

func (m *Manager) limitError() error {
	return apperrors.NewConflictError("maximum number of sessions reached").
		WithCode(apperrors.CodeSessionLimit).
		WithDetails(map[string]interface{}{"max_sessions": m.cfg.MaxSessions})
}

func (m *Manager) allowed(path string) bool {
	if len(m.cfg.AllowedRoots) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range m.cfg.AllowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Get returns the session and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	sess.touch(m.now())
	return sess, nil
}

// List returns all sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes the session and its source.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return apperrors.NewSessionNotFoundError(id)
	}

	metrics.SetActiveSessions(count)
	m.closeSource(sess)
	logger.WithSession(m.logger, id).Info("Session closed")
	return nil
}

// Run reaps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 || m.cfg.ReapInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}

// ReapIdle closes sessions unused for longer than the idle timeout and
// returns how many were closed.
func (m *Manager) ReapIdle() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.LastUsed().Before(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}

	metrics.SetActiveSessions(count)
	for _, sess := range idle {
		m.closeSource(sess)
		metrics.IncrementSessionsReaped()
		logger.WithSession(m.logger, sess.ID).WithField("idle_since", sess.LastUsed()).
			Info("Idle session reaped")
	}
	return len(idle)
}

// Shutdown closes every session. Later Open calls fail.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	metrics.SetActiveSessions(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, sess := range sessions {
			m.closeSource(sess)
		}
	}()

	select {
	case <-done:
		m.logger.WithField("sessions", len(sessions)).Info("Session manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session shutdown interrupted: %w", ctx.Err())
	}
}

func (m *Manager) closeSource(sess *Session) {
	src := sess.nav.Source()
	if src == nil {
		return
	}
	navigator.ReleaseSource(src)
	if closer, ok := src.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.WithSession(m.logger, sess.ID).WithError(err).Warn("Failed to close video source")
		}
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
