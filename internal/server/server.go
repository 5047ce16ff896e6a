// Package server exposes frame navigation sessions over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/framestep/internal/config"
	apperrors "github.com/zsiec/framestep/internal/errors"
	"github.com/zsiec/framestep/internal/health"
	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/session"
	"github.com/zsiec/framestep/internal/stillcache"
)

// healthCheckInterval is how often the readiness checks run.
const healthCheckInterval = 30 * time.Second

// Server serves the session API over HTTP/1.1 and, when TLS is configured,
// HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	sessions     *session.Manager
	stills       *stillcache.Cache
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	stillLimiter *rate.Limiter
}

// New creates a server. stills may be nil to disable still caching.
func New(cfg *config.ServerConfig, log *logrus.Logger, sessions *session.Manager, stills *stillcache.Cache) *Server {
	limit := rate.Inf
	if cfg.StillRateLimit > 0 {
		limit = rate.Limit(cfg.StillRateLimit)
	}
	burst := cfg.StillBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		sessions:     sessions,
		stills:       stills,
		healthMgr:    health.NewManager(log),
		errorHandler: apperrors.NewErrorHandler(log),
		stillLimiter: rate.NewLimiter(limit, burst),
	}
	s.setupRoutes()

	return s
}

// HealthManager returns the manager readiness checkers register with.
func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	if s.config.HTTP3Enabled() {
		if err := s.startHTTP3(errCh); err != nil {
			return err
		}
	}

	go func() {
		s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) startHTTP3(errCh chan<- error) error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler: s.router,
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			MinVersion:   tls.VersionTLS13,
			Certificates: []tls.Certificate{cert},
		}),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: s.config.MaxIdleTimeout,
		},
	}

	go func() {
		s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
		if err := s.http3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http3 server: %w", err)
		}
	}()

	// Advertise HTTP/3 to HTTP/1.1 clients.
	next := s.httpServer.Handler
	s.httpServer.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.http3Server.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})

	return nil
}

// Shutdown stops the listeners. The HTTP/1.1 server drains in-flight
// requests until ctx ends; http3.Server has no graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3 shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleOpenSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/next", s.handleNext).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/previous", s.handlePrevious).Methods(http.MethodPost)
	api.Handle("/sessions/{id}/still", s.stillRateLimitMiddleware(http.HandlerFunc(s.handleStill))).Methods(http.MethodGet)

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	debug := s.router.PathPrefix("/debug/pprof").Subrouter()
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
