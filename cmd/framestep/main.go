package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/framestep/internal/config"
	"github.com/zsiec/framestep/internal/health"
	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/media/ffmpeg"
	"github.com/zsiec/framestep/internal/navigator"
	"github.com/zsiec/framestep/internal/server"
	"github.com/zsiec/framestep/internal/session"
	"github.com/zsiec/framestep/internal/stillcache"
	"github.com/zsiec/framestep/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting framestep server")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		redisClient *redis.Client
		stills      *stillcache.Cache
	)
	if cfg.Cache.Enabled {
		redisClient = newRedisClient(&cfg.Redis)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// stills are still served without the cache
			log.WithError(err).Warn("Redis unreachable, still cache will miss until it recovers")
		} else {
			log.Info("Connected to Redis successfully")
		}
		stills = stillcache.New(redisClient, log, cfg.Cache.Prefix, cfg.Cache.TTL)
	}

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, logger.ForComponent(log, "metrics"))
	}

	sessions := session.NewManager(session.Config{
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		ReapInterval:     cfg.Sessions.ReapInterval,
		MaxSessions:      cfg.Sessions.MaxSessions,
		DefaultFPS:       cfg.Navigator.DefaultFPS,
		ExtractTimeout:   cfg.Navigator.ExtractTimeout,
		MaxSurfacePixels: cfg.Navigator.MaxSurfacePixels,
		AllowedRoots:     cfg.Media.AllowedRoots,
	}, fileOpener(&cfg.Media, log), log)
	go sessions.Run(ctx)

	srv := server.New(&cfg.Server, log, sessions, stills)
	registerHealthCheckers(srv.HealthManager(), cfg, redisClient, sessions)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("Server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to close sessions")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.WithError(err).Error("Failed to close Redis connection")
		}
	}

	log.Info("Server shutdown complete")
}

// fileOpener opens videos with ffmpeg.
func fileOpener(cfg *config.MediaConfig, log *logrus.Logger) session.Opener {
	return func(ctx context.Context, path string) (navigator.Source, float64, error) {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		defer cancel()

		src, err := ffmpeg.Open(probeCtx, path, ffmpeg.Options{
			FrameCacheSize: cfg.FrameCacheSize,
			Logger:         logger.ForComponent(log, "ffmpeg"),
		})
		if err != nil {
			return nil, 0, err
		}
		return src, src.Info().FPS(), nil
	}
}

func newRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

func registerHealthCheckers(mgr *health.Manager, cfg *config.Config, redisClient *redis.Client, sessions *session.Manager) {
	mgr.Register(health.NewFFmpegChecker(cfg.Media.FFmpegPath))
	mgr.Register(health.NewSessionsChecker(sessions, cfg.Sessions.MaxSessions))
	if len(cfg.Media.AllowedRoots) > 0 {
		mgr.Register(health.NewMediaRootsChecker(cfg.Media.AllowedRoots))
	}
	if redisClient != nil {
		mgr.RegisterOptional(health.NewRedisChecker(redisClient))
	}
}

// startMetricsServer serves Prometheus metrics.
func startMetricsServer(cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
