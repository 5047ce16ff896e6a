package config

import (
	"fmt"
	"math"
	"os"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.Cache.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Navigator.Validate(); err != nil {
		return fmt.Errorf("navigator config: %w", err)
	}

	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions config: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Port == c.Server.HTTPPort {
		return fmt.Errorf("metrics port %d conflicts with server http_port", c.Metrics.Port)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	if s.HTTP3Enabled() {
		if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
			return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
		}

		// Check if certificate files exist
		if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
		}

		if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
		}
	}

	if s.StillRateLimit <= 0 {
		return fmt.Errorf("still_rate_limit must be positive")
	}

	if s.StillBurst <= 0 {
		return fmt.Errorf("still_burst must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		// If it's a file path, check if the directory exists
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (n *NavigatorConfig) Validate() error {
	if n.DefaultFPS <= 0 || math.IsNaN(n.DefaultFPS) || math.IsInf(n.DefaultFPS, 0) {
		return fmt.Errorf("default_fps must be a positive number")
	}

	if n.ExtractTimeout < 0 {
		return fmt.Errorf("extract_timeout cannot be negative")
	}

	if n.MaxSurfacePixels < 0 {
		return fmt.Errorf("max_surface_pixels cannot be negative")
	}

	return nil
}

func (m *MediaConfig) Validate() error {
	if m.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}

	if m.FrameCacheSize < 0 {
		return fmt.Errorf("frame_cache_size cannot be negative")
	}

	return nil
}

func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if c.Prefix == "" {
		return fmt.Errorf("cache prefix cannot be empty")
	}

	return nil
}

func (s *SessionsConfig) Validate() error {
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}

	if s.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive")
	}

	if s.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}

	return nil
}
