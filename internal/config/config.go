package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Navigator NavigatorConfig `mapstructure:"navigator"`
	Media     MediaConfig     `mapstructure:"media"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HTTP/3 is served alongside HTTP/1.1 when both TLS files are set
	HTTP3Port      int           `mapstructure:"http3_port"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	MaxIdleTimeout time.Duration `mapstructure:"max_idle_timeout"`

	// Still extraction rate limit, requests per second across all sessions
	StillRateLimit float64 `mapstructure:"still_rate_limit"`
	StillBurst     int     `mapstructure:"still_burst"`

	DebugEndpoints bool `mapstructure:"debug_endpoints"`
}

// HTTP3Enabled reports whether TLS material for HTTP/3 is configured.
func (s *ServerConfig) HTTP3Enabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type NavigatorConfig struct {
	DefaultFPS       float64       `mapstructure:"default_fps"`
	ExtractTimeout   time.Duration `mapstructure:"extract_timeout"` // 0 waits for the seek indefinitely
	MaxSurfacePixels int           `mapstructure:"max_surface_pixels"`
}

type MediaConfig struct {
	FFmpegPath     string        `mapstructure:"ffmpeg_path"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	FrameCacheSize int           `mapstructure:"frame_cache_size"` // decoded frames kept per source
	AllowedRoots   []string      `mapstructure:"allowed_roots"`    // empty allows any path
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

type SessionsConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	MaxSessions  int           `mapstructure:"max_sessions"`
}

// Load reads configuration from configPath, applying defaults and
// FRAMESTEP_* environment overrides. An empty path loads defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("FRAMESTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.http3_port", 8443)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.max_idle_timeout", "30s")
	v.SetDefault("server.still_rate_limit", 20.0)
	v.SetDefault("server.still_burst", 40)
	v.SetDefault("server.debug_endpoints", false)

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Navigator defaults
	v.SetDefault("navigator.default_fps", 30.0)
	v.SetDefault("navigator.extract_timeout", "0s")
	v.SetDefault("navigator.max_surface_pixels", 7680*4320) // 8K UHD

	// Media defaults
	v.SetDefault("media.ffmpeg_path", "")
	v.SetDefault("media.probe_timeout", "10s")
	v.SetDefault("media.frame_cache_size", 64)
	v.SetDefault("media.allowed_roots", []string{})

	// Still cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.prefix", "framestep:stills:")

	// Session defaults
	v.SetDefault("sessions.idle_timeout", "15m")
	v.SetDefault("sessions.reap_interval", "1m")
	v.SetDefault("sessions.max_sessions", 64)
}
