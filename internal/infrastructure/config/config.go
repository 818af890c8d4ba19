package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all substrate configuration.
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Pool      PoolConfig
	Breaker   BreakerConfig
	Output    OutputConfig
	Preview   PreviewConfig
	Creds     CredsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string `envconfig:"PORT" default:"8700"`
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	MaxConns int    `envconfig:"MAX_CONNS" default:"256"`
}

// SessionConfig bounds terminal sessions.
type SessionConfig struct {
	MaxSessions int    `envconfig:"SESSION_MAX" default:"64"`
	BufferSize  int    `envconfig:"SESSION_BUFFER_BYTES" default:"262144"`
	DefaultRows int    `envconfig:"SESSION_ROWS" default:"24"`
	DefaultCols int    `envconfig:"SESSION_COLS" default:"80"`
	Shell       string `envconfig:"SESSION_SHELL" default:""`
}

// PoolConfig bounds the remote connection pool.
type PoolConfig struct {
	MaxPerHost     int           `envconfig:"POOL_MAX_PER_HOST" default:"10"`
	IdleTimeout    time.Duration `envconfig:"POOL_IDLE_TIMEOUT" default:"300s"`
	ConnectTimeout time.Duration `envconfig:"POOL_CONNECT_TIMEOUT" default:"10s"`
}

// BreakerConfig tunes the per-host circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `envconfig:"BREAKER_FAILURES" default:"5"`
	SuccessThreshold int           `envconfig:"BREAKER_SUCCESSES" default:"2"`
	Timeout          time.Duration `envconfig:"BREAKER_TIMEOUT" default:"60s"`
}

// OutputConfig bounds captured command output.
type OutputConfig struct {
	MaxBytes int `envconfig:"OUTPUT_MAX_BYTES" default:"10485760"`
}

// PreviewConfig points at the preview runtime.
type PreviewConfig struct {
	Enabled bool          `envconfig:"PREVIEW_ENABLED" default:"false"`
	URL     string        `envconfig:"PREVIEW_URL" default:"http://localhost:8710"`
	Timeout time.Duration `envconfig:"PREVIEW_TIMEOUT" default:"30s"`
	Retries int           `envconfig:"PREVIEW_RETRIES" default:"2"`
}

// CredsConfig locates the credential inventory.
type CredsConfig struct {
	Path string `envconfig:"CREDS_FILE" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     "8700",
			Host:     "0.0.0.0",
			MaxConns: 256,
		},
		Session: SessionConfig{
			MaxSessions: 64,
			BufferSize:  262144,
			DefaultRows: 24,
			DefaultCols: 80,
		},
		Pool: PoolConfig{
			MaxPerHost:     10,
			IdleTimeout:    300 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
		},
		Output: OutputConfig{
			MaxBytes: 10 * 1024 * 1024,
		},
		Preview: PreviewConfig{
			Enabled: false,
			URL:     "http://localhost:8710",
			Timeout: 30 * time.Second,
			Retries: 2,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
