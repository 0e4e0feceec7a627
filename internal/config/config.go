// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Pool     PoolConfig
	Streams  StreamsConfig
	Transfer TransferConfig
	Rate     RateLimitConfig
	CORS     CORSConfig
	History  HistoryConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 3000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"3000"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is 0 so stream-export responses are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// ShutdownTimeout is the hard bound on graceful shutdown. When it elapses
	// the process exits even if a close is still pending (default: 10s).
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// PoolConfig holds ClickHouse client pool settings.
type PoolConfig struct {
	// Expiration is how long an idle client is kept (default: 30m)
	Expiration time.Duration `env:"POOL_EXPIRATION" default:"30m"`

	// SweepInterval is how often idle clients are looked for (default: 5m)
	SweepInterval time.Duration `env:"POOL_SWEEP_INTERVAL" default:"5m"`

	// DialTimeout bounds connecting and the initial ping (default: 10s)
	DialTimeout time.Duration `env:"CLICKHOUSE_DIAL_TIMEOUT" default:"10s"`
}

// StreamsConfig holds upload stream registry settings.
type StreamsConfig struct {
	// TTL is how long an unconsumed upload stays claimable (default: 30m)
	TTL time.Duration `env:"STREAM_TTL" default:"30m"`
}

// TransferConfig holds transfer engine settings.
type TransferConfig struct {
	// ChunkSize is the number of rows per insert (default: 1000)
	ChunkSize int `env:"TRANSFER_CHUNK_SIZE" default:"1000"`

	// MaxConcurrent is the maximum number of parallel transfers (default: 5)
	MaxConcurrent int `env:"TRANSFER_MAX_CONCURRENT" default:"5"`

	// MaxWait is how long to wait for a transfer slot (default: 30s)
	MaxWait time.Duration `env:"TRANSFER_MAX_WAIT" default:"30s"`

	// Timeout is the maximum duration of a single transfer (default: 10m)
	Timeout time.Duration `env:"TRANSFER_TIMEOUT" default:"10m"`

	// MaxFileSize is the maximum accepted upload, as bytes or a KB/MB/GB size (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"50MB" unit:"bytes"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the token bucket size (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// CORSConfig holds cross-origin settings for the browser client.
type CORSConfig struct {
	// AllowedOrigins is a comma-separated list of origins (default: http://localhost:5173)
	AllowedOrigins []string `env:"CLIENT_URL" envAlt:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

// HistoryConfig holds the optional transfer history store.
type HistoryConfig struct {
	// DatabaseURL is a PostgreSQL connection string. History is disabled when empty.
	DatabaseURL string `env:"HISTORY_DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"HISTORY_MAX_CONNS" default:"4"`
}

// Enabled reports whether transfer history is configured.
func (c HistoryConfig) Enabled() bool { return c.DatabaseURL != "" }

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
