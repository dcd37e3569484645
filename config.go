package connkit

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Config holds connection lifecycle configuration
type Config struct {
	// Connection
	URL string // PostgreSQL connection string (required)

	// Pool settings. MaxIdleConns doubles as the pool minimum: idle
	// connections up to this count are kept warm.
	MaxOpenConns    int           // Max open connections (default: 25)
	MaxIdleConns    int           // Max idle connections (default: 5)
	ConnMaxLifetime time.Duration // Max connection lifetime (default: 5m)
	ConnMaxIdleTime time.Duration // Max idle time (default: 1m)

	// Timeouts
	DialTimeout   time.Duration // Connection dial timeout (default: 5s)
	ReadTimeout   time.Duration // Read timeout (default: 30s)
	WriteTimeout  time.Duration // Write timeout (default: 30s)
	InitTimeout   time.Duration // Bound on the whole initialize sequence, 0 waits indefinitely (default: 0)
	CloseTimeout  time.Duration // Bound on waiting for in-flight work during Close (default: 10s)
	HealthTimeout time.Duration // Per-probe bound for Health (default: 5s)

	// Startup retry. RetryAttempts is the total number of connect
	// attempts; the delay before attempt n+1 is RetryBaseDelay*2^n.
	RetryAttempts  int           // Total connection attempts (default: 5)
	RetryBaseDelay time.Duration // Base backoff delay (default: 500ms)

	// TLS
	TLSEnabled    bool   // Negotiate TLS with the server
	TLSSkipVerify bool   // Skip certificate verification (default: verify)
	TLSCAFile     string // Optional CA certificate bundle path

	// Migrations applied during Initialize, in lexicographic name order.
	Migrations []Migration

	// SkipChecksumVerify disables drift detection when skipping an
	// already-recorded migration.
	SkipChecksumVerify bool

	// Observability (all optional)
	Logger          *slog.Logger          // Structured logger for lifecycle events
	LogQueries      bool                  // Log all queries
	LogSlowQueries  time.Duration         // Log queries slower than this (0 = disabled)
	MetricsRegistry prometheus.Registerer // Prometheus registry for metrics
	Tracer          trace.Tracer          // OpenTelemetry tracer
}

// DefaultConfig returns sensible defaults
func DefaultConfig(url string) Config {
	cfg := Config{URL: url}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 10 * time.Second
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 5
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
}

// WithMigrations sets the migrations applied during Initialize
func (c Config) WithMigrations(migrations []Migration) Config {
	c.Migrations = migrations
	return c
}

// WithLogger enables lifecycle and query logging
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	c.LogQueries = true
	return c
}

// WithSlowQueryLog logs queries slower than the threshold
func (c Config) WithSlowQueryLog(threshold time.Duration) Config {
	c.LogSlowQueries = threshold
	return c
}

// WithMetrics enables Prometheus metrics
func (c Config) WithMetrics(registry prometheus.Registerer) Config {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing
func (c Config) WithTracing(tracer trace.Tracer) Config {
	c.Tracer = tracer
	return c
}

// Environment keys consumed by ConfigFromEnv
const (
	EnvURL                   = "DATABASE_URL"
	EnvPoolMin               = "DATABASE_POOL_MIN"
	EnvPoolMax               = "DATABASE_POOL_MAX"
	EnvRetryAttempts         = "DATABASE_RETRY_ATTEMPTS"
	EnvRetryBaseDelay        = "DATABASE_RETRY_BASE_DELAY_MS"
	EnvInitTimeout           = "DATABASE_INIT_TIMEOUT_MS"
	EnvCloseTimeout          = "DATABASE_CLOSE_TIMEOUT_MS"
	EnvSSL                   = "DATABASE_SSL"
	EnvSSLRejectUnauthorized = "DATABASE_SSL_REJECT_UNAUTHORIZED"
	EnvSSLCAFile             = "DATABASE_SSL_CA_FILE"
)

// LookupFunc is a key/value environment lookup, e.g. os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ConfigFromEnv builds a Config from environment variables. The connection
// string is required; numeric settings fall back to their defaults when
// unset or unparsable.
func ConfigFromEnv(lookup LookupFunc) (Config, error) {
	rawURL, ok := lookup(EnvURL)
	if !ok || rawURL == "" {
		return Config{}, &Error{
			Code:    CodeConfiguration,
			Message: EnvURL + " is required",
			Op:      "ConfigFromEnv",
		}
	}

	cfg := DefaultConfig(rawURL)
	cfg.MaxIdleConns = envInt(lookup, EnvPoolMin, cfg.MaxIdleConns)
	cfg.MaxOpenConns = envInt(lookup, EnvPoolMax, cfg.MaxOpenConns)
	cfg.RetryAttempts = envInt(lookup, EnvRetryAttempts, cfg.RetryAttempts)
	cfg.RetryBaseDelay = envMillis(lookup, EnvRetryBaseDelay, cfg.RetryBaseDelay)
	cfg.InitTimeout = envMillis(lookup, EnvInitTimeout, cfg.InitTimeout)
	cfg.CloseTimeout = envMillis(lookup, EnvCloseTimeout, cfg.CloseTimeout)
	cfg.TLSEnabled = envBool(lookup, EnvSSL, false)
	cfg.TLSSkipVerify = !envBool(lookup, EnvSSLRejectUnauthorized, true)
	if caFile, ok := lookup(EnvSSLCAFile); ok {
		cfg.TLSCAFile = caFile
	}

	return cfg, nil
}

func envInt(lookup LookupFunc, key string, def int) int {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envMillis(lookup LookupFunc, key string, def time.Duration) time.Duration {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envBool(lookup LookupFunc, key string, def bool) bool {
	raw, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
