package config

import "time"

// FailurePolicy selects what the decision engine does when the admission
// store is unreachable.
const (
	// FailOpen allows requests when the store is down. Protection degrades,
	// availability does not. This is the recommended default: an outage of
	// the overload-protection layer must not become a full service outage.
	FailOpen = "open"

	// FailClosed denies requests when the store is down.
	FailClosed = "closed"
)

// GlobalRouteKey is the reserved route key for the account-wide counter that
// aggregates requests across all routes.
const GlobalRouteKey = "*"

// Config is the root configuration structure for Gatekeeper.
type Config struct {
	// Server contains HTTP server configuration for the decision API.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the admission state backend.
	Store StoreConfig `yaml:"store"`

	// Limits contains route thresholds and enforcement settings.
	Limits LimitsConfig `yaml:"limits"`

	// Escalation contains the abuse classifier tuning.
	Escalation EscalationConfig `yaml:"escalation"`

	// Notifications configures operator alerting.
	Notifications NotificationConfig `yaml:"notifications"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// IdentityHeader names a trusted header carrying the authenticated user
	// id. When present on a request, it wins over the client IP.
	IdentityHeader string `yaml:"identity_header"`

	// TrustForwardedFor enables reading the client IP from the first hop of
	// X-Forwarded-For. Only enable behind a trusted proxy.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// StoreConfig selects and configures the admission state backend.
type StoreConfig struct {
	// Backend is one of "redis", "sqlite", "memory".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis configures the Redis backend.
	Redis RedisStoreConfig `yaml:"redis"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteStoreConfig `yaml:"sqlite"`

	// Retention configures the scheduled cleanup of expired records.
	Retention RetentionConfig `yaml:"retention"`
}

// RedisStoreConfig contains Redis connection settings.
type RedisStoreConfig struct {
	// Addr is the Redis host:port.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the Redis password, if any.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyPrefix namespaces all keys written by Gatekeeper.
	// Default: "gatekeeper:"
	KeyPrefix string `yaml:"key_prefix"`

	// OpTimeout bounds every store operation on the request path.
	// Default: 2s
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// SQLiteStoreConfig contains SQLite settings.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	// Default: "gatekeeper.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// RetentionConfig configures the cleanup sweeper for backends without
// native TTL.
type RetentionConfig struct {
	// Schedule is a cron expression for cleanup runs. Empty disables the
	// sweeper (the Redis backend expires records natively and does not
	// need it).
	// Default: "@hourly"
	Schedule string `yaml:"schedule"`
}

// RouteThreshold is the quota configuration for one route prefix.
type RouteThreshold struct {
	// RateLimit is the steady-state ceiling per window. Requests above it
	// and at or below BurstLimit are allowed with a warning.
	RateLimit int64 `yaml:"rate_limit"`

	// BurstLimit is the hard ceiling per window. Requests above it are denied.
	BurstLimit int64 `yaml:"burst_limit"`

	// Window is the fixed window length.
	Window time.Duration `yaml:"window"`

	// ViolationWeight is how much one denial on this route counts toward
	// escalation. Expensive routes carry more weight.
	ViolationWeight float64 `yaml:"violation_weight"`

	// Sensitive marks a route whose abuse escalates to CRITICAL on a single
	// violation.
	Sensitive bool `yaml:"sensitive"`
}

// LimitsConfig contains route thresholds and enforcement settings.
type LimitsConfig struct {
	// Enforce toggles enforcement. When false, every request is allowed but
	// counters and the violation ledger still record the true volume for
	// audit and tuning.
	// Default: true
	Enforce *bool `yaml:"enforce"`

	// FailurePolicy is "open" or "closed" (see FailOpen, FailClosed).
	// Default: "open"
	FailurePolicy string `yaml:"failure_policy"`

	// Default applies to routes with no specific threshold and to the
	// account-wide aggregate ceiling.
	Default RouteThreshold `yaml:"default"`

	// Routes maps route prefixes to thresholds. The longest matching prefix
	// wins.
	Routes map[string]RouteThreshold `yaml:"routes"`

	// WatchConfig reloads thresholds when the config file changes.
	WatchConfig bool `yaml:"watch_config"`
}

// Enforcing reports whether enforcement is enabled (default true).
func (c *LimitsConfig) Enforcing() bool {
	return c.Enforce == nil || *c.Enforce
}

// EscalationConfig tunes the abuse classifier.
type EscalationConfig struct {
	// WatchCount is the weighted violation count that moves NORMAL to WATCH.
	// Default: 10
	WatchCount float64 `yaml:"watch_count"`

	// HighCount is the weighted violation count that moves WATCH to HIGH.
	// Default: 25
	HighCount float64 `yaml:"high_count"`

	// CriticalCount is the weighted violation count that moves HIGH to
	// CRITICAL.
	// Default: 50
	CriticalCount float64 `yaml:"critical_count"`

	// CoolDown is the violation-free period after which any tier decays
	// back to NORMAL.
	// Default: 30m
	CoolDown time.Duration `yaml:"cool_down"`

	// Horizon is the rolling window over which violations are counted.
	// Default: 1h
	Horizon time.Duration `yaml:"horizon"`
}

// NotificationConfig configures operator alerting.
type NotificationConfig struct {
	// DedupeInterval suppresses repeat alerts for the same identifier and
	// tier.
	// Default: 15m
	DedupeInterval time.Duration `yaml:"dedupe_interval"`

	// SendTimeout bounds a single delivery attempt per channel.
	// Default: 5s
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Webhook configures the webhook channel.
	Webhook WebhookChannelConfig `yaml:"webhook"`

	// Log configures the log channel.
	Log LogChannelConfig `yaml:"log"`
}

// WebhookChannelConfig configures alert delivery by HTTP POST.
type WebhookChannelConfig struct {
	// Enabled turns the channel on.
	Enabled bool `yaml:"enabled"`

	// URL is the endpoint alerts are POSTed to as JSON.
	URL string `yaml:"url"`
}

// LogChannelConfig configures alert delivery to the structured log.
type LogChannelConfig struct {
	// Enabled turns the channel on.
	// Default: true
	Enabled *bool `yaml:"enabled"`
}

// On reports whether the log channel is enabled (default true).
func (c *LogChannelConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// On reports whether metrics are enabled (default true).
func (c *MetricsConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}
