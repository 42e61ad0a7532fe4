package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "limits.default.rate_limit").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rules fail. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateEscalation(&cfg.Escalation)...)
	errs = append(errs, validateNotifications(&cfg.Notifications)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{"server.listen_address", "cannot be empty"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{"server.shutdown_timeout", "cannot be negative"})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "redis", "sqlite", "memory":
	default:
		errs = append(errs, FieldError{"store.backend",
			fmt.Sprintf("must be one of redis, sqlite, memory; got %q", cfg.Backend)})
	}

	if cfg.Backend == "redis" && cfg.Redis.Addr == "" {
		errs = append(errs, FieldError{"store.redis.addr", "cannot be empty"})
	}
	if cfg.Backend == "redis" && cfg.Redis.OpTimeout <= 0 {
		errs = append(errs, FieldError{"store.redis.op_timeout", "must be positive"})
	}
	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{"store.sqlite.path", "cannot be empty"})
	}

	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{"store.retention.schedule",
				fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	return errs
}

func validateThreshold(field string, rt *RouteThreshold) []FieldError {
	var errs []FieldError
	if rt.RateLimit <= 0 {
		errs = append(errs, FieldError{field + ".rate_limit", "must be positive"})
	}
	if rt.BurstLimit < rt.RateLimit {
		errs = append(errs, FieldError{field + ".burst_limit",
			fmt.Sprintf("must be at least rate_limit (%d)", rt.RateLimit)})
	}
	if rt.Window <= 0 {
		errs = append(errs, FieldError{field + ".window", "must be positive"})
	}
	if rt.ViolationWeight < 0 {
		errs = append(errs, FieldError{field + ".violation_weight", "cannot be negative"})
	}
	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.FailurePolicy != FailOpen && cfg.FailurePolicy != FailClosed {
		errs = append(errs, FieldError{"limits.failure_policy",
			fmt.Sprintf("must be %q or %q; got %q", FailOpen, FailClosed, cfg.FailurePolicy)})
	}

	errs = append(errs, validateThreshold("limits.default", &cfg.Default)...)

	for key, rt := range cfg.Routes {
		if key == "" {
			errs = append(errs, FieldError{"limits.routes", "route key cannot be empty"})
			continue
		}
		if key == GlobalRouteKey {
			errs = append(errs, FieldError{"limits.routes",
				fmt.Sprintf("route key %q is reserved for the account-wide ceiling", GlobalRouteKey)})
			continue
		}
		errs = append(errs, validateThreshold("limits.routes."+key, &rt)...)
	}

	return errs
}

func validateEscalation(cfg *EscalationConfig) []FieldError {
	var errs []FieldError
	if cfg.WatchCount <= 0 {
		errs = append(errs, FieldError{"escalation.watch_count", "must be positive"})
	}
	if cfg.HighCount <= cfg.WatchCount {
		errs = append(errs, FieldError{"escalation.high_count", "must be greater than watch_count"})
	}
	if cfg.CriticalCount <= cfg.HighCount {
		errs = append(errs, FieldError{"escalation.critical_count", "must be greater than high_count"})
	}
	if cfg.CoolDown <= 0 {
		errs = append(errs, FieldError{"escalation.cool_down", "must be positive"})
	}
	if cfg.Horizon <= 0 {
		errs = append(errs, FieldError{"escalation.horizon", "must be positive"})
	}
	return errs
}

func validateNotifications(cfg *NotificationConfig) []FieldError {
	var errs []FieldError
	if cfg.DedupeInterval <= 0 {
		errs = append(errs, FieldError{"notifications.dedupe_interval", "must be positive"})
	}
	if cfg.Webhook.Enabled {
		if cfg.Webhook.URL == "" {
			errs = append(errs, FieldError{"notifications.webhook.url", "cannot be empty when webhook is enabled"})
		} else if u, err := url.Parse(cfg.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, FieldError{"notifications.webhook.url", "must be a valid http(s) URL"})
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"telemetry.logging.level",
			fmt.Sprintf("must be one of debug, info, warn, error; got %q", cfg.Logging.Level)})
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"telemetry.logging.format",
			fmt.Sprintf("must be json or text; got %q", cfg.Logging.Format)})
	}

	if cfg.Metrics.On() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{"telemetry.metrics.path", "must start with /"})
	}

	return errs
}
