package config

import "time"

// ApplyDefaults fills in default values for any configuration fields that
// were not set. It is called by LoadConfig before validation.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = "gatekeeper:"
	}
	if cfg.Store.Redis.OpTimeout == 0 {
		cfg.Store.Redis.OpTimeout = 2 * time.Second
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "gatekeeper.db"
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = 5 * time.Second
	}
	if cfg.Store.SQLite.CheckpointInterval == 0 {
		cfg.Store.SQLite.CheckpointInterval = 5 * time.Minute
	}
	if cfg.Store.Retention.Schedule == "" {
		cfg.Store.Retention.Schedule = "@hourly"
	}

	// Limits defaults: 100 requests per minute steady, 150 burst, matching
	// the account-wide aggregate ceiling applied under GlobalRouteKey.
	if cfg.Limits.FailurePolicy == "" {
		cfg.Limits.FailurePolicy = FailOpen
	}
	if cfg.Limits.Default.RateLimit == 0 {
		cfg.Limits.Default.RateLimit = 100
	}
	if cfg.Limits.Default.BurstLimit == 0 {
		cfg.Limits.Default.BurstLimit = cfg.Limits.Default.RateLimit + cfg.Limits.Default.RateLimit/2
	}
	if cfg.Limits.Default.Window == 0 {
		cfg.Limits.Default.Window = time.Minute
	}
	if cfg.Limits.Default.ViolationWeight == 0 {
		cfg.Limits.Default.ViolationWeight = 1
	}
	for key, rt := range cfg.Limits.Routes {
		if rt.BurstLimit == 0 {
			rt.BurstLimit = rt.RateLimit + rt.RateLimit/2
		}
		if rt.Window == 0 {
			rt.Window = cfg.Limits.Default.Window
		}
		if rt.ViolationWeight == 0 {
			rt.ViolationWeight = cfg.Limits.Default.ViolationWeight
		}
		cfg.Limits.Routes[key] = rt
	}

	// Escalation defaults
	if cfg.Escalation.WatchCount == 0 {
		cfg.Escalation.WatchCount = 10
	}
	if cfg.Escalation.HighCount == 0 {
		cfg.Escalation.HighCount = 25
	}
	if cfg.Escalation.CriticalCount == 0 {
		cfg.Escalation.CriticalCount = 50
	}
	if cfg.Escalation.CoolDown == 0 {
		cfg.Escalation.CoolDown = 30 * time.Minute
	}
	if cfg.Escalation.Horizon == 0 {
		cfg.Escalation.Horizon = time.Hour
	}

	// Notification defaults
	if cfg.Notifications.DedupeInterval == 0 {
		cfg.Notifications.DedupeInterval = 15 * time.Minute
	}
	if cfg.Notifications.SendTimeout == 0 {
		cfg.Notifications.SendTimeout = 5 * time.Second
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = "/metrics"
	}
}
