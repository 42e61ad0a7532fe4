package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"photoshare/gatekeeper/pkg/admission"
	"photoshare/gatekeeper/pkg/admission/engine"
	"photoshare/gatekeeper/pkg/admission/escalation"
	"photoshare/gatekeeper/pkg/admission/notify"
	"photoshare/gatekeeper/pkg/admission/store"
	"photoshare/gatekeeper/pkg/admission/sweeper"
	"photoshare/gatekeeper/pkg/config"
	"photoshare/gatekeeper/pkg/server"
	"photoshare/gatekeeper/pkg/telemetry/health"
	"photoshare/gatekeeper/pkg/telemetry/logging"
	"photoshare/gatekeeper/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Gatekeeper server",
	Long: `Start the Gatekeeper server with the specified configuration.

The server exposes the admission decision endpoint, health endpoints, and
the Prometheus metrics endpoint on the configured listen address.

Examples:
  # Start with default config
  gatekeeper run

  # Start with custom config
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Override listen address
  gatekeeper run --listen 0.0.0.0:8080

  # Validate config without starting
  gatekeeper run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Telemetry.Logging, nil)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	backend, err := openBackend(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	defer backend.Close()
	logger.Info("store opened", "backend", cfg.Store.Backend)

	thresholds := config.NewThresholdSource(config.BuildThresholdTable(&cfg.Limits))

	var m *admission.Metrics
	if cfg.Telemetry.Metrics.On() {
		m = admission.NewMetrics()
	}

	eng := engine.New(engine.Config{
		Counters:      backend,
		Escalations:   backend,
		Thresholds:    thresholds,
		Enforce:       cfg.Limits.Enforcing(),
		FailurePolicy: cfg.Limits.FailurePolicy,
		Logger:        logger,
	})
	classifier := escalation.NewClassifier(backend, backend, cfg.Escalation, logger)
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Suppression:    backend,
		Channels:       buildChannels(cfg.Notifications, logger),
		DedupeInterval: cfg.Notifications.DedupeInterval,
		SendTimeout:    cfg.Notifications.SendTimeout,
		Logger:         logger,
	})
	manager := admission.NewManager(admission.ManagerConfig{
		Engine:        eng,
		Classifier:    classifier,
		Dispatcher:    dispatcher,
		Metrics:       m,
		FailurePolicy: cfg.Limits.FailurePolicy,
		Logger:        logger,
	})

	if cfg.Limits.WatchConfig {
		watcher, err := config.NewThresholdWatcher(cfgFile, thresholds, logger)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		defer watcher.Stop()
		go func() {
			if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	sw := sweeper.New(backend, cfg.Store.Retention.Schedule, logger)
	if err := sw.Start(ctx); err != nil {
		return err
	}
	defer sw.Stop()

	checker := health.New(0)
	checker.Register("store", func(ctx context.Context) error {
		_, err := backend.LoadEscalation(ctx, "healthcheck:probe")
		return err
	})

	var metricsHandler = metrics.Handler()
	if !cfg.Telemetry.Metrics.On() {
		metricsHandler = nil
	}

	srv := server.New(server.Options{
		Config:         cfg.Server,
		Manager:        manager,
		Checker:        checker,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Telemetry.Metrics.Path,
		Logger:         logger,
	})

	logger.Info("gatekeeper starting",
		"listen", cfg.Server.ListenAddress,
		"backend", cfg.Store.Backend,
		"enforce", cfg.Limits.Enforcing(),
		"failure_policy", cfg.Limits.FailurePolicy,
		"routes", len(cfg.Limits.Routes),
	)

	return srv.Start(ctx)
}

// openBackend creates the configured admission state backend.
func openBackend(cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemoryBackend(), nil

	case "sqlite":
		return store.NewSQLiteBackendWithConfig(store.SQLiteBackendConfig{
			DBPath:             cfg.SQLite.Path,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return store.NewRedisBackend(client, store.RedisBackendConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			OpTimeout: cfg.Redis.OpTimeout,
		})

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// buildChannels assembles the enabled notification channels.
func buildChannels(cfg config.NotificationConfig, logger *slog.Logger) []notify.Channel {
	var channels []notify.Channel
	if cfg.Log.On() {
		channels = append(channels, notify.NewLogChannel(logger))
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookChannel(cfg.Webhook.URL))
	}
	return channels
}
