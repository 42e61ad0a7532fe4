package notify

import (
	"context"
	"log/slog"
	"time"

	"photoshare/gatekeeper/pkg/admission/store"
)

// Dispatcher routes escalation alerts through suppression and out to the
// configured channels.
type Dispatcher struct {
	suppression store.SuppressionStore
	channels    []Channel
	dedupe      time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// Suppression is the store used to dedupe alerts.
	Suppression store.SuppressionStore

	// Channels are the delivery destinations.
	Channels []Channel

	// DedupeInterval suppresses repeat alerts per identifier+tier.
	DedupeInterval time.Duration

	// SendTimeout bounds each channel's delivery attempt.
	// Default: 5 seconds
	SendTimeout time.Duration

	// Logger receives delivery outcomes.
	Logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		suppression: cfg.Suppression,
		channels:    cfg.Channels,
		dedupe:      cfg.DedupeInterval,
		sendTimeout: cfg.SendTimeout,
		logger:      logger.With("component", "notify"),
	}
}

// Notify delivers an alert unless a recent one for the same identifier and
// tier was already sent. It reports whether delivery was attempted; every
// failure path is logged and swallowed so notification problems never reach
// the decision path.
func (d *Dispatcher) Notify(ctx context.Context, alert Alert) bool {
	send, err := d.suppression.MarkNotified(ctx, alert.Identifier, string(alert.Tier), d.dedupe)
	if err != nil {
		// When the suppression store is down, stay quiet rather than storm.
		d.logger.Error("suppression check failed, dropping alert",
			"alert_id", alert.ID, "identifier", alert.Identifier, "error", err)
		return false
	}
	if !send {
		d.logger.Debug("alert suppressed within dedupe interval",
			"alert_id", alert.ID, "identifier", alert.Identifier, "tier", alert.Tier)
		return false
	}

	for _, ch := range d.channels {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := ch.Send(sendCtx, alert)
		cancel()

		if err != nil {
			d.logger.Error("alert delivery failed",
				"alert_id", alert.ID,
				"channel", ch.Name(),
				"identifier", alert.Identifier,
				"tier", alert.Tier,
				"error", err,
			)
			continue
		}
		d.logger.Info("alert delivered",
			"alert_id", alert.ID,
			"channel", ch.Name(),
			"identifier", alert.Identifier,
			"tier", alert.Tier,
		)
	}
	return true
}
