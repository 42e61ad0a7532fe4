package notify

import (
	"context"
	"log/slog"
)

// LogChannel writes alerts to the structured log. It always succeeds and is
// the floor channel: even with no external destinations configured, an
// escalation leaves an operator-visible trace.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With("component", "notify.log")}
}

// Name identifies the channel in logs and metrics.
func (l *LogChannel) Name() string { return "log" }

// Send writes the alert at WARN level.
func (l *LogChannel) Send(ctx context.Context, alert Alert) error {
	l.logger.Warn("abuse escalation",
		"alert_id", alert.ID,
		"identifier", alert.Identifier,
		"tier", alert.Tier,
		"previous_tier", alert.PreviousTier,
		"route", alert.RouteKey,
		"weighted_violations", alert.WeightedCount,
		"blocking", alert.Blocking,
		"message", alert.Message(),
	)
	return nil
}
