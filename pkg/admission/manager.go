package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"photoshare/gatekeeper/pkg/admission/engine"
	"photoshare/gatekeeper/pkg/admission/escalation"
	"photoshare/gatekeeper/pkg/admission/notify"
	"photoshare/gatekeeper/pkg/config"
)

// Manager runs the full admission pipeline for one request: decision engine,
// violation classification, and alert dispatch. It is the single entry point
// the HTTP layer calls.
type Manager struct {
	engine     *engine.Engine
	classifier *escalation.Classifier
	dispatcher *notify.Dispatcher
	metrics    *Metrics
	policy     string
	logger     *slog.Logger

	// nowFunc is swapped in tests.
	nowFunc func() time.Time
}

// ManagerConfig contains the manager's collaborators.
type ManagerConfig struct {
	// Engine evaluates the rate ceilings. Required.
	Engine *engine.Engine

	// Classifier maintains escalation tiers. Optional; when nil, denials are
	// not recorded as violations.
	Classifier *escalation.Classifier

	// Dispatcher delivers escalation alerts. Optional.
	Dispatcher *notify.Dispatcher

	// Metrics receives pipeline observations. Optional.
	Metrics *Metrics

	// FailurePolicy labels degraded decisions in metrics.
	FailurePolicy string

	// Logger receives pipeline warnings.
	Logger *slog.Logger
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.FailurePolicy
	if policy == "" {
		policy = config.FailOpen
	}
	return &Manager{
		engine:     cfg.Engine,
		classifier: cfg.Classifier,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		policy:     policy,
		logger:     logger.With("component", "admission"),
		nowFunc:    time.Now,
	}
}

// Check evaluates one request end to end. It never returns an error: the
// decision always resolves, and downstream failures (ledger writes, alert
// delivery) are logged without affecting the verdict.
func (m *Manager) Check(ctx context.Context, identifier, routeKey string) engine.Decision {
	start := m.nowFunc()
	dec := m.engine.Decide(ctx, identifier, routeKey)
	m.observe(dec, start)

	if m.classifier != nil && m.isRateViolation(dec) {
		m.recordViolation(ctx, identifier, dec)
	}
	return dec
}

// isRateViolation reports whether the denial feeds the violation ledger.
// Every denial of actual traffic does, hard blocks included: a blocked
// identifier that keeps hammering must keep refreshing its cool-down, or the
// block would lapse mid-abuse. Degraded-mode denials are operational
// failures, not caller misbehavior, and are excluded.
func (m *Manager) isRateViolation(dec engine.Decision) bool {
	if dec.Allowed && !dec.ShadowDenied {
		return false
	}
	switch dec.Reason {
	case engine.ReasonRateLimited, engine.ReasonAccountRateLimited, engine.ReasonHardBlock:
		return true
	}
	return false
}

// recordViolation appends the denial to the ledger, re-evaluates the tier,
// and dispatches an alert when the identifier escalated.
func (m *Manager) recordViolation(ctx context.Context, identifier string, dec engine.Decision) {
	now := m.nowFunc()
	tr, err := m.classifier.RecordViolation(ctx, escalation.Violation{
		Identifier: identifier,
		RouteKey:   dec.RouteKey,
		Weight:     dec.Threshold.ViolationWeight,
		Sensitive:  dec.Threshold.Sensitive,
		At:         now,
	})
	if err != nil {
		m.logger.Error("violation recording failed",
			"identifier", identifier, "route", dec.RouteKey, "error", err)
		return
	}
	if !tr.Escalated {
		return
	}

	if m.metrics != nil {
		m.metrics.RecordEscalation(string(tr.To))
	}
	if m.dispatcher == nil {
		return
	}

	sent := m.dispatcher.Notify(ctx, notify.Alert{
		ID:            uuid.NewString(),
		Identifier:    identifier,
		Tier:          tr.To,
		PreviousTier:  tr.From,
		RouteKey:      dec.RouteKey,
		WeightedCount: tr.WeightedCount,
		Blocking:      tr.To == escalation.TierCritical,
		At:            now,
	})
	if m.metrics != nil {
		result := "sent"
		if !sent {
			result = "suppressed"
		}
		m.metrics.RecordNotification(result)
	}
}

// observe records the decision in metrics.
func (m *Manager) observe(dec engine.Decision, start time.Time) {
	if m.metrics == nil {
		return
	}
	result := "allowed"
	switch {
	case !dec.Allowed:
		result = "denied"
	case dec.Warn:
		result = "warned"
	}
	m.metrics.RecordDecision(dec.RouteKey, result)
	if dec.ShadowDenied {
		m.metrics.RecordShadowDenied(dec.RouteKey)
	}
	if dec.Degraded {
		m.metrics.RecordStoreFailure(m.policy)
	}
	m.metrics.RecordCheckDuration(m.nowFunc().Sub(start).Seconds())
}
