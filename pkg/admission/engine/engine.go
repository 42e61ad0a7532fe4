package engine

import (
	"context"
	"log/slog"
	"time"

	"photoshare/gatekeeper/pkg/admission/escalation"
	"photoshare/gatekeeper/pkg/admission/store"
	"photoshare/gatekeeper/pkg/config"
)

// Engine evaluates admission decisions against the window counter store.
// It holds no mutable state of its own and is safe for concurrent use.
type Engine struct {
	counters    store.CounterStore
	escalations store.EscalationStore
	thresholds  *config.ThresholdSource
	enforce     bool
	failOpen    bool
	logger      *slog.Logger

	// nowFunc is swapped in tests to control window boundaries.
	nowFunc func() time.Time
}

// Config contains the engine's dependencies and policy settings.
type Config struct {
	// Counters is the window counter store.
	Counters store.CounterStore

	// Escalations is consulted for CRITICAL hard blocks. Optional; when nil
	// no hard-block check is performed.
	Escalations store.EscalationStore

	// Thresholds serves the active threshold snapshot.
	Thresholds *config.ThresholdSource

	// Enforce toggles enforcement. When false, denials become allows with
	// ShadowDenied set; counters still record true volume.
	Enforce bool

	// FailurePolicy is config.FailOpen or config.FailClosed.
	FailurePolicy string

	// Logger receives degraded-mode and hard-block log lines.
	Logger *slog.Logger
}

// New creates a decision engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		counters:    cfg.Counters,
		escalations: cfg.Escalations,
		thresholds:  cfg.Thresholds,
		enforce:     cfg.Enforce,
		failOpen:    cfg.FailurePolicy != config.FailClosed,
		logger:      logger.With("component", "engine"),
		nowFunc:     time.Now,
	}
}

// Decide evaluates one request. It increments the route and account-wide
// counters exactly once regardless of the outcome, so recorded volume always
// reflects inbound traffic, then applies ceilings and the hard-block
// override. Decide never returns an error to the request path; store failures
// resolve through the failure policy.
func (e *Engine) Decide(ctx context.Context, identifier, routeKey string) Decision {
	table := e.thresholds.Current()
	th := table.Resolve(routeKey)
	def := table.Default()

	routeCount, routeErr := e.counters.IncrementAndCheck(ctx, identifier, routeKey, th.Window)
	globalCount, globalErr := e.counters.IncrementAndCheck(ctx, identifier, config.GlobalRouteKey, def.Window)

	if routeErr != nil || globalErr != nil {
		return e.resolveStoreFailure(identifier, routeKey, th, routeErr, globalErr)
	}

	dec := e.evaluate(routeCount, globalCount, th, def)
	dec.RouteKey = routeKey
	dec.Threshold = th

	// A CRITICAL identifier is blocked outright; quota math does not apply.
	// A ceiling that already denied keeps its own reason so the denial is
	// still attributable to the route that tripped it.
	if blocked := e.hardBlocked(ctx, identifier); blocked != nil {
		if dec.Allowed {
			dec.Reason = ReasonHardBlock
		}
		dec.Allowed = false
		dec.Warn = false
		if remaining := blocked.ExpiresAt.Sub(e.nowFunc()); remaining > dec.RetryAfter {
			dec.RetryAfter = remaining
		}
	}

	if !dec.Allowed && !e.enforce {
		dec.Allowed = true
		dec.ShadowDenied = true
	}

	return dec
}

// evaluate combines the route and account ceilings with AND-allow semantics.
// The constraining ceiling (denying, else warning, else the route one) is
// reported in Count/Limit/Remaining.
func (e *Engine) evaluate(routeCount, globalCount store.WindowCount, th, def config.RouteThreshold) Decision {
	route := classify(routeCount, th, ReasonRateLimited)
	account := classify(globalCount, def, ReasonAccountRateLimited)

	switch {
	case !route.Allowed:
		return route
	case !account.Allowed:
		return account
	case route.Warn:
		return route
	case account.Warn:
		return account
	default:
		return route
	}
}

// classify applies the tiered response for a single ceiling.
func classify(wc store.WindowCount, th config.RouteThreshold, denyReason string) Decision {
	dec := Decision{
		Allowed:    true,
		Count:      wc.Count,
		Limit:      th.RateLimit,
		Remaining:  th.RateLimit - wc.Count,
		RetryAfter: wc.Remaining,
	}
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}

	switch {
	case wc.Count <= th.RateLimit:
	case wc.Count <= th.BurstLimit:
		dec.Warn = true
		dec.Reason = denyReason
	default:
		dec.Allowed = false
		dec.Reason = denyReason
	}
	return dec
}

// hardBlocked returns the escalation record when the identifier is CRITICAL.
// Escalation read errors resolve to "no escalation": the classifier must
// never become an outage vector for legitimate traffic.
func (e *Engine) hardBlocked(ctx context.Context, identifier string) *store.EscalationRecord {
	if e.escalations == nil {
		return nil
	}
	rec, err := e.escalations.LoadEscalation(ctx, identifier)
	if err != nil {
		e.logger.Warn("escalation lookup failed, skipping hard-block check",
			"identifier", identifier, "error", err)
		return nil
	}
	if rec == nil || escalation.Tier(rec.Tier) != escalation.TierCritical {
		return nil
	}
	return rec
}

// resolveStoreFailure applies the fail-open/fail-closed policy when the
// counter store is unreachable. The failure never surfaces as an error.
func (e *Engine) resolveStoreFailure(identifier, routeKey string, th config.RouteThreshold, routeErr, globalErr error) Decision {
	err := routeErr
	if err == nil {
		err = globalErr
	}
	e.logger.Error("counter store unavailable, applying failure policy",
		"identifier", identifier,
		"route", routeKey,
		"fail_open", e.failOpen,
		"error", err,
	)

	dec := Decision{
		Allowed:   e.failOpen,
		Degraded:  true,
		Limit:     th.RateLimit,
		RouteKey:  routeKey,
		Threshold: th,
	}
	if !dec.Allowed {
		dec.Reason = ReasonStoreUnavailable
		dec.RetryAfter = th.Window
	}
	return dec
}
