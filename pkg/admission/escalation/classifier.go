package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"photoshare/gatekeeper/pkg/admission/store"
	"photoshare/gatekeeper/pkg/config"
)

// Classifier maintains the escalation state machine per identifier.
// It is stateless itself; all state lives in the store so any instance can
// evaluate any violation.
type Classifier struct {
	ledger      store.ViolationLedger
	escalations store.EscalationStore
	cfg         config.EscalationConfig
	logger      *slog.Logger
}

// NewClassifier creates a classifier over the given ledger and escalation
// store.
func NewClassifier(ledger store.ViolationLedger, escalations store.EscalationStore, cfg config.EscalationConfig, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		ledger:      ledger,
		escalations: escalations,
		cfg:         cfg,
		logger:      logger.With("component", "escalation"),
	}
}

// RecordViolation appends a denial to the ledger and re-evaluates the
// identifier's tier. It is idempotent: replaying a violation with the same
// timestamp neither double-counts nor double-transitions.
//
// Errors are returned for the caller to log, but by the time they surface the
// request decision has already been made; classifier failures must never
// block traffic.
func (c *Classifier) RecordViolation(ctx context.Context, v Violation) (Transition, error) {
	rec := store.Violation{
		ID:         uuid.NewString(),
		Identifier: v.Identifier,
		RouteKey:   v.RouteKey,
		Weight:     v.Weight,
		Timestamp:  v.At,
		ExpiresAt:  v.At.Add(c.cfg.Horizon),
	}
	if err := c.ledger.AppendViolation(ctx, rec); err != nil {
		return Transition{From: TierNormal, To: TierNormal}, fmt.Errorf("append violation: %w", err)
	}

	weighted, err := c.ledger.WeightedViolations(ctx, v.Identifier, v.At.Add(-c.cfg.Horizon))
	if err != nil {
		return Transition{From: TierNormal, To: TierNormal}, fmt.Errorf("weighted violations: %w", err)
	}

	// CAS retry loop: on contention, re-read and re-evaluate. A losing racer
	// either finds the transition already applied (no escalation observed)
	// or a still-older state it can move forward.
	for attempt := 0; attempt < 3; attempt++ {
		prev, err := c.escalations.LoadEscalation(ctx, v.Identifier)
		if err != nil {
			return Transition{From: TierNormal, To: TierNormal}, fmt.Errorf("load escalation: %w", err)
		}

		current := TierNormal
		enteredAt := v.At
		if prev != nil {
			current = Tier(prev.Tier)
			enteredAt = prev.EnteredAt
		}

		target := c.targetTier(current, weighted, v.Sensitive)
		if !target.Above(current) {
			// Refresh the violation clock so the cool-down restarts, but a
			// replayed or concurrent-equal evaluation is not an escalation.
			next := store.EscalationRecord{
				Identifier:      v.Identifier,
				Tier:            string(current),
				EnteredAt:       enteredAt,
				LastViolationAt: v.At,
				ExpiresAt:       v.At.Add(c.cfg.CoolDown),
			}
			if prev != nil && !v.At.After(prev.LastViolationAt) {
				// Replay of an already-evaluated violation; nothing to move.
				return Transition{From: current, To: current, WeightedCount: weighted}, nil
			}
			if swapped, err := c.escalations.SaveEscalation(ctx, prev, next); err != nil {
				return Transition{From: current, To: current}, fmt.Errorf("save escalation: %w", err)
			} else if swapped {
				return Transition{From: current, To: current, WeightedCount: weighted}, nil
			}
			continue
		}

		next := store.EscalationRecord{
			Identifier:      v.Identifier,
			Tier:            string(target),
			EnteredAt:       v.At,
			LastViolationAt: v.At,
			ExpiresAt:       v.At.Add(c.cfg.CoolDown),
		}
		swapped, err := c.escalations.SaveEscalation(ctx, prev, next)
		if err != nil {
			return Transition{From: current, To: current}, fmt.Errorf("save escalation: %w", err)
		}
		if swapped {
			c.logger.Warn("identifier escalated",
				"identifier", v.Identifier,
				"from", current,
				"to", target,
				"weighted_violations", weighted,
				"route", v.RouteKey,
			)
			return Transition{From: current, To: target, Escalated: true, WeightedCount: weighted}, nil
		}
	}

	// Contention exhausted the retries; another evaluator owns the
	// transition. Report no escalation rather than guessing.
	return Transition{From: TierNormal, To: TierNormal, WeightedCount: weighted}, nil
}

// Current returns the identifier's present tier. Expired records read as
// NORMAL: the cool-down is the record's lifetime.
func (c *Classifier) Current(ctx context.Context, identifier string) (Tier, error) {
	rec, err := c.escalations.LoadEscalation(ctx, identifier)
	if err != nil {
		return TierNormal, fmt.Errorf("load escalation: %w", err)
	}
	if rec == nil {
		return TierNormal, nil
	}
	return Tier(rec.Tier), nil
}

// targetTier applies the threshold ladder to the weighted count. A sensitive
// route short-circuits to CRITICAL on any violation.
func (c *Classifier) targetTier(current Tier, weighted float64, sensitive bool) Tier {
	if sensitive {
		return TierCritical
	}

	target := TierNormal
	switch {
	case weighted >= c.cfg.CriticalCount:
		target = TierCritical
	case weighted >= c.cfg.HighCount:
		target = TierHigh
	case weighted >= c.cfg.WatchCount:
		target = TierWatch
	}

	// Tiers only move up here; decay happens by record expiry.
	if current.Above(target) {
		return current
	}
	return target
}
