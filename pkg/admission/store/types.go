package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached or timed
// out. Callers must not surface it to end users; the decision engine resolves
// it according to the configured fail-open/fail-closed policy.
var ErrUnavailable = errors.New("admission store unavailable")

// WindowCount is the result of an atomic counter increment.
type WindowCount struct {
	// Count is the post-increment request count for the current window.
	Count int64

	// WindowStart is the boundary the count belongs to, derived from the
	// request's own clock (never trusted from stored state).
	WindowStart time.Time

	// Remaining is the time left until the window boundary elapses.
	Remaining time.Duration
}

// Violation records a single denied request. Violations are immutable once
// written and expire after the escalation horizon.
type Violation struct {
	// ID is a unique id for logs and alerts. It is not part of the dedupe key.
	ID string

	// Identifier is the caller the violation is attributed to.
	Identifier string

	// RouteKey is the route the denied request targeted.
	RouteKey string

	// Weight is the violation weight of the route (expensive routes count more).
	Weight float64

	// Timestamp is when the denial happened.
	Timestamp time.Time

	// ExpiresAt is when the record leaves the escalation horizon.
	ExpiresAt time.Time
}

// DedupeKey identifies a violation for idempotent appends. Re-evaluating the
// same denial twice must not double-count, so the key excludes the random ID.
func (v Violation) DedupeKey() string {
	return fmt.Sprintf("%d|%s|%g", v.Timestamp.UnixMilli(), v.RouteKey, v.Weight)
}

// EscalationRecord is the persisted escalation state for one identifier.
// Version is a compare-and-swap token; every successful save increments it.
type EscalationRecord struct {
	Identifier      string
	Tier            string
	EnteredAt       time.Time
	LastViolationAt time.Time
	ExpiresAt       time.Time
	Version         int64
}

// CounterStore provides atomically incremented fixed-window request counters.
type CounterStore interface {
	// IncrementAndCheck atomically adds one to the counter for
	// (identifier, routeKey) in the window containing the current time and
	// returns the post-increment count. The window record is created on
	// first increment and expires shortly after the window ends.
	IncrementAndCheck(ctx context.Context, identifier, routeKey string, window time.Duration) (WindowCount, error)
}

// ViolationLedger is the durable, append-only record of denials.
type ViolationLedger interface {
	// AppendViolation records a denial. Appends are idempotent on
	// Violation.DedupeKey: replaying the same violation is a no-op.
	AppendViolation(ctx context.Context, v Violation) error

	// WeightedViolations returns the sum of violation weights for an
	// identifier since the given time.
	WeightedViolations(ctx context.Context, identifier string, since time.Time) (float64, error)
}

// EscalationStore holds per-identifier severity state with CAS updates so
// concurrent evaluations cannot both observe the same transition.
type EscalationStore interface {
	// LoadEscalation returns the current state, or nil if none exists.
	LoadEscalation(ctx context.Context, identifier string) (*EscalationRecord, error)

	// SaveEscalation writes next if the stored record still matches prev
	// (prev == nil means "no record exists yet"). It reports whether the
	// swap happened.
	SaveEscalation(ctx context.Context, prev *EscalationRecord, next EscalationRecord) (bool, error)
}

// SuppressionStore deduplicates operator notifications.
type SuppressionStore interface {
	// MarkNotified atomically records that identifier+tier was notified now.
	// It returns false if a notification for the same pair was already
	// recorded within the dedupe interval.
	MarkNotified(ctx context.Context, identifier, tier string, interval time.Duration) (bool, error)
}

// Backend is the full persistence contract for admission control.
// Implementations must be safe for concurrent use.
type Backend interface {
	CounterStore
	ViolationLedger
	EscalationStore
	SuppressionStore

	// Cleanup removes expired records and returns how many were deleted.
	// Backends with native TTL may implement this as a no-op.
	Cleanup(ctx context.Context, now time.Time) (int, error)

	// Close releases resources held by the backend.
	Close() error
}

// windowStart floors now to the window boundary. Boundaries are always
// recomputed from the current request time, never read back from the store,
// so a stale or skewed stored record cannot corrupt window math.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// counterTTL is how long a window record outlives its window. The grace
// period keeps recent windows visible for audit without unbounded growth.
func counterTTL(windowEnd time.Time, now time.Time) time.Duration {
	return windowEnd.Sub(now) + time.Hour
}

// wrapUnavailable tags a backend failure so callers can errors.Is it against
// ErrUnavailable while keeping the operation context.
func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, err))
}
