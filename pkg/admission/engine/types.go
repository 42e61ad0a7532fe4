package engine

import (
	"math"
	"time"

	"photoshare/gatekeeper/pkg/config"
)

// Reason codes attached to warn and deny decisions.
const (
	// ReasonRateLimited marks a denial by the route-specific ceiling.
	ReasonRateLimited = "rate_limited"

	// ReasonAccountRateLimited marks a denial by the account-wide ceiling.
	ReasonAccountRateLimited = "account_rate_limited"

	// ReasonHardBlock marks a denial caused by a CRITICAL escalation tier.
	ReasonHardBlock = "hard_block"

	// ReasonStoreUnavailable marks a fail-closed denial while the store is
	// unreachable.
	ReasonStoreUnavailable = "store_unavailable"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Warn is set when the count is past the rate limit but within the
	// burst limit: a near-limit signal for logging, not a rejection.
	Warn bool

	// Count is the post-increment request count in the constraining window.
	Count int64

	// Limit is the steady-state rate limit of the constraining ceiling.
	Limit int64

	// Remaining is how many requests remain under Limit in this window.
	Remaining int64

	// RetryAfter is the time until the constraining window boundary. It is
	// always derived from the current request time, never from stored state.
	RetryAfter time.Duration

	// Reason is set on warn and deny decisions.
	Reason string

	// ShadowDenied is set instead of a denial when enforcement is disabled:
	// the request is allowed but would have been denied.
	ShadowDenied bool

	// Degraded is set when the store was unreachable and the failure policy
	// decided the outcome.
	Degraded bool

	// RouteKey is the route the decision applies to.
	RouteKey string

	// Threshold is the resolved threshold snapshot the decision used.
	Threshold config.RouteThreshold
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds, as
// served in the Retry-After header and the 429 body.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}
