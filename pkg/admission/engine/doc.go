// Package engine makes the per-request admission decision.
//
// A decision checks two ceilings with AND-allow semantics: the route-specific
// window count and an account-wide aggregate count across all routes. Each
// ceiling has a tiered response: at or under the rate limit requests are
// allowed, between the rate limit and the burst limit they are allowed with a
// warning, and above the burst limit they are denied with retry guidance. An
// identifier in the CRITICAL escalation tier is denied regardless of counts.
//
// The engine never surfaces a store failure to the caller: an unreachable
// store resolves to allow or deny per the configured failure policy, with the
// decision marked Degraded for logging and metrics.
package engine
