// Package escalation classifies persistently-violating identifiers into
// severity tiers.
//
// Every denial is appended to the violation ledger and the weighted violation
// count over a rolling horizon drives a per-identifier state machine:
// NORMAL -> WATCH -> HIGH -> CRITICAL. A single violation against a route
// marked sensitive jumps straight to CRITICAL. Tiers decay back to NORMAL
// after a violation-free cool-down, implemented as record expiry so decay
// needs no background work.
//
// Evaluations are idempotent and race-safe: ledger appends dedupe on the
// violation timestamp, and tier changes go through a compare-and-swap on the
// stored record, so replaying a violation cannot double-count and concurrent
// evaluations observe exactly one transition.
package escalation
