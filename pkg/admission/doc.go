// Package admission ties the rate-limit subsystem together: the decision
// engine, the violation classifier, and alert dispatch, fronted by an HTTP
// middleware.
//
// A request flows through exactly one Manager.Check call. The engine
// increments the window counters and applies the route and account ceilings;
// denials feed the escalation classifier; upward tier transitions produce
// operator alerts. Store failures never surface to the caller; the configured
// failure policy decides the outcome instead.
//
// Subpackages:
//
//   - store: pluggable persistence (memory, SQLite, Redis)
//   - engine: the ceiling and hard-block decision logic
//   - escalation: the severity state machine
//   - notify: alert suppression and delivery
//   - sweeper: scheduled cleanup of expired records
package admission
