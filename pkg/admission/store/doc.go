// Package store defines the persistence contracts for admission control and
// provides three backends with identical semantics.
//
// All shared mutable state in the admission layer lives behind the Backend
// interface: fixed-window request counters, the violation ledger, per-identifier
// escalation state, and notification suppression markers. Request handlers are
// ephemeral and share no memory, so every read-modify-write exposed here is a
// single atomic operation at the store level, never a read followed by a write.
//
// # Backends
//
//   - RedisBackend: the production backend for multi-instance deployments.
//     Counter increments run as a Lua script (INCR + PEXPIRE on first hit),
//     the ledger is a sorted set scored by timestamp, and escalation updates
//     use a compare-and-swap script keyed on a version field. Expiry is
//     native Redis TTL.
//
//   - SQLiteBackend: durable single-instance backend. Increments are UPSERTs
//     with "count = count + 1 RETURNING count", escalation CAS is a versioned
//     UPDATE, and expired rows are removed by Cleanup (see pkg/admission/sweeper).
//
//   - MemoryBackend: in-process map backend for tests and local development.
//     State is lost on process exit and not shared across replicas.
//
// # Failure mode
//
// Backends never guess. A connectivity or timeout failure is reported as an
// error wrapping ErrUnavailable; the decision engine resolves it to allow or
// deny according to the configured failure policy.
package store
