package store

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-process maps.
// It is safe for concurrent use, but its state is local to the process and is
// not shared across replicas. Use RedisBackend when handlers run as separate
// instances; use this backend in tests and single-process deployments.
type MemoryBackend struct {
	mu           sync.Mutex
	counters     map[string]*memoryCounter
	violations   map[string]map[string]Violation
	escalations  map[string]EscalationRecord
	suppressions map[string]memorySuppression

	// nowFunc is swapped in tests to control window boundaries.
	nowFunc func() time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

type memorySuppression struct {
	lastSentAt time.Time
	expiresAt  time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		counters:     make(map[string]*memoryCounter),
		violations:   make(map[string]map[string]Violation),
		escalations:  make(map[string]EscalationRecord),
		suppressions: make(map[string]memorySuppression),
		nowFunc:      time.Now,
	}
}

// SetClock overrides the backend's time source. Intended for tests that need
// to control window boundaries and expiry.
func (m *MemoryBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = now
}

// IncrementAndCheck atomically adds one to the window counter and returns the
// post-increment count.
func (m *MemoryBackend) IncrementAndCheck(ctx context.Context, identifier, routeKey string, window time.Duration) (WindowCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	start := windowStart(now, window)
	end := start.Add(window)
	key := identifier + "\x00" + routeKey + "\x00" + start.UTC().Format(time.RFC3339Nano)

	c, ok := m.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(counterTTL(end, now))}
		m.counters[key] = c
	}
	c.count++

	return WindowCount{
		Count:       c.count,
		WindowStart: start,
		Remaining:   end.Sub(now),
	}, nil
}

// AppendViolation records a denial, idempotently on the dedupe key.
func (m *MemoryBackend) AppendViolation(ctx context.Context, v Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey, ok := m.violations[v.Identifier]
	if !ok {
		byKey = make(map[string]Violation)
		m.violations[v.Identifier] = byKey
	}
	if _, exists := byKey[v.DedupeKey()]; exists {
		return nil
	}
	byKey[v.DedupeKey()] = v
	return nil
}

// WeightedViolations sums violation weights for an identifier since the given time.
func (m *MemoryBackend) WeightedViolations(ctx context.Context, identifier string, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum float64
	for _, v := range m.violations[identifier] {
		if !v.Timestamp.Before(since) {
			sum += v.Weight
		}
	}
	return sum, nil
}

// LoadEscalation returns the escalation state, or nil if none exists.
func (m *MemoryBackend) LoadEscalation(ctx context.Context, identifier string) (*EscalationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.escalations[identifier]
	if !ok || m.nowFunc().After(rec.ExpiresAt) {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// SaveEscalation performs a compare-and-swap on the escalation record.
func (m *MemoryBackend) SaveEscalation(ctx context.Context, prev *EscalationRecord, next EscalationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.escalations[next.Identifier]
	if exists && m.nowFunc().After(cur.ExpiresAt) {
		exists = false
	}

	switch {
	case prev == nil && exists:
		return false, nil
	case prev != nil && (!exists || cur.Version != prev.Version):
		return false, nil
	}

	if prev == nil {
		next.Version = 1
	} else {
		next.Version = prev.Version + 1
	}
	m.escalations[next.Identifier] = next
	return true, nil
}

// MarkNotified records a notification for identifier+tier unless one was
// already recorded within the dedupe interval.
func (m *MemoryBackend) MarkNotified(ctx context.Context, identifier, tier string, interval time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	key := identifier + "\x00" + tier
	if s, ok := m.suppressions[key]; ok && now.Sub(s.lastSentAt) < interval {
		return false, nil
	}
	m.suppressions[key] = memorySuppression{
		lastSentAt: now,
		expiresAt:  now.Add(interval),
	}
	return true, nil
}

// Cleanup drops expired counters, violations, escalation records, and
// suppression markers. The retention sweeper calls this on a schedule.
func (m *MemoryBackend) Cleanup(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key, c := range m.counters {
		if now.After(c.expiresAt) {
			delete(m.counters, key)
			deleted++
		}
	}
	for identifier, byKey := range m.violations {
		for key, v := range byKey {
			if now.After(v.ExpiresAt) {
				delete(byKey, key)
				deleted++
			}
		}
		if len(byKey) == 0 {
			delete(m.violations, identifier)
		}
	}
	for identifier, rec := range m.escalations {
		if now.After(rec.ExpiresAt) {
			delete(m.escalations, identifier)
			deleted++
		}
	}
	for key, s := range m.suppressions {
		if now.After(s.expiresAt) {
			delete(m.suppressions, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}
