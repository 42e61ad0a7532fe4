package config

import (
	"sort"
	"strings"
	"sync/atomic"
)

// ThresholdTable is an immutable, compiled view of the route thresholds.
// Resolution is longest-prefix match over the configured route keys, falling
// back to the global default. Tables are never mutated after construction;
// hot reload swaps whole tables through a ThresholdSource.
type ThresholdTable struct {
	def      RouteThreshold
	prefixes []routeEntry
}

type routeEntry struct {
	prefix    string
	threshold RouteThreshold
}

// BuildThresholdTable compiles the limits configuration into a lookup table.
// Route prefixes are sorted longest-first so Resolve can return the first
// match.
func BuildThresholdTable(cfg *LimitsConfig) *ThresholdTable {
	entries := make([]routeEntry, 0, len(cfg.Routes))
	for prefix, rt := range cfg.Routes {
		entries = append(entries, routeEntry{prefix: prefix, threshold: rt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].prefix) != len(entries[j].prefix) {
			return len(entries[i].prefix) > len(entries[j].prefix)
		}
		return entries[i].prefix < entries[j].prefix
	})

	return &ThresholdTable{
		def:      cfg.Default,
		prefixes: entries,
	}
}

// Resolve returns the threshold for a route key. A missing route never blocks
// the request pipeline; it resolves to the global default. The reserved
// GlobalRouteKey resolves to the default as well, which makes the default
// tuple double as the account-wide aggregate ceiling.
func (t *ThresholdTable) Resolve(routeKey string) RouteThreshold {
	if routeKey == GlobalRouteKey {
		return t.def
	}
	for _, e := range t.prefixes {
		if strings.HasPrefix(routeKey, e.prefix) {
			return e.threshold
		}
	}
	return t.def
}

// Default returns the global default threshold.
func (t *ThresholdTable) Default() RouteThreshold {
	return t.def
}

// ThresholdSource hands out the current ThresholdTable snapshot. The decision
// path calls Current once per request and keeps that snapshot for the whole
// evaluation, so a concurrent reload can never mix old and new thresholds
// within one decision.
type ThresholdSource struct {
	table atomic.Pointer[ThresholdTable]
}

// NewThresholdSource creates a source serving the given table.
func NewThresholdSource(t *ThresholdTable) *ThresholdSource {
	s := &ThresholdSource{}
	s.table.Store(t)
	return s
}

// Current returns the active table snapshot.
func (s *ThresholdSource) Current() *ThresholdTable {
	return s.table.Load()
}

// Swap atomically replaces the active table.
func (s *ThresholdSource) Swap(t *ThresholdTable) {
	s.table.Store(t)
}
