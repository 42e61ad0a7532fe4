// Package config loads, validates, and serves the Gatekeeper configuration.
//
// Configuration is a single YAML file. Loading applies defaults first, then
// environment variable overrides (GATEKEEPER_SECTION_FIELD), then validation;
// a configuration that fails validation never reaches running code.
//
// Route thresholds are compiled into an immutable ThresholdTable snapshot.
// The decision path reads the current snapshot through a ThresholdSource,
// which the file watcher swaps atomically when the config file changes, so
// thresholds are never mutated mid-request.
package config
