// Package notify delivers operator alerts on severity escalation.
//
// Alerts fire only on upward tier transitions, never on individual
// violations, and pass through a store-backed suppression check so a
// sustained attack produces one alert per identifier and tier within the
// dedupe interval instead of a notification storm.
//
// Delivery is best-effort fan-out over the configured channels. A channel
// failure is logged and swallowed: notification loss is acceptable, request
// protection is not.
package notify
