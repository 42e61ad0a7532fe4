// Gatekeeper is the admission-control service for the photo sharing platform.
//
// It enforces per-route and account-wide rate ceilings over fixed windows,
// escalates repeat offenders through severity tiers, and alerts operators on
// escalation. Edge gateways call its decision endpoint once per inbound
// request and enforce the verdict.
//
// Usage:
//
//	# Start with default configuration
//	gatekeeper run
//
//	# Start with a custom configuration file
//	gatekeeper run --config /etc/gatekeeper/config.yaml
//
//	# Validate a configuration file without starting
//	gatekeeper validate --config config.yaml
//
//	# Show version information
//	gatekeeper version
package main

func main() {
	Execute()
}
