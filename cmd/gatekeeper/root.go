package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - admission control and abuse escalation service",
	Long: `Gatekeeper protects the platform API from overload and abuse.

It tracks request volume per caller over fixed windows, applies per-route
and account-wide ceilings with a warn band between the steady-state and
burst limits, and escalates repeat offenders through severity tiers up to
a hard block. Operators are alerted on escalation.

Edge gateways call the decision endpoint once per inbound request:

  POST /v1/check {"identifier": "user:1234", "route": "upload"}`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
