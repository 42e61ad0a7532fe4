package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"photoshare/gatekeeper/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the server.

The command applies defaults and environment overrides exactly as run does,
then prints the effective thresholds. A non-zero exit means the config would
be rejected at startup.

Examples:
  # Validate the default config file
  gatekeeper validate

  # Validate a specific file
  gatekeeper validate --config /etc/gatekeeper/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("✓ Configuration valid")
	fmt.Printf("  listen:         %s\n", cfg.Server.ListenAddress)
	fmt.Printf("  backend:        %s\n", cfg.Store.Backend)
	fmt.Printf("  enforce:        %t\n", cfg.Limits.Enforcing())
	fmt.Printf("  failure policy: %s\n", cfg.Limits.FailurePolicy)
	fmt.Printf("  default:        %d/%d per %s\n",
		cfg.Limits.Default.RateLimit, cfg.Limits.Default.BurstLimit, cfg.Limits.Default.Window)

	routes := make([]string, 0, len(cfg.Limits.Routes))
	for route := range cfg.Limits.Routes {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	for _, route := range routes {
		th := cfg.Limits.Routes[route]
		flag := ""
		if th.Sensitive {
			flag = " [sensitive]"
		}
		fmt.Printf("  route %-14s %d/%d per %s, weight %g%s\n",
			route+":", th.RateLimit, th.BurstLimit, th.Window, th.ViolationWeight, flag)
	}

	return nil
}
