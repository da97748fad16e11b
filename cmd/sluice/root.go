package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sluice/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sluice",
	Short: "Mercator Sluice - admission control for metered resources",
	Long: `Mercator Sluice decides whether a request for a scarce resource may
proceed right now.

It combines sliding-window rate limits, per-caller token buckets and daily
quotas, a global cost budget, circuit breakers and adaptive limit tuning
behind one admission check.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
