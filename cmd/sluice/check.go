package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"mercator-hq/sluice/pkg/cli"
	"mercator-hq/sluice/pkg/config"
)

var checkFlags struct {
	format string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file, including environment overrides,
and print a summary of the effective limits.

Every invalid field is reported, not just the first one. The exit code is
2 when the configuration is invalid.

Examples:
  # Validate the default config file
  sluice check

  # Validate a specific file and print JSON
  sluice check --config /etc/sluice/config.yaml --format json`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json")
}

// checkResult summarizes an effective configuration.
type checkResult struct {
	Path           string             `json:"path"`
	Valid          bool               `json:"valid"`
	Errors         []string           `json:"errors,omitempty"`
	ListenAddress  string             `json:"listen_address,omitempty"`
	DefaultLimit   int                `json:"default_limit,omitempty"`
	BurstAllowance int                `json:"burst_allowance,omitempty"`
	MaxConcurrent  int                `json:"max_concurrent,omitempty"`
	Resources      map[string]int     `json:"resources,omitempty"`
	DailyBudget    float64            `json:"daily_budget,omitempty"`
	ResetSchedule  string             `json:"budget_reset_schedule,omitempty"`
	QuotaCallers   int                `json:"quota_callers"`
	Storage        string             `json:"storage,omitempty"`
	Adaptive       bool               `json:"adaptive"`
	Priorities     map[string]float64 `json:"priorities,omitempty"`
}

func (r checkResult) WriteText(w io.Writer) error {
	if !r.Valid {
		fmt.Fprintf(w, "✗ %s is invalid\n", r.Path)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
		return nil
	}

	fmt.Fprintf(w, "✓ %s is valid\n\n", r.Path)
	fmt.Fprintf(w, "Admin server:     %s\n", r.ListenAddress)
	fmt.Fprintf(w, "Default limit:    %d/min (burst +%d)\n", r.DefaultLimit, r.BurstAllowance)
	fmt.Fprintf(w, "Max concurrent:   %d\n", r.MaxConcurrent)
	if r.DailyBudget > 0 {
		fmt.Fprintf(w, "Daily budget:     $%.2f (resets %q)\n", r.DailyBudget, r.ResetSchedule)
	} else {
		fmt.Fprintln(w, "Daily budget:     none")
	}
	fmt.Fprintf(w, "Quota overrides:  %d callers\n", r.QuotaCallers)
	fmt.Fprintf(w, "Quota storage:    %s\n", r.Storage)
	fmt.Fprintf(w, "Adaptive tuning:  %v\n", r.Adaptive)

	if len(r.Resources) > 0 {
		fmt.Fprintln(w, "\nResources:")
		for _, name := range slices.Sorted(maps.Keys(r.Resources)) {
			fmt.Fprintf(w, "  %-24s %d/min\n", name, r.Resources[name])
		}
	}
	if len(r.Priorities) > 0 {
		fmt.Fprintln(w, "\nPriorities:")
		for _, name := range slices.Sorted(maps.Keys(r.Priorities)) {
			fmt.Fprintf(w, "  %-24s x%.2f\n", name, r.Priorities[name])
		}
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(checkFlags.format)
	if err != nil {
		return err
	}

	result, loadErr := checkConfig(cfgFile)
	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if loadErr != nil {
		return cli.NewConfigError(cfgFile, loadErr)
	}
	return nil
}

// checkConfig loads path and summarizes it. The returned error is the load
// or validation failure, already reflected in the result.
func checkConfig(path string) (checkResult, error) {
	result := checkResult{Path: path}

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		ce := cli.NewConfigError(path, err)
		if len(ce.Fields) > 0 {
			for _, f := range ce.Fields {
				result.Errors = append(result.Errors, f.Error())
			}
		} else {
			result.Errors = []string{err.Error()}
		}
		return result, err
	}

	t := cfg.Throttle
	result.Valid = true
	result.ListenAddress = cfg.Admin.ListenAddress
	result.DefaultLimit = t.DefaultLimit
	result.BurstAllowance = t.BurstAllowance
	result.MaxConcurrent = t.MaxConcurrent
	result.DailyBudget = t.Budget.DailyBudget
	result.ResetSchedule = t.Budget.ResetSchedule
	result.QuotaCallers = len(t.Quota.Callers)
	result.Storage = t.Storage.Backend
	result.Adaptive = !t.Adaptive.Disabled
	result.Priorities = t.Priorities

	result.Resources = make(map[string]int, len(t.Resources))
	for name := range t.Resources {
		result.Resources[name] = t.ResourceLimit(name)
	}
	return result, nil
}
