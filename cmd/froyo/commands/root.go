package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath       string
	verbose          bool
	jsonOutput       bool
	structuredOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo",
		Short: "OpenFroyo - Infrastructure Orchestration Engine",
		Long: `OpenFroyo executes a declarative manifest of VM/hypervisor nodes through
create, configure, test, and destroy lifecycles.

Features:
  - Recursive subtree delegation to hypervisor nodes
  - Push/pull configuration modes
  - A spec/repo server daemon for first-boot agents
  - A remote command streamer carrying a structured-output trailer`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands (spec.md §6).
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "raise the log level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "render status output as JSON")
	rootCmd.PersistentFlags().BoolVar(&structuredOutput, "structured-output", false, "emit the trailing-line JSON result trailer instead of human-readable output")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
