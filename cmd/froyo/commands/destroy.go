package commands

import (
	"fmt"

	"github.com/openfroyo/openfroyo/pkg/orchestrator"
	"github.com/spf13/cobra"
)

// newDestroyCommand implements the `destroy` verb of spec.md §6: tear down
// a manifest's nodes in reverse creation order, re-delegating a destroy
// verb to any subtree a hypervisor node owns before considering itself
// destroyed.
func newDestroyCommand() *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "destroy <manifest> <host>",
		Short: "Tear a manifest's nodes down",
		Long: `Execute a manifest's destroy lifecycle against host, children before
parents, best-effort: a failure tearing down one node does not block
destroying its unrelated siblings.`,
		Example: `  froyo destroy rack1.yaml 10.0.0.1 --yes`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, host := args[0], args[1]
			if !yes && !dryRun {
				return fmt.Errorf("destroy is destructive; pass --yes to confirm (or --dry-run to preview)")
			}
			return runVerb(cmd.Context(), manifestPath, host, orchestrator.VerbDestroy, dryRun, structuredOutput)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the teardown order without touching infrastructure")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive teardown")

	return cmd
}
