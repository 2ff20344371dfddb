package commands

import (
	"github.com/openfroyo/openfroyo/pkg/orchestrator"
	"github.com/spf13/cobra"
)

// newTestCommand implements the `test` verb of spec.md §6: run a
// manifest's create/configure lifecycle followed by the optional
// testing->tested smoke check, exiting non-zero if any check fails.
func newTestCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "test <manifest> <host>",
		Short: "Apply a manifest and run its smoke checks",
		Long: `Execute a manifest's full lifecycle against host, including the
testing->tested step skipped by apply: each leaf node is re-checked for
reachability once configuration has completed.`,
		Example: `  froyo test rack1.yaml 10.0.0.1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerb(cmd.Context(), args[0], args[1], orchestrator.VerbTest, dryRun, structuredOutput)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the lifecycle phases without touching infrastructure")

	return cmd
}
