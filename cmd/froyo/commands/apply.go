package commands

import (
	"github.com/openfroyo/openfroyo/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newApplyCommand implements the `apply` verb of spec.md §6: execute a
// manifest's create/configure lifecycle against host, minting provisioning
// tokens and delegating hypervisor subtrees as declared.
func newApplyCommand() *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "apply <manifest> <host>",
		Short: "Bring a manifest's nodes up",
		Long: `Execute a manifest's create->configure->[test] lifecycle against host.

Each node is created, awaited reachable, and configured in manifest document
order (parents before children). A pve node with children delegates its
entire subtree to a recursive invocation of this same command running on
the hypervisor itself, reached over SSH.`,
		Example: `  froyo apply rack1.yaml 10.0.0.1
  froyo apply rack1.yaml 10.0.0.1 --dry-run
  froyo apply rack1.yaml 10.0.0.1 --structured-output`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, host := args[0], args[1]
			if !yes && !dryRun {
				log.Warn().Msg("no --yes given; proceeding without an interactive confirmation prompt since none is wired to this terminal")
			}
			return runVerb(cmd.Context(), manifestPath, host, orchestrator.VerbApply, dryRun, structuredOutput)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the lifecycle phases without touching infrastructure")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip destructive-action confirmation")

	return cmd
}
