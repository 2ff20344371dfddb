package commands

import (
	"fmt"

	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/spf13/cobra"
)

// newFactsCommand repurposes the teacher's host-facts collector to show the
// persisted execution state (§4.3) for a manifest run: each node's status,
// assigned address, and last error, read straight from the state store
// rather than re-probed.
func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts <manifest-name> <host>",
		Short: "Show the persisted execution state for a manifest run",
		Long: `Show the per-node status, address, and error recorded by the last apply,
destroy, or test run of manifest-name against host.`,
		Example: `  froyo facts rack-deploy 10.0.0.1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, host := args[0], args[1]

			store, err := execstate.NewStore(stateDir())
			if err != nil {
				return fmt.Errorf("opening execution state store: %w", err)
			}

			state, err := store.Load(name, host)
			if err != nil {
				return fmt.Errorf("no recorded state for %q against %s: %w", name, host, err)
			}

			fmt.Printf("%s @ %s (fingerprint %s)\n", state.ManifestName, state.Host, state.Fingerprint)
			for node, ns := range state.Nodes {
				line := fmt.Sprintf("  %-20s %-12s", node, ns.Status)
				if ns.Address != "" {
					line += " address=" + ns.Address
				}
				if ns.Error != nil {
					line += fmt.Sprintf(" error=%s(%s)", ns.Error.Kind, ns.Error.Message)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	return cmd
}
