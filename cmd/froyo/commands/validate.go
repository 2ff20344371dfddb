package commands

import (
	"fmt"

	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/openfroyo/openfroyo/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newValidateCommand repurposes the teacher's CUE-config validator to check
// a manifest document against spec.md §3's invariants: schema shape,
// struct-tag constraints, parent resolution, acyclicity, unique names, and
// the vm-cannot-have-children / pve-must-use-push-mode structural rules.
func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a manifest document",
		Long: `Validate a manifest against the node-graph invariants: parent references
resolve, the parent relation is acyclic, node names are unique, only pve
nodes may have children, and every pve node uses push mode.`,
		Example: `  froyo validate rack1.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			m, err := manifest.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := manifest.Validate(m); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			fp, err := manifest.Fingerprint(m)
			if err != nil {
				return fmt.Errorf("fingerprinting %s: %w", path, err)
			}

			engine, err := policy.NewEngine(log.Logger)
			if err != nil {
				return fmt.Errorf("starting policy engine: %w", err)
			}
			result, err := engine.EvaluateManifest(cmd.Context(), m)
			if err != nil {
				return fmt.Errorf("evaluating manifest policies: %w", err)
			}
			if !result.Allowed {
				for _, v := range result.Violations {
					fmt.Printf("policy violation: %s: %s\n", v.Policy, v.Message)
				}
				return fmt.Errorf("%s: failed manifest policy checks", path)
			}

			log.Info().Str("manifest", m.Name).Int("nodes", len(m.Nodes)).Str("fingerprint", fp).Msg("manifest is valid")
			fmt.Printf("%s: valid (%d nodes, fingerprint %s)\n", path, len(m.Nodes), fp)
			return nil
		},
	}

	return cmd
}
