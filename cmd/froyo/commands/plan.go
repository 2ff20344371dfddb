package commands

import (
	"fmt"

	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newPlanCommand repurposes the teacher's desired-vs-actual DAG planner to
// preview a manifest's execution order against a host: the lifecycle each
// node will go through, and, where a prior run's state exists, its current
// status, without invoking any Action.
func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan <manifest> <host>",
		Short:   "Preview a manifest's execution order against host",
		Example: `  froyo plan rack1.yaml 10.0.0.1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, host := args[0], args[1]

			m, err := manifest.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := manifest.Validate(m); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			g, err := manifest.BuildGraph(m)
			if err != nil {
				return fmt.Errorf("building execution graph: %w", err)
			}

			var existing *execstate.ExecutionState
			if store, err := execstate.NewStore(stateDir()); err == nil {
				existing, _ = store.Load(m.Name, host)
			}

			fmt.Printf("plan for %q against %s (on_error=%s):\n", m.Name, host, m.Settings.OnError)
			for depth := 0; depth <= g.MaxDepth(); depth++ {
				for _, name := range g.CreateOrder() {
					n, ok := g.Get(name)
					if !ok || n.Depth != depth {
						continue
					}
					status := "not yet run"
					if existing != nil {
						if ns, ok := existing.Nodes[name]; ok {
							status = string(ns.Status)
						}
					}
					fmt.Printf("  [%d] %-20s %-8s lifecycle=%s current=%s\n", depth, name, n.Node.Type, lifecycleOf(n), status)
				}
			}

			log.Info().Str("manifest", m.Name).Str("host", host).Msg("plan computed")
			return nil
		},
	}

	return cmd
}

func lifecycleOf(n *manifest.ExecNode) string {
	switch {
	case n.Node.Type == manifest.NodeTypeVM:
		return "leaf-guest"
	case n.IsRoot() && len(n.Children) > 0:
		return "root-hypervisor"
	case len(n.Children) > 0:
		return "interior-hypervisor"
	default:
		return "hypervisor (no children)"
	}
}
