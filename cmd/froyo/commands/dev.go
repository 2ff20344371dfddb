package commands

import (
	"github.com/openfroyo/openfroyo/pkg/specserver"
	"github.com/spf13/cobra"
)

// newDevCommand repurposes the teacher's local controller/worker sandbox
// into a loopback-bound spec/repo server, letting an operator exercise
// `apply`/`test` against manifests with push-mode specs without standing
// up a real daemon on infrastructure.
func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run a local spec/repo server for manifest development",
	}

	cmd.AddCommand(newDevUpCommand())

	return cmd
}

func newDevUpCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start a loopback spec/repo server in the foreground",
		Long: `Start the spec/repo server bound to 127.0.0.1 with a self-signed
certificate, serving the data directory's specs folder (./data/specs, or
data/specs beside the --config file). Ctrl-C stops it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := specserver.Config{
				Bind:       "127.0.0.1",
				Port:       port,
				SpecsDir:   specsDir(),
				SigningKey: signingKey(),
			}
			cfg.ApplyDefaults()
			return specserver.RunForeground(cmd.Context(), cfg, specserver.NewFileResolver(cfg.SpecsDir), nil)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8443, "port to listen on")

	return cmd
}
