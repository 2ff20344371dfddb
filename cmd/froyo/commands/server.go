package commands

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openfroyo/openfroyo/pkg/specserver"
	"github.com/spf13/cobra"
)

// newServerCommand implements the `server start|stop|status` verbs of
// spec.md §6, running the spec/repo server daemon (component C5).
func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the spec/repo server daemon",
	}

	cmd.AddCommand(newServerStartCommand())
	cmd.AddCommand(newServerStopCommand())
	cmd.AddCommand(newServerStatusCommand())

	return cmd
}

func newServerStartCommand() *cobra.Command {
	var (
		bind       string
		port       int
		certPath   string
		keyPath    string
		reposDir   string
		repoToken  string
		foreground bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the spec/repo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := specserver.Config{
				Bind:       bind,
				Port:       port,
				CertPath:   certPath,
				KeyPath:    keyPath,
				ReposDir:   reposDir,
				RepoToken:  repoToken,
				SpecsDir:   specsDir(),
				SigningKey: signingKey(),
			}
			cfg.ApplyDefaults()

			resolver := specserver.NewFileResolver(cfg.SpecsDir)
			if foreground {
				return specserver.RunForeground(cmd.Context(), cfg, resolver, nil)
			}
			return specserver.Daemonize(cfg)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "0.0.0.0", "address to bind")
	cmd.Flags().IntVar(&port, "port", 8443, "port to listen on")
	cmd.Flags().StringVar(&certPath, "cert", "", "TLS certificate path (self-signed if omitted)")
	cmd.Flags().StringVar(&keyPath, "key", "", "TLS key path (self-signed if omitted)")
	cmd.Flags().StringVar(&reposDir, "repos", "", "directory of bare git repositories to serve")
	cmd.Flags().StringVar(&repoToken, "repo-token", "", "bearer token required for repo serving")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run attached instead of daemonizing")

	return cmd
}

func newServerStopCommand() *cobra.Command {
	var (
		pidPath string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running spec/repo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := specserver.Config{PIDPath: pidPath, Port: port}
			cfg.ApplyDefaults()
			return specserver.Stop(cfg)
		},
	}

	cmd.Flags().StringVar(&pidPath, "pid-file", "", "PID file path (defaults to the well-known administrative path for --port)")
	cmd.Flags().IntVar(&port, "port", 8443, "port the running server was started with")

	return cmd
}

func newServerStatusCommand() *cobra.Command {
	var (
		bind string
		port int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the spec/repo server is healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{
				Timeout:   3 * time.Second,
				Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
			}
			addr := "https://" + bind + ":" + strconv.Itoa(port) + "/health"
			resp, err := client.Get(addr)
			healthy := err == nil && resp != nil && resp.StatusCode == http.StatusOK
			if resp != nil {
				resp.Body.Close()
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				_ = enc.Encode(map[string]any{"healthy": healthy, "address": addr})
			} else if healthy {
				fmt.Println("healthy")
			} else {
				fmt.Println("unreachable")
			}

			if !healthy {
				return fmt.Errorf("server at %s is not healthy", addr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "127.0.0.1", "address to probe")
	cmd.Flags().IntVar(&port, "port", 8443, "port to probe")

	return cmd
}
