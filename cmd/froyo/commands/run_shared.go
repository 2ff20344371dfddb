package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/openfroyo/pkg/actions"
	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/openfroyo/openfroyo/pkg/orchestrator"
	"github.com/openfroyo/openfroyo/pkg/specserver"
	"github.com/openfroyo/openfroyo/pkg/telemetry"
)

// runVerb implements the shared body of `apply`, `destroy`, and `test`
// (spec §6): load the manifest, build an Executor against the live
// Proxmox-backed registry, run verb against it, and render either the
// structured-output trailer or a human-readable summary.
func runVerb(ctx context.Context, manifestPath, host string, verb orchestrator.Verb, dryRun, structuredOutput bool) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	store, err := execstate.NewStore(stateDir())
	if err != nil {
		return fmt.Errorf("opening execution state store: %w", err)
	}

	exec := orchestrator.New(actions.NewProxmoxRegistry(), store)
	if tel := setupTelemetry(); tel != nil {
		exec.Telemetry = tel
		defer tel.Shutdown(context.Background())
	}

	opts := orchestrator.Options{
		DryRun:         dryRun,
		TokenKey:       signingKey(),
		User:           os.Getenv("USER"),
		SpecServerAddr: specServerAddr(),
		VarsDir:        varsDir(),
		ProvidersDir:   providersDir(),
	}
	if needsSpecServer(m) {
		opts.RefCounter = specserver.NewRefCounter(specserver.Config{SigningKey: opts.TokenKey})
		opts.SpecResolver = specserver.NewFileResolver(specsDir())
	}

	result, err := exec.Run(ctx, m, host, verb, opts)
	if err != nil {
		return fmt.Errorf("%s failed before any node ran: %w", verb, err)
	}

	if structuredOutput {
		if err := emitTrailer(string(verb), result); err != nil {
			return err
		}
	} else {
		printRunSummary(string(verb), result)
	}

	if !result.Success {
		return fmt.Errorf("%s reported failure: %s", verb, result.Error)
	}
	return nil
}

// setupTelemetry builds a Telemetry instance and starts its metrics server
// when FROYO_METRICS_ADDR is set, returning nil otherwise so a plain `froyo
// apply` run carries no tracing/metrics overhead by default.
func setupTelemetry() *telemetry.Telemetry {
	addr := os.Getenv("FROYO_METRICS_ADDR")
	if addr == "" {
		return nil
	}

	cfg := telemetry.ProductionConfig()
	cfg.ServiceName = "froyo"
	cfg.Metrics.ListenAddress = addr

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled: failed to initialize")
		return nil
	}
	if err := tel.StartMetricsServer(); err != nil {
		log.Warn().Err(err).Msg("telemetry metrics server failed to start")
	}
	return tel
}

// specServerAddr resolves the address pull-mode nodes should reach the
// spec server at. FROYO_SPEC_SERVER_ADDR overrides it for deployments
// where the operator's machine isn't reachable at its default bind
// address (e.g. behind NAT, or bound to 0.0.0.0 for the listener but
// reachable externally only via a LAN IP).
func specServerAddr() string {
	if addr := os.Getenv("FROYO_SPEC_SERVER_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:8443"
}

func needsSpecServer(m *manifest.Manifest) bool {
	for _, n := range m.Nodes {
		if n.Execution.Spec != "" {
			return true
		}
	}
	return false
}

// emitTrailer writes the bit-exact structured-output JSON object described
// in spec.md §6, as the last line of standard output.
func emitTrailer(scenario string, result *orchestrator.RunResult) error {
	type phase struct {
		Name     string  `json:"name"`
		Status   string  `json:"status"`
		Duration float64 `json:"duration"`
	}
	trailer := struct {
		Scenario        string            `json:"scenario"`
		Success         bool              `json:"success"`
		DurationSeconds float64           `json:"duration_seconds"`
		Phases          []phase           `json:"phases,omitempty"`
		Context         map[string]string `json:"context,omitempty"`
		Error           string            `json:"error,omitempty"`
	}{
		Scenario:        scenario,
		Success:         result.Success,
		DurationSeconds: result.Duration.Seconds(),
		Context:         result.Context,
		Error:           result.Error,
	}
	for _, p := range result.Phases {
		trailer.Phases = append(trailer.Phases, phase{Name: p.Name, Status: p.Status, Duration: p.Duration.Seconds()})
	}

	return json.NewEncoder(os.Stdout).Encode(trailer)
}

func printRunSummary(scenario string, result *orchestrator.RunResult) {
	fmt.Printf("%s: ", scenario)
	if result.Success {
		fmt.Println("success")
	} else {
		fmt.Printf("failed: %s\n", result.Error)
	}
	for _, p := range result.Phases {
		fmt.Printf("  %-20s %-8s %s\n", p.Name, p.Status, p.Duration)
	}
}

// signingKey resolves the HMAC key used to mint and verify provisioning
// tokens (§4.4). In a real deployment this is read from the workspace's
// keys/ directory, seeded by `froyo init`.
func signingKey() []byte {
	path := keysDir() + "/provisioning-signing-key"
	if b, err := os.ReadFile(path); err == nil {
		return b
	}
	return []byte("insecure-development-signing-key")
}

func stateDir() string { return defaultDataDir() + "/state" }
func specsDir() string { return defaultDataDir() + "/specs" }
func keysDir() string  { return defaultDataDir() + "/keys" }

// varsDir locates the optional site.cue/hosts.cue/resolve.star directory
// a run draws its resolved-variable bundle from (§6). FROYO_VARS_DIR
// overrides the default data-dir-relative location.
func varsDir() string {
	if d := os.Getenv("FROYO_VARS_DIR"); d != "" {
		return d
	}
	return defaultDataDir() + "/vars"
}

// providersDir locates the optional post_scenario WASM provider directory
// (SPEC_FULL.md §D.2). FROYO_PROVIDERS_DIR overrides the default
// data-dir-relative location.
func providersDir() string {
	if d := os.Getenv("FROYO_PROVIDERS_DIR"); d != "" {
		return d
	}
	return defaultDataDir() + "/providers"
}

func defaultDataDir() string {
	if configPath != "" {
		return dirOf(configPath) + "/data"
	}
	return "./data"
}

func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}
