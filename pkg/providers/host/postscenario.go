package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/openfroyo/pkg/engine"
)

// PostScenarioRunner invokes a node's post_scenario hook (SPEC_FULL.md §D.2)
// after the node reaches `configured`: the hook is a provider installed
// under providersDir, run through the same WASM sandbox that manages
// resources, with the node name and the manifest's post_scenario_args as
// its desired-state payload.
type PostScenarioRunner struct {
	registry *Registry
	loaded   map[string]bool
}

// NewPostScenarioRunner builds a runner that loads post_scenario providers
// from providersDir, a directory of `<name>/manifest.yaml` + WASM module
// pairs, the same layout Registry.ScanDirectory expects.
func NewPostScenarioRunner(providersDir string) *PostScenarioRunner {
	return &PostScenarioRunner{
		registry: NewRegistry(providersDir, nil),
		loaded:   make(map[string]bool),
	}
}

// Run applies scenario against node, passing args through as the provider's
// desired state. scenario is the provider's directory name, optionally
// suffixed with "@version" (default "latest"). An empty scenario is a no-op,
// since most nodes carry no post_scenario hook.
func (r *PostScenarioRunner) Run(ctx context.Context, node, scenario string, args []string) error {
	if scenario == "" {
		return nil
	}
	name, version := splitScenarioRef(scenario)

	if !r.loaded[name] {
		manifestPath := filepath.Join(r.registry.loader.BaseDir, name, "manifest.yaml")
		if err := r.registry.RegisterFromPath(ctx, manifestPath); err != nil {
			return fmt.Errorf("loading post_scenario provider %s: %w", scenario, err)
		}
		r.loaded[name] = true
	}

	provider, err := r.registry.Get(ctx, name, version)
	if err != nil {
		return fmt.Errorf("loading post_scenario provider %s: %w", scenario, err)
	}

	desired, err := json.Marshal(map[string]interface{}{"node": node, "args": args})
	if err != nil {
		return fmt.Errorf("encoding post_scenario args: %w", err)
	}

	meta := provider.Metadata()
	if err := provider.Init(ctx, engine.ProviderConfig{
		Name:         name,
		Version:      meta.Version,
		Capabilities: meta.RequiredCapabilities,
		WorkDir:      os.TempDir(),
		Timeout:      30 * time.Second,
	}); err != nil {
		return fmt.Errorf("initializing post_scenario provider %s: %w", scenario, err)
	}

	if _, err := provider.Apply(ctx, engine.ApplyRequest{
		ResourceID:   node,
		DesiredState: desired,
		Operation:    engine.OperationCreate,
	}); err != nil {
		return fmt.Errorf("running post_scenario %s for node %s: %w", scenario, node, err)
	}

	return nil
}

// Close releases the WASM runtimes held by every loaded post_scenario
// provider.
func (r *PostScenarioRunner) Close(ctx context.Context) error {
	return r.registry.Close(ctx)
}

func splitScenarioRef(scenario string) (name, version string) {
	if i := strings.LastIndex(scenario, "@"); i >= 0 {
		return scenario[:i], scenario[i+1:]
	}
	return scenario, "latest"
}
