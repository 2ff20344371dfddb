package orchestrator

import (
	"context"
	"testing"

	"github.com/openfroyo/openfroyo/pkg/actions"
	actionstesting "github.com/openfroyo/openfroyo/pkg/actions/testing"
	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/openfroyo/openfroyo/pkg/orcherr"
)

// selectiveStartFailure wraps a RecordingHost's Provisioner behavior to
// fail StartResource only for one VMID, letting a test exercise the
// continue error policy without making every sibling fail identically.
type selectiveStartFailure struct {
	*actionstesting.RecordingHost
	failID string
}

func (s *selectiveStartFailure) StartResource(ctx context.Context, host actions.Host, id string) (actions.Result, error) {
	if id == s.failID {
		return actions.Fail(orcherr.KindRemoteFailure, "hypervisor refused to start resource"), nil
	}
	return s.RecordingHost.StartResource(ctx, host, id)
}

func mustStore(t *testing.T) *execstate.Store {
	t.Helper()
	store, err := execstate.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func leafManifest(name string) *manifest.Manifest {
	m := &manifest.Manifest{
		SchemaVersion: manifest.SchemaVersion,
		Name:          name,
		Nodes: []manifest.Node{
			{Name: "edge", Type: manifest.NodeTypeVM, VMID: 101, Image: "debian-12", Execution: manifest.Execution{Spec: "configure-edge.sh"}},
		},
	}
	if err := manifest.Normalize(m); err != nil {
		panic(err)
	}
	return m
}

func hypervisorManifest(name string) *manifest.Manifest {
	m := &manifest.Manifest{
		SchemaVersion: manifest.SchemaVersion,
		Name:          name,
		Nodes: []manifest.Node{
			{Name: "rack1", Type: manifest.NodeTypePVE, VMID: 100},
			{Name: "edge", Type: manifest.NodeTypeVM, Parent: "rack1", VMID: 101, Image: "debian-12", Execution: manifest.Execution{Spec: "configure-edge.sh"}},
		},
	}
	if err := manifest.Normalize(m); err != nil {
		panic(err)
	}
	return m
}

func newTestExecutor(t *testing.T, rec *actionstesting.RecordingHost) *Executor {
	t.Helper()
	store, err := execstate.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(rec.Registry(), store)
}

func TestApplyLeafNodeRunsFullLifecycle(t *testing.T) {
	rec := actionstesting.NewRecordingHost()
	rec.Script(actions.CapAwaitAddress, actions.Ok("address published", map[string]string{"address": "10.0.0.5"}))

	exec := newTestExecutor(t, rec)
	m := leafManifest("single-leaf")

	result, err := exec.Run(context.Background(), m, "operator-host", VerbApply, Options{TokenKey: []byte("test-key")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	sawConfig := false
	for _, c := range rec.Calls {
		if c.Capability == actions.CapRunConfiguration {
			sawConfig = true
			vars, ok := c.Args[2].(map[string]string)
			if !ok {
				t.Fatalf("expected RunConfiguration vars map, got %T", c.Args[2])
			}
			if vars["FROYO_TOKEN"] == "" {
				t.Fatal("expected a minted provisioning token in RunConfiguration vars")
			}
		}
	}
	if !sawConfig {
		t.Fatal("expected RunConfiguration to be invoked")
	}

	state, err := exec.Store.Load(m.Name, "operator-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Nodes["edge"].Status != execstate.StatusConfigured {
		t.Fatalf("expected edge to be configured, got %s", state.Nodes["edge"].Status)
	}
}

func TestApplyFailurePropagatesUnderStopPolicy(t *testing.T) {
	rec := actionstesting.NewRecordingHost()
	rec.Script(actions.CapAwaitAddress, actions.Fail(orcherr.KindNotReady, "no address ever published"))

	exec := newTestExecutor(t, rec)
	m := leafManifest("single-leaf")

	result, err := exec.Run(context.Background(), m, "operator-host", VerbApply, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}

	state, err := exec.Store.Load(m.Name, "operator-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Nodes["edge"].Status != execstate.StatusFailed {
		t.Fatalf("expected edge to be failed, got %s", state.Nodes["edge"].Status)
	}
	if state.Nodes["edge"].Error == nil || state.Nodes["edge"].Error.Kind != string(orcherr.KindNotReady) {
		t.Fatalf("expected a not-ready error recorded, got %+v", state.Nodes["edge"].Error)
	}
}

// TestContinuePolicyProcessesIndependentSiblingsAfterFailure verifies that
// a failure under the `continue` policy does not halt the whole run: an
// unrelated sibling node still reaches `configured`, while the overall
// result is still reported as a failure.
func TestContinuePolicyProcessesIndependentSiblingsAfterFailure(t *testing.T) {
	rec := actionstesting.NewRecordingHost()
	rec.Script(actions.CapAwaitAddress, actions.Ok("address published", map[string]string{"address": "10.0.0.5"}))
	oneNodeFails := &selectiveStartFailure{RecordingHost: rec, failID: "101"}

	exec := New(&actions.Registry{
		Provisioner:   oneNodeFails,
		Reacher:       rec,
		Configurer:    rec,
		HypervisorOps: rec,
		Delegator:     rec,
	}, mustStore(t))
	m := &manifest.Manifest{
		SchemaVersion: manifest.SchemaVersion,
		Name:          "two-leaves",
		Nodes: []manifest.Node{
			{Name: "edge-a", Type: manifest.NodeTypeVM, VMID: 101},
			{Name: "edge-b", Type: manifest.NodeTypeVM, VMID: 102},
		},
	}
	if err := manifest.Normalize(m); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	m.Settings.OnError = manifest.OnErrorContinue

	result, err := exec.Run(context.Background(), m, "operator-host", VerbApply, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatal("expected overall failure to be reported even under continue policy")
	}

	state, err := exec.Store.Load(m.Name, "operator-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Nodes["edge-a"].Status != execstate.StatusFailed {
		t.Fatalf("expected edge-a to be failed, got %s", state.Nodes["edge-a"].Status)
	}
	if state.Nodes["edge-b"].Status != execstate.StatusConfigured {
		t.Fatalf("expected edge-b to still be configured, got %s", state.Nodes["edge-b"].Status)
	}
}

func TestHypervisorNodeDelegatesSubtree(t *testing.T) {
	rec := actionstesting.NewRecordingHost()
	rec.Script(actions.CapAwaitAddress, actions.Ok("address published", map[string]string{"address": "10.0.0.1"}))

	exec := newTestExecutor(t, rec)
	m := hypervisorManifest("rack-deploy")

	result, err := exec.Run(context.Background(), m, "operator-host", VerbApply, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}

	var delegated bool
	for _, c := range rec.Calls {
		if c.Capability == actions.CapDelegateSubtree {
			delegated = true
			verb, ok := c.Args[2].(string)
			if !ok || verb != string(VerbApply) {
				t.Fatalf("expected delegated verb %q, got %v", VerbApply, c.Args[2])
			}
		}
	}
	if !delegated {
		t.Fatal("expected rack1 to delegate its subtree")
	}

	state, err := exec.Store.Load(m.Name, "operator-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Nodes["rack1"].Status != execstate.StatusDelegated {
		t.Fatalf("expected rack1 to be delegated, got %s", state.Nodes["rack1"].Status)
	}
}

func TestDestroyTearsDownLeafResource(t *testing.T) {
	rec := actionstesting.NewRecordingHost()
	rec.Script(actions.CapAwaitAddress, actions.Ok("address published", map[string]string{"address": "10.0.0.1"}))

	exec := newTestExecutor(t, rec)
	m := leafManifest("single-leaf")

	if _, err := exec.Run(context.Background(), m, "operator-host", VerbApply, Options{}); err != nil {
		t.Fatalf("apply Run: %v", err)
	}

	result, err := exec.Run(context.Background(), m, "operator-host", VerbDestroy, Options{})
	if err != nil {
		t.Fatalf("destroy Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected destroy success, got %q", result.Error)
	}

	var destroyCalls int
	for _, c := range rec.Calls {
		if c.Capability == actions.CapDestroyResource {
			destroyCalls++
		}
	}
	if destroyCalls != 1 {
		t.Fatalf("expected 1 DestroyResource call, got %d", destroyCalls)
	}

	state, err := exec.Store.Load(m.Name, "operator-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Nodes["edge"].Status != execstate.StatusDestroyed {
		t.Fatalf("expected edge destroyed, got %s", state.Nodes["edge"].Status)
	}
}

// TestDestroyDelegatesSubtreeBeforeTearingDownRoot covers the case where
// the node being destroyed owns a delegated subtree: the recursive
// invocation must be asked to tear its children down (via a delegated
// `destroy`) before the local run considers the node itself destroyed.
// The root never has a resource of its own to destroy.
func TestDestroyDelegatesSubtreeBeforeTearingDownRoot(t *testing.T) {
	rec := actionstesting.NewRecordingHost()
	rec.Script(actions.CapAwaitAddress, actions.Ok("address published", map[string]string{"address": "10.0.0.1"}))

	exec := newTestExecutor(t, rec)
	m := hypervisorManifest("rack-deploy")

	if _, err := exec.Run(context.Background(), m, "operator-host", VerbApply, Options{}); err != nil {
		t.Fatalf("apply Run: %v", err)
	}

	result, err := exec.Run(context.Background(), m, "operator-host", VerbDestroy, Options{})
	if err != nil {
		t.Fatalf("destroy Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected destroy success, got %q", result.Error)
	}

	var sawDestroyDelegation, sawDestroyResource bool
	for _, c := range rec.Calls {
		switch c.Capability {
		case actions.CapDelegateSubtree:
			if verb, ok := c.Args[2].(string); ok && verb == string(VerbDestroy) {
				sawDestroyDelegation = true
			}
		case actions.CapDestroyResource:
			sawDestroyResource = true
		}
	}
	if !sawDestroyDelegation {
		t.Fatal("expected rack1 to delegate a destroy verb to its subtree before tearing down")
	}
	if sawDestroyResource {
		t.Fatal("the root has no resource of its own; DestroyResource should not have been called")
	}

	state, err := exec.Store.Load(m.Name, "operator-host")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Nodes["rack1"].Status != execstate.StatusDestroyed {
		t.Fatalf("expected rack1 destroyed, got %s", state.Nodes["rack1"].Status)
	}
}
