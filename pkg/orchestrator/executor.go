// Package orchestrator implements the node executor (component C7): walks
// a manifest's create order, selecting a lifecycle per node (leaf guest,
// interior hypervisor, root hypervisor) and sequencing Action invocations
// against it, applying the configured error policy on failure.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/openfroyo/pkg/actions"
	"github.com/openfroyo/openfroyo/pkg/config"
	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/providers/host"
	"github.com/openfroyo/openfroyo/pkg/specserver"
	"github.com/openfroyo/openfroyo/pkg/telemetry"
)

// Verb names which top-level CLI operation the executor is performing,
// per §6.
type Verb string

const (
	VerbApply   Verb = "apply"
	VerbDestroy Verb = "destroy"
	VerbTest    Verb = "test"
)

// defaultTokenTTL is the provisioning-token validity used for every node,
// per §4.7; there is no per-node override.
const defaultTokenTTL = 30 * time.Minute

// defaultAwaitTimeout bounds the wait Actions when Options.AwaitTimeout is
// unset.
const defaultAwaitTimeout = 10 * time.Minute

// Options configures one executor run.
type Options struct {
	DryRun   bool
	SiteVars map[string]string
	TokenKey []byte

	// VarsDir, if set, points at a directory holding site.cue,
	// hosts.cue, and an optional resolve.star that together compute each
	// node's configuration-time variable bundle (§6), layered under
	// SiteVars and the manifest's own per-node Vars.
	VarsDir string

	// ProvidersDir, if set, points at a directory of post_scenario WASM
	// provider plugins (SPEC_FULL.md §D.2), one subdirectory per provider
	// holding a manifest.yaml and its WASM module. Unset for manifests
	// with no post_scenario hooks.
	ProvidersDir string

	RefCounter   *specserver.RefCounter
	SpecResolver specserver.SpecResolver
	Posture      specserver.PostureValidator
	AwaitTimeout time.Duration

	// SpecServerAddr is the host:port a pull-mode node's agent should
	// reach to fetch its spec, embedded in its cloud-init payload. Unset
	// for manifests with no pull-mode nodes.
	SpecServerAddr string

	// User identifies who started the run, recorded on run-level telemetry.
	// Empty defaults to "unknown".
	User string

	// AllowedDelegateContextKeys restricts which context keys a delegated
	// subtree run may report back, per §4.6.
	AllowedDelegateContextKeys []string
}

// PhaseResult records one phase of the structured-output trailer.
type PhaseResult struct {
	Name     string
	Status   string // passed|failed|skipped
	Duration time.Duration
}

// RunResult is the outcome of one executor run, shaped to feed the
// structured-output trailer described in §6.
type RunResult struct {
	Success  bool
	Phases   []PhaseResult
	Context  map[string]string
	Error    string
	Duration time.Duration
}

// Executor ties the manifest model, execution state store, and action
// registry together to realize one run against one host.
type Executor struct {
	Registry *actions.Registry
	Store    *execstate.Store

	// Telemetry, if set, instruments every run and node action with traces,
	// metrics, and events. A nil Telemetry disables instrumentation entirely.
	Telemetry *telemetry.Telemetry
}

// New builds an Executor.
func New(registry *actions.Registry, store *execstate.Store) *Executor {
	return &Executor{Registry: registry, Store: store}
}

// run carries the mutable state threaded through one Run invocation.
type run struct {
	exec  *Executor
	m     *manifest.Manifest
	host  string
	graph *manifest.Graph
	ctx   map[string]string
	opts         Options
	verb         Verb
	runID        string
	vars         *config.Resolver
	postScenario *host.PostScenarioRunner

	phases  []PhaseResult
	started time.Time
}

// Run executes verb against m, targeting rootHost as the address of the
// manifest's root node(s).
func (e *Executor) Run(ctx context.Context, m *manifest.Manifest, rootHost string, verb Verb, opts Options) (*RunResult, error) {
	if err := manifest.Validate(m); err != nil {
		return nil, orcherr.New(orcherr.KindMalformed, "validating manifest", err)
	}

	fp, err := manifest.Fingerprint(m)
	if err != nil {
		return nil, orcherr.New(orcherr.KindInternal, "fingerprinting manifest", err)
	}

	g, err := manifest.BuildGraph(m)
	if err != nil {
		return nil, orcherr.New(orcherr.KindMalformed, "building execution graph", err)
	}

	names := make([]string, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		names = append(names, n.Name)
	}

	if _, err := e.Store.LoadOrFresh(m.Name, rootHost, fp, names); err != nil {
		return nil, orcherr.New(orcherr.KindInternal, "loading execution state", err)
	}

	user := opts.User
	if user == "" {
		user = "unknown"
	}

	r := &run{
		exec:    e,
		m:       m,
		host:    rootHost,
		graph:   g,
		ctx:     map[string]string{"ssh_host": rootHost},
		opts:    opts,
		verb:    verb,
		runID:   uuid.New().String(),
		started: time.Now(),
		vars:    config.NewResolver(opts.VarsDir),
	}
	for k, v := range opts.SiteVars {
		r.ctx[k] = v
	}
	if opts.ProvidersDir != "" {
		r.postScenario = host.NewPostScenarioRunner(opts.ProvidersDir)
		defer r.postScenario.Close(context.Background())
	}

	if e.Telemetry != nil {
		ctx = e.Telemetry.WithContext(ctx)
		ctx = telemetry.WithRunContext(ctx, r.runID, user)
	}

	serverNeeded := needsServer(m)
	if serverNeeded && opts.RefCounter != nil {
		if err := opts.RefCounter.Ensure(ctx, opts.SpecResolver, opts.Posture); err != nil {
			return nil, orcherr.New(orcherr.KindRemoteFailure, "ensuring spec server", err)
		}
		defer opts.RefCounter.Release(context.Background())
	}

	var runErr error
	switch {
	case opts.DryRun:
		r.dryRunPreview()
	case verb == VerbDestroy:
		runErr = r.runDestroy(ctx)
	default:
		runErr = r.runApplyOrTest(ctx)
	}

	result := &RunResult{
		Success:  runErr == nil,
		Phases:   r.phases,
		Context:  r.ctx,
		Duration: time.Since(r.started),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	if e.Telemetry != nil {
		status := "succeeded"
		if runErr != nil {
			status = "failed"
		}
		telemetry.EndRunContext(ctx, r.runID, status, runErr)
	}

	return result, nil
}

func needsServer(m *manifest.Manifest) bool {
	for _, n := range m.Nodes {
		if n.Execution.Spec != "" {
			return true
		}
	}
	return false
}

// awaitTimeout returns the base wait-Action timeout plus the manifest's
// configured timeout buffer (§3's timeout_buffer_seconds).
func (r *run) awaitTimeout() time.Duration {
	base := r.opts.AwaitTimeout
	if base <= 0 {
		base = defaultAwaitTimeout
	}
	return base + time.Duration(r.m.Settings.TimeoutBufferSeconds)*time.Second
}

func (r *run) addPhase(name, status string, d time.Duration) {
	r.phases = append(r.phases, PhaseResult{Name: name, Status: status, Duration: d})
}

// mergeContext folds an Action's context additions into the run's live
// context map, copying each key verbatim (no per-node prefix is added).
func (r *run) mergeContext(additions map[string]string) {
	for k, v := range additions {
		r.ctx[k] = v
	}
}

// parentHost resolves the Host used to provision or destroy a node: the
// address of whatever already-reachable machine runs the `qm`/`pvesh`
// commands on the node's behalf (the root's own address for a top-level
// node, its hypervisor parent's address otherwise), per §4.7's ordering
// of create-phase Actions against the parent rather than the node itself.
func (r *run) parentHost(name string) actions.Host {
	return actions.Host{
		Address:        r.ctx[r.graph.ParentAddressKey(name)],
		InfraUser:      "root",
		AutomationUser: "root",
	}
}

// selfHost resolves the Host used to configure, test, or operate a node
// over its own interactive channel: the root's address is the well-known
// ssh_host (it is presumed already reachable as the operator's own
// machine), every other node's address is whatever its own
// ProvisionInfrastructure/AwaitAddress sequence published.
func (r *run) selfHost(name string) actions.Host {
	addr := r.ctx["ssh_host"]
	if n, ok := r.graph.Get(name); ok && !n.IsRoot() {
		addr = r.ctx[name+"_address"]
	}
	return actions.Host{
		Address:        addr,
		InfraUser:      "root",
		AutomationUser: "root",
	}
}

// transition persists a node's status transition, stamping timestamps.
func (r *run) transition(name string, status execstate.Status) error {
	return r.exec.Store.UpdateNode(r.m.Name, r.host, name, func(ns *execstate.NodeState) {
		now := time.Now()
		if ns.StartedAt == nil {
			ns.StartedAt = &now
		}
		ns.Status = status
		if status.IsTerminal() {
			ns.FinishedAt = &now
		}
		if addr := r.ctx[name+"_address"]; addr != "" {
			ns.Address = addr
		}
		ns.ParentAddress = r.ctx[r.graph.ParentAddressKey(name)]
	})
}

// fail persists a node's failure, stamping the classified error kind.
func (r *run) fail(name string, err error) error {
	return r.exec.Store.UpdateNode(r.m.Name, r.host, name, func(ns *execstate.NodeState) {
		now := time.Now()
		ns.Status = execstate.StatusFailed
		ns.FinishedAt = &now
		ns.Error = &execstate.ErrorInfo{Kind: string(orcherr.KindOf(err)), Message: err.Error()}
	})
}

// skip persists a node's status as skipped, used by the `continue` error
// policy against a failed node's descendants.
func (r *run) skip(name string) error {
	return r.exec.Store.UpdateNode(r.m.Name, r.host, name, func(ns *execstate.NodeState) {
		ns.Status = execstate.StatusSkipped
	})
}

// delegatedAway returns the set of node names that this run never touches
// directly: everything below a `pve` node that has children is handed off
// whole to that node's own recursive invocation (§4.2/§4.7's subtree
// delegation), so the local graph walk owns only the delegating node
// itself, not its descendants.
func (r *run) delegatedAway() map[string]bool {
	away := make(map[string]bool)
	for _, name := range r.graph.CreateOrder() {
		n, ok := r.graph.Get(name)
		if !ok || n.Node.Type != manifest.NodeTypePVE || len(n.Children) == 0 {
			continue
		}
		for _, d := range r.descendants(name) {
			away[d] = true
		}
	}
	return away
}

// dryRunPreview records the phases a real run would touch without
// invoking any Action or persisting any state transition, per §6's
// --dry-run flag.
func (r *run) dryRunPreview() {
	away := r.delegatedAway()
	order := r.graph.CreateOrder()
	if r.verb == VerbDestroy {
		order = r.graph.DestroyOrder()
	}
	for _, name := range order {
		if away[name] {
			continue
		}
		n, ok := r.graph.Get(name)
		if !ok {
			continue
		}
		status := "would-create"
		switch {
		case r.verb == VerbDestroy:
			status = "would-destroy"
		case n.Node.Type == manifest.NodeTypePVE && len(n.Children) > 0:
			status = "would-delegate"
		case r.verb == VerbTest:
			status = "would-test"
		}
		r.addPhase(name, status, 0)
	}
}

// descendants returns every name below name in the graph, breadth-first.
func (r *run) descendants(name string) []string {
	n, ok := r.graph.Get(name)
	if !ok {
		return nil
	}
	var out []string
	queue := append([]string{}, n.Children...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		if en, ok := r.graph.Get(cur); ok {
			queue = append(queue, en.Children...)
		}
	}
	return out
}
