package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/openfroyo/pkg/actions"
	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/provtoken"
	"github.com/openfroyo/openfroyo/pkg/telemetry"
)

// runApplyOrTest walks the graph in creation order, running each node's
// lifecycle (§4.7) and applying the manifest's on_error policy (§3) on
// failure.
func (r *run) runApplyOrTest(ctx context.Context) error {
	away := r.delegatedAway()
	skipped := make(map[string]bool)
	var failures []error

	for _, name := range r.graph.CreateOrder() {
		if away[name] {
			continue
		}
		if skipped[name] {
			if err := r.skip(name); err != nil {
				return err
			}
			r.addPhase(name, "skipped", 0)
			continue
		}

		start := time.Now()
		err := r.processNode(ctx, name)
		r.addPhase(name, phaseStatus(err), time.Since(start))
		if err == nil {
			continue
		}

		if ferr := r.fail(name, err); ferr != nil {
			return ferr
		}

		switch r.m.Settings.OnError {
		case manifest.OnErrorContinue:
			failures = append(failures, fmt.Errorf("node %q failed: %w", name, err))
			for _, d := range r.descendants(name) {
				skipped[d] = true
			}
			continue
		case manifest.OnErrorRollback:
			if rbErr := r.runDestroy(ctx); rbErr != nil {
				return fmt.Errorf("node %q failed (%w); rollback also failed: %v", name, err, rbErr)
			}
			return fmt.Errorf("node %q failed, rolled back: %w", name, err)
		default: // OnErrorStop
			return fmt.Errorf("node %q failed: %w", name, err)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d node(s) failed under the continue policy, first: %w", len(failures), failures[0])
	}
	return nil
}

func phaseStatus(err error) string {
	if err != nil {
		return "failed"
	}
	return "passed"
}

// processNode dispatches to the leaf-guest or hypervisor lifecycle for
// name, per §4.7.
func (r *run) processNode(ctx context.Context, name string) error {
	n, ok := r.graph.Get(name)
	if !ok {
		return orcherr.New(orcherr.KindInternal, "node missing from graph", nil).WithNode(name)
	}

	if n.Node.Type == manifest.NodeTypeVM {
		return r.runLeaf(ctx, name, n)
	}

	// pve node: interior nodes are created and self-configured like a
	// leaf before taking on hypervisor duties; the root is presumed
	// already reachable as the operator's own machine and skips that
	// step entirely.
	if !n.IsRoot() {
		if err := r.createAndConfigure(ctx, name, n); err != nil {
			return err
		}
	}
	return r.runHypervisor(ctx, name, n)
}

// runLeaf implements the leaf guest lifecycle: pending -> creating ->
// created -> configuring -> configured -> [testing -> tested].
func (r *run) runLeaf(ctx context.Context, name string, n *manifest.ExecNode) error {
	if err := r.createAndConfigure(ctx, name, n); err != nil {
		return err
	}
	if r.verb == VerbTest {
		return r.runTest(ctx, name, n)
	}
	return nil
}

// createAndConfigure runs the shared pending->created->configured portion
// of the lifecycle used by both leaf guests and interior hypervisors.
func (r *run) createAndConfigure(ctx context.Context, name string, n *manifest.ExecNode) error {
	if err := r.transition(name, execstate.StatusCreating); err != nil {
		return err
	}

	host := r.parentHost(name)
	one := actions.ResourceDecl{Name: name, VMID: n.Node.VMID, Image: n.Node.Image, Disk: fmt.Sprintf("%dG", n.Node.Disk)}

	// Pull-mode nodes get their provisioning token and the spec-server
	// address baked in as cloud-init user-data at clone time: the node
	// executor never opens a connection to the guest until AwaitReachable,
	// so there is no other channel to deliver them before first boot.
	if spec := n.Node.Execution.Spec; spec != "" && n.Node.Execution.EffectiveMode() == manifest.ModePull && r.opts.TokenKey != nil {
		tok, err := provtoken.Mint(r.opts.TokenKey, name, spec, defaultTokenTTL)
		if err != nil {
			return orcherr.New(orcherr.KindInternal, "minting provisioning token", err).WithNode(name)
		}
		one.CloudInitUserData = buildCloudInitUserData(name, spec, string(tok), r.opts.SpecServerAddr)
	}
	decl := []actions.ResourceDecl{one}

	provisionRes, err := r.invoke(ctx, "ProvisionInfrastructure", name, func() (actions.Result, error) {
		return r.exec.Registry.ProvisionInfrastructure(ctx, host, decl)
	})
	if err != nil {
		return err
	}
	r.mergeContext(provisionRes.ContextAdditions)

	if _, err := r.invoke(ctx, "StartResource", name, func() (actions.Result, error) {
		return r.exec.Registry.StartResource(ctx, host, fmt.Sprintf("%d", n.Node.VMID))
	}); err != nil {
		return err
	}

	addrRes, err := r.invoke(ctx, "AwaitAddress", name, func() (actions.Result, error) {
		return r.exec.Registry.AwaitAddress(ctx, host, fmt.Sprintf("%d", n.Node.VMID), r.awaitTimeout())
	})
	if err != nil {
		return err
	}
	if addr := addrRes.ContextAdditions["address"]; addr != "" {
		r.ctx[name+"_address"] = addr
	}

	if err := r.transition(name, execstate.StatusCreated); err != nil {
		return err
	}

	if err := r.configure(ctx, name, n); err != nil {
		return err
	}

	return r.runPostScenario(ctx, name, n)
}

// configure runs the configuring -> configured portion: wait for
// reachability, then either push a configuration script or wait for a
// pull-mode node to signal completion via a marker file.
func (r *run) configure(ctx context.Context, name string, n *manifest.ExecNode) error {
	if err := r.transition(name, execstate.StatusConfiguring); err != nil {
		return err
	}

	host := r.selfHost(name)
	if _, err := r.invoke(ctx, "AwaitReachable", name, func() (actions.Result, error) {
		return r.exec.Registry.AwaitReachable(ctx, host, r.awaitTimeout())
	}); err != nil {
		return err
	}

	switch n.Node.Execution.EffectiveMode() {
	case manifest.ModePull:
		// The node already carries its token and spec-server address from
		// the cloud-init payload attached in createAndConfigure; all that
		// is left is waiting for its agent to report completion.
		if _, err := r.invoke(ctx, "AwaitFile", name, func() (actions.Result, error) {
			return r.exec.Registry.AwaitFile(ctx, host, "/var/lib/froyo/configured", r.awaitTimeout())
		}); err != nil {
			return err
		}
	default: // push
		vars, err := r.vars.Resolve(ctx, n.Node)
		if err != nil {
			return orcherr.New(orcherr.KindInternal, "resolving node variables", err).WithNode(name)
		}
		for k, v := range r.opts.SiteVars {
			vars[k] = v
		}
		if spec := n.Node.Execution.Spec; spec != "" && r.opts.TokenKey != nil {
			tok, err := provtoken.Mint(r.opts.TokenKey, name, spec, defaultTokenTTL)
			if err != nil {
				return orcherr.New(orcherr.KindInternal, "minting provisioning token", err).WithNode(name)
			}
			vars["FROYO_TOKEN"] = string(tok)
		}
		res, err := r.invoke(ctx, "RunConfiguration", name, func() (actions.Result, error) {
			return r.exec.Registry.RunConfiguration(ctx, host, n.Node.Execution.Spec, vars)
		})
		if err != nil {
			return err
		}
		r.mergeContext(res.ContextAdditions)
	}

	return r.transition(name, execstate.StatusConfigured)
}

// runPostScenario invokes the node's optional post_scenario hook (§D.2)
// once it reaches `configured`. A node with no post_scenario set skips
// this entirely; r.postScenario is nil when the run carries no
// ProvidersDir, which skips it too.
func (r *run) runPostScenario(ctx context.Context, name string, n *manifest.ExecNode) error {
	scenario := n.Node.Execution.PostScenario
	if scenario == "" || r.postScenario == nil {
		return nil
	}

	_, err := r.invoke(ctx, "RunPostScenario", name, func() (actions.Result, error) {
		if err := r.postScenario.Run(ctx, name, scenario, n.Node.Execution.PostScenarioArgs); err != nil {
			return actions.Result{}, err
		}
		return actions.Ok("post_scenario "+scenario+" applied", nil), nil
	})
	return err
}

// runTest implements the optional testing -> tested step, only reached on
// the `test` verb: a smoke check that the node is still responding after
// configuration.
func (r *run) runTest(ctx context.Context, name string, n *manifest.ExecNode) error {
	if err := r.transition(name, execstate.StatusTesting); err != nil {
		return err
	}
	host := r.selfHost(name)
	if _, err := r.invoke(ctx, "AwaitReachable", name, func() (actions.Result, error) {
		return r.exec.Registry.AwaitReachable(ctx, host, r.awaitTimeout())
	}); err != nil {
		return err
	}
	return r.transition(name, execstate.StatusTested)
}

// invoke calls an Action, merges the failure into the classified error
// taxonomy, and returns its Result on success. When the executor carries
// telemetry, the call is wrapped in an action span and recorded against the
// action_duration/actions_executed metrics, labeled by capability and node.
func (r *run) invoke(ctx context.Context, capability, node string, fn func() (actions.Result, error)) (actions.Result, error) {
	if r.exec.Telemetry != nil {
		ctx = telemetry.WithActionContext(ctx, r.runID, node, node, capability)
	}

	res, err := fn()

	var invokeErr error
	switch {
	case err != nil:
		invokeErr = orcherr.New(orcherr.KindOf(err), capability+" failed", err).WithNode(node).WithPhase(capability)
	case !res.Success:
		kind := res.ErrorKind
		if kind == "" {
			kind = orcherr.KindRemoteFailure
		}
		invokeErr = orcherr.New(kind, res.Message, nil).WithNode(node).WithPhase(capability)
	}

	if r.exec.Telemetry != nil {
		status := "succeeded"
		if invokeErr != nil {
			status = "failed"
		}
		telemetry.EndActionContext(ctx, r.runID, node, node, capability, status, invokeErr)
	}

	if invokeErr != nil {
		return actions.Result{}, invokeErr
	}
	return res, nil
}
