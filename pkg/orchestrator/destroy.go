package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/openfroyo/pkg/actions"
	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
)

// runDestroy tears down nodes in destroy order (children strictly before
// parents), best-effort: a destroy failure on one node is recorded but
// does not block destroying the rest, since leaving siblings provisioned
// because one resource refused to go away is worse than a partial
// teardown, per §4.1's idempotent DestroyResource contract.
func (r *run) runDestroy(ctx context.Context) error {
	away := r.delegatedAway()
	var firstErr error

	for _, name := range r.graph.DestroyOrder() {
		if away[name] {
			continue
		}
		n, ok := r.graph.Get(name)
		if !ok {
			continue
		}

		start := time.Now()
		err := r.destroyNode(ctx, name, n)
		r.addPhase(name, phaseStatus(err), time.Since(start))
		if err != nil {
			if ferr := r.fail(name, err); ferr != nil && firstErr == nil {
				firstErr = ferr
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("node %q: %w", name, err)
			}
			continue
		}
	}
	return firstErr
}

func (r *run) destroyNode(ctx context.Context, name string, n *manifest.ExecNode) error {
	if err := r.transition(name, execstate.StatusDestroying); err != nil {
		return err
	}

	// A hypervisor that owns a delegated subtree tears that subtree down
	// remotely, via the same delegation channel used to build it, before
	// its own resource is destroyed out from under it.
	if n.Node.Type == manifest.NodeTypePVE && len(n.Children) > 0 {
		if err := r.delegate(ctx, name, r.selfHost(name)); err != nil {
			return err
		}
	}

	if n.IsRoot() {
		// The root is presumed the operator's own machine; there is no
		// resource of its own to destroy.
		return r.transition(name, execstate.StatusDestroyed)
	}

	host := r.parentHost(name)
	idOrPattern := fmt.Sprintf("%d", n.Node.VMID)
	if n.Node.VMID == 0 {
		idOrPattern = name
	}

	if _, err := r.invoke(ctx, "DestroyResource", name, func() (actions.Result, error) {
		return r.exec.Registry.DestroyResource(ctx, host, idOrPattern)
	}); err != nil {
		return err
	}

	return r.transition(name, execstate.StatusDestroyed)
}
