package orchestrator

import (
	"context"

	"github.com/openfroyo/openfroyo/pkg/actions"
	"github.com/openfroyo/openfroyo/pkg/execstate"
	"github.com/openfroyo/openfroyo/pkg/manifest"
	"github.com/openfroyo/openfroyo/pkg/orcherr"
)

// runHypervisor implements the six hypervisor-specific steps that follow
// a `pve` node reaching `configured` (interior) or being presumed already
// reachable (root), per §4.7: bootstrap tooling, secrets bundle, network
// bridge, a scoped credential, boot-artifact images, then delegation of
// the node's subtree to its own recursive invocation.
func (r *run) runHypervisor(ctx context.Context, name string, n *manifest.ExecNode) error {
	host := r.selfHost(name)

	if len(n.Children) == 0 {
		// A `pve` node declared with no children is a hypervisor with
		// nothing to delegate to; it completes at `configured`.
		return nil
	}

	if _, err := r.invoke(ctx, "RunConfiguration", name, func() (actions.Result, error) {
		return r.exec.Registry.RunConfiguration(ctx, host, bootstrapScript, nil)
	}); err != nil {
		return err
	}

	if _, err := r.invoke(ctx, "RunConfiguration", name, func() (actions.Result, error) {
		return r.exec.Registry.RunConfiguration(ctx, host, secretsBundleScript, nil)
	}); err != nil {
		return err
	}

	if _, err := r.invoke(ctx, "RunConfiguration", name, func() (actions.Result, error) {
		return r.exec.Registry.RunConfiguration(ctx, host, networkBridgeScript, nil)
	}); err != nil {
		return err
	}

	credRes, err := r.invoke(ctx, "IssueHypervisorCredential", name, func() (actions.Result, error) {
		return r.exec.Registry.IssueHypervisorCredential(ctx, host, "delegate", name)
	})
	if err != nil {
		return err
	}
	r.mergeContext(credRes.ContextAdditions)

	for _, imageName := range r.childImages(n) {
		if _, err := r.invoke(ctx, "EnsureImageArtifact", name, func() (actions.Result, error) {
			return r.exec.Registry.EnsureImageArtifact(ctx, host, imageName)
		}); err != nil {
			return err
		}
	}

	return r.delegate(ctx, name, host)
}

// childImages returns the distinct, non-empty image names declared by a
// node's direct children, in manifest document order.
func (r *run) childImages(n *manifest.ExecNode) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, childName := range n.Children {
		child, ok := r.graph.Get(childName)
		if !ok || child.Node.Image == "" {
			continue
		}
		if _, dup := seen[child.Node.Image]; dup {
			continue
		}
		seen[child.Node.Image] = struct{}{}
		out = append(out, child.Node.Image)
	}
	return out
}

// delegate extracts name's subtree, serializes it, and hands it to the
// node's own recursive invocation over the interactive channel (step 6).
func (r *run) delegate(ctx context.Context, name string, host actions.Host) error {
	if err := r.transition(name, execstate.StatusDelegating); err != nil {
		return err
	}

	sub, err := r.graph.ExtractSubtree(name)
	if err != nil {
		return orcherr.New(orcherr.KindInternal, "extracting subtree", err).WithNode(name)
	}
	subYAML, err := manifest.Marshal(sub)
	if err != nil {
		return orcherr.New(orcherr.KindInternal, "serializing subtree", err).WithNode(name)
	}

	env := map[string]string{}
	for k, v := range r.opts.SiteVars {
		env[k] = v
	}

	res, err := r.invoke(ctx, "DelegateSubtree", name, func() (actions.Result, error) {
		return r.exec.Registry.DelegateSubtree(ctx, host, subYAML, string(r.verb), env, r.opts.AllowedDelegateContextKeys)
	})
	if err != nil {
		return err
	}
	r.mergeContext(res.ContextAdditions)

	return r.transition(name, execstate.StatusDelegated)
}

const bootstrapScript = "command -v froyo >/dev/null 2>&1 || curl -fsSL https://froyo.internal/install.sh | sh"

const secretsBundleScript = "mkdir -p /etc/froyo/secrets && test -f /etc/froyo/secrets/bundle.tar.gz"

const networkBridgeScript = "ip link show vmbr0 >/dev/null 2>&1 || ip link add vmbr0 type bridge"
