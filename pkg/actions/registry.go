package actions

import (
	"context"
	"time"
)

// ResourceDecl is one resource the executor asks ProvisionInfrastructure to
// bring into existence: a named VM/container with enough detail for the
// provisioner to act without reaching back into the manifest.
type ResourceDecl struct {
	Name  string
	VMID  int
	Image string
	Disk  string

	// CloudInitUserData, when non-empty, is written to the hypervisor's
	// snippet storage and attached to the cloned VM as a custom cloud-init
	// user-data drive (`qm set --cicustom`), per §4.7's pull-mode lifecycle:
	// it is how a freshly-cloned node receives its provisioning token and
	// spec-server address before the executor ever reaches it over SSH.
	CloudInitUserData string
}

// Provisioner creates and destroys the infrastructure resources backing a
// node.
type Provisioner interface {
	ProvisionInfrastructure(ctx context.Context, host Host, declared []ResourceDecl) (Result, error)
	StartResource(ctx context.Context, host Host, id string) (Result, error)
	AwaitAddress(ctx context.Context, host Host, id string, timeout time.Duration) (Result, error)
	DestroyResource(ctx context.Context, host Host, idOrPattern string) (Result, error)
}

// Reacher probes and configures a target over its interactive channel.
type Reacher interface {
	AwaitReachable(ctx context.Context, target Host, timeout time.Duration) (Result, error)
	AwaitFile(ctx context.Context, target Host, path string, timeout time.Duration) (Result, error)
}

// Configurer applies declarative configuration to a reachable target.
type Configurer interface {
	RunConfiguration(ctx context.Context, target Host, spec string, vars map[string]string) (Result, error)
}

// HypervisorOps covers the additional capabilities the hypervisor lifecycle
// needs beyond the leaf-guest sequence.
type HypervisorOps interface {
	IssueHypervisorCredential(ctx context.Context, target Host, role, identifier string) (Result, error)
	EnsureImageArtifact(ctx context.Context, target Host, imageName string) (Result, error)
}

// Delegator hands a sub-manifest to a remote engine invocation over the
// interactive channel; implemented in terms of C6 (pkg/streamer) but
// exposed here as an Action for uniform sequencing, per §4.1.
type Delegator interface {
	DelegateSubtree(ctx context.Context, target Host, subManifestYAML []byte, verb string, env map[string]string, allowedContextKeys []string) (Result, error)
}

// Registry bundles concrete implementations of every capability the node
// executor consumes. The set is fixed at compile time: adding a capability
// means adding a field here and a method on every implementation, never a
// dynamic plugin lookup.
type Registry struct {
	Provisioner
	Reacher
	Configurer
	HypervisorOps
	Delegator
}

// NewProxmoxRegistry builds a Registry backed entirely by ProxmoxOps, the
// SSH/qm(1)/pvesh(1)-driven reference implementation.
func NewProxmoxRegistry() *Registry {
	ops := ProxmoxOps{}
	return &Registry{
		Provisioner:   ops,
		Reacher:       ops,
		Configurer:    ops,
		HypervisorOps: ops,
		Delegator:     ops,
	}
}
