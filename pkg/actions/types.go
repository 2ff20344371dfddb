// Package actions implements the action registry (component C1): the
// closed set of atomic capabilities the node executor sequences to create,
// configure, test, and destroy nodes.
package actions

import (
	"github.com/openfroyo/openfroyo/pkg/orcherr"
)

// Host is the small record an Action is invoked against: enough to reach
// and authenticate to a target, per §4.1.
type Host struct {
	// Address is the reachable address of the target, empty if not yet
	// known (e.g. before AwaitAddress has run).
	Address string

	// InfraUser is the username used for infrastructure-provisioning
	// operations (talking to the hypervisor API, not the guest).
	InfraUser string

	// AutomationUser is the username used for configuration/automation
	// operations over the interactive channel.
	AutomationUser string

	// CredentialsRef names the secret the Action should resolve to
	// authenticate (an SSH key path, a hypervisor API token name, etc.).
	// Actions never receive raw secret material through the context map.
	CredentialsRef string
}

// Result is the uniform outcome of every Action invocation, per §4.1.
type Result struct {
	Success          bool
	Message          string
	ContextAdditions map[string]string
	ErrorKind        orcherr.Kind
}

// Ok builds a successful Result.
func Ok(message string, additions map[string]string) Result {
	return Result{Success: true, Message: message, ContextAdditions: additions}
}

// Fail builds a failed Result carrying the given error kind.
func Fail(kind orcherr.Kind, message string) Result {
	return Result{Success: false, Message: message, ErrorKind: kind}
}

// Context is the per-node key/value map threaded through a run: results of
// earlier Actions feed later ones (e.g. a parent's address key for a
// child's AwaitReachable call).
type Context map[string]string

// Capability names one of the ten closed Action capabilities consumed by
// the node executor (§4.1). The set is closed at compile time: Registry's
// methods are the only way to invoke one.
type Capability string

const (
	CapProvisionInfrastructure     Capability = "ProvisionInfrastructure"
	CapStartResource               Capability = "StartResource"
	CapAwaitAddress                Capability = "AwaitAddress"
	CapAwaitReachable              Capability = "AwaitReachable"
	CapAwaitFile                   Capability = "AwaitFile"
	CapRunConfiguration            Capability = "RunConfiguration"
	CapIssueHypervisorCredential   Capability = "IssueHypervisorCredential"
	CapEnsureImageArtifact         Capability = "EnsureImageArtifact"
	CapDestroyResource             Capability = "DestroyResource"
	CapDelegateSubtree           Capability = "DelegateSubtree"
)
