// Package testing provides a recording mock collaborator for exercising
// the idempotence property every Action must satisfy (§8, invariant 2):
// executing an Action twice in succession with identical inputs must yield
// equal result content and no additional external effects.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/openfroyo/pkg/actions"
)

// Call records one invocation of a capability against the recorder.
type Call struct {
	Capability actions.Capability
	Args       []any
}

// RecordingHost implements every capability interface the node executor
// consumes, recording each call and its inputs, and returning a scripted
// Result looked up by capability name. Unscripted capabilities return a
// canned successful Result so tests only need to script the behavior they
// care about.
type RecordingHost struct {
	mu      sync.Mutex
	Calls   []Call
	Scripts map[actions.Capability]actions.Result
}

// NewRecordingHost creates an empty RecordingHost.
func NewRecordingHost() *RecordingHost {
	return &RecordingHost{Scripts: make(map[actions.Capability]actions.Result)}
}

// Script registers the Result a given capability should return on every
// subsequent invocation, letting a test assert idempotence by invoking the
// same capability twice and comparing the (non-timestamp) result content.
func (r *RecordingHost) Script(cap actions.Capability, result actions.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scripts[cap] = result
}

func (r *RecordingHost) record(cap actions.Capability, args ...any) actions.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, Call{Capability: cap, Args: args})
	if result, ok := r.Scripts[cap]; ok {
		return result
	}
	return actions.Ok("recorded", nil)
}

func (r *RecordingHost) ProvisionInfrastructure(_ context.Context, host actions.Host, declared []actions.ResourceDecl) (actions.Result, error) {
	return r.record(actions.CapProvisionInfrastructure, host, declared), nil
}

func (r *RecordingHost) StartResource(_ context.Context, host actions.Host, id string) (actions.Result, error) {
	return r.record(actions.CapStartResource, host, id), nil
}

func (r *RecordingHost) AwaitAddress(_ context.Context, host actions.Host, id string, timeout time.Duration) (actions.Result, error) {
	return r.record(actions.CapAwaitAddress, host, id, timeout), nil
}

func (r *RecordingHost) DestroyResource(_ context.Context, host actions.Host, idOrPattern string) (actions.Result, error) {
	return r.record(actions.CapDestroyResource, host, idOrPattern), nil
}

func (r *RecordingHost) AwaitReachable(_ context.Context, target actions.Host, timeout time.Duration) (actions.Result, error) {
	return r.record(actions.CapAwaitReachable, target, timeout), nil
}

func (r *RecordingHost) AwaitFile(_ context.Context, target actions.Host, path string, timeout time.Duration) (actions.Result, error) {
	return r.record(actions.CapAwaitFile, target, path, timeout), nil
}

func (r *RecordingHost) RunConfiguration(_ context.Context, target actions.Host, spec string, vars map[string]string) (actions.Result, error) {
	return r.record(actions.CapRunConfiguration, target, spec, vars), nil
}

func (r *RecordingHost) IssueHypervisorCredential(_ context.Context, target actions.Host, role, identifier string) (actions.Result, error) {
	return r.record(actions.CapIssueHypervisorCredential, target, role, identifier), nil
}

func (r *RecordingHost) EnsureImageArtifact(_ context.Context, target actions.Host, imageName string) (actions.Result, error) {
	return r.record(actions.CapEnsureImageArtifact, target, imageName), nil
}

func (r *RecordingHost) DelegateSubtree(_ context.Context, target actions.Host, subManifestYAML []byte, verb string, env map[string]string, allowedContextKeys []string) (actions.Result, error) {
	return r.record(actions.CapDelegateSubtree, target, subManifestYAML, verb, env, allowedContextKeys), nil
}

// Registry returns an actions.Registry backed entirely by this recorder.
func (r *RecordingHost) Registry() *actions.Registry {
	return &actions.Registry{
		Provisioner:   r,
		Reacher:       r,
		Configurer:    r,
		HypervisorOps: r,
		Delegator:     r,
	}
}
