// Package execstate implements the execution state store (component C3):
// durable, atomic persistence of per-node lifecycle status across runs and
// restarts, keyed by (manifest-name, target-host).
package execstate

import "time"

// Status is a node's position in its lifecycle state machine (§3, §4.7).
type Status string

const (
	StatusPending     Status = "pending"
	StatusCreating    Status = "creating"
	StatusCreated     Status = "created"
	StatusConfiguring Status = "configuring"
	StatusConfigured  Status = "configured"
	StatusDelegating  Status = "delegating"
	StatusDelegated   Status = "delegated"
	StatusTesting     Status = "testing"
	StatusTested      Status = "tested"
	StatusDestroying  Status = "destroying"
	StatusDestroyed   Status = "destroyed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// IsTerminal reports whether the status represents a final state for the
// current verb (no further Action invocations are expected against it).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDestroyed, StatusFailed, StatusSkipped, StatusTested, StatusConfigured, StatusDelegated:
		return true
	default:
		return false
	}
}

// ErrorInfo is the short kind tag plus message recorded against a failed
// node.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NodeState is the persisted per-node, per-run record.
type NodeState struct {
	Status         Status            `json:"status"`
	AssignedID     int               `json:"assigned_id,omitempty"`
	Address        string            `json:"address,omitempty"`
	ParentAddress  string            `json:"parent_address,omitempty"`
	Error          *ErrorInfo        `json:"error,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	ContextOverlay map[string]string `json:"context_overlay,omitempty"`
}

// ExecutionState is the full persisted record for a (manifest, host) run:
// every node's NodeState plus the manifest fingerprint used to detect
// drift between runs.
type ExecutionState struct {
	ManifestName string               `json:"manifest_name"`
	Host         string               `json:"host"`
	Fingerprint  string               `json:"fingerprint"`
	Nodes        map[string]NodeState `json:"nodes"`
}

// Fresh returns a new ExecutionState with every named node `pending`.
func Fresh(manifestName, host, fingerprint string, nodeNames []string) *ExecutionState {
	nodes := make(map[string]NodeState, len(nodeNames))
	for _, n := range nodeNames {
		nodes[n] = NodeState{Status: StatusPending}
	}
	return &ExecutionState{
		ManifestName: manifestName,
		Host:         host,
		Fingerprint:  fingerprint,
		Nodes:        nodes,
	}
}
