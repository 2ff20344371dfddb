// Package manifest implements the manifest graph model (component C2):
// parsing, validation, normalization, and create/destroy ordering over a
// declarative tree of hypervisor and guest nodes.
package manifest

import (
	"fmt"
)

// SchemaVersion is the current manifest schema version. Prior versions are
// accepted and normalized to this version at load time.
const SchemaVersion = 2

// NodeType discriminates a hypervisor node from a leaf guest.
type NodeType string

const (
	// NodeTypePVE is a hypervisor that may host children.
	NodeTypePVE NodeType = "pve"
	// NodeTypeVM is a leaf guest; it MUST NOT be a parent of any other node.
	NodeTypeVM NodeType = "vm"
)

// Validate reports whether t is one of the two known node types.
func (t NodeType) Validate() error {
	switch t {
	case NodeTypePVE, NodeTypeVM:
		return nil
	default:
		return fmt.Errorf("unknown node type %q", t)
	}
}

// ExecutionMode selects whether a node is configured by the engine over an
// interactive channel (push) or self-configures on first boot (pull).
type ExecutionMode string

const (
	// ModePush drives configuration from the engine (the default).
	ModePush ExecutionMode = "push"
	// ModePull lets the node self-configure and signal completion via a
	// marker file.
	ModePull ExecutionMode = "pull"
)

// Execution carries the per-node execution-mode override and optional spec
// reference used to fetch a resolved spec from the server.
type Execution struct {
	Mode ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	Spec string        `yaml:"spec,omitempty" json:"spec,omitempty"`

	// PostScenario and PostScenarioArgs carry a supplemental per-node hook
	// (see SPEC_FULL.md §D.2) executed as a sandboxed WASM module after the
	// node reaches `configured`.
	PostScenario     string   `yaml:"post_scenario,omitempty" json:"post_scenario,omitempty"`
	PostScenarioArgs []string `yaml:"post_scenario_args,omitempty" json:"post_scenario_args,omitempty"`
}

// EffectiveMode returns the node's execution mode, defaulting to push.
func (e Execution) EffectiveMode() ExecutionMode {
	if e.Mode == "" {
		return ModePush
	}
	return e.Mode
}

// Node is a single record in the manifest's node tree.
type Node struct {
	Name      string    `yaml:"name" json:"name" validate:"required"`
	Type      NodeType  `yaml:"type" json:"type" validate:"required"`
	Parent    string    `yaml:"parent,omitempty" json:"parent,omitempty"`
	Preset    string    `yaml:"preset,omitempty" json:"preset,omitempty"`
	Image     string    `yaml:"image,omitempty" json:"image,omitempty"`
	VMID      int       `yaml:"vmid,omitempty" json:"vmid,omitempty"`
	Disk      int       `yaml:"disk,omitempty" json:"disk,omitempty"`
	Execution Execution `yaml:"execution,omitempty" json:"execution,omitempty"`

	// Vars carries per-node variable overrides, applied last in the
	// site-defaults -> host-overrides -> node-overrides bundle a push-mode
	// node's RunConfiguration receives as its environment prefix (§6).
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// IsRoot reports whether the node has no parent reference.
func (n Node) IsRoot() bool { return n.Parent == "" }

// Settings are manifest-wide execution settings.
type Settings struct {
	OnError              OnErrorPolicy `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	TimeoutBufferSeconds int           `yaml:"timeout_buffer_seconds,omitempty" json:"timeout_buffer_seconds,omitempty"`
	KeepOnFailure        bool          `yaml:"keep_on_failure,omitempty" json:"keep_on_failure,omitempty"`
	CleanupOnFailure     bool          `yaml:"cleanup_on_failure,omitempty" json:"cleanup_on_failure,omitempty"`
}

// OnErrorPolicy selects the executor's behavior on an Action failure.
type OnErrorPolicy string

const (
	// OnErrorStop halts the run and exits with an aggregate failure.
	OnErrorStop OnErrorPolicy = "stop"
	// OnErrorRollback halts forward progress and destroys created nodes.
	OnErrorRollback OnErrorPolicy = "rollback"
	// OnErrorContinue skips the failed node's descendants and continues.
	OnErrorContinue OnErrorPolicy = "continue"
)

// Validate reports whether p is a known policy, defaulting semantics are
// the caller's responsibility (DefaultSettings fills this in).
func (p OnErrorPolicy) Validate() error {
	switch p {
	case OnErrorStop, OnErrorRollback, OnErrorContinue:
		return nil
	default:
		return fmt.Errorf("unknown on_error policy %q", p)
	}
}

// DefaultSettings returns the manifest settings defaults.
func DefaultSettings() Settings {
	return Settings{
		OnError:              OnErrorStop,
		TimeoutBufferSeconds: 60,
		CleanupOnFailure:     true,
	}
}

// Manifest is the immutable, validated deployment document.
type Manifest struct {
	SchemaVersion int      `yaml:"schema_version" json:"schema_version"`
	Name          string   `yaml:"name" json:"name" validate:"required"`
	Settings      Settings `yaml:"settings,omitempty" json:"settings,omitempty"`
	Nodes         []Node   `yaml:"nodes" json:"nodes" validate:"required,min=1"`
}

// NodeByName returns the node with the given name, or false if absent.
func (m *Manifest) NodeByName(name string) (Node, bool) {
	for _, n := range m.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}
