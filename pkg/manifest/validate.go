package manifest

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Validate enforces the load-time invariants of §3: parent references
// resolve, the parent relation is acyclic, node names are unique, only
// `pve` nodes may have children, and `pve` nodes must use push mode.
func Validate(m *Manifest) error {
	if err := structValidator.Struct(m); err != nil {
		return fmt.Errorf("malformed manifest: %w", err)
	}

	names := make(map[string]struct{}, len(m.Nodes))
	for _, n := range m.Nodes {
		if err := n.Type.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		if _, dup := names[n.Name]; dup {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		names[n.Name] = struct{}{}
	}

	parentOf := make(map[string]string, len(m.Nodes))
	typeOf := make(map[string]NodeType, len(m.Nodes))
	for _, n := range m.Nodes {
		typeOf[n.Name] = n.Type
		if n.Parent != "" {
			if _, ok := names[n.Parent]; !ok {
				return fmt.Errorf("node %q references unknown parent %q", n.Name, n.Parent)
			}
			parentOf[n.Name] = n.Parent
		}
	}

	// Every `vm` MUST NOT be a parent of any other node.
	for _, n := range m.Nodes {
		if n.Parent == "" {
			continue
		}
		if typeOf[n.Parent] == NodeTypeVM {
			return fmt.Errorf("node %q has a vm parent %q; vm nodes must not host children", n.Name, n.Parent)
		}
	}

	// `pve` nodes must use push mode.
	for _, n := range m.Nodes {
		if n.Type == NodeTypePVE && n.Execution.EffectiveMode() != ModePush {
			return fmt.Errorf("node %q is type pve but execution.mode is %q; pve nodes require push", n.Name, n.Execution.Mode)
		}
	}

	// Acyclicity check via iterative ancestor walk.
	for _, n := range m.Nodes {
		visited := map[string]struct{}{n.Name: {}}
		cur := n.Parent
		for cur != "" {
			if _, seen := visited[cur]; seen {
				return fmt.Errorf("cycle detected in parent chain starting at %q", n.Name)
			}
			visited[cur] = struct{}{}
			cur = parentOf[cur]
		}
	}

	if m.Settings.OnError != "" {
		if err := m.Settings.OnError.Validate(); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}

	return nil
}

// Normalize fills in defaults (schema version, settings) and validates the
// result. It MUST be called after NormalizeV1 conversion and before any
// graph operation.
func Normalize(m *Manifest) error {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = SchemaVersion
	}
	if m.Settings.OnError == "" {
		m.Settings.OnError = DefaultSettings().OnError
	}
	if m.Settings.TimeoutBufferSeconds == 0 {
		m.Settings.TimeoutBufferSeconds = DefaultSettings().TimeoutBufferSeconds
	}
	return Validate(m)
}
