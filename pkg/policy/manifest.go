package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/openfroyo/openfroyo/pkg/engine"
	"github.com/openfroyo/openfroyo/pkg/manifest"
)

// manifestPolicies are the two invariants SPEC_FULL.md names as Rego
// rules layered in front of manifest.Validate's Go-level structural
// checks: a vm node must never have children, and a pve node must run in
// push mode (pull mode is reserved for leaf guests, which self-configure
// on first boot).
func manifestPolicies() []Policy {
	return []Policy{vmNoChildrenPolicy(), pvePushModePolicy()}
}

func vmNoChildrenPolicy() Policy {
	return Policy{
		Name:        "vm-no-children",
		Description: "A vm node must not be the parent of any other node",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"manifest", "topology"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openfroyo.manifest.vmnochildren

import rego.v1

deny contains violation if {
	some node in input.manifest.nodes
	node.type == "vm"
	count(node.children) > 0
	violation := {
		"message": sprintf("vm node %q must not have children, found %v", [node.name, node.children]),
		"severity": "error",
		"resource": node.name,
	}
}
`,
	}
}

func pvePushModePolicy() Policy {
	return Policy{
		Name:        "pve-push-mode",
		Description: "A pve node must run with execution mode push",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"manifest", "execution-mode"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openfroyo.manifest.pvepushmode

import rego.v1

deny contains violation if {
	some node in input.manifest.nodes
	node.type == "pve"
	node.mode == "pull"
	violation := {
		"message": sprintf("pve node %q must use execution mode push, got pull", [node.name]),
		"severity": "error",
		"resource": node.name,
	}
}
`,
	}
}

// manifestInput is the JSON shape manifestPolicies' Rego modules read at
// input.manifest. It is deliberately narrower than manifest.Manifest
// itself: only the fields the two invariants need.
type manifestInput struct {
	Nodes []manifestInputNode `json:"nodes"`
}

type manifestInputNode struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Mode     string   `json:"mode"`
	Children []string `json:"children"`
}

// EvaluateManifest runs the manifest-topology policies (vm-no-children,
// pve-push-mode) against m, supplementing manifest.Validate's structural
// checks rather than replacing them. It is independent of the compiled
// resource/plan policies loaded by LoadPolicies.
func (e *Engine) EvaluateManifest(ctx context.Context, m *manifest.Manifest) (*engine.PolicyResult, error) {
	start := time.Now()

	g, err := manifest.BuildGraph(m)
	if err != nil {
		return nil, fmt.Errorf("building graph for policy evaluation: %w", err)
	}

	input := manifestInput{Nodes: make([]manifestInputNode, 0, len(m.Nodes))}
	for _, n := range m.Nodes {
		en, _ := g.Get(n.Name)
		children := []string{}
		if en != nil {
			children = en.Children
		}
		input.Nodes = append(input.Nodes, manifestInputNode{
			Name:     n.Name,
			Type:     string(n.Type),
			Mode:     string(n.Execution.EffectiveMode()),
			Children: children,
		})
	}

	var allViolations []engine.PolicyViolation
	for _, p := range manifestPolicies() {
		violations, err := evaluateManifestPolicy(ctx, p, input)
		if err != nil {
			return nil, fmt.Errorf("evaluating policy %s: %w", p.Name, err)
		}
		allViolations = append(allViolations, violations...)
	}

	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity == string(SeverityError) || allViolations[i].Severity == string(SeverityCritical) {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("manifest", m.Name).
		Int("violations", len(allViolations)).
		Dur("duration", time.Since(start)).
		Msg("manifest policy evaluation completed")

	return &engine.PolicyResult{
		Allowed:     allowed,
		Violations:  allViolations,
		EvaluatedAt: time.Now(),
	}, nil
}

func evaluateManifestPolicy(ctx context.Context, p Policy, input manifestInput) ([]engine.PolicyViolation, error) {
	packageName := extractPackageName(p.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(map[string]any{"manifest": input}),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, err
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			v := engine.PolicyViolation{Policy: p.Name, Severity: string(p.Severity)}
			if m, ok := d.(map[string]interface{}); ok {
				if msg, ok := m["message"].(string); ok {
					v.Message = msg
				}
				if res, ok := m["resource"].(string); ok {
					v.ResourceID = res
				}
				if sev, ok := m["severity"].(string); ok {
					v.Severity = sev
				}
			}
			violations = append(violations, v)
		}
	}
	return violations, nil
}
