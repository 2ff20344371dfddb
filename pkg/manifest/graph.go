package manifest

import (
	"fmt"
)

// ExecNode wraps a manifest Node with graph structure: a parent pointer (by
// name, never a direct reference, per the design note that nodes must not
// hold pointer references to each other), children, and depth from a root.
type ExecNode struct {
	Node     Node
	Parent   string
	Children []string
	Depth    int
}

// IsRoot reports whether this node has no parent in the graph.
func (n ExecNode) IsRoot() bool { return n.Parent == "" }

// IsLeaf reports whether this node has no children in the graph.
func (n ExecNode) IsLeaf() bool { return len(n.Children) == 0 }

// Graph is the execution graph built from a Manifest's nodes. It is the
// sole place that understands parent/child edges; Actions and the executor
// look nodes up by name through it rather than following pointers.
type Graph struct {
	manifest *Manifest
	nodes    map[string]*ExecNode
	roots    []string
}

// BuildGraph constructs the execution graph from a normalized manifest.
// The manifest MUST already be validated (see Validate); BuildGraph does
// not re-check invariants.
func BuildGraph(m *Manifest) (*Graph, error) {
	g := &Graph{
		manifest: m,
		nodes:    make(map[string]*ExecNode, len(m.Nodes)),
	}

	for _, n := range m.Nodes {
		g.nodes[n.Name] = &ExecNode{Node: n, Parent: n.Parent}
	}

	for name, en := range g.nodes {
		if en.Parent == "" {
			g.roots = append(g.roots, name)
			continue
		}
		parent, ok := g.nodes[en.Parent]
		if !ok {
			return nil, fmt.Errorf("node %q references unknown parent %q", name, en.Parent)
		}
		parent.Children = append(parent.Children, name)
	}

	// Depths via BFS from roots, mirroring the source's graph.py.
	queue := append([]string{}, g.roots...)
	for _, r := range g.roots {
		g.nodes[r].Depth = 0
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, childName := range g.nodes[cur].Children {
			g.nodes[childName].Depth = g.nodes[cur].Depth + 1
			queue = append(queue, childName)
		}
	}

	return g, nil
}

// Get looks up an ExecNode by name.
func (g *Graph) Get(name string) (*ExecNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Roots returns the names of the graph's root nodes (no parent), in
// manifest document order.
func (g *Graph) Roots() []string {
	ordered := make([]string, 0, len(g.roots))
	for _, n := range g.manifest.Nodes {
		if n.Parent == "" {
			ordered = append(ordered, n.Name)
		}
	}
	return ordered
}

// MaxDepth returns the maximum nesting depth in the graph.
func (g *Graph) MaxDepth() int {
	max := 0
	for _, n := range g.nodes {
		if n.Depth > max {
			max = n.Depth
		}
	}
	return max
}

// CreateOrder returns node names in creation order: parents strictly before
// children. BFS from roots, tie-broken by manifest document order, matches
// the topological-correctness property of §8.1.
func (g *Graph) CreateOrder() []string {
	ordered := make([]string, 0, len(g.nodes))
	queue := g.Roots()

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		ordered = append(ordered, cur)

		// Append children in manifest document order for stable tie-breaks.
		en := g.nodes[cur]
		childSet := make(map[string]struct{}, len(en.Children))
		for _, c := range en.Children {
			childSet[c] = struct{}{}
		}
		for _, n := range g.manifest.Nodes {
			if _, ok := childSet[n.Name]; ok {
				queue = append(queue, n.Name)
			}
		}
	}

	return ordered
}

// DestroyOrder returns node names in destruction order: the reverse of
// CreateOrder, so children are strictly before parents.
func (g *Graph) DestroyOrder() []string {
	create := g.CreateOrder()
	out := make([]string, len(create))
	for i, name := range create {
		out[len(create)-1-i] = name
	}
	return out
}

// ParentAddressKey returns the context key holding the SSH target address
// for a node: the root uses the well-known `ssh_host` key, interior nodes
// use `{parent}_address`.
func (g *Graph) ParentAddressKey(name string) string {
	n := g.nodes[name]
	if n == nil || n.IsRoot() {
		return "ssh_host"
	}
	return n.Parent + "_address"
}

// ExtractSubtree implements §4.2's subtree extraction: given a parent node
// name, produce a new Manifest whose roots are the parent's direct children
// (their Parent reference cleared) and whose nodes are the full transitive
// descendant set (descendants below the direct children retain their
// Parent references unchanged). The new manifest inherits Settings
// verbatim and is named "{original}@{parent}" to keep state files distinct
// per run.
func (g *Graph) ExtractSubtree(parentName string) (*Manifest, error) {
	parent, ok := g.nodes[parentName]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", parentName)
	}

	descendants := make(map[string]struct{})
	var walk func(name string)
	walk = func(name string) {
		en := g.nodes[name]
		for _, c := range en.Children {
			if _, seen := descendants[c]; seen {
				continue
			}
			descendants[c] = struct{}{}
			walk(c)
		}
	}
	walk(parentName)

	directChildren := make(map[string]struct{}, len(parent.Children))
	for _, c := range parent.Children {
		directChildren[c] = struct{}{}
	}

	sub := &Manifest{
		SchemaVersion: g.manifest.SchemaVersion,
		Name:          fmt.Sprintf("%s@%s", g.manifest.Name, parentName),
		Settings:      g.manifest.Settings,
		Nodes:         make([]Node, 0, len(descendants)),
	}

	for _, n := range g.manifest.Nodes {
		if _, ok := descendants[n.Name]; !ok {
			continue
		}
		copied := n
		if _, isDirect := directChildren[n.Name]; isDirect {
			copied.Parent = ""
		}
		sub.Nodes = append(sub.Nodes, copied)
	}

	return sub, nil
}
