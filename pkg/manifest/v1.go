package manifest

// LevelV1 is a single entry in a schema-v1 linear recursion manifest,
// supplemented from the original source's ManifestLevel (preset mode,
// template mode, and legacy env mode). Schema v1 documents are accepted at
// load time and converted into a schema-v2 node chain before any other
// component of the engine sees them (see NormalizeV1).
type LevelV1 struct {
	Name             string   `yaml:"name" json:"name"`
	VMPreset         string   `yaml:"vm_preset,omitempty" json:"vm_preset,omitempty"`
	Template         string   `yaml:"template,omitempty" json:"template,omitempty"`
	VMID             int      `yaml:"vmid,omitempty" json:"vmid,omitempty"`
	Env              string   `yaml:"env,omitempty" json:"env,omitempty"`
	Image            string   `yaml:"image,omitempty" json:"image,omitempty"`
	PostScenario     string   `yaml:"post_scenario,omitempty" json:"post_scenario,omitempty"`
	PostScenarioArgs []string `yaml:"post_scenario_args,omitempty" json:"post_scenario_args,omitempty"`
}

// IsInline reports whether the level uses preset or template mode rather
// than the legacy env-file mode.
func (l LevelV1) IsInline() bool {
	return (l.VMPreset != "" || l.Template != "") && l.Env == ""
}

// DocumentV1 is a schema-v1 manifest document: name, description, and a
// linear chain of levels, each nested inside the previous.
type DocumentV1 struct {
	SchemaVersion int       `yaml:"schema_version" json:"schema_version"`
	Name          string    `yaml:"name" json:"name"`
	Levels        []LevelV1 `yaml:"levels" json:"levels"`
	Settings      Settings  `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// NormalizeV1 converts a linear schema-v1 document into a schema-v2
// Manifest: level i+1 becomes a node whose parent is level i's name. Every
// level maps to a `vm` node except the non-terminal levels, which must be
// `pve` since they host a nested level; the terminal level is always `vm`.
// This mirrors the source's recursive-pve scenarios, where every level but
// the last is implicitly a hypervisor for the next.
func NormalizeV1(doc DocumentV1) *Manifest {
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		Name:          doc.Name,
		Settings:      doc.Settings,
		Nodes:         make([]Node, 0, len(doc.Levels)),
	}

	for i, lvl := range doc.Levels {
		nodeType := NodeTypeVM
		if i < len(doc.Levels)-1 {
			nodeType = NodeTypePVE
		}

		n := Node{
			Name:  lvl.Name,
			Type:  nodeType,
			Image: lvl.Image,
			VMID:  lvl.VMID,
		}
		if lvl.VMPreset != "" {
			n.Preset = lvl.VMPreset
		} else if lvl.Template != "" {
			n.Preset = lvl.Template
		}
		if i > 0 {
			n.Parent = doc.Levels[i-1].Name
		}
		if lvl.PostScenario != "" {
			n.Execution.PostScenario = lvl.PostScenario
			n.Execution.PostScenarioArgs = lvl.PostScenarioArgs
		}
		n.Execution.Mode = ModePush

		m.Nodes = append(m.Nodes, n)
	}

	return m
}
