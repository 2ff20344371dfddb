package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// versionProbe is used to sniff schema_version before committing to a
// shape-specific unmarshal, since v1 and v2 documents have incompatible
// top-level fields (levels vs. nodes).
type versionProbe struct {
	SchemaVersion int `yaml:"schema_version"`
}

// Load reads a manifest document from path, accepting either schema v1
// (linear levels) or schema v2 (graph nodes), normalizing v1 into v2, and
// validating the result against the invariants of §3.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes raw YAML bytes into a normalized, validated Manifest.
func Parse(b []byte) (*Manifest, error) {
	var probe versionProbe
	if err := yaml.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}

	var m *Manifest
	switch probe.SchemaVersion {
	case 0, 1:
		var doc DocumentV1
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("malformed v1 manifest: %w", err)
		}
		if len(doc.Levels) == 0 {
			// schema_version absent and no levels: treat as a v2 document
			// with an implicit version (common for hand-written manifests).
			var v2 Manifest
			if err := yaml.Unmarshal(b, &v2); err != nil {
				return nil, fmt.Errorf("malformed manifest: %w", err)
			}
			m = &v2
			break
		}
		m = NormalizeV1(doc)
	case SchemaVersion:
		var v2 Manifest
		if err := yaml.Unmarshal(b, &v2); err != nil {
			return nil, fmt.Errorf("malformed v2 manifest: %w", err)
		}
		m = &v2
	default:
		return nil, fmt.Errorf("unsupported schema_version %d", probe.SchemaVersion)
	}

	if err := Normalize(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal serializes a manifest to canonical YAML for delegation (§4.7's
// "serialize it canonically" step).
func Marshal(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}
