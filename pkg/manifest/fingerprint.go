package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonical is the JSON-serializable, order-independent shape used to
// compute a manifest's fingerprint: manifest document order does not
// affect semantics (§3), so nodes are sorted by name before hashing.
type canonical struct {
	SchemaVersion int      `json:"schema_version"`
	Name          string   `json:"name"`
	Settings      Settings `json:"settings"`
	Nodes         []Node   `json:"nodes"`
}

// Fingerprint computes a stable hash of the manifest's canonical
// serialization (§4.2, §8.5): equal manifests up to node ordering produce
// the same fingerprint, detecting drift between runs.
func Fingerprint(m *Manifest) (string, error) {
	nodes := append([]Node{}, m.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	c := canonical{
		SchemaVersion: m.SchemaVersion,
		Name:          m.Name,
		Settings:      m.Settings,
		Nodes:         nodes,
	}

	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
