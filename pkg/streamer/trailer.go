package streamer

import (
	"encoding/json"
	"strings"
)

// Phase is one named step of a structured-output trailer (§6).
type Phase struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
}

// Trailer is the bit-exact structured-output contract of §6: a remote
// command may emit one, as its last non-empty line of stdout, a JSON object
// starting at column zero.
type Trailer struct {
	Scenario        string            `json:"scenario"`
	Success         bool              `json:"success"`
	DurationSeconds float64           `json:"duration_seconds"`
	Phases          []Phase           `json:"phases,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// parseTrailer scans captured stdout for a structured-output trailer: the
// last non-empty line that parses as a JSON object anchored at column
// zero. Any other content on that line, or on later lines, means there is
// no trailer; callers fall back to exit-code-only synthesis.
func parseTrailer(stdout string) (*Trailer, bool) {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) == 0 || line[0] != '{' {
			return nil, false
		}
		var t Trailer
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return nil, false
		}
		return &t, true
	}
	return nil, false
}

// projectContext returns only the keys in allow present in ctx, discarding
// everything else, per §4.6's caller-supplied allow-list projection. A nil
// allow-list passes everything through unchanged.
func projectContext(ctx map[string]string, allow []string) map[string]string {
	if allow == nil {
		return ctx
	}
	out := make(map[string]string, len(allow))
	for _, k := range allow {
		if v, ok := ctx[k]; ok {
			out[k] = v
		}
	}
	return out
}
