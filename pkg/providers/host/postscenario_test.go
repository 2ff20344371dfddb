package host

import (
	"context"
	"testing"
)

func TestSplitScenarioRef(t *testing.T) {
	tests := []struct {
		scenario    string
		wantName    string
		wantVersion string
	}{
		{"firewall-harden", "firewall-harden", "latest"},
		{"firewall-harden@1.2.0", "firewall-harden", "1.2.0"},
		{"ns/tool@~1.0.0", "ns/tool", "~1.0.0"},
	}

	for _, tt := range tests {
		name, version := splitScenarioRef(tt.scenario)
		if name != tt.wantName || version != tt.wantVersion {
			t.Errorf("splitScenarioRef(%q) = (%q, %q), want (%q, %q)",
				tt.scenario, name, version, tt.wantName, tt.wantVersion)
		}
	}
}

func TestPostScenarioRunner_NoScenario(t *testing.T) {
	r := NewPostScenarioRunner(t.TempDir())

	if err := r.Run(context.Background(), "web-1", "", nil); err != nil {
		t.Errorf("Run with empty scenario returned %v, want nil", err)
	}
}

func TestPostScenarioRunner_MissingProvider(t *testing.T) {
	r := NewPostScenarioRunner(t.TempDir())

	err := r.Run(context.Background(), "web-1", "nonexistent-scenario", []string{"--flag"})
	if err == nil {
		t.Error("Run with a provider not present in the providers directory should fail")
	}
}
