package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/openfroyo/pkg/manifest"
)

func TestResolver_Resolve(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "site.cue", `
env: "production"
retries: 3
`)
	writeFile(t, dir, "hosts.cue", `
"web-1": {
	env: "staging"
	port: 8080
}
`)
	writeFile(t, dir, "resolve.star", `
def resolve(node, vars):
    out = dict(vars)
    out["node_name"] = node
    return out

vars = resolve(node, vars)
`)

	r := NewResolver(dir)
	node := manifest.Node{
		Name: "web-1",
		Vars: map[string]string{"env": "dev"},
	}

	got, err := r.Resolve(context.Background(), node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// node.Vars overrides the host layer, which overrides the site layer.
	if got["env"] != "dev" {
		t.Errorf("env = %q, want %q", got["env"], "dev")
	}
	if got["retries"] != "3" {
		t.Errorf("retries = %q, want %q", got["retries"], "3")
	}
	if got["port"] != "8080" {
		t.Errorf("port = %q, want %q", got["port"], "8080")
	}
	if got["node_name"] != "web-1" {
		t.Errorf("node_name = %q, want %q", got["node_name"], "web-1")
	}
}

func TestResolver_Resolve_NoVarsDir(t *testing.T) {
	r := NewResolver("")
	node := manifest.Node{Name: "web-1", Vars: map[string]string{"env": "dev"}}

	got, err := r.Resolve(context.Background(), node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got["env"] != "dev" {
		t.Errorf("got %v, want only env=dev", got)
	}
}

func TestResolver_Resolve_UnknownHost(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "site.cue", `region: "us-east"`)
	writeFile(t, dir, "hosts.cue", `"web-1": { port: 8080 }`)

	r := NewResolver(dir)
	node := manifest.Node{Name: "web-2"}

	got, err := r.Resolve(context.Background(), node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got["region"] != "us-east" {
		t.Errorf("region = %q, want %q", got["region"], "us-east")
	}
	if _, ok := got["port"]; ok {
		t.Errorf("unexpected port for node with no host-override entry")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}
