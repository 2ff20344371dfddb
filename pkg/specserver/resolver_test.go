package specserver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileResolverListsAndResolves(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	r := NewFileResolver(dir)
	names := r.List()
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}

	doc, ok := r.Resolve("a")
	if !ok || string(doc) != "name: a" {
		t.Fatalf("unexpected resolve result: %q ok=%v", doc, ok)
	}

	if _, ok := r.Resolve("missing"); ok {
		t.Fatal("expected Resolve to report missing spec as absent")
	}
}

func TestFileResolverReloadCachePicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewFileResolver(dir)
	if got := r.List(); len(got) != 0 {
		t.Fatalf("expected empty list initially, got %v", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("name: b"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	r.ReloadCache()
	names := r.List()
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("expected reload to pick up b, got %v", names)
	}
}
