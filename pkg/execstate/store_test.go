package execstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestLoadOrFreshCreatesPendingNodes(t *testing.T) {
	s := newTestStore(t)

	es, err := s.LoadOrFresh("s3", "host1", "fp1", []string{"root", "edge"})
	if err != nil {
		t.Fatalf("LoadOrFresh: %v", err)
	}
	if len(es.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(es.Nodes))
	}
	if es.Nodes["root"].Status != StatusPending {
		t.Fatalf("expected pending status, got %s", es.Nodes["root"].Status)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)

	es := Fresh("s3", "host1", "fp1", []string{"root"})
	es.Nodes["root"] = NodeState{Status: StatusCreated, Address: "10.0.0.5"}

	if err := s.Save(es); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load("s3", "host1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Nodes["root"].Status != StatusCreated || loaded.Nodes["root"].Address != "10.0.0.5" {
		t.Fatalf("unexpected loaded state: %+v", loaded.Nodes["root"])
	}
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("nope", "host1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadOrFreshArchivesOnFingerprintMismatch(t *testing.T) {
	s := newTestStore(t)

	es, err := s.LoadOrFresh("s3", "host1", "fp1", []string{"root"})
	if err != nil {
		t.Fatalf("LoadOrFresh initial: %v", err)
	}
	es.Nodes["root"] = NodeState{Status: StatusCreated}
	if err := s.Save(es); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh, err := s.LoadOrFresh("s3", "host1", "fp2", []string{"root"})
	if err != nil {
		t.Fatalf("LoadOrFresh after fingerprint change: %v", err)
	}
	if fresh.Nodes["root"].Status != StatusPending {
		t.Fatalf("expected fresh pending state, got %+v", fresh.Nodes["root"])
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	foundArchive := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" && e.Name() != "s3@host1.json" {
			foundArchive = true
		}
	}
	if !foundArchive {
		t.Fatalf("expected an archived state file, entries: %v", entries)
	}
}

func TestUpdateNodeMutatesAndPersists(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadOrFresh("s3", "host1", "fp1", []string{"root"}); err != nil {
		t.Fatalf("LoadOrFresh: %v", err)
	}

	err := s.UpdateNode("s3", "host1", "root", func(ns *NodeState) {
		ns.Status = StatusConfiguring
		ns.Address = "10.0.0.9"
	})
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	loaded, err := s.Load("s3", "host1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Nodes["root"].Status != StatusConfiguring || loaded.Nodes["root"].Address != "10.0.0.9" {
		t.Fatalf("unexpected state after update: %+v", loaded.Nodes["root"])
	}
}
