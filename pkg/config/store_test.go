package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotMissingFile(t *testing.T) {
	s := NewStore(t.TempDir(), "flow.config.yaml")
	vars, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("vars = %v, want empty", vars)
	}
}

// TestSnapshotReReadsFile verifies that an edit between snapshots is
// honored, which is what lets operators flip predicate values mid-run.
func TestSnapshotReReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.config.yaml")
	if err := os.WriteFile(path, []byte("skip_review: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir, "flow.config.yaml")

	vars, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if vars["skip_review"] != false {
		t.Errorf("skip_review = %v", vars["skip_review"])
	}

	if err := os.WriteFile(path, []byte("skip_review: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	vars, err = s.Snapshot()
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if vars["skip_review"] != true {
		t.Errorf("edit not honored: skip_review = %v", vars["skip_review"])
	}
}

func TestSnapshotMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "c.yaml"), []byte(": : :"), 0o644)
	if _, err := NewStore(dir, "c.yaml").Snapshot(); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
