// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// SnapshotGate is one gate node in a test snapshot tree.
type SnapshotGate struct {
	Name       string          `json:"name"`
	Path       []string        `json:"path"`
	Kind       string          `json:"kind"`
	Dimensions []string        `json:"dimensions,omitempty"`
	Vertices   [][2]float64    `json:"vertices,omitempty"`
	Min        []float64       `json:"min,omitempty"`
	Max        []float64       `json:"max,omitempty"`
	Normalized bool            `json:"normalized,omitempty"`
	Children   []*SnapshotGate `json:"children,omitempty"`
}

// SnapshotSample is one sample record in a test snapshot.
type SnapshotSample struct {
	ID           string                          `json:"id"`
	Filename     string                          `json:"filename"`
	Metadata     map[string]string               `json:"metadata"`
	Channels     map[string][]float64            `json:"channels"`
	Populations  map[string]map[string][]float64 `json:"populations,omitempty"`
	ChannelOrder []string                        `json:"channel_order,omitempty"`
}

// SnapshotDoc is the wire shape of a workspace snapshot export, mirrored
// here so fixtures exercise the real JSON decode path rather than an
// in-memory shortcut.
type SnapshotDoc struct {
	WorkspacePath string           `json:"workspace_path"`
	Tree          *SnapshotGate    `json:"gate_tree"`
	Samples       []SnapshotSample `json:"samples"`
}

// WriteSnapshot marshals doc into a snapshot file under t.TempDir and
// returns its path. The file is removed with the test's temp dir.
func WriteSnapshot(t *testing.T, doc SnapshotDoc) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal snapshot fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write snapshot fixture: %v", err)
	}
	return path
}

// UngatedTree returns a minimal single-node gate tree for snapshots that
// only need ungated samples.
func UngatedTree() *SnapshotGate {
	return &SnapshotGate{Name: "root", Path: nil, Kind: "ungated"}
}
