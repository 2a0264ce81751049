package gating

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Snapshot is the JSON export format produced by the external workspace
// parser: the gate tree, per-sample metadata and event columns, and a
// reference to the original workspace document (kept alongside the
// snapshot for quadrant divider recovery).
//
// The snapshot is a collaborator hand-off format, not a persistence
// layer: it is read once per run and never written by this module.
type Snapshot struct {
	WorkspacePath string           `json:"workspace_path"`
	Tree          *snapshotNode    `json:"gate_tree"`
	Samples       []snapshotSample `json:"samples"`
}

type snapshotNode struct {
	Name       string          `json:"name"`
	Path       []string        `json:"path"`
	Kind       string          `json:"kind"`
	Dimensions []string        `json:"dimensions,omitempty"`
	Vertices   [][2]float64    `json:"vertices,omitempty"`
	Min        []float64       `json:"min,omitempty"`
	Max        []float64       `json:"max,omitempty"`
	Normalized bool            `json:"normalized,omitempty"`
	Children   []*snapshotNode `json:"children,omitempty"`
}

type snapshotSample struct {
	ID       string               `json:"id"`
	Filename string               `json:"filename"`
	Metadata map[string]string    `json:"metadata"`
	Channels map[string][]float64 `json:"channels"`
	// Optional pre-gated event subsets keyed by "/"-joined gate path.
	Populations map[string]map[string][]float64 `json:"populations,omitempty"`
	// Channel order, since JSON objects do not preserve it.
	ChannelOrder []string `json:"channel_order,omitempty"`
}

// SnapshotProvider implements Provider over a loaded Snapshot.
type SnapshotProvider struct {
	workspacePath string
	root          *GateNode
	order         []string
	samples       map[string]*Sample
	events        map[string]*EventTable
	populations   map[string]map[string]*EventTable
}

// LoadSnapshot reads and validates a workspace snapshot file.
func LoadSnapshot(path string) (*SnapshotProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if snap.Tree == nil {
		return nil, fmt.Errorf("snapshot %s: missing gate_tree", path)
	}

	wsp := snap.WorkspacePath
	if wsp != "" && !filepath.IsAbs(wsp) {
		wsp = filepath.Join(filepath.Dir(path), wsp)
	}

	p := &SnapshotProvider{
		workspacePath: wsp,
		root:          buildNode(snap.Tree),
		samples:       make(map[string]*Sample, len(snap.Samples)),
		events:        make(map[string]*EventTable, len(snap.Samples)),
		populations:   make(map[string]map[string]*EventTable),
	}

	for _, s := range snap.Samples {
		if _, dup := p.samples[s.ID]; dup {
			return nil, fmt.Errorf("snapshot %s: duplicate sample id %q", path, s.ID)
		}
		table, err := buildTable(s.ChannelOrder, s.Channels)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", s.ID, err)
		}
		p.order = append(p.order, s.ID)
		p.samples[s.ID] = &Sample{
			ID:       s.ID,
			Filename: s.Filename,
			Metadata: s.Metadata,
			Root:     p.root,
		}
		p.events[s.ID] = table

		if len(s.Populations) > 0 {
			pops := make(map[string]*EventTable, len(s.Populations))
			for key, cols := range s.Populations {
				sub, err := buildTable(nil, cols)
				if err != nil {
					return nil, fmt.Errorf("sample %s population %s: %w", s.ID, key, err)
				}
				pops[key] = sub
			}
			p.populations[s.ID] = pops
		}
	}
	return p, nil
}

func buildNode(sn *snapshotNode) *GateNode {
	n := &GateNode{
		Name:             sn.Name,
		Path:             append([]string(nil), sn.Path...),
		Kind:             ParseGateKind(sn.Kind),
		Dimensions:       append([]string(nil), sn.Dimensions...),
		Vertices:         append([][2]float64(nil), sn.Vertices...),
		Min:              append([]float64(nil), sn.Min...),
		Max:              append([]float64(nil), sn.Max...),
		NormalizedCoords: sn.Normalized,
	}
	for _, c := range sn.Children {
		n.Children = append(n.Children, buildNode(c))
	}
	return n
}

func buildTable(order []string, cols map[string][]float64) (*EventTable, error) {
	t := NewEventTable()
	if len(order) == 0 {
		order = sortedKeys(cols)
	}
	for _, name := range order {
		values, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("channel_order names unknown channel %q", name)
		}
		if err := t.AddChannel(name, values); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SampleIDs implements Provider.
func (p *SnapshotProvider) SampleIDs() []string {
	return append([]string(nil), p.order...)
}

// Sample implements Provider.
func (p *SnapshotProvider) Sample(id string) (*Sample, error) {
	s, ok := p.samples[id]
	if !ok {
		return nil, fmt.Errorf("unknown sample %q", id)
	}
	return s, nil
}

// EventsForGate implements Provider. Samples without a stored subset for
// the requested population fall back to the full ungated table.
func (p *SnapshotProvider) EventsForGate(id, pathKey string) (*EventTable, error) {
	if _, ok := p.samples[id]; !ok {
		return nil, fmt.Errorf("unknown sample %q", id)
	}
	if pathKey != "" {
		if pops, ok := p.populations[id]; ok {
			if t, ok := pops[pathKey]; ok {
				return t, nil
			}
		}
	}
	return p.events[id], nil
}

// Document implements Provider by opening the workspace file referenced
// by the snapshot.
func (p *SnapshotProvider) Document() (io.ReadCloser, error) {
	if p.workspacePath == "" {
		return nil, fmt.Errorf("snapshot carries no workspace document reference")
	}
	f, err := os.Open(p.workspacePath)
	if err != nil {
		return nil, fmt.Errorf("open workspace document: %w", err)
	}
	return f, nil
}

// Root returns the shared gate tree.
func (p *SnapshotProvider) Root() *GateNode { return p.root }

// WorkspacePath returns the workspace document path the snapshot
// references, or "" when it carries none.
func (p *SnapshotProvider) WorkspacePath() string { return p.workspacePath }
