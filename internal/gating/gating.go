// Package gating holds the immutable data model shared by the whole
// pipeline: the gate tree loaded from a workspace export, per-sample
// event tables, and sample metadata.
//
// Everything in this package is read-only after load. A single gate tree
// and the sample metadata maps may be shared across workers without
// synchronisation.
package gating

import (
	"fmt"
	"strings"
)

// GateKind enumerates the gate representations the pipeline understands.
// The zero value is KindUnknown so an unpopulated node never masquerades
// as a renderable gate.
type GateKind int

const (
	KindUnknown GateKind = iota
	KindPolygon
	KindRectangle
	KindQuadrant
	KindRange
	KindBoolean
	KindUngated
)

func (k GateKind) String() string {
	switch k {
	case KindPolygon:
		return "polygon"
	case KindRectangle:
		return "rectangle"
	case KindQuadrant:
		return "quadrant"
	case KindRange:
		return "range"
	case KindBoolean:
		return "boolean"
	case KindUngated:
		return "ungated"
	default:
		return "unknown"
	}
}

// ParseGateKind maps the workspace export's type string onto a GateKind.
// Unrecognised strings map to KindUnknown rather than failing the load.
func ParseGateKind(s string) GateKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "polygon":
		return KindPolygon
	case "rectangle":
		return KindRectangle
	case "quadrant":
		return KindQuadrant
	case "range":
		return KindRange
	case "boolean":
		return KindBoolean
	case "ungated":
		return KindUngated
	default:
		return KindUnknown
	}
}

// GateNode is one node of the gating tree. Path is the ordered ancestor
// name sequence (starting at "root"); Path plus Name is unique within a
// workspace. Geometry fields are populated per Kind: Vertices for
// polygons, Min/Max per dimension for rectangles, nothing for quadrant
// gates (their dividers live only in the workspace document and are
// recovered by wspdoc).
type GateNode struct {
	Name       string
	Path       []string
	Kind       GateKind
	Dimensions []string
	Vertices   [][2]float64
	Min        []float64
	Max        []float64

	// NormalizedCoords marks geometry authored in 0-1 display space
	// rather than raw measurement units. Extraction inverts the axis
	// transform exactly once; nothing downstream sees normalized values.
	NormalizedCoords bool

	Children []*GateNode
}

// FullPath returns Path extended with the node's own name. The result is
// a fresh slice; callers may keep it.
func (g *GateNode) FullPath() []string {
	fp := make([]string, 0, len(g.Path)+1)
	fp = append(fp, g.Path...)
	return append(fp, g.Name)
}

// PathString renders the node's full path for logs and error messages.
func (g *GateNode) PathString() string {
	return strings.Join(g.FullPath(), " / ")
}

// Find walks the subtree rooted at g looking for the node whose ancestor
// path and name match. Path comparison is exact and ordered.
func (g *GateNode) Find(path []string, name string) *GateNode {
	if g == nil {
		return nil
	}
	if g.Name == name && equalPath(g.Path, path) {
		return g
	}
	for _, c := range g.Children {
		if n := c.Find(path, name); n != nil {
			return n
		}
	}
	return nil
}

// Walk visits g and every descendant in depth-first order.
func (g *GateNode) Walk(fn func(*GateNode)) {
	if g == nil {
		return
	}
	fn(g)
	for _, c := range g.Children {
		c.Walk(fn)
	}
}

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EventTable is one sample's raw per-event measurement table: channel
// name to ordered value sequence, all channels the same length. Values
// are raw (untransformed) instrument units.
type EventTable struct {
	order   []string
	columns map[string][]float64
}

// NewEventTable returns an empty table.
func NewEventTable() *EventTable {
	return &EventTable{columns: make(map[string][]float64)}
}

// AddChannel appends a channel column. Every column must have the same
// length as the first one added.
func (t *EventTable) AddChannel(name string, values []float64) error {
	if _, dup := t.columns[name]; dup {
		return fmt.Errorf("duplicate channel %q", name)
	}
	if len(t.order) > 0 {
		if want := len(t.columns[t.order[0]]); len(values) != want {
			return fmt.Errorf("channel %q has %d events, want %d", name, len(values), want)
		}
	}
	t.order = append(t.order, name)
	t.columns[name] = values
	return nil
}

// Len returns the number of events per channel.
func (t *EventTable) Len() int {
	if len(t.order) == 0 {
		return 0
	}
	return len(t.columns[t.order[0]])
}

// Channels returns the channel names in insertion order.
func (t *EventTable) Channels() []string {
	return append([]string(nil), t.order...)
}

// Column returns the named channel's values, or false when absent.
func (t *EventTable) Column(name string) ([]float64, bool) {
	v, ok := t.columns[name]
	return v, ok
}

// MatchChannel resolves a channel keyword to a concrete column name.
// Exact matches win; otherwise the first column containing the keyword
// as a substring is used, which lets short detector names ("B1-A")
// match stain-annotated columns ("B1-A FITC-A").
func (t *EventTable) MatchChannel(keyword string) (string, bool) {
	if _, ok := t.columns[keyword]; ok {
		return keyword, true
	}
	for _, name := range t.order {
		if strings.Contains(name, keyword) {
			return name, true
		}
	}
	return "", false
}

// Sample couples one measurement file's identity, metadata and events
// with the shared gating tree.
type Sample struct {
	ID       string
	Filename string
	Metadata map[string]string
	Root     *GateNode
}
