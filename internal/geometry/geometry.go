// Package geometry canonicalizes gate boundaries into renderer-ready
// shapes in raw measurement units.
//
// Gates arrive in heterogeneous forms (polygon vertex lists, rectangle
// min/max pairs, quadrant crossings) and sometimes in normalized display
// space. Extraction is the single place where display-space coordinates
// are inverted to raw units; everything downstream works in raw units.
package geometry

import (
	"fmt"
	"math"

	"github.com/banshee-data/flowplate/internal/config"
	"github.com/banshee-data/flowplate/internal/gating"
)

// Geometry is the canonical renderable form of one gate boundary.
type Geometry struct {
	// Renderable is false for gate kinds that have no 2-D boundary
	// (boolean combinations, 1-D ranges, the ungated root). That is
	// not an error condition; the caller simply draws no overlay.
	Renderable bool

	Kind gating.GateKind

	// XChannel and YChannel are the resolved measurement-table column
	// names the geometry is expressed against, already aligned to the
	// caller's requested plot axes.
	XChannel string
	YChannel string

	// Rings holds closed vertex rings (first vertex repeated at the
	// end) in raw units, x then y per vertex. Polygon and rectangle
	// gates produce exactly one ring.
	Rings [][][2]float64

	// Dividers maps axis channel name to the quadrant crossing value
	// in raw units. Present only for quadrant gates; a half-open
	// quadrant gate carries a single entry.
	Dividers map[string]float64
}

// ChannelMismatchError reports a gate dimension that has no matching
// column in the target sample's measurement table.
type ChannelMismatchError struct {
	SampleID string
	Gate     string
	Channel  string
}

func (e *ChannelMismatchError) Error() string {
	return fmt.Sprintf("gate %q channel %q has no match in sample %q measurement table",
		e.Gate, e.Channel, e.SampleID)
}

// DividerResolver recovers quadrant crossing values from the workspace
// document. Quadrant boundaries are not exposed through the generic
// gate object model, so the extractor delegates to a document-level
// resolver.
type DividerResolver interface {
	// Dividers returns the axis-channel to divider-value mapping for
	// the named quadrant gate, in raw units. The map holds one entry
	// per divided axis.
	Dividers(gate *gating.GateNode, xChannel, yChannel string) (map[string]float64, error)
}

// Extractor dispatches on gate kind and produces canonical Geometry.
type Extractor struct {
	cfg      *config.AnalysisConfig
	resolver DividerResolver
}

// NewExtractor returns an Extractor. resolver may be nil when the
// caller knows no quadrant gates are in play; extracting a quadrant
// gate without one is an error.
func NewExtractor(cfg *config.AnalysisConfig, resolver DividerResolver) *Extractor {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	return &Extractor{cfg: cfg, resolver: resolver}
}

// Extract canonicalizes one gate against a sample's measurement table
// and the requested plot axes. Non-renderable gate kinds return a
// Geometry with Renderable false and no error.
func (e *Extractor) Extract(sample *gating.Sample, gate *gating.GateNode, table *gating.EventTable, xChannel, yChannel string) (*Geometry, error) {
	if gate == nil {
		return nil, fmt.Errorf("nil gate")
	}

	switch gate.Kind {
	case gating.KindRange, gating.KindBoolean, gating.KindUngated, gating.KindUnknown:
		return &Geometry{Renderable: false, Kind: gate.Kind}, nil
	}

	axes, err := e.resolveAxes(sample, gate, table, xChannel, yChannel)
	if err != nil {
		return nil, err
	}

	g := &Geometry{
		Renderable: true,
		Kind:       gate.Kind,
		XChannel:   axes.x,
		YChannel:   axes.y,
	}

	switch gate.Kind {
	case gating.KindPolygon:
		ring, err := e.polygonRing(gate, axes.transposed)
		if err != nil {
			return nil, err
		}
		g.Rings = [][][2]float64{ring}

	case gating.KindRectangle:
		ring, err := e.rectangleRing(gate, axes.transposed)
		if err != nil {
			return nil, err
		}
		g.Rings = [][][2]float64{ring}

	case gating.KindQuadrant:
		if e.resolver == nil {
			return nil, fmt.Errorf("quadrant gate %q needs a divider resolver", gate.Name)
		}
		dividers, err := e.resolver.Dividers(gate, axes.x, axes.y)
		if err != nil {
			return nil, err
		}
		g.Dividers = dividers

	default:
		return nil, fmt.Errorf("unhandled gate kind %s", gate.Kind)
	}

	return g, nil
}

type resolvedAxes struct {
	x, y       string
	transposed bool
}

// resolveAxes matches the gate's declared dimensions against the
// sample's measurement table and decides whether the gate was authored
// with its axes reversed relative to the requested plot axes.
func (e *Extractor) resolveAxes(sample *gating.Sample, gate *gating.GateNode, table *gating.EventTable, xChannel, yChannel string) (resolvedAxes, error) {
	sampleID := ""
	if sample != nil {
		sampleID = sample.ID
	}

	resolvedX, okX := table.MatchChannel(xChannel)
	if !okX {
		return resolvedAxes{}, &ChannelMismatchError{SampleID: sampleID, Gate: gate.Name, Channel: xChannel}
	}
	resolvedY := ""
	if yChannel != "" {
		var okY bool
		resolvedY, okY = table.MatchChannel(yChannel)
		if !okY {
			return resolvedAxes{}, &ChannelMismatchError{SampleID: sampleID, Gate: gate.Name, Channel: yChannel}
		}
	}

	dims := make([]string, len(gate.Dimensions))
	for i, d := range gate.Dimensions {
		match, ok := table.MatchChannel(d)
		if !ok {
			return resolvedAxes{}, &ChannelMismatchError{SampleID: sampleID, Gate: gate.Name, Channel: d}
		}
		dims[i] = match
	}

	axes := resolvedAxes{x: resolvedX, y: resolvedY}
	if len(dims) >= 2 && dims[0] == resolvedY && dims[1] == resolvedX {
		axes.transposed = true
	}
	return axes, nil
}

// displayToRaw inverts the normalized display transform: v in [0,1]
// maps onto the configured decade range as raw = 10^(lo + (hi-lo)*v).
func (e *Extractor) displayToRaw(v float64) float64 {
	lo := e.cfg.GetDisplayDecadeMin()
	hi := e.cfg.GetDisplayDecadeMax()
	return math.Pow(10, lo+(hi-lo)*v)
}

func (e *Extractor) polygonRing(gate *gating.GateNode, transpose bool) ([][2]float64, error) {
	if len(gate.Vertices) < 3 {
		return nil, fmt.Errorf("polygon gate %q has %d vertices, need at least 3", gate.Name, len(gate.Vertices))
	}
	ring := make([][2]float64, 0, len(gate.Vertices)+1)
	for _, v := range gate.Vertices {
		x, y := v[0], v[1]
		if gate.NormalizedCoords {
			x = e.displayToRaw(x)
			y = e.displayToRaw(y)
		}
		if transpose {
			x, y = y, x
		}
		ring = append(ring, [2]float64{x, y})
	}
	return closeRing(ring), nil
}

func (e *Extractor) rectangleRing(gate *gating.GateNode, transpose bool) ([][2]float64, error) {
	if len(gate.Min) < 2 || len(gate.Max) < 2 {
		return nil, fmt.Errorf("rectangle gate %q is missing min/max bounds", gate.Name)
	}
	xMin, xMax := gate.Min[0], gate.Max[0]
	yMin, yMax := gate.Min[1], gate.Max[1]
	if gate.NormalizedCoords {
		xMin, xMax = e.displayToRaw(xMin), e.displayToRaw(xMax)
		yMin, yMax = e.displayToRaw(yMin), e.displayToRaw(yMax)
	}
	if transpose {
		xMin, yMin = yMin, xMin
		xMax, yMax = yMax, xMax
	}
	ring := [][2]float64{
		{xMin, yMin},
		{xMax, yMin},
		{xMax, yMax},
		{xMin, yMax},
	}
	return closeRing(ring), nil
}

// closeRing repeats the first vertex at the end so renderers can draw
// the boundary as a single polyline.
func closeRing(ring [][2]float64) [][2]float64 {
	if len(ring) == 0 {
		return ring
	}
	if ring[0] == ring[len(ring)-1] {
		return ring
	}
	return append(ring, ring[0])
}
