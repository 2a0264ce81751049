// Package wspdoc reads gating structure straight out of a workspace
// XML document.
//
// Workspace exports vary across acquisition-software versions in both
// XML namespaces and nesting, so the parser keeps only local element
// and attribute names and matches on those. The package exists for the
// one piece of information the generic gate object model does not
// expose: quadrant gate crossing values.
package wspdoc

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/flowplate/internal/gating"
)

// relTolerance bounds how far sibling quadrant boundaries may disagree
// before the shared divider is rejected.
const relTolerance = 1e-6

// DividerInconsistencyError reports sibling quadrant populations whose
// boundaries on one axis do not agree within tolerance.
type DividerInconsistencyError struct {
	Gate   string
	Axis   string
	Values []float64
}

func (e *DividerInconsistencyError) Error() string {
	return fmt.Sprintf("quadrant gate %q: sibling boundaries on axis %q disagree: %v",
		e.Gate, e.Axis, e.Values)
}

// element is a namespace-stripped XML element.
type element struct {
	local    string
	attrs    map[string]string
	parent   *element
	children []*element
}

func (el *element) attr(name string) (string, bool) {
	v, ok := el.attrs[name]
	return v, ok
}

// Document is a parsed workspace file.
type Document struct {
	root *element
}

// Parse reads a workspace XML document into a local-name tree.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	root := &element{local: ""}
	stack := []*element{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing workspace document: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := stack[len(stack)-1]
			el := &element{local: t.Name.Local, attrs: make(map[string]string), parent: parent}
			for _, a := range t.Attr {
				// First namespaced or plain occurrence wins.
				if _, exists := el.attrs[a.Name.Local]; !exists {
					el.attrs[a.Name.Local] = a.Value
				}
			}
			parent.children = append(parent.children, el)
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(root.children) == 0 {
		return nil, fmt.Errorf("workspace document has no elements")
	}
	return &Document{root: root}, nil
}

// Resolver recovers quadrant dividers from a parsed workspace document.
// It implements geometry.DividerResolver.
type Resolver struct {
	doc *Document
}

// NewResolver parses the document from r and returns a Resolver.
func NewResolver(r io.Reader) (*Resolver, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return &Resolver{doc: doc}, nil
}

// Dividers locates the population node for the quadrant gate, collects
// the finite rectangle boundaries all sibling quadrant populations
// report on each plot axis, and accepts the shared crossing value only
// when the siblings agree within relative tolerance. An axis no
// sibling bounds stays absent from the result, which is how half-open
// quadrant gates come out.
func (rs *Resolver) Dividers(gate *gating.GateNode, xChannel, yChannel string) (map[string]float64, error) {
	pop := rs.doc.findPopulation(gate.Path, gate.Name)
	if pop == nil {
		return nil, fmt.Errorf("quadrant gate %q: population node not found in workspace document", gate.Name)
	}

	siblings := quadrantSiblings(pop, xChannel, yChannel)
	if len(siblings) == 0 {
		return nil, fmt.Errorf("quadrant gate %q: no sibling populations with matching dimensions", gate.Name)
	}

	byAxis := make(map[string][]float64)
	for _, sib := range siblings {
		for axis, values := range sib.boundsByAxis(xChannel, yChannel) {
			byAxis[axis] = append(byAxis[axis], values...)
		}
	}

	dividers := make(map[string]float64, len(byAxis))
	for axis, values := range byAxis {
		d, ok := reconcile(values)
		if !ok {
			sort.Float64s(values)
			return nil, &DividerInconsistencyError{Gate: gate.Name, Axis: axis, Values: values}
		}
		dividers[axis] = d
	}
	if len(dividers) == 0 {
		return nil, fmt.Errorf("quadrant gate %q: no finite boundaries found", gate.Name)
	}
	return dividers, nil
}

// reconcile accepts a boundary set when every value sits within
// relative tolerance of the mean, and returns the mean as the divider.
func reconcile(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	scale := math.Max(math.Abs(mean), 1)
	for _, v := range values {
		if math.Abs(v-mean) > relTolerance*scale {
			return 0, false
		}
	}
	return mean, true
}

// findPopulation returns the population element whose name matches and
// whose ancestor population chain ends with the given path. With an
// empty path any population of that name matches.
func (d *Document) findPopulation(path []string, name string) *element {
	var found *element
	var walk func(el *element, ancestors []string)
	walk = func(el *element, ancestors []string) {
		if found != nil {
			return
		}
		next := ancestors
		if el.local == "Population" {
			popName, _ := el.attr("name")
			if popName == name && hasSuffix(ancestors, path) {
				found = el
				return
			}
			next = append(append([]string(nil), ancestors...), popName)
		}
		for _, c := range el.children {
			walk(c, next)
		}
	}
	walk(d.root, nil)
	return found
}

func hasSuffix(chain, path []string) bool {
	if len(path) > len(chain) {
		return false
	}
	offset := len(chain) - len(path)
	for i, p := range path {
		if chain[offset+i] != p {
			return false
		}
	}
	return true
}

// population wraps a sibling quadrant population element.
type population struct {
	el *element
}

// quadrantSiblings returns the populations sharing the target's parent
// whose rectangle dimensions name the two plot axes. The target itself
// is included.
func quadrantSiblings(target *element, xChannel, yChannel string) []population {
	parent := target.parent
	if parent == nil {
		return nil
	}

	var siblings []population
	for _, c := range parent.children {
		if c.local != "Population" {
			continue
		}
		p := population{el: c}
		if len(p.boundsByAxis(xChannel, yChannel)) > 0 {
			siblings = append(siblings, p)
		}
	}
	return siblings
}

// boundsByAxis collects the finite min/max values this population's
// rectangle gate declares, keyed by the matching plot axis channel.
func (p population) boundsByAxis(xChannel, yChannel string) map[string][]float64 {
	rect := findRectangle(p.el)
	if rect == nil {
		return nil
	}
	out := make(map[string][]float64)
	for _, dim := range childrenNamed(rect, "dimension") {
		dimName := fcsDimensionName(dim)
		axis, ok := matchAxis(dimName, xChannel, yChannel)
		if !ok {
			continue
		}
		for _, attr := range []string{"min", "max"} {
			raw, ok := dim.attr(attr)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
				continue
			}
			out[axis] = append(out[axis], v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// findRectangle finds the first RectangleGate descendant without
// crossing into nested populations.
func findRectangle(el *element) *element {
	for _, c := range el.children {
		if c.local == "Population" {
			continue
		}
		if c.local == "RectangleGate" {
			return c
		}
		if found := findRectangle(c); found != nil {
			return found
		}
	}
	return nil
}

func childrenNamed(el *element, local string) []*element {
	var out []*element
	for _, c := range el.children {
		if c.local == local {
			out = append(out, c)
		}
	}
	return out
}

// fcsDimensionName digs the channel name out of a dimension element.
func fcsDimensionName(dim *element) string {
	for _, c := range dim.children {
		if c.local == "fcs-dimension" {
			if name, ok := c.attr("name"); ok {
				return name
			}
		}
		if name := fcsDimensionName(c); name != "" {
			return name
		}
	}
	return ""
}

// matchAxis maps a declared dimension name onto one of the requested
// plot axes, tolerating case differences.
func matchAxis(dimName, xChannel, yChannel string) (string, bool) {
	if dimName == "" {
		return "", false
	}
	if strings.EqualFold(dimName, xChannel) {
		return xChannel, true
	}
	if yChannel != "" && strings.EqualFold(dimName, yChannel) {
		return yChannel, true
	}
	return "", false
}
