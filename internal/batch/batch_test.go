package batch

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/banshee-data/flowplate/internal/config"
	"github.com/banshee-data/flowplate/internal/gating"
	"github.com/banshee-data/flowplate/internal/plate"
	"github.com/banshee-data/flowplate/internal/timeutil"
	"github.com/banshee-data/flowplate/internal/wellid"
)

type memProvider struct {
	order      []string
	samples    map[string]*gating.Sample
	tables     map[string]*gating.EventTable
	eventCalls int
	lastPath   string
}

func (m *memProvider) SampleIDs() []string { return m.order }

func (m *memProvider) Sample(id string) (*gating.Sample, error) {
	s, ok := m.samples[id]
	if !ok {
		return nil, fmt.Errorf("unknown sample %q", id)
	}
	return s, nil
}

func (m *memProvider) EventsForGate(id, pathKey string) (*gating.EventTable, error) {
	m.eventCalls++
	m.lastPath = pathKey
	t, ok := m.tables[id]
	if !ok {
		return nil, fmt.Errorf("no events for %q", id)
	}
	return t, nil
}

func (m *memProvider) Document() (io.ReadCloser, error) {
	return nil, errors.New("no document")
}

type stubRenderer struct {
	calls   int
	layouts []*plate.Layout
}

func (r *stubRenderer) Render(req PlotRequest, batchKey, batchValue string, layout *plate.Layout) (Artifact, error) {
	r.calls++
	r.layouts = append(r.layouts, layout)
	return Artifact{Name: batchValue + ".html", Path: "/tmp/" + batchValue + ".html"}, nil
}

func eventTable(t *testing.T, n int) *gating.EventTable {
	t.Helper()
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(100 + i)
		y[i] = float64(50 + i)
	}
	table := gating.NewEventTable()
	if err := table.AddChannel("FSC-A", x); err != nil {
		t.Fatal(err)
	}
	if err := table.AddChannel("BL1-A", y); err != nil {
		t.Fatal(err)
	}
	return table
}

// newFixtureProvider builds three samples on plate values p1..p3, each
// with a resolvable well keyword.
func newFixtureProvider(t *testing.T) *memProvider {
	t.Helper()
	m := &memProvider{
		samples: make(map[string]*gating.Sample),
		tables:  make(map[string]*gating.EventTable),
	}
	wells := []string{"A1", "B5", "C12"}
	for i, value := range []string{"p1", "p2", "p3"} {
		id := fmt.Sprintf("sample-%d", i+1)
		m.order = append(m.order, id)
		m.samples[id] = &gating.Sample{
			ID:       id,
			Filename: id + ".fcs",
			Metadata: map[string]string{
				"$WELLID": wells[i],
				"PlateID": value,
			},
		}
		m.tables[id] = eventTable(t, 50)
	}
	return m
}

func newTestOrchestrator(provider gating.Provider, renderer Renderer) *Orchestrator {
	resolver := wellid.NewResolver(wellid.DefaultKeyword)
	return NewOrchestrator(provider, config.EmptyAnalysisConfig(), resolver, nil, renderer)
}

func TestRunFailureIsolation(t *testing.T) {
	provider := newFixtureProvider(t)
	renderer := &stubRenderer{}
	o := newTestOrchestrator(provider, renderer)

	req := PlotRequest{Kind: PlotScatter, XChannel: "FSC-A", YChannel: "BL1-A"}
	// p4 matches no samples; the other three each match one.
	summary, err := o.Run(req, "PlateID", []string{"p1", "p2", "p3", "p4"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Attempted != 4 || summary.Succeeded != 3 || summary.Failed != 1 {
		t.Errorf("summary = {attempted:%d succeeded:%d failed:%d}, want {4 3 1}",
			summary.Attempted, summary.Succeeded, summary.Failed)
	}
	if renderer.calls != 3 {
		t.Errorf("renderer called %d times, want 3", renderer.calls)
	}
	if summary.RunID == "" {
		t.Error("summary missing run ID")
	}
	artifacts := 0
	for _, out := range summary.Outcomes {
		if out.Err == nil {
			artifacts++
			if out.Artifact.Name == "" {
				t.Errorf("value %q succeeded without an artifact name", out.Value)
			}
		} else if !errors.Is(out.Err, ErrNoMatchingSamples) {
			t.Errorf("value %q failed with %v, want ErrNoMatchingSamples", out.Value, out.Err)
		}
	}
	if artifacts != 3 {
		t.Errorf("got %d artifacts, want 3", artifacts)
	}
}

func TestRunZeroResolutionFastFail(t *testing.T) {
	m := &memProvider{
		samples: make(map[string]*gating.Sample),
		tables:  make(map[string]*gating.EventTable),
	}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("input_%d", i)
		m.order = append(m.order, id)
		m.samples[id] = &gating.Sample{
			ID:       id,
			Filename: "unlabeled.fcs",
			Metadata: map[string]string{"PlateID": "p1"},
		}
		m.tables[id] = eventTable(t, 10)
	}

	renderer := &stubRenderer{}
	o := newTestOrchestrator(m, renderer)
	req := PlotRequest{Kind: PlotScatter, XChannel: "FSC-A", YChannel: "BL1-A"}
	_, err := o.Run(req, "PlateID", []string{"p1"})
	if !errors.Is(err, wellid.ErrNoWellIDsResolved) {
		t.Fatalf("expected ErrNoWellIDsResolved, got %v", err)
	}
	if m.eventCalls != 0 {
		t.Errorf("event data was loaded %d times before the fast fail", m.eventCalls)
	}
	if renderer.calls != 0 {
		t.Errorf("renderer was called %d times before the fast fail", renderer.calls)
	}
}

func TestRunPlacesSamplesIntoCells(t *testing.T) {
	provider := newFixtureProvider(t)
	renderer := &stubRenderer{}
	o := newTestOrchestrator(provider, renderer)

	req := PlotRequest{Kind: PlotScatter, XChannel: "FSC-A", YChannel: "BL1-A"}
	summary, err := o.Run(req, "PlateID", []string{"p2"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}
	layout := renderer.layouts[0]
	cell, err := layout.Cell("B05")
	if err != nil {
		t.Fatal(err)
	}
	if cell.Status != plate.CellHasData || cell.SampleID != "sample-2" {
		t.Errorf("cell B05 = %+v, want data for sample-2", cell)
	}
	if cell.Data.Scatter == nil {
		t.Error("cell missing scatter payload")
	}
}

func TestRunPlotsParentPopulation(t *testing.T) {
	provider := newFixtureProvider(t)
	// Give sample-1 a gating tree: root > Cells > Live.
	live := &gating.GateNode{
		Name:       "Live",
		Path:       []string{"Cells"},
		Kind:       gating.KindRectangle,
		Dimensions: []string{"FSC-A", "BL1-A"},
		Min:        []float64{100, 50},
		Max:        []float64{140, 90},
	}
	cells := &gating.GateNode{
		Name:       "Cells",
		Kind:       gating.KindPolygon,
		Dimensions: []string{"FSC-A", "BL1-A"},
		Vertices:   [][2]float64{{0, 0}, {1000, 0}, {500, 1000}},
		Children:   []*gating.GateNode{live},
	}
	root := &gating.GateNode{Kind: gating.KindUngated, Children: []*gating.GateNode{cells}}
	provider.samples["sample-1"].Root = root

	renderer := &stubRenderer{}
	o := newTestOrchestrator(provider, renderer)
	req := PlotRequest{
		GatePath: []string{"Cells"},
		GateName: "Live",
		Kind:     PlotScatter,
		XChannel: "FSC-A",
		YChannel: "BL1-A",
	}
	summary, err := o.Run(req, "PlateID", []string{"p1"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1; warnings: %v", summary.Succeeded, summary.Warnings)
	}
	// The plotted events are the parent population of the gate.
	if provider.lastPath != "Cells" {
		t.Errorf("events loaded for path %q, want parent population \"Cells\"", provider.lastPath)
	}
	cell, err := renderer.layouts[0].Cell("A01")
	if err != nil {
		t.Fatal(err)
	}
	if cell.Status != plate.CellHasData {
		t.Fatalf("cell A01 status = %v, message %q", cell.Status, cell.Message)
	}
	if len(cell.Data.Overlays) != 1 {
		t.Fatalf("got %d overlays, want the Live gate boundary", len(cell.Data.Overlays))
	}
	if got := len(cell.Data.Overlays[0].Rings[0]); got != 5 {
		t.Errorf("overlay ring has %d vertices, want 5", got)
	}
}

func TestRunSampleFailureBecomesPlaceholder(t *testing.T) {
	provider := newFixtureProvider(t)
	// sample-3's events are unreadable.
	delete(provider.tables, "sample-3")

	renderer := &stubRenderer{}
	o := newTestOrchestrator(provider, renderer)
	req := PlotRequest{Kind: PlotScatter, XChannel: "FSC-A", YChannel: "BL1-A"}
	summary, err := o.Run(req, "PlateID", []string{"p3"})
	if err != nil {
		t.Fatal(err)
	}
	// The value still renders: the failed sample becomes an error cell.
	if summary.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded)
	}
	cell, err := renderer.layouts[0].Cell("C12")
	if err != nil {
		t.Fatal(err)
	}
	if cell.Status != plate.CellError {
		t.Errorf("cell C12 status = %v, want CellError", cell.Status)
	}
	if len(summary.Warnings) == 0 {
		t.Error("sample failure should be recorded as a warning")
	}
}

func TestFilterEngine(t *testing.T) {
	samples := []*gating.Sample{
		{ID: "a", Metadata: map[string]string{"Sample Type": " tumor "}},
		{ID: "b", Metadata: map[string]string{"SAMPLETYPE": "control"}},
		{ID: "c", Metadata: map[string]string{"sample_type": "tumor"}},
		{ID: "d", Metadata: map[string]string{"other": "tumor"}},
	}
	var engine FilterEngine

	got := engine.Filter(samples, FilterCriterion{Key: "$SampleType", Value: "tumor"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		ids := make([]string, len(got))
		for i, s := range got {
			ids[i] = s.ID
		}
		t.Errorf("Filter() selected %v, want [a c]", ids)
	}

	values := engine.Values(samples, "sample type")
	if len(values) != 2 || values[0] != "control" || values[1] != "tumor" {
		t.Errorf("Values() = %v, want [control tumor]", values)
	}
}

func TestParsePlotKind(t *testing.T) {
	for in, want := range map[string]PlotKind{
		"scatter":   PlotScatter,
		"Histogram": PlotHistogram,
		" contour ": PlotContour,
	} {
		got, err := ParsePlotKind(in)
		if err != nil || got != want {
			t.Errorf("ParsePlotKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePlotKind("pie"); err == nil {
		t.Error("expected error for unknown plot kind")
	}
}

type rendererFunc func(PlotRequest, string, string, *plate.Layout) (Artifact, error)

func (f rendererFunc) Render(req PlotRequest, batchKey, batchValue string, layout *plate.Layout) (Artifact, error) {
	return f(req, batchKey, batchValue, layout)
}

func TestRunRecordsElapsed(t *testing.T) {
	provider := newFixtureProvider(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	renderer := rendererFunc(func(PlotRequest, string, string, *plate.Layout) (Artifact, error) {
		clock.Advance(250 * time.Millisecond)
		return Artifact{Name: "x.html"}, nil
	})
	o := newTestOrchestrator(provider, renderer)
	o.clock = clock

	req := PlotRequest{Kind: PlotScatter, XChannel: "FSC-A", YChannel: "BL1-A"}
	summary, err := o.Run(req, "PlateID", []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Elapsed != 500*time.Millisecond {
		t.Errorf("Elapsed = %s, want 500ms", summary.Elapsed)
	}
}
