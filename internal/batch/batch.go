// Package batch drives the whole pipeline: filter samples per batch
// value, resolve wells, reduce each sample's events, assemble the
// plate, and hand the layout to the renderer.
//
// Batch values are processed independently. A sample failure becomes a
// placeholder cell, a value with no samples is recorded as failed, and
// in both cases the run continues. The only run-fatal condition is a
// sample set where no well identifier resolves at all.
package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/flowplate/internal/config"
	"github.com/banshee-data/flowplate/internal/gating"
	"github.com/banshee-data/flowplate/internal/geometry"
	"github.com/banshee-data/flowplate/internal/monitoring"
	"github.com/banshee-data/flowplate/internal/plate"
	"github.com/banshee-data/flowplate/internal/reduce"
	"github.com/banshee-data/flowplate/internal/timeutil"
	"github.com/banshee-data/flowplate/internal/wellid"
)

// PlotKind selects the per-well visualization.
type PlotKind int

const (
	PlotScatter PlotKind = iota
	PlotHistogram
	PlotContour
)

func (k PlotKind) String() string {
	switch k {
	case PlotHistogram:
		return "histogram"
	case PlotContour:
		return "contour"
	default:
		return "scatter"
	}
}

// ParsePlotKind maps a CLI spelling onto a PlotKind.
func ParsePlotKind(s string) (PlotKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scatter":
		return PlotScatter, nil
	case "histogram":
		return PlotHistogram, nil
	case "contour":
		return PlotContour, nil
	}
	return 0, fmt.Errorf("unknown plot kind %q", s)
}

// PlotRequest describes one visualization to produce per batch value.
type PlotRequest struct {
	// GatePath and GateName identify the gate whose boundary is
	// overlaid. The data plotted is the gate's parent population, so
	// the boundary is visible over the events it selects; an empty
	// GateName plots ungated events with no overlay.
	GatePath []string
	GateName string

	Kind PlotKind

	// XChannel is required; YChannel is ignored for histograms.
	XChannel string
	YChannel string

	// LogScale applies to histogram value axes. Scatter and contour
	// plots always display log/log.
	LogScale bool

	// Statistic picks the histogram marker rule.
	Statistic reduce.Statistic

	// ShowStatistics adds count/median/mean annotations to each cell.
	ShowStatistics bool

	// Keywords lists metadata keys to annotate each cell with.
	Keywords []string
}

// Artifact identifies one rendered output.
type Artifact struct {
	Name string
	Path string
}

// Renderer turns an assembled layout into a persisted artifact.
type Renderer interface {
	Render(req PlotRequest, batchKey, batchValue string, layout *plate.Layout) (Artifact, error)
}

// ValueOutcome records how one batch value fared.
type ValueOutcome struct {
	Value    string
	Artifact Artifact
	Err      error
}

// Summary is the run-level result.
type Summary struct {
	RunID     string
	Attempted int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	Outcomes  []ValueOutcome
	Warnings  []string
}

// Orchestrator owns the per-run wiring.
type Orchestrator struct {
	provider  gating.Provider
	cfg       *config.AnalysisConfig
	resolver  *wellid.Resolver
	extractor *geometry.Extractor
	renderer  Renderer
	filter    FilterEngine
	clock     timeutil.Clock
}

func NewOrchestrator(provider gating.Provider, cfg *config.AnalysisConfig, resolver *wellid.Resolver, dividers geometry.DividerResolver, renderer Renderer) *Orchestrator {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	return &Orchestrator{
		provider:  provider,
		cfg:       cfg,
		resolver:  resolver,
		extractor: geometry.NewExtractor(cfg, dividers),
		renderer:  renderer,
		clock:     timeutil.RealClock{},
	}
}

// Run executes the request once per batch value. Well resolution is
// validated across the whole sample set before any extraction or
// reduction work begins.
func (o *Orchestrator) Run(req PlotRequest, batchKey string, batchValues []string) (*Summary, error) {
	started := o.clock.Now()
	samples, warnings, err := o.loadSamples()
	if err != nil {
		return nil, err
	}

	assignments, unresolved, err := o.resolver.ResolveAll(samples)
	if err != nil {
		return nil, err
	}
	for _, u := range unresolved {
		warnings = append(warnings, fmt.Sprintf("sample %q excluded: %s", u.SampleID, u.Reason))
	}
	wellBySample := make(map[string]wellid.Assignment, len(assignments))
	for _, a := range assignments {
		wellBySample[a.SampleID] = a
	}

	if len(batchValues) == 0 {
		batchValues = o.filter.Values(samples, batchKey)
		if len(batchValues) == 0 {
			return nil, fmt.Errorf("%w: key %q", ErrFilterKeyNotFound, batchKey)
		}
	}

	summary := &Summary{
		RunID:    uuid.NewString(),
		Warnings: warnings,
	}

	for _, value := range batchValues {
		summary.Attempted++
		outcome := o.runValue(req, batchKey, value, samples, wellBySample, summary)
		summary.Outcomes = append(summary.Outcomes, outcome)
		if outcome.Err != nil {
			summary.Failed++
			monitoring.Logf("batch: value %q failed: %v", value, outcome.Err)
		} else {
			summary.Succeeded++
		}
	}
	summary.Elapsed = o.clock.Since(started)
	monitoring.Logf("batch: run %s finished in %s", summary.RunID, summary.Elapsed)
	return summary, nil
}

func (o *Orchestrator) runValue(req PlotRequest, batchKey, value string, samples []*gating.Sample, wells map[string]wellid.Assignment, summary *Summary) ValueOutcome {
	outcome := ValueOutcome{Value: value}

	matched := o.filter.Filter(samples, FilterCriterion{Key: batchKey, Value: value})
	var placeable []*gating.Sample
	for _, s := range matched {
		if _, ok := wells[s.ID]; ok {
			placeable = append(placeable, s)
		}
	}
	if len(placeable) == 0 {
		outcome.Err = fmt.Errorf("%w: %s=%q", ErrNoMatchingSamples, batchKey, value)
		return outcome
	}

	layout := plate.NewLayout()
	for _, s := range placeable {
		assignment := wells[s.ID]
		data, err := o.reduceSample(req, s, value)
		if err != nil {
			summary.Warnings = append(summary.Warnings, err.Error())
			if placeErr := layout.PlaceError(assignment, err); placeErr != nil {
				summary.Warnings = append(summary.Warnings, placeErr.Error())
			}
			continue
		}
		if err := layout.Place(assignment, data); err != nil {
			summary.Warnings = append(summary.Warnings, err.Error())
		}
	}
	summary.Warnings = append(summary.Warnings, layout.Warnings()...)

	artifact, err := o.renderer.Render(req, batchKey, value, layout)
	if err != nil {
		outcome.Err = fmt.Errorf("rendering %s=%q: %w", batchKey, value, err)
		return outcome
	}
	outcome.Artifact = artifact
	return outcome
}

// reduceSample produces the cell payload for one sample: the parent
// population reduced per the plot kind, plus the gate overlay and any
// annotations.
func (o *Orchestrator) reduceSample(req PlotRequest, s *gating.Sample, batchValue string) (*plate.CellData, error) {
	fail := func(err error) (*plate.CellData, error) {
		return nil, &SampleError{SampleID: s.ID, Gate: req.GateName, BatchValue: batchValue, Err: err}
	}

	var gate *gating.GateNode
	if req.GateName != "" {
		if s.Root == nil {
			return fail(fmt.Errorf("sample has no gating tree"))
		}
		gate = s.Root.Find(req.GatePath, req.GateName)
		if gate == nil {
			return fail(fmt.Errorf("gate %q not found", req.GateName))
		}
	}

	// The plotted events are the gate's parent population, so the
	// boundary overlays the events it partitions. Root-level gates and
	// the no-gate case both land on the ungated table.
	parentKey := ""
	if gate != nil {
		parentKey = gating.PathKey(gate.Path)
	}
	table, err := o.provider.EventsForGate(s.ID, parentKey)
	if err != nil {
		return fail(fmt.Errorf("loading events: %w", err))
	}

	xCol, err := channelColumn(table, req.XChannel)
	if err != nil {
		return fail(err)
	}

	data := &plate.CellData{}
	pipeline := reduce.NewPipeline(o.cfg)

	switch req.Kind {
	case PlotHistogram:
		data.Histogram, err = pipeline.Histogram(xCol, req.LogScale, req.Statistic)
	case PlotContour:
		var yCol []float64
		if yCol, err = channelColumn(table, req.YChannel); err == nil {
			data.Contour, err = pipeline.Contour(xCol, yCol)
		}
	default:
		var yCol []float64
		if yCol, err = channelColumn(table, req.YChannel); err == nil {
			data.Scatter, err = pipeline.Scatter(xCol, yCol)
		}
	}
	if err != nil {
		return fail(err)
	}

	if gate != nil {
		overlay, err := o.extractor.Extract(s, gate, table, req.XChannel, req.YChannel)
		if err != nil {
			// A mismatched or unresolvable overlay skips the boundary
			// but keeps the cell's data.
			monitoring.Logf("batch: sample %q: skipping overlay for gate %q: %v", s.ID, gate.Name, err)
		} else if overlay.Renderable {
			data.Overlays = append(data.Overlays, overlay)
		}
	}

	for _, key := range req.Keywords {
		if v, ok := wellid.LookupFuzzy(s.Metadata, key); ok {
			data.Keywords = append(data.Keywords, fmt.Sprintf("%s: %s", key, strings.TrimSpace(v)))
		}
	}
	return data, nil
}

// loadSamples materializes every sample the provider knows about.
// Individual load failures become warnings, not run failures.
func (o *Orchestrator) loadSamples() ([]*gating.Sample, []string, error) {
	ids := o.provider.SampleIDs()
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("provider has no samples")
	}
	var samples []*gating.Sample
	var warnings []string
	for _, id := range ids {
		s, err := o.provider.Sample(id)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sample %q unreadable: %v", id, err))
			continue
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("no readable samples")
	}
	return samples, warnings, nil
}

func channelColumn(table *gating.EventTable, keyword string) ([]float64, error) {
	name, ok := table.MatchChannel(keyword)
	if !ok {
		return nil, fmt.Errorf("no channel matches %q", keyword)
	}
	col, _ := table.Column(name)
	return col, nil
}
