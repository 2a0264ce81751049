// Package render turns assembled plate layouts into artifacts: an
// interactive HTML page with one chart per well, and optionally
// per-well PNGs.
package render

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/flowplate/internal/batch"
	"github.com/banshee-data/flowplate/internal/fsutil"
	"github.com/banshee-data/flowplate/internal/geometry"
	"github.com/banshee-data/flowplate/internal/monitoring"
	"github.com/banshee-data/flowplate/internal/plate"
	"github.com/banshee-data/flowplate/internal/reduce"
	"github.com/banshee-data/flowplate/internal/security"
)

const (
	cellWidth  = "400px"
	cellHeight = "300px"
)

// gatePalette cycles across overlay gates so stacked overlays stay
// distinguishable.
var gatePalette = []string{
	"#6B8E23", // olive green
	"#4682B4", // steel blue
	"#CD853F", // peru
	"#9370DB", // medium purple
	"#DC143C", // crimson
	"#20B2AA", // light sea green
	"#FF8C00", // dark orange
	"#8B4789", // dark orchid
}

// HTMLRenderer writes one HTML page per batch value: a full 8x12 grid
// of charts, placeholders included, in plate order.
type HTMLRenderer struct {
	outputDir     string
	workspaceBase string
	fs            fsutil.FileSystem
}

func NewHTMLRenderer(outputDir, workspaceBase string) *HTMLRenderer {
	return &HTMLRenderer{outputDir: outputDir, workspaceBase: workspaceBase, fs: fsutil.OSFileSystem{}}
}

// Render implements batch.Renderer.
func (r *HTMLRenderer) Render(req batch.PlotRequest, batchKey, batchValue string, layout *plate.Layout) (batch.Artifact, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s=%s", r.workspaceBase, batchKey, batchValue)

	layout.Each(func(row, col int, cell *plate.Cell) {
		page.AddCharts(r.cellChart(req, cell))
	})

	if err := r.fs.MkdirAll(r.outputDir, 0755); err != nil {
		return batch.Artifact{}, fmt.Errorf("creating output dir: %w", err)
	}
	name := ArtifactName(r.workspaceBase, req, batchKey, batchValue, ".html")
	path := filepath.Join(r.outputDir, name)
	// Batch values come from sample metadata; keep artifacts inside the
	// output directory even if sanitization ever misses a case.
	if err := security.ValidatePathWithinDirectory(path, r.outputDir); err != nil {
		return batch.Artifact{}, fmt.Errorf("artifact path: %w", err)
	}
	f, err := r.fs.Create(path)
	if err != nil {
		return batch.Artifact{}, fmt.Errorf("creating artifact: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return batch.Artifact{}, fmt.Errorf("rendering page: %w", err)
	}
	monitoring.Logf("render: wrote %s", path)
	return batch.Artifact{Name: name, Path: path}, nil
}

func (r *HTMLRenderer) cellChart(req batch.PlotRequest, cell *plate.Cell) components.Charter {
	switch cell.Status {
	case plate.CellEmpty:
		return placeholderChart(cell.Well, "no data")
	case plate.CellError:
		return placeholderChart(cell.Well, "error: "+truncate(cell.Message, 80))
	}

	switch req.Kind {
	case batch.PlotHistogram:
		return histogramChart(req, cell)
	case batch.PlotContour:
		return contourChart(req, cell)
	default:
		return scatterChart(req, cell)
	}
}

// placeholderChart keeps the grid shape for wells without data.
func placeholderChart(well, note string) components.Charter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: cellWidth, Height: cellHeight}),
		charts.WithTitleOpts(opts.Title{Title: well, Subtitle: note}),
	)
	scatter.AddSeries("", []opts.ScatterData{})
	return scatter
}

func scatterChart(req batch.PlotRequest, cell *plate.Cell) components.Charter {
	s := cell.Data.Scatter
	data := make([]opts.ScatterData, 0, len(s.X))
	for i := range s.X {
		data = append(data, opts.ScatterData{Value: []interface{}{s.X[i], s.Y[i]}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: cellWidth, Height: cellHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s  %s", cell.Well, cell.SampleID),
			Subtitle: cellSubtitle(req, cell, &s.XStats),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(logAxisX(req.XChannel)),
		charts.WithYAxisOpts(logAxisY(req.YChannel)),
	)
	scatter.AddSeries("events", data,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#000080", Opacity: opts.Float(0.6)}),
	)
	scatter.Overlap(overlayLines(cell.Data.Overlays))
	return scatter
}

func histogramChart(req batch.PlotRequest, cell *plate.Cell) components.Charter {
	h := cell.Data.Histogram
	data := make([]opts.LineData, 0, len(h.Grid))
	maxDensity := 0.0
	for i := range h.Grid {
		data = append(data, opts.LineData{Value: []interface{}{h.Grid[i], h.Density[i]}})
		if h.Density[i] > maxDensity {
			maxDensity = h.Density[i]
		}
	}

	line := charts.NewLine()
	xAxis := opts.XAxis{Name: req.XChannel, Type: "value"}
	if h.LogScale {
		xAxis.Type = "log"
		xAxis.Min = h.Range[0]
		xAxis.Max = h.Range[1]
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: cellWidth, Height: cellHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s  %s", cell.Well, cell.SampleID),
			Subtitle: cellSubtitle(req, cell, &h.Stats),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(opts.YAxis{Name: "Density", Type: "value"}),
	)
	line.AddSeries("density", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(false)}),
	)
	// Vertical rule at the selected statistic.
	marker := []opts.LineData{
		{Value: []interface{}{h.StatisticValue, 0.0}},
		{Value: []interface{}{h.StatisticValue, maxDensity}},
	}
	line.AddSeries(h.Statistic.String(), marker,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "#DC143C", Type: "dashed"}),
	)
	return line
}

func contourChart(req batch.PlotRequest, cell *plate.Cell) components.Charter {
	c := cell.Data.Contour
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: cellWidth, Height: cellHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s  %s", cell.Well, cell.SampleID),
			Subtitle: cellSubtitle(req, cell, &c.XStats),
		}),
		charts.WithXAxisOpts(logAxisX(req.XChannel)),
		charts.WithYAxisOpts(logAxisY(req.YChannel)),
	)
	for i, cl := range c.Lines {
		data := make([]opts.LineData, 0, len(cl.Points))
		for _, pt := range cl.Points {
			data = append(data, opts.LineData{Value: []interface{}{pt[0], pt[1]}})
		}
		line.AddSeries(fmt.Sprintf("level %d", i+1), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#31688e", Width: 1}),
		)
	}
	line.Overlap(overlayLines(cell.Data.Overlays))
	return line
}

// overlayLines draws gate boundaries: vertex rings as closed
// polylines, quadrant dividers as full-span rules. Colors cycle
// through the gate palette.
func overlayLines(overlays []*geometry.Geometry) *charts.Line {
	line := charts.NewLine()
	seriesIdx := 0
	nextColor := func() string {
		c := gatePalette[seriesIdx%len(gatePalette)]
		seriesIdx++
		return c
	}
	for _, g := range overlays {
		color := nextColor()
		for _, ring := range g.Rings {
			data := make([]opts.LineData, 0, len(ring))
			for _, pt := range ring {
				data = append(data, opts.LineData{Value: []interface{}{pt[0], pt[1]}})
			}
			line.AddSeries("gate", data,
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2}),
			)
		}
		axes := make([]string, 0, len(g.Dividers))
		for axis := range g.Dividers {
			axes = append(axes, axis)
		}
		// Map order varies run to run; sorted axes keep the series
		// order, and so the artifact bytes, reproducible.
		sort.Strings(axes)
		for _, axis := range axes {
			v := g.Dividers[axis]
			var data []opts.LineData
			if axis == g.YChannel {
				data = []opts.LineData{
					{Value: []interface{}{1.0, v}},
					{Value: []interface{}{100000.0, v}},
				}
			} else {
				data = []opts.LineData{
					{Value: []interface{}{v, 1.0}},
					{Value: []interface{}{v, 100000.0}},
				}
			}
			line.AddSeries("divider", data,
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2, Type: "dashed"}),
			)
		}
	}
	return line
}

// cellSubtitle assembles the optional statistics line and keyword
// annotations.
func cellSubtitle(req batch.PlotRequest, cell *plate.Cell, stats *reduce.Stats) string {
	var parts []string
	if req.ShowStatistics && stats != nil {
		parts = append(parts, fmt.Sprintf("n=%d median=%.1f mean=%.1f",
			stats.Count, stats.Median, stats.Mean))
	}
	parts = append(parts, cell.Data.Keywords...)
	return strings.Join(parts, "\n")
}

// logAxisX and logAxisY pin the raw display window the way flow data
// is conventionally shown.
func logAxisX(name string) opts.XAxis {
	return opts.XAxis{Name: name, Type: "log", Min: 1, Max: 100000}
}

func logAxisY(name string) opts.YAxis {
	return opts.YAxis{Name: name, Type: "log", Min: 1, Max: 100000}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
