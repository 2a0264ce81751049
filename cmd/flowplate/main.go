// Command flowplate renders plate-indexed visualizations from a
// gating workspace snapshot: one artifact per value of a chosen
// metadata key, each a full 8x12 grid of per-well charts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/flowplate/internal/batch"
	"github.com/banshee-data/flowplate/internal/config"
	"github.com/banshee-data/flowplate/internal/gating"
	"github.com/banshee-data/flowplate/internal/geometry"
	"github.com/banshee-data/flowplate/internal/monitoring"
	"github.com/banshee-data/flowplate/internal/reduce"
	"github.com/banshee-data/flowplate/internal/render"
	"github.com/banshee-data/flowplate/internal/version"
	"github.com/banshee-data/flowplate/internal/wellid"
	"github.com/banshee-data/flowplate/internal/wspdoc"
)

func main() {
	snapshotPath := flag.String("snapshot", "", "Workspace snapshot JSON (required)")
	configPath := flag.String("config", "", "Analysis config JSON (optional)")
	outDir := flag.String("out", "plots", "Output directory for artifacts")

	plotKind := flag.String("plot", "scatter", "Plot kind: scatter, histogram, or contour")
	xChannel := flag.String("x", "", "X axis channel keyword (required)")
	yChannel := flag.String("y", "", "Y axis channel keyword (scatter and contour)")
	gateName := flag.String("gate", "", "Gate name to overlay; empty plots ungated events")
	gatePath := flag.String("gate-path", "", "Slash-separated ancestor path of the gate, e.g. Cells/Live")

	batchKey := flag.String("batch-key", "", "Metadata key defining the batch axis (required)")
	batchValues := flag.String("batch-values", "", "Comma-separated batch values; empty discovers all values")

	wellKeyword := flag.String("well-keyword", wellid.DefaultKeyword, "Metadata key holding the well identifier")
	logScale := flag.Bool("log", true, "Log-scale histogram value axis")
	statistic := flag.String("statistic", "median", "Histogram marker: median or mean")
	showStats := flag.Bool("stats", false, "Annotate each well with count/median/mean")
	keywords := flag.String("keywords", "", "Comma-separated metadata keys to annotate each well with")
	pngOut := flag.Bool("png", false, "Write per-well PNGs instead of an HTML page")
	quiet := flag.Bool("quiet", false, "Suppress progress logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("flowplate %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *snapshotPath == "" || *xChannel == "" || *batchKey == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	kind, err := batch.ParsePlotKind(*plotKind)
	if err != nil {
		log.Fatalf("flowplate: %v", err)
	}
	if kind != batch.PlotHistogram && *yChannel == "" {
		log.Fatalf("flowplate: plot kind %s requires -y", kind)
	}

	cfg := config.EmptyAnalysisConfig()
	if *configPath != "" {
		cfg, err = config.LoadAnalysisConfig(*configPath)
		if err != nil {
			log.Fatalf("flowplate: %v", err)
		}
	}

	provider, err := gating.LoadSnapshot(*snapshotPath)
	if err != nil {
		log.Fatalf("flowplate: %v", err)
	}

	dividers := loadDividerResolver(provider)

	base := strings.TrimSuffix(filepath.Base(*snapshotPath), filepath.Ext(*snapshotPath))
	if wsp := provider.WorkspacePath(); wsp != "" {
		base = strings.TrimSuffix(filepath.Base(wsp), filepath.Ext(wsp))
	}

	var renderer batch.Renderer
	if *pngOut {
		renderer = render.NewPNGRenderer(*outDir, base)
	} else {
		renderer = render.NewHTMLRenderer(*outDir, base)
	}

	req := batch.PlotRequest{
		GatePath:       splitPath(*gatePath),
		GateName:       *gateName,
		Kind:           kind,
		XChannel:       *xChannel,
		YChannel:       *yChannel,
		LogScale:       *logScale,
		Statistic:      reduce.ParseStatistic(*statistic),
		ShowStatistics: *showStats,
		Keywords:       splitList(*keywords),
	}

	orchestrator := batch.NewOrchestrator(provider, cfg, wellid.NewResolver(*wellKeyword), dividers, renderer)
	summary, err := orchestrator.Run(req, *batchKey, splitList(*batchValues))
	if err != nil {
		log.Fatalf("flowplate: %v", err)
	}

	fmt.Printf("run %s: attempted %d, succeeded %d, failed %d\n",
		summary.RunID, summary.Attempted, summary.Succeeded, summary.Failed)
	for _, out := range summary.Outcomes {
		if out.Err != nil {
			fmt.Printf("  %s: FAILED: %v\n", out.Value, out.Err)
			continue
		}
		fmt.Printf("  %s: %s\n", out.Value, out.Artifact.Path)
	}
	for _, w := range summary.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if summary.Succeeded == 0 {
		os.Exit(1)
	}
}

// loadDividerResolver parses the workspace document referenced by the
// snapshot. Quadrant gates need it; everything else runs fine without.
func loadDividerResolver(provider *gating.SnapshotProvider) geometry.DividerResolver {
	doc, err := provider.Document()
	if err != nil {
		monitoring.Logf("flowplate: workspace document unavailable, quadrant gates disabled: %v", err)
		return nil
	}
	defer doc.Close()
	resolver, err := wspdoc.NewResolver(doc)
	if err != nil {
		monitoring.Logf("flowplate: workspace document unreadable, quadrant gates disabled: %v", err)
		return nil
	}
	return resolver
}

func splitPath(s string) []string {
	return splitOn(s, "/")
}

func splitList(s string) []string {
	return splitOn(s, ",")
}

func splitOn(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
