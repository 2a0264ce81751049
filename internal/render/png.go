package render

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/flowplate/internal/batch"
	"github.com/banshee-data/flowplate/internal/fsutil"
	"github.com/banshee-data/flowplate/internal/monitoring"
	"github.com/banshee-data/flowplate/internal/plate"
	"github.com/banshee-data/flowplate/internal/security"
)

// PNGRenderer writes a directory of per-well PNGs per batch value,
// for embedding in documents where the interactive HTML page is not
// usable. Placeholder cells are skipped; the well name encodes the
// position.
type PNGRenderer struct {
	outputDir     string
	workspaceBase string
	fs            fsutil.FileSystem
}

func NewPNGRenderer(outputDir, workspaceBase string) *PNGRenderer {
	return &PNGRenderer{outputDir: outputDir, workspaceBase: workspaceBase, fs: fsutil.OSFileSystem{}}
}

// Render implements batch.Renderer.
func (r *PNGRenderer) Render(req batch.PlotRequest, batchKey, batchValue string, layout *plate.Layout) (batch.Artifact, error) {
	if err := r.fs.MkdirAll(r.outputDir, 0755); err != nil {
		return batch.Artifact{}, fmt.Errorf("creating output dir: %w", err)
	}
	name := ArtifactName(r.workspaceBase, req, batchKey, batchValue, "")
	dir := filepath.Join(r.outputDir, name)
	if err := security.ValidatePathWithinDirectory(dir, r.outputDir); err != nil {
		return batch.Artifact{}, fmt.Errorf("artifact path: %w", err)
	}
	if err := r.fs.MkdirAll(dir, 0755); err != nil {
		return batch.Artifact{}, fmt.Errorf("creating output dir: %w", err)
	}

	var firstErr error
	layout.Each(func(row, col int, cell *plate.Cell) {
		if cell.Status != plate.CellHasData {
			return
		}
		p, err := wellPlot(req, cell)
		if err == nil {
			err = r.savePlot(p, filepath.Join(dir, cell.Well+".png"))
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("well %s: %w", cell.Well, err)
		}
	})
	if firstErr != nil {
		return batch.Artifact{}, firstErr
	}
	monitoring.Logf("render: wrote PNG set %s", dir)
	return batch.Artifact{Name: name, Path: dir}, nil
}

// savePlot renders through the FileSystem abstraction so tests can run
// against an in-memory filesystem.
func (r *PNGRenderer) savePlot(p *plot.Plot, file string) error {
	wt, err := p.WriterTo(5*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	f, err := r.fs.Create(file)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func wellPlot(req batch.PlotRequest, cell *plate.Cell) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s", cell.Well, cell.SampleID)
	p.X.Label.Text = req.XChannel

	switch req.Kind {
	case batch.PlotHistogram:
		h := cell.Data.Histogram
		pts := make(plotter.XYs, 0, len(h.Grid))
		for i := range h.Grid {
			pts = append(pts, plotter.XY{X: h.Grid[i], Y: h.Density[i]})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 0x46, G: 0x82, B: 0xB4, A: 0xFF}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Y.Label.Text = "Density"
		if h.LogScale {
			p.X.Scale = plot.LogScale{}
			p.X.Tick.Marker = plot.LogTicks{Prec: -1}
		}

	case batch.PlotContour:
		c := cell.Data.Contour
		for _, cl := range c.Lines {
			pts := make(plotter.XYs, 0, len(cl.Points))
			for _, pt := range cl.Points {
				pts = append(pts, plotter.XY{X: pt[0], Y: pt[1]})
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return nil, err
			}
			line.Color = color.RGBA{R: 0x31, G: 0x68, B: 0x8E, A: 0xFF}
			p.Add(line)
		}
		p.Y.Label.Text = req.YChannel
		setLogLog(p)

	default:
		s := cell.Data.Scatter
		pts := make(plotter.XYs, 0, len(s.X))
		for i := range s.X {
			pts = append(pts, plotter.XY{X: s.X[i], Y: s.Y[i]})
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.Radius = vg.Points(0.5)
		sc.Color = color.RGBA{B: 0x80, A: 0xFF}
		p.Add(sc)
		p.Y.Label.Text = req.YChannel
		setLogLog(p)
	}

	for gi, g := range cell.Data.Overlays {
		c := paletteRGBA(gi)
		for _, ring := range g.Rings {
			pts := make(plotter.XYs, 0, len(ring))
			for _, pt := range ring {
				pts = append(pts, plotter.XY{X: pt[0], Y: pt[1]})
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return nil, err
			}
			line.Color = c
			line.Width = vg.Points(2)
			p.Add(line)
		}
	}
	return p, nil
}

func setLogLog(p *plot.Plot) {
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.X.Min, p.X.Max = 1, 1e5
	p.Y.Min, p.Y.Max = 1, 1e5
}

// paletteRGBA converts the shared gate palette to plot colors.
func paletteRGBA(i int) color.Color {
	hex := gatePalette[i%len(gatePalette)]
	r, _ := strconv.ParseUint(hex[1:3], 16, 8)
	g, _ := strconv.ParseUint(hex[3:5], 16, 8)
	b, _ := strconv.ParseUint(hex[5:7], 16, 8)
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xFF}
}
