package reduce

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/flowplate/internal/config"
)

func f64(v float64) *float64 { return &v }

func TestDownsampleDeterministic(t *testing.T) {
	first := downsampleIndices(50000, 10000, 42)
	second := downsampleIndices(50000, 10000, 42)
	if len(first) != 10000 || len(second) != 10000 {
		t.Fatalf("got %d and %d indices, want 10000 each", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("index %d differs: %d vs %d", i, first[i], second[i])
		}
	}
	// Indices are re-sorted so event order is preserved.
	for i := 1; i < len(first); i++ {
		if first[i] <= first[i-1] {
			t.Fatalf("indices not strictly increasing at %d: %d then %d", i, first[i-1], first[i])
		}
	}
}

func TestDownsampleSeedChangesSelection(t *testing.T) {
	a := downsampleIndices(50000, 10000, 42)
	b := downsampleIndices(50000, 10000, 43)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds selected identical subsets")
	}
}

func TestFloorFilter(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	in := []float64{-5, 0, 3, 10, 10.5, 200, math.NaN(), math.Inf(1)}
	got := p.floorFilter(in, true)
	want := []float64{10.5, 200}
	if len(got) != len(want) {
		t.Fatalf("floorFilter kept %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kept[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestAutoRangeExcludesOutliers(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	values := make([]float64, 0, 101)
	for i := 0; i < 100; i++ {
		values = append(values, 100+float64(i))
	}
	values = append(values, 1e7)
	rng := p.autoRange(values)
	if rng[1] >= 1e7 {
		t.Errorf("range upper = %g, outlier should be excluded", rng[1])
	}
	if rng[0] != 100 || rng[1] != 199 {
		t.Errorf("range = %v, want [100 199]", rng)
	}
}

func TestAutoRangeWideDistributionFallback(t *testing.T) {
	cfg := config.EmptyAnalysisConfig()
	cfg.IQRMultiplier = f64(0)
	p := NewPipeline(cfg)
	// With multiplier 0 only the Q1..Q3 band survives. This gapped
	// distribution keeps 4 of 10 points in that band, so the filter
	// must fall back to the full range.
	values := []float64{0, 1, 2, 3, 10, 11, 20, 21, 22, 23}
	rng := p.autoRange(values)
	if rng[0] != 0 || rng[1] != 23 {
		t.Errorf("range = %v, want full [0 23] fallback", rng)
	}
}

func TestHistogramEmptyAfterFiltering(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	_, err := p.Histogram([]float64{1, 2, 3}, true, StatMedian)
	if !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestHistogramLogScale(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	rng := rand.New(rand.NewSource(1))
	values := make([]float64, 2000)
	for i := range values {
		// Log-normal population centered near 10^3.
		values[i] = math.Pow(10, 3+0.3*rng.NormFloat64())
	}
	h, err := p.Histogram(values, true, StatMedian)
	if err != nil {
		t.Fatalf("Histogram() error: %v", err)
	}
	if len(h.Grid) != 500 || len(h.Density) != 500 {
		t.Fatalf("grid %d density %d, want 500 each", len(h.Grid), len(h.Density))
	}
	if h.Range[0] != 0.1 || h.Range[1] != 1e5 {
		t.Errorf("range = %v, want [0.1 1e5]", h.Range)
	}
	if h.Stats.Count != len(values) {
		t.Errorf("count = %d, want %d", h.Stats.Count, len(values))
	}
	// Density mass should concentrate around the population center.
	maxIdx := 0
	for i, d := range h.Density {
		if d > h.Density[maxIdx] {
			maxIdx = i
		}
	}
	peak := h.Grid[maxIdx]
	if peak < 300 || peak > 3000 {
		t.Errorf("density peak at %g, want near 1000", peak)
	}
	if h.StatisticValue < 300 || h.StatisticValue > 3000 {
		t.Errorf("median marker at %g, want near 1000", h.StatisticValue)
	}
}

func TestHistogramStatisticMarker(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	values := []float64{100, 100, 100, 10000}
	med, err := p.Histogram(values, false, StatMedian)
	if err != nil {
		t.Fatal(err)
	}
	mean, err := p.Histogram(values, false, StatMean)
	if err != nil {
		t.Fatal(err)
	}
	if med.StatisticValue != 100 {
		t.Errorf("median marker = %g, want 100", med.StatisticValue)
	}
	if mean.StatisticValue != 2575 {
		t.Errorf("mean marker = %g, want 2575", mean.StatisticValue)
	}
}

func TestScatterFiltersNonPositivePairs(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	x := []float64{10, -1, 30, 40}
	y := []float64{1, 2, 0, 4}
	s, err := p.Scatter(x, y)
	if err != nil {
		t.Fatalf("Scatter() error: %v", err)
	}
	if len(s.X) != 2 {
		t.Fatalf("kept %d pairs, want 2", len(s.X))
	}
	if s.X[0] != 10 || s.X[1] != 40 {
		t.Errorf("X = %v, want [10 40]", s.X)
	}
	if s.XStats.Count != 2 || s.YStats.Count != 2 {
		t.Errorf("stats counts = %d/%d, want 2/2", s.XStats.Count, s.YStats.Count)
	}
}

func TestScatterStatsIndependentOfDownsampling(t *testing.T) {
	cfg := config.EmptyAnalysisConfig()
	smallCap := 100
	cfg.DownsampleCap = &smallCap
	p := NewPipeline(cfg)

	n := 5000
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i + 1)
		y[i] = float64(2 * (i + 1))
	}
	s, err := p.Scatter(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Downsampled {
		t.Fatal("expected downsampling above cap")
	}
	if len(s.X) != smallCap {
		t.Errorf("rendered %d points, want %d", len(s.X), smallCap)
	}
	// Statistics reflect the full filtered array, not the subset.
	if s.XStats.Count != n {
		t.Errorf("XStats.Count = %d, want %d", s.XStats.Count, n)
	}
	if got := s.XStats.Mean; got != 2500.5 {
		t.Errorf("XStats.Mean = %g, want 2500.5", got)
	}
}

func TestContourInsufficientData(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	x := []float64{10, 20, 30}
	y := []float64{10, 20, 30}
	_, err := p.Contour(x, y)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestContourProducesLevels(t *testing.T) {
	p := NewPipeline(config.EmptyAnalysisConfig())
	rng := rand.New(rand.NewSource(7))
	n := 800
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = math.Pow(10, 2.5+0.25*rng.NormFloat64())
		y[i] = math.Pow(10, 3.0+0.25*rng.NormFloat64())
	}
	c, err := p.Contour(x, y)
	if err != nil {
		t.Fatalf("Contour() error: %v", err)
	}
	if len(c.Lines) == 0 {
		t.Fatal("no contour lines produced")
	}
	for _, line := range c.Lines {
		if line.Level <= 0 {
			t.Errorf("non-positive contour level %g", line.Level)
		}
		for _, pt := range line.Points {
			if pt[0] < 1 || pt[0] > 1e5 || pt[1] < 1 || pt[1] > 1e5 {
				t.Errorf("contour point %v outside raw display bounds", pt)
			}
		}
	}
	if c.XStats.Count != n {
		t.Errorf("XStats.Count = %d, want %d", c.XStats.Count, n)
	}
}

func TestMarchingSquaresSinglePeak(t *testing.T) {
	// A radial bump crossed at level 0.5 should yield one closed loop.
	n := 21
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
		ys[i] = float64(i)
	}
	z := make([][]float64, n)
	for iy := range z {
		z[iy] = make([]float64, n)
		for ix := range z[iy] {
			dx := xs[ix] - 10
			dy := ys[iy] - 10
			z[iy][ix] = math.Exp(-(dx*dx + dy*dy) / 20)
		}
	}
	paths := marchingSquares(xs, ys, z, 0.5)
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}
	path := paths[0]
	if len(path) < 8 {
		t.Fatalf("loop has only %d points", len(path))
	}
	first, last := path[0], path[len(path)-1]
	if math.Hypot(first[0]-last[0], first[1]-last[1]) > 1e-6 {
		t.Errorf("contour loop not closed: %v vs %v", first, last)
	}
	// All crossing points sit near radius sqrt(20*ln2) from center.
	wantR := math.Sqrt(20 * math.Ln2)
	for _, pt := range path {
		r := math.Hypot(pt[0]-10, pt[1]-10)
		if math.Abs(r-wantR) > 0.5 {
			t.Errorf("point %v at radius %g, want about %g", pt, r, wantR)
		}
	}
}

func densityNear(h *HistogramData, x float64) float64 {
	best, dist := 0, math.Inf(1)
	for i, g := range h.Grid {
		if d := math.Abs(g - x); d < dist {
			dist, best = d, i
		}
	}
	return h.Density[best]
}

func TestHistogramFloorFilterRenderToggle(t *testing.T) {
	// Half the events sit below the default floor of 10, half near 1000.
	var values []float64
	for i := 0; i < 200; i++ {
		values = append(values, 0.5+0.005*float64(i))
		values = append(values, 800+2*float64(i))
	}

	trimmed, err := NewPipeline(config.EmptyAnalysisConfig()).Histogram(values, true, StatMedian)
	if err != nil {
		t.Fatal(err)
	}

	off := false
	cfg := config.EmptyAnalysisConfig()
	cfg.FloorFiltersRender = &off
	kept, err := NewPipeline(cfg).Histogram(values, true, StatMedian)
	if err != nil {
		t.Fatal(err)
	}

	// Statistics ignore the render toggle: both runs summarize only the
	// 200 events above the floor.
	if trimmed.Stats.Count != 200 || kept.Stats.Count != 200 {
		t.Errorf("counts = %d and %d, want 200 for both",
			trimmed.Stats.Count, kept.Stats.Count)
	}

	// The sub-floor population shows up in the density only when the
	// render filter is off.
	td, kd := densityNear(trimmed, 1.0), densityNear(kept, 1.0)
	if kd <= td*10 {
		t.Errorf("density near 1: filtered %g, unfiltered %g; want unfiltered dominant", td, kd)
	}
	if densityNear(kept, 1000) <= 0 {
		t.Error("main population missing from unfiltered density")
	}
}
