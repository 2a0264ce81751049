// Package reduce turns raw per-event measurement arrays into
// render-ready datasets: filtered and downsampled point sets, density
// estimates, contour polylines, and summary statistics.
//
// Everything here works in raw measurement units. Log-scale handling
// happens in log10 space internally where the estimate quality needs
// it, and results are mapped back before they leave the package.
package reduce

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/flowplate/internal/config"
)

// ErrEmptyDataset is returned when no events remain after filtering.
var ErrEmptyDataset = errors.New("no events remain after filtering")

// ErrInsufficientData is returned when too few events remain to
// estimate a density surface.
var ErrInsufficientData = errors.New("too few events for density estimation")

// Statistic selects the summary marker drawn on histograms.
type Statistic int

const (
	StatMedian Statistic = iota
	StatMean
)

func (s Statistic) String() string {
	if s == StatMean {
		return "mean"
	}
	return "median"
}

// ParseStatistic maps the configuration spelling onto a Statistic,
// defaulting to the median.
func ParseStatistic(s string) Statistic {
	if s == "mean" {
		return StatMean
	}
	return StatMedian
}

// Stats summarizes one channel of a filtered (never downsampled)
// event array.
type Stats struct {
	Count  int
	Median float64
	Mean   float64
}

// ScatterData is the reduced form of a 2-D point plot.
type ScatterData struct {
	X, Y        []float64
	XStats      Stats
	YStats      Stats
	Downsampled bool
}

// HistogramData is the reduced form of a 1-D density plot.
type HistogramData struct {
	// Grid holds x positions in raw units; Density the estimated
	// probability density at each position.
	Grid    []float64
	Density []float64

	Stats Stats

	// Statistic and StatisticValue describe the vertical marker rule.
	Statistic      Statistic
	StatisticValue float64

	LogScale bool

	// Range is the suggested display range on the value axis.
	Range [2]float64
}

// ContourLine is one closed or open density contour polyline in raw
// units.
type ContourLine struct {
	Level  float64
	Points [][2]float64
}

// ContourData is the reduced form of a 2-D density plot.
type ContourData struct {
	Lines       []ContourLine
	XStats      Stats
	YStats      Stats
	Downsampled bool
}

// Pipeline applies the configured reduction steps. Zero-value configs
// get package defaults via the config accessors.
type Pipeline struct {
	cfg *config.AnalysisConfig
}

func NewPipeline(cfg *config.AnalysisConfig) *Pipeline {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	return &Pipeline{cfg: cfg}
}

// Scatter filters paired events to those positive on both channels
// (log axes cannot place others), downsamples to the configured cap,
// and summarizes the filtered array before downsampling.
func (p *Pipeline) Scatter(x, y []float64) (*ScatterData, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("channel arrays differ in length: %d vs %d", len(x), len(y))
	}
	fx, fy := filterPositivePairs(x, y)
	if len(fx) == 0 {
		return nil, ErrEmptyDataset
	}

	out := &ScatterData{
		XStats: summarize(fx),
		YStats: summarize(fy),
	}
	out.X, out.Y, out.Downsampled = p.downsamplePairs(fx, fy)
	return out, nil
}

// Histogram estimates a 1-D density for one channel. Values at or
// below the configured floor are discarded first; statistics and the
// marker value always come from the floor-filtered array. When the
// config disables floor filtering for rendering, the density estimate
// runs over every finite value instead (positives only on a log axis),
// so sub-floor events stay visible without moving the statistics.
func (p *Pipeline) Histogram(values []float64, logScale bool, statistic Statistic) (*HistogramData, error) {
	filtered := p.floorFilter(values, logScale)
	if len(filtered) == 0 {
		return nil, ErrEmptyDataset
	}
	renderSet := filtered
	if !p.cfg.GetFloorFiltersRender() {
		renderSet = finiteValues(values, logScale)
	}

	out := &HistogramData{
		Stats:     summarize(filtered),
		Statistic: statistic,
		LogScale:  logScale,
	}
	if statistic == StatMean {
		out.StatisticValue = out.Stats.Mean
	} else {
		out.StatisticValue = out.Stats.Median
	}

	if logScale {
		// Estimate in log10 space and correct the density back to
		// linear units: f(x) = f_log(log10 x) / (x ln10), folded in
		// as a multiplication by the inverse Jacobian on the grid.
		logData := make([]float64, len(renderSet))
		for i, v := range renderSet {
			logData[i] = math.Log10(v)
		}
		kde, err := newKDE1D(logData)
		if err != nil {
			return nil, err
		}
		// One decade below the display floor keeps the left tail of
		// near-floor populations visible.
		lo := p.cfg.GetDisplayDecadeMin() - 1
		hi := p.cfg.GetDisplayDecadeMax()
		n := p.cfg.GetHistogramGridPoints()
		out.Grid = make([]float64, n)
		out.Density = make([]float64, n)
		for i := 0; i < n; i++ {
			t := lo + (hi-lo)*float64(i)/float64(n-1)
			x := math.Pow(10, t)
			out.Grid[i] = x
			out.Density[i] = kde.at(t) * x * math.Ln10
		}
		out.Range = [2]float64{math.Pow(10, lo), math.Pow(10, hi)}
		return out, nil
	}

	kde, err := newKDE1D(renderSet)
	if err != nil {
		return nil, err
	}
	rng := p.autoRange(renderSet)
	pad := (rng[1] - rng[0]) * 0.1
	lo := math.Max(0, rng[0]-pad)
	hi := rng[1] + pad
	if hi <= lo {
		hi = lo + 1
	}
	n := p.cfg.GetHistogramGridPoints()
	out.Grid = make([]float64, n)
	out.Density = make([]float64, n)
	for i := 0; i < n; i++ {
		x := lo + (hi-lo)*float64(i)/float64(n-1)
		out.Grid[i] = x
		out.Density[i] = kde.at(x)
	}
	out.Range = [2]float64{lo, hi}
	return out, nil
}

// Contour estimates a 2-D density in log/log space and extracts
// contour polylines at the configured density-mass percentiles.
func (p *Pipeline) Contour(x, y []float64) (*ContourData, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("channel arrays differ in length: %d vs %d", len(x), len(y))
	}
	fx, fy := filterPositivePairs(x, y)
	if len(fx) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(fx) < 10 {
		return nil, fmt.Errorf("%w: %d events", ErrInsufficientData, len(fx))
	}

	out := &ContourData{
		XStats: summarize(fx),
		YStats: summarize(fy),
	}

	var dx, dy []float64
	dx, dy, out.Downsampled = p.downsamplePairs(fx, fy)

	logX := make([]float64, len(dx))
	logY := make([]float64, len(dy))
	for i := range dx {
		logX[i] = math.Log10(dx[i])
		logY[i] = math.Log10(dy[i])
	}
	kde, err := newKDE2D(logX, logY)
	if err != nil {
		return nil, err
	}

	lo := p.cfg.GetDisplayDecadeMin()
	hi := p.cfg.GetDisplayDecadeMax()
	n := p.cfg.GetContourGridPoints()
	grid := make([]float64, n)
	for i := 0; i < n; i++ {
		grid[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}

	// z[iy][ix] is the density at (grid[ix], grid[iy]).
	z := make([][]float64, n)
	positive := make([]float64, 0, n*n)
	for iy := 0; iy < n; iy++ {
		z[iy] = make([]float64, n)
		for ix := 0; ix < n; ix++ {
			d := kde.at(grid[ix], grid[iy])
			z[iy][ix] = d
			if d > 0 {
				positive = append(positive, d)
			}
		}
	}
	if len(positive) == 0 {
		return nil, fmt.Errorf("%w: density surface is zero everywhere", ErrInsufficientData)
	}
	sort.Float64s(positive)

	for _, pct := range p.cfg.GetContourPercentiles() {
		level := stat.Quantile(pct/100, stat.LinInterp, positive, nil)
		for _, path := range marchingSquares(grid, grid, z, level) {
			line := ContourLine{Level: level, Points: make([][2]float64, len(path))}
			for i, pt := range path {
				line.Points[i] = [2]float64{math.Pow(10, pt[0]), math.Pow(10, pt[1])}
			}
			out.Lines = append(out.Lines, line)
		}
	}
	return out, nil
}

// floorFilter drops non-finite values, non-positive values when the
// target display is log scale, and values at or below the configured
// floor.
func (p *Pipeline) floorFilter(values []float64, logScale bool) []float64 {
	floor := p.cfg.GetLogFloor()
	out := make([]float64, 0, len(values))
	for _, v := range finiteValues(values, logScale) {
		if v <= floor {
			continue
		}
		out = append(out, v)
	}
	return out
}

// finiteValues drops NaN and infinite entries, and non-positive ones
// when the values are bound for a log axis.
func finiteValues(values []float64, logScale bool) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if logScale && v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// filterPositivePairs keeps pairs where both values are finite and
// strictly positive.
func filterPositivePairs(x, y []float64) ([]float64, []float64) {
	fx := make([]float64, 0, len(x))
	fy := make([]float64, 0, len(y))
	for i := range x {
		if x[i] <= 0 || y[i] <= 0 {
			continue
		}
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			continue
		}
		fx = append(fx, x[i])
		fy = append(fy, y[i])
	}
	return fx, fy
}

// autoRange returns the display range for a linear axis: the min/max
// of values inside [Q1-k*IQR, Q3+k*IQR]. If that exclusion would
// remove more than half the points the distribution is genuinely wide
// and the unfiltered range is used instead.
func (p *Pipeline) autoRange(values []float64) [2]float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	full := [2]float64{sorted[0], sorted[len(sorted)-1]}
	if len(sorted) < 4 {
		return full
	}

	q1 := quantileLinear(sorted, 0.25)
	q3 := quantileLinear(sorted, 0.75)
	iqr := q3 - q1
	k := p.cfg.GetIQRMultiplier()
	lo := q1 - k*iqr
	hi := q3 + k*iqr

	kept := 0
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range sorted {
		if v < lo || v > hi {
			continue
		}
		kept++
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if kept*2 < len(sorted) {
		return full
	}
	return [2]float64{min, max}
}

// quantileLinear interpolates the p-quantile of a sorted slice at
// fractional index p*(n-1), blending the two nearest values. This is
// the convention the quartile-band exclusion was tuned against;
// gonum's LinInterp places the index differently and shifts which
// points survive the band.
func quantileLinear(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// downsamplePairs caps paired arrays at the configured event count
// using a seeded permutation, so identical inputs always select the
// same subset. Selected indices are re-sorted to preserve event order.
func (p *Pipeline) downsamplePairs(x, y []float64) ([]float64, []float64, bool) {
	limit := p.cfg.GetDownsampleCap()
	if len(x) <= limit {
		return x, y, false
	}
	idx := downsampleIndices(len(x), limit, p.cfg.GetSeed())
	dx := make([]float64, len(idx))
	dy := make([]float64, len(idx))
	for i, j := range idx {
		dx[i] = x[j]
		dy[i] = y[j]
	}
	return dx, dy, true
}

func downsampleIndices(n, limit int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(n)[:limit]
	sort.Ints(idx)
	return idx
}

func summarize(values []float64) Stats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Stats{
		Count:  len(values),
		Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		Mean:   stat.Mean(values, nil),
	}
}
