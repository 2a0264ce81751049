// Package config loads the analysis tuning parameters for a batch run.
//
// All defaults are documented on the Get* accessors; fields omitted from
// a config file keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AnalysisConfig holds the reduction and rendering tuning knobs. The
// schema is plain JSON so the same file can be checked into an
// experiment directory next to its workspace export.
type AnalysisConfig struct {
	// Data reduction params
	LogFloor      *float64 `json:"log_floor,omitempty"`
	DownsampleCap *int     `json:"downsample_cap,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	IQRMultiplier *float64 `json:"iqr_multiplier,omitempty"`

	// Density estimation params
	HistogramGridPoints *int      `json:"histogram_grid_points,omitempty"`
	ContourGridPoints   *int      `json:"contour_grid_points,omitempty"`
	ContourPercentiles  []float64 `json:"contour_percentiles,omitempty"`

	// Display decade range for log axes and normalized-space inversion.
	DisplayDecadeMin *float64 `json:"display_decade_min,omitempty"`
	DisplayDecadeMax *float64 `json:"display_decade_max,omitempty"`

	// FloorFiltersRender controls whether the floor filter also trims
	// the histogram density input, or only the statistics and range
	// computation. Scatter and contour sets are unaffected: they drop
	// non-positive pairs regardless, since log axes cannot place them.
	FloorFiltersRender *bool `json:"floor_filters_render,omitempty"`
}

// EmptyAnalysisConfig returns a config with every field unset; the Get*
// accessors then serve defaults.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file. The file
// must have a .json extension and stay under 1MB.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *AnalysisConfig) Validate() error {
	if c.LogFloor != nil && *c.LogFloor <= 0 {
		return fmt.Errorf("log_floor must be positive, got %f", *c.LogFloor)
	}
	if c.DownsampleCap != nil && *c.DownsampleCap < 1 {
		return fmt.Errorf("downsample_cap must be at least 1, got %d", *c.DownsampleCap)
	}
	if c.IQRMultiplier != nil && *c.IQRMultiplier < 0 {
		return fmt.Errorf("iqr_multiplier must be non-negative, got %f", *c.IQRMultiplier)
	}
	if c.HistogramGridPoints != nil && *c.HistogramGridPoints < 16 {
		return fmt.Errorf("histogram_grid_points must be at least 16, got %d", *c.HistogramGridPoints)
	}
	if c.ContourGridPoints != nil && *c.ContourGridPoints < 16 {
		return fmt.Errorf("contour_grid_points must be at least 16, got %d", *c.ContourGridPoints)
	}
	for _, p := range c.ContourPercentiles {
		if p <= 0 || p >= 100 {
			return fmt.Errorf("contour percentile out of range (0,100): %f", p)
		}
	}
	if c.DisplayDecadeMin != nil && c.DisplayDecadeMax != nil &&
		*c.DisplayDecadeMin >= *c.DisplayDecadeMax {
		return fmt.Errorf("display_decade_min %f must be below display_decade_max %f",
			*c.DisplayDecadeMin, *c.DisplayDecadeMax)
	}
	return nil
}

// GetLogFloor returns the positive floor below which values are dropped
// for log-scale display and statistics. Default 10.
func (c *AnalysisConfig) GetLogFloor() float64 {
	if c.LogFloor == nil {
		return 10.0
	}
	return *c.LogFloor
}

// GetDownsampleCap returns the per-sample event cap for scatter and
// contour inputs. Default 10000.
func (c *AnalysisConfig) GetDownsampleCap() int {
	if c.DownsampleCap == nil {
		return 10000
	}
	return *c.DownsampleCap
}

// GetSeed returns the downsampling seed. Default 42; the fixed seed is
// what makes identical inputs plot identical point subsets.
func (c *AnalysisConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}

// GetIQRMultiplier returns the auto-range outlier exclusion width.
// Default 3: values outside [Q1-3*IQR, Q3+3*IQR] are excluded from
// range determination only.
func (c *AnalysisConfig) GetIQRMultiplier() float64 {
	if c.IQRMultiplier == nil {
		return 3.0
	}
	return *c.IQRMultiplier
}

// GetHistogramGridPoints returns the 1-D density evaluation grid size.
// Default 500.
func (c *AnalysisConfig) GetHistogramGridPoints() int {
	if c.HistogramGridPoints == nil {
		return 500
	}
	return *c.HistogramGridPoints
}

// GetContourGridPoints returns the per-axis 2-D density grid size.
// Default 100.
func (c *AnalysisConfig) GetContourGridPoints() int {
	if c.ContourGridPoints == nil {
		return 100
	}
	return *c.ContourGridPoints
}

// GetContourPercentiles returns the density-mass percentiles at which
// contour levels are drawn. Default 10, 25, 50, 75, 90, 95.
func (c *AnalysisConfig) GetContourPercentiles() []float64 {
	if len(c.ContourPercentiles) == 0 {
		return []float64{10, 25, 50, 75, 90, 95}
	}
	return append([]float64(nil), c.ContourPercentiles...)
}

// GetDisplayDecadeMin returns the low edge of the log display range in
// decades. Default 0 (10^0 = 1).
func (c *AnalysisConfig) GetDisplayDecadeMin() float64 {
	if c.DisplayDecadeMin == nil {
		return 0
	}
	return *c.DisplayDecadeMin
}

// GetDisplayDecadeMax returns the high edge of the log display range in
// decades. Default 5 (10^5).
func (c *AnalysisConfig) GetDisplayDecadeMax() float64 {
	if c.DisplayDecadeMax == nil {
		return 5
	}
	return *c.DisplayDecadeMax
}

// GetFloorFiltersRender reports whether the floor filter also trims the
// histogram density input. Default true. When false the density runs
// over every finite value (positives only on a log axis) while the
// statistics stay floor-filtered. The IQR exclusion never drops
// rendered points either way.
func (c *AnalysisConfig) GetFloorFiltersRender() bool {
	if c.FloorFiltersRender == nil {
		return true
	}
	return *c.FloorFiltersRender
}
