// Package plate assembles reduced per-sample results into a fixed
// 96-well grid for rendering.
package plate

import (
	"fmt"

	"github.com/banshee-data/flowplate/internal/geometry"
	"github.com/banshee-data/flowplate/internal/monitoring"
	"github.com/banshee-data/flowplate/internal/reduce"
	"github.com/banshee-data/flowplate/internal/wellid"
)

// Plate dimensions are fixed: rows A-H, columns 01-12.
const (
	Rows    = 8
	Columns = 12
)

// RowLabel returns the letter for a zero-based row index.
func RowLabel(row int) string {
	return string(rune('A' + row))
}

// WellName returns the canonical well string for zero-based indices.
func WellName(row, col int) string {
	return fmt.Sprintf("%c%02d", 'A'+row, col+1)
}

// CellStatus tags what a cell holds.
type CellStatus int

const (
	// CellEmpty marks a well no sample resolved to. Empty cells are
	// rendered as explicit "no data" placeholders, never skipped.
	CellEmpty CellStatus = iota
	// CellHasData marks a well carrying a renderable payload.
	CellHasData
	// CellError marks a well whose sample failed during reduction or
	// extraction; the cell renders an error placeholder.
	CellError
)

// CellData is the renderable payload for one well. Exactly one of the
// dataset fields is set, matching the plot kind of the request.
type CellData struct {
	Scatter   *reduce.ScatterData
	Histogram *reduce.HistogramData
	Contour   *reduce.ContourData

	// Overlays holds gate geometry to draw over the data, already in
	// raw units.
	Overlays []*geometry.Geometry

	// Keywords holds "key: value" annotation lines for the cell
	// subtitle.
	Keywords []string
}

// Cell is one well of the assembled layout.
type Cell struct {
	Well     string
	Status   CellStatus
	SampleID string
	Data     *CellData
	// Message carries the failure description for CellError cells.
	Message string
}

// Layout is a complete 8x12 plate. The zero cell set renders as a full
// grid of placeholders, so a layout is valid as soon as it is created.
type Layout struct {
	cells    [Rows][Columns]Cell
	warnings []string
}

func NewLayout() *Layout {
	l := &Layout{}
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			l.cells[r][c] = Cell{Well: WellName(r, c), Status: CellEmpty}
		}
	}
	return l
}

// Place assigns a sample's reduced data to its resolved well. When two
// samples resolve to the same well in one run, the later placement
// wins and the collision is recorded as a warning naming both samples.
func (l *Layout) Place(a wellid.Assignment, data *CellData) error {
	return l.set(a, Cell{Status: CellHasData, SampleID: a.SampleID, Data: data})
}

// PlaceError records a per-sample failure in the sample's cell so the
// grid shape is preserved and the failure is visible in the artifact.
func (l *Layout) PlaceError(a wellid.Assignment, failure error) error {
	return l.set(a, Cell{Status: CellError, SampleID: a.SampleID, Message: failure.Error()})
}

func (l *Layout) set(a wellid.Assignment, cell Cell) error {
	r, c, err := cellIndex(a.Well)
	if err != nil {
		return err
	}
	prev := l.cells[r][c]
	if prev.Status != CellEmpty {
		w := fmt.Sprintf("well %s collision: sample %q overwrites sample %q",
			a.Well, a.SampleID, prev.SampleID)
		l.warnings = append(l.warnings, w)
		monitoring.Logf("plate: %s", w)
	}
	cell.Well = a.Well
	l.cells[r][c] = cell
	return nil
}

// Cell returns the cell for a canonical well string.
func (l *Layout) Cell(well string) (*Cell, error) {
	r, c, err := cellIndex(well)
	if err != nil {
		return nil, err
	}
	return &l.cells[r][c], nil
}

// Each calls fn for every cell in row-major order, placeholders
// included.
func (l *Layout) Each(fn func(row, col int, cell *Cell)) {
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			fn(r, c, &l.cells[r][c])
		}
	}
}

// Warnings returns collision warnings recorded during assembly.
func (l *Layout) Warnings() []string {
	return l.warnings
}

// cellIndex maps a canonical well string to zero-based grid indices.
func cellIndex(well string) (int, int, error) {
	canonical, err := wellid.Canonicalize(well)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid well %q: %w", well, err)
	}
	row := int(canonical[0] - 'A')
	col := int(canonical[1]-'0')*10 + int(canonical[2]-'0') - 1
	if row < 0 || row >= Rows || col < 0 || col >= Columns {
		return 0, 0, fmt.Errorf("well %q outside the 8x12 plate", well)
	}
	return row, col, nil
}
