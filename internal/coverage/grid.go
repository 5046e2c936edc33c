package coverage

import (
	"errors"
	"fmt"
	"math"
)

// maxCellsPerGrid bounds grid enumeration for absurdly small cell sizes.
const maxCellsPerGrid = 5_000_000

// coordScale rounds coordinates to 4 decimals (~11 m).
const coordScale = 1e4

// ErrInvalidCellSize is returned when the cell size is not positive.
var ErrInvalidCellSize = errors.New("cell size must be positive")

// Cell is one grid point; the query for the cell is centered on it.
type Cell struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key identifies the cell within its region.
func (c Cell) Key() string {
	return CellKey(c.Lat, c.Lon)
}

// CellKey formats coordinates the same way for enumerated and persisted cells.
func CellKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", round4(lat), round4(lon))
}

func round4(v float64) float64 {
	return math.Round(v*coordScale) / coordScale
}

// steps returns how many points fit in [lo, hi] at step spacing, inclusive.
func steps(lo, hi, step float64) int {
	// The epsilon keeps hi itself when (hi-lo)/step is a whole number
	// that floating point lands just below.
	return int(math.Floor((hi-lo)/step+1e-9)) + 1
}

// Grid enumerates the cells of region in row-major order: latitude outer,
// longitude inner, both bounds inclusive. Coordinates are min + i*step, not
// an accumulated sum, so they do not drift.
func Grid(region Region, cellSize float64) ([]Cell, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return nil, ErrInvalidCellSize
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}

	rows := steps(region.LatMin, region.LatMax, cellSize)
	cols := steps(region.LonMin, region.LonMax, cellSize)
	if rows*cols > maxCellsPerGrid {
		return nil, fmt.Errorf("region %s at %.4f degrees yields %d cells, limit is %d",
			region.Name, cellSize, rows*cols, maxCellsPerGrid)
	}

	cells := make([]Cell, 0, rows*cols)
	for i := range rows {
		lat := round4(region.LatMin + float64(i)*cellSize)
		for j := range cols {
			cells = append(cells, Cell{Lat: lat, Lon: round4(region.LonMin + float64(j)*cellSize)})
		}
	}
	return cells, nil
}
