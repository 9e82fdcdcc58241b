// Package mapstore holds the static likelihood map scans are matched against.
//
// A LikelihoodMap is a row-major grid of non-negative scores. Row indexes
// follow the map y axis and column indexes the x axis, so a point (x, y) in
// map units lands in cell (row=y/scale, col=x/scale). Lookups outside the grid
// are clamped to the nearest edge cell; they never fail.
package mapstore

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LikelihoodMap is immutable after construction and safe for concurrent reads.
type LikelihoodMap struct {
	width  int
	height int
	scale  float64
	cells  []float64
}

// New builds a map from a row-major cell slice of length width*height.
// scale is map units per cell; zero selects 1. The slice is copied.
func New(width, height int, cells []float64, scale float64) (*LikelihoodMap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("non-positive map dimensions %dx%d", width, height)
	}
	n, ok := cellCount(width, height)
	if !ok {
		return nil, fmt.Errorf("map dimensions %dx%d overflow", width, height)
	}
	if len(cells) != n {
		return nil, fmt.Errorf("cell count %d does not match %dx%d", len(cells), width, height)
	}
	if scale == 0 {
		scale = 1
	}
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("invalid map scale %v", scale)
	}
	for i, v := range cells {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("invalid cell value %v at row %d col %d", v, i/width, i%width)
		}
	}
	return &LikelihoodMap{
		width:  width,
		height: height,
		scale:  scale,
		cells:  append([]float64(nil), cells...),
	}, nil
}

// cellCount returns width*height, or false when the product overflows int.
// Both dimensions must be positive.
func cellCount(width, height int) (int, bool) {
	if width > math.MaxInt/height {
		return 0, false
	}
	return width * height, true
}

// Width is the number of columns (x extent in cells).
func (m *LikelihoodMap) Width() int { return m.width }

// Height is the number of rows (y extent in cells).
func (m *LikelihoodMap) Height() int { return m.height }

// Scale is the number of map units per cell.
func (m *LikelihoodMap) Scale() float64 { return m.scale }

// ScoreAt returns the cell value, clamping row and col into the grid.
func (m *LikelihoodMap) ScoreAt(row, col int) float64 {
	row = clampInt(row, 0, m.height-1)
	col = clampInt(col, 0, m.width-1)
	return m.cells[row*m.width+col]
}

// ClampPoint converts a map-unit point into the nearest valid cell.
// Non-finite coordinates collapse onto the lower edge.
func (m *LikelihoodMap) ClampPoint(x, y float64) (row, col int) {
	col = clampCoord(x/m.scale, m.width)
	row = clampCoord(y/m.scale, m.height)
	return row, col
}

// ScorePoint is ScoreAt(ClampPoint(x, y)).
func (m *LikelihoodMap) ScorePoint(x, y float64) float64 {
	return m.ScoreAt(m.ClampPoint(x, y))
}

// Max returns the largest cell value.
func (m *LikelihoodMap) Max() float64 {
	return floats.Max(m.cells)
}

// Row returns a copy of row r.
func (m *LikelihoodMap) Row(r int) []float64 {
	r = clampInt(r, 0, m.height-1)
	return append([]float64(nil), m.cells[r*m.width:(r+1)*m.width]...)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampCoord(v float64, n int) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= float64(n-1) {
		return n - 1
	}
	return int(math.Floor(v))
}
