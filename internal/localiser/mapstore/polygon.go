package mapstore

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Point is an integer cell coordinate (X column, Y row).
type Point struct {
	X, Y int
}

// Polygon is a closed outline; the last vertex joins the first.
type Polygon []Point

// Survival pool reference geometry, in cells.
const (
	PoolWidth  = 210
	PoolHeight = 310
	PoolKSize  = 11
)

// PoolOffset shifts the pool outline away from the image border.
var PoolOffset = Point{X: 5, Y: 5}

// SurvivalPool returns the walls of the test pool, before PoolOffset.
func SurvivalPool() Polygon {
	return Polygon{
		{0, 0}, {0, 289}, {200, 289}, {200, 218},
		{144, 218}, {144, 49}, {200, 49}, {200, 0},
	}
}

// BuildSurvivalPoolMap renders the reference pool map at unit scale.
func BuildSurvivalPoolMap() (*LikelihoodMap, error) {
	return BuildPolygonMap(PoolWidth, PoolHeight, SurvivalPool(), PoolOffset, PoolKSize)
}

// BuildPolygonMap draws poly (shifted by offset) as a one-cell-wide line of
// value 255, blurs it with a ksize×ksize Gaussian whose sigma is derived from
// the kernel size, then stretches the result to span 0..255. ksize must be
// odd; 1 disables the blur.
func BuildPolygonMap(width, height int, poly Polygon, offset Point, ksize int) (*LikelihoodMap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("non-positive map dimensions %dx%d", width, height)
	}
	if ksize < 1 || ksize%2 == 0 {
		return nil, fmt.Errorf("kernel size must be odd and positive, got %d", ksize)
	}
	if len(poly) < 2 {
		return nil, fmt.Errorf("polygon needs at least 2 vertices, got %d", len(poly))
	}

	cells := make([]float64, width*height)
	for i := range poly {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		drawLine(cells, width, height,
			Point{a.X + offset.X, a.Y + offset.Y},
			Point{b.X + offset.X, b.Y + offset.Y})
	}

	if ksize > 1 {
		cells = gaussianBlur(cells, width, height, gaussianKernel(ksize))
	}
	normalizeMinMax(cells, 0, 255)
	return New(width, height, cells, 1)
}

// drawLine sets every cell on the Bresenham segment a-b to 255, ignoring
// cells outside the grid.
func drawLine(cells []float64, w, h int, a, b Point) {
	dx := absInt(b.X - a.X)
	dy := -absInt(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		if x >= 0 && x < w && y >= 0 && y < h {
			cells[y*w+x] = 255
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

// gaussianKernel returns a normalised 1-D kernel. Sigma follows the OpenCV
// rule for an unspecified sigma: 0.3*((ksize-1)*0.5-1)+0.8.
func gaussianKernel(ksize int) []float64 {
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	k := make([]float64, ksize)
	c := float64(ksize-1) / 2
	for i := range k {
		d := float64(i) - c
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

// gaussianBlur applies the separable kernel along rows then columns with
// reflect-101 borders (…cba|abcd|dcb…).
func gaussianBlur(src []float64, w, h int, k []float64) []float64 {
	r := len(k) / 2
	tmp := make([]float64, len(src))
	for y := range h {
		row := src[y*w : (y+1)*w]
		for x := range w {
			var acc float64
			for i, kv := range k {
				acc += kv * row[reflect101(x+i-r, w)]
			}
			tmp[y*w+x] = acc
		}
	}
	dst := make([]float64, len(src))
	for y := range h {
		for x := range w {
			var acc float64
			for i, kv := range k {
				acc += kv * tmp[reflect101(y+i-r, h)*w+x]
			}
			dst[y*w+x] = acc
		}
	}
	return dst
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// normalizeMinMax linearly maps cells onto [lo, hi]. A flat grid maps to lo.
func normalizeMinMax(cells []float64, lo, hi float64) {
	mn, mx := floats.Min(cells), floats.Max(cells)
	if mx == mn {
		for i := range cells {
			cells[i] = lo
		}
		return
	}
	floats.AddConst(-mn, cells)
	floats.Scale((hi-lo)/(mx-mn), cells)
	floats.AddConst(lo, cells)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
