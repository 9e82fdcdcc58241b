package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/scan"
)

// litCellMap is a 10x10 map with a single cell at row 0, col 5 set to 255.
func litCellMap(t *testing.T) *mapstore.LikelihoodMap {
	t.Helper()
	cells := make([]float64, 100)
	cells[5] = 255
	m, err := mapstore.New(10, 10, cells, 1)
	require.NoError(t, err)
	return m
}

func TestScore_SingleRayHitsLitCell(t *testing.T) {
	t.Parallel()
	m := litCellMap(t)
	s := scan.Scan{Rays: []scan.Ray{{Range: 5, Bearing: 0}}}

	assert.Equal(t, 255.0, Score(m, localiser.Pose{}, s))
	// Facing the other way the endpoint (-5, 0) clamps to cell (0, 0).
	assert.Equal(t, 0.0, Score(m, localiser.Pose{Heading: 180}, s))
}

func TestScore_EmptyScan(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Score(litCellMap(t), localiser.Pose{X: 3, Y: 3}, scan.Scan{}))
}

func TestScore_SumsWithoutNormalising(t *testing.T) {
	t.Parallel()
	m := litCellMap(t)
	s := scan.Scan{Rays: []scan.Ray{
		{Range: 5, Bearing: 0},
		{Range: 5, Bearing: 0},
		{Range: 2, Bearing: math.Pi / 2},
	}}
	assert.Equal(t, 510.0, Score(m, localiser.Pose{}, s))
}

func TestScore_ClampsEverywhere(t *testing.T) {
	t.Parallel()
	cells := make([]float64, 100)
	for i := range cells {
		cells[i] = float64(i)
	}
	m, err := mapstore.New(10, 10, cells, 1)
	require.NoError(t, err)

	s := scan.Scan{Rays: []scan.Ray{{Range: 1e9, Bearing: 0}, {Range: 1e9, Bearing: math.Pi / 2}}}
	for _, h := range []float64{-180, -90, 0, 45, 90, 179.9} {
		got := Score(m, localiser.Pose{X: -50, Y: 500, Heading: h}, s)
		assert.False(t, math.IsNaN(got))
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 2*99.0)
	}
}

func TestScore_HeadingRotatesRays(t *testing.T) {
	t.Parallel()
	cells := make([]float64, 100)
	cells[7*10+2] = 1 // row 7, col 2
	m, err := mapstore.New(10, 10, cells, 1)
	require.NoError(t, err)

	s := scan.Scan{Rays: []scan.Ray{{Range: 5, Bearing: 0}}}
	assert.Equal(t, 1.0, Score(m, localiser.Pose{X: 2, Y: 2, Heading: 90}, s))
	assert.Equal(t, 0.0, Score(m, localiser.Pose{X: 2, Y: 2, Heading: 0}, s))
}

func TestMapScorer(t *testing.T) {
	t.Parallel()
	m := litCellMap(t)
	var sc Scorer = MapScorer{Map: m}
	s := scan.Scan{Rays: []scan.Ray{{Range: 5, Bearing: 0}}}
	assert.Equal(t, Score(m, localiser.Pose{}, s), sc.Score(localiser.Pose{}, s))
}

func TestProject(t *testing.T) {
	t.Parallel()
	s := scan.Scan{Rays: []scan.Ray{{Range: 2, Bearing: 0}, {Range: 3, Bearing: math.Pi / 2}}}
	pts := Project(localiser.Pose{X: 1, Y: 1, Heading: 90}, s)
	require.Len(t, pts, 2)
	assert.InDelta(t, 1.0, pts[0].X, 1e-9)
	assert.InDelta(t, 3.0, pts[0].Y, 1e-9)
	assert.InDelta(t, -2.0, pts[1].X, 1e-9)
	assert.InDelta(t, 1.0, pts[1].Y, 1e-9)
}
