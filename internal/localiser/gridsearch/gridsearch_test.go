package gridsearch

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
)

func TestGenerateCandidates_Order(t *testing.T) {
	t.Parallel()
	center := localiser.Pose{X: 10, Y: 20, Heading: 30, Speed: 1.5}
	got := GenerateCandidates(center, Window{HalfX: 1, HalfY: 0, HalfHeading: 1})
	want := []localiser.Pose{
		{X: 9, Y: 20, Heading: 29, Speed: 1.5},
		{X: 9, Y: 20, Heading: 30, Speed: 1.5},
		{X: 9, Y: 20, Heading: 31, Speed: 1.5},
		{X: 10, Y: 20, Heading: 29, Speed: 1.5},
		{X: 10, Y: 20, Heading: 30, Speed: 1.5},
		{X: 10, Y: 20, Heading: 31, Speed: 1.5},
		{X: 11, Y: 20, Heading: 29, Speed: 1.5},
		{X: 11, Y: 20, Heading: 30, Speed: 1.5},
		{X: 11, Y: 20, Heading: 31, Speed: 1.5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GenerateCandidates mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateCandidates_Size(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w    Window
		want int
	}{
		{Window{}, 1},
		{Window{HalfX: 2, HalfY: 2, HalfHeading: 2}, 125},
		{Window{HalfX: 5, HalfY: 5, HalfHeading: 10}, 11 * 11 * 21},
	}
	for _, tt := range tests {
		assert.Len(t, GenerateCandidates(localiser.Pose{}, tt.w), tt.want)
		assert.Equal(t, tt.want, tt.w.Size())
	}
}

func TestWindowSize_Saturates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		w    Window
		want int
	}{
		{"half extent overflows", Window{HalfX: math.MaxInt / 2}, math.MaxInt},
		{"product overflows", Window{HalfX: 1 << 30, HalfY: 1 << 30, HalfHeading: 180}, math.MaxInt},
		{"negative half", Window{HalfX: -1, HalfY: 3}, 0},
		{"largest configurable", Window{HalfX: 10000, HalfY: 10000, HalfHeading: 180}, 20001 * 20001 * 361},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.w.Size())
		})
	}
}

// scorerFunc adapts a function to scoring.Scorer.
type scorerFunc func(localiser.Pose, scan.Scan) float64

func (f scorerFunc) Score(p localiser.Pose, s scan.Scan) float64 { return f(p, s) }

var oneRay = scan.Scan{Rays: []scan.Ray{{Range: 1}}}

func TestStep_MovesToBestCandidate(t *testing.T) {
	t.Parallel()
	target := localiser.Pose{X: 11, Y: 9, Heading: 2}
	sc := scorerFunc(func(p localiser.Pose, _ scan.Scan) float64 {
		if p == target {
			return 10
		}
		return 1
	})
	l := New(sc, localiser.Pose{X: 10, Y: 10}, Window{HalfX: 1, HalfY: 1, HalfHeading: 2})

	ts := time.Unix(100, 0)
	est := l.Step(scan.Scan{Timestamp: ts, Rays: oneRay.Rays})
	assert.Equal(t, target, est.Mean)
	assert.Equal(t, 10.0, est.Score)
	assert.Equal(t, 1, est.Cycle)
	assert.Equal(t, Name, est.Localiser)
	assert.Equal(t, ts, est.Timestamp)
	assert.Equal(t, 1, est.Rays)
	assert.Equal(t, target, l.Current())
}

func TestStep_TiesKeepFirstCandidate(t *testing.T) {
	t.Parallel()
	flat := scorerFunc(func(localiser.Pose, scan.Scan) float64 { return 3 })
	l := New(flat, localiser.Pose{X: 5, Y: 5, Heading: 0}, Window{HalfX: 1, HalfY: 1, HalfHeading: 1})

	est := l.Step(oneRay)
	assert.Equal(t, localiser.Pose{X: 4, Y: 4, Heading: -1}, est.Mean)
}

func TestStep_EmptyScanKeepsEstimate(t *testing.T) {
	t.Parallel()
	calls := 0
	sc := scorerFunc(func(localiser.Pose, scan.Scan) float64 { calls++; return 1 })
	start := localiser.Pose{X: 3, Y: 4, Heading: 5}
	l := New(sc, start, Window{HalfX: 2, HalfY: 2, HalfHeading: 2})

	est := l.Step(scan.Scan{})
	assert.Equal(t, start, est.Mean)
	assert.Zero(t, est.Score)
	assert.Zero(t, calls)
	assert.Equal(t, localiser.Variance{}, est.Variance)
}

func TestStep_NormalisesHeadingAcrossWrap(t *testing.T) {
	t.Parallel()
	sc := scorerFunc(func(p localiser.Pose, _ scan.Scan) float64 {
		if p.Heading == 181 {
			return 5
		}
		return 0
	})
	l := New(sc, localiser.Pose{Heading: 179}, Window{HalfHeading: 2})
	est := l.Step(oneRay)
	assert.Equal(t, -179.0, est.Mean.Heading)

	// Next lattice is centred on -179 and still covers the wrap.
	est = l.Step(oneRay)
	assert.GreaterOrEqual(t, est.Mean.Heading, -180.0)
	assert.LessOrEqual(t, est.Mean.Heading, 180.0)
}

func TestStep_SpreadReflectsScoreShape(t *testing.T) {
	t.Parallel()
	// Score depends on x only: every candidate shares the same y weight mass.
	sc := scorerFunc(func(p localiser.Pose, _ scan.Scan) float64 {
		if p.X == 0 {
			return 1
		}
		return 0
	})
	l := New(sc, localiser.Pose{}, Window{HalfX: 2, HalfY: 2})
	est := l.Step(oneRay)
	assert.Zero(t, est.Variance.X)
	assert.InDelta(t, 2.0, est.Variance.Y, 1e-12) // uniform over -2..2

	zero := New(scorerFunc(func(localiser.Pose, scan.Scan) float64 { return 0 }), localiser.Pose{}, Window{HalfX: 1})
	assert.Equal(t, localiser.Variance{}, zero.Step(oneRay).Variance)
}

func TestStep_Deterministic(t *testing.T) {
	t.Parallel()
	m, err := mapstore.BuildSurvivalPoolMap()
	require.NoError(t, err)
	s := scan.Scan{}
	for _, b := range scan.BearingTable(90, 0, scan.FullCircle) {
		s.Rays = append(s.Rays, scan.Ray{Range: 40, Bearing: b})
	}
	w := Window{HalfX: 2, HalfY: 2, HalfHeading: 3}
	start := localiser.Pose{X: 60, Y: 100, Heading: 10}

	a := New(scoring.MapScorer{Map: m}, start, w)
	b := New(scoring.MapScorer{Map: m}, start, w)
	for range 5 {
		ea, eb := a.Step(s), b.Step(s)
		if diff := cmp.Diff(ea, eb); diff != "" {
			t.Fatalf("runs diverged (-a +b):\n%s", diff)
		}
	}
}

func TestStep_ScenarioLitCell(t *testing.T) {
	t.Parallel()
	cells := make([]float64, 100)
	cells[5] = 255
	m, err := mapstore.New(10, 10, cells, 1)
	require.NoError(t, err)

	s := scan.Scan{Rays: []scan.Ray{{Range: 5, Bearing: 0}}}
	l := New(scoring.MapScorer{Map: m}, localiser.Pose{Heading: 180}, Window{HalfHeading: 180})
	est := l.Step(s)
	assert.Equal(t, 255.0, est.Score)
	assert.Equal(t, 0.0, est.Mean.Heading)
}
