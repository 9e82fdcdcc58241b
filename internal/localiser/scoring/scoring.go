// Package scoring evaluates how well a scan fits the likelihood map from a
// hypothesised pose.
package scoring

import (
	"math"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/scan"
)

// Point is a ray endpoint in map units.
type Point struct {
	X, Y float64
}

// Scorer scores a scan under a pose. Higher is a better fit.
type Scorer interface {
	Score(p localiser.Pose, s scan.Scan) float64
}

// MapScorer scores against a likelihood map.
type MapScorer struct {
	Map *mapstore.LikelihoodMap
}

func (m MapScorer) Score(p localiser.Pose, s scan.Scan) float64 {
	return Score(m.Map, p, s)
}

// Score projects every ray from pose p into the map and sums the likelihood
// of the cells they land in. Endpoints off the map are clamped to the edge.
// The sum is not normalised by ray count; an empty scan scores 0.
func Score(m *mapstore.LikelihoodMap, p localiser.Pose, s scan.Scan) float64 {
	h := p.HeadingRadians()
	var total float64
	for _, r := range s.Rays {
		a := h + r.Bearing
		total += m.ScorePoint(p.X+r.Range*math.Cos(a), p.Y+r.Range*math.Sin(a))
	}
	return total
}

// Project returns the map-frame endpoint of every ray from pose p, unclamped.
func Project(p localiser.Pose, s scan.Scan) []Point {
	h := p.HeadingRadians()
	out := make([]Point, len(s.Rays))
	for i, r := range s.Rays {
		a := h + r.Bearing
		out[i] = Point{X: p.X + r.Range*math.Cos(a), Y: p.Y + r.Range*math.Sin(a)}
	}
	return out
}
