// Package gridsearch localises by exhaustively scoring a small lattice of
// poses centred on the previous estimate.
package gridsearch

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
)

// Name identifies grid search estimates.
const Name = "grid"

// Window is the half extent of the search lattice in map units (x, y) and
// degrees (heading). The lattice spans c-half..c+half inclusive in unit steps.
type Window struct {
	HalfX       int `json:"half_x"`
	HalfY       int `json:"half_y"`
	HalfHeading int `json:"half_heading"`
}

// Size is the number of candidates a window generates. It saturates at
// math.MaxInt rather than overflowing.
func (w Window) Size() int {
	n := 1
	for _, half := range [...]int{w.HalfX, w.HalfY, w.HalfHeading} {
		if half < 0 {
			return 0
		}
		if half > (math.MaxInt-1)/2 {
			return math.MaxInt
		}
		side := 2*half + 1
		if n > math.MaxInt/side {
			return math.MaxInt
		}
		n *= side
	}
	return n
}

// GenerateCandidates returns the lattice around center, x outermost, then y,
// then heading. Headings are not normalised and speed is copied from center.
func GenerateCandidates(center localiser.Pose, w Window) []localiser.Pose {
	out := make([]localiser.Pose, 0, w.Size())
	for dx := -w.HalfX; dx <= w.HalfX; dx++ {
		for dy := -w.HalfY; dy <= w.HalfY; dy++ {
			for dh := -w.HalfHeading; dh <= w.HalfHeading; dh++ {
				out = append(out, localiser.Pose{
					X:       center.X + float64(dx),
					Y:       center.Y + float64(dy),
					Heading: center.Heading + float64(dh),
					Speed:   center.Speed,
				})
			}
		}
	}
	return out
}

// Localizer holds the single best pose and re-centres the lattice on it
// every cycle. It is not safe for concurrent use.
type Localizer struct {
	scorer  scoring.Scorer
	window  Window
	current localiser.Pose
	score   float64
	cycle   int

	// scratch buffers reused across cycles
	xs, ys, hs, ws []float64
}

// New creates a localiser starting from initial.
func New(scorer scoring.Scorer, initial localiser.Pose, w Window) *Localizer {
	n := w.Size()
	return &Localizer{
		scorer:  scorer,
		window:  w,
		current: initial.Normalized(),
		xs:      make([]float64, n),
		ys:      make([]float64, n),
		hs:      make([]float64, n),
		ws:      make([]float64, n),
	}
}

// Name implements the pipeline localiser contract.
func (l *Localizer) Name() string { return Name }

// Current returns the best pose so far.
func (l *Localizer) Current() localiser.Pose { return l.current }

// Step scores every candidate around the current pose and moves to the best
// one. Ties keep the earliest candidate in lattice order. A scan with no rays
// leaves the pose unchanged.
func (l *Localizer) Step(s scan.Scan) localiser.Estimate {
	l.cycle++
	if len(s.Rays) == 0 {
		l.score = 0
		return l.estimate(s, localiser.Variance{})
	}

	candidates := GenerateCandidates(l.current, l.window)
	best := 0
	bestScore := -1.0
	for i, c := range candidates {
		sc := l.scorer.Score(c, s)
		if sc > bestScore {
			best, bestScore = i, sc
		}
		l.xs[i], l.ys[i], l.hs[i], l.ws[i] = c.X, c.Y, c.Heading, sc
	}

	l.current = candidates[best].Normalized()
	l.score = bestScore
	return l.estimate(s, l.spread())
}

// spread is the score-weighted variance of the lattice, a diagnostic of how
// sharply the scan constrains each axis. All-zero scores give zero spread.
func (l *Localizer) spread() localiser.Variance {
	var total float64
	for _, w := range l.ws {
		total += w
	}
	if total <= 0 {
		return localiser.Variance{}
	}
	_, vx := stat.PopMeanVariance(l.xs, l.ws)
	_, vy := stat.PopMeanVariance(l.ys, l.ws)
	_, vh := stat.PopMeanVariance(l.hs, l.ws)
	return localiser.Variance{X: vx, Y: vy, Heading: vh}
}

func (l *Localizer) estimate(s scan.Scan, v localiser.Variance) localiser.Estimate {
	return localiser.Estimate{
		Localiser: Name,
		Cycle:     l.cycle,
		Timestamp: s.Timestamp,
		Mean:      l.current,
		Variance:  v,
		Score:     l.score,
		Rays:      len(s.Rays),
	}
}
