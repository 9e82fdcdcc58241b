// Package particle implements a sequential Monte Carlo localiser over
// (x, y, heading, speed).
//
// The filter state is an explicit ParticleFilterState value. The step
// functions in this file operate on it in place and return it, so a cycle
// reads as
//
//	state = UpdateWeights(state, ScoreAll(state, scorer, scan), floor)
//	mean, variance := EstimateOf(state)
//	state = Resample(state, rng)
//	state = Jitter(Predict(state), rng, std)
//
// All randomness is drawn from the *rand.Rand passed in, so a fixed seed
// reproduces a run exactly.
package particle

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
)

// DefaultWeightFloor is added to every weight after the likelihood update so
// an all-zero likelihood still normalises.
const DefaultWeightFloor = 1e-300

// Particle is one weighted pose hypothesis.
type Particle struct {
	Pose   localiser.Pose
	Weight float64
}

// ParticleFilterState is the population owned by a single filter. Particles
// never changes length after seeding.
type ParticleFilterState struct {
	Particles []Particle
	Cycle     int
}

// Len is the population size.
func (s ParticleFilterState) Len() int { return len(s.Particles) }

// Weights returns a copy of the particle weights.
func (s ParticleFilterState) Weights() []float64 {
	w := make([]float64, len(s.Particles))
	for i, p := range s.Particles {
		w[i] = p.Weight
	}
	return w
}

// Clone returns a deep copy.
func (s ParticleFilterState) Clone() ParticleFilterState {
	return ParticleFilterState{
		Particles: append([]Particle(nil), s.Particles...),
		Cycle:     s.Cycle,
	}
}

// Std is a per-dimension standard deviation. Heading is in degrees.
type Std struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
}

func normal(rng *rand.Rand, mu, sigma float64) distuv.Normal {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: rng}
}

// Seed draws n particles around initial with independent normal noise per
// dimension. Speeds are folded to be non-negative, headings are normalised
// and every weight is 1/n.
func Seed(rng *rand.Rand, initial localiser.Pose, std Std, n int) ParticleFilterState {
	dx := normal(rng, initial.X, std.X)
	dy := normal(rng, initial.Y, std.Y)
	dh := normal(rng, initial.Heading, std.Heading)
	dv := normal(rng, initial.Speed, std.Speed)

	ps := make([]Particle, n)
	for i := range ps {
		ps[i].Pose.X = dx.Rand()
	}
	for i := range ps {
		ps[i].Pose.Y = dy.Rand()
	}
	for i := range ps {
		ps[i].Pose.Heading = localiser.NormalizeHeading(dh.Rand())
	}
	for i := range ps {
		ps[i].Pose.Speed = math.Abs(dv.Rand())
		ps[i].Weight = 1 / float64(n)
	}
	return ParticleFilterState{Particles: ps}
}

// ScoreAll returns the scan likelihood of every particle.
func ScoreAll(state ParticleFilterState, scorer scoring.Scorer, s scan.Scan) []float64 {
	out := make([]float64, len(state.Particles))
	for i, p := range state.Particles {
		out[i] = scorer.Score(p.Pose, s)
	}
	return out
}

// UpdateWeights multiplies each weight by its likelihood, adds floor and
// renormalises so the weights sum to 1. Negative or NaN likelihoods count as
// zero.
func UpdateWeights(state ParticleFilterState, likelihood []float64, floor float64) ParticleFilterState {
	if len(likelihood) != len(state.Particles) {
		panic("particle: likelihood length does not match population")
	}
	var sum float64
	for i := range state.Particles {
		l := likelihood[i]
		if !(l > 0) || math.IsInf(l, 0) {
			l = 0
		}
		w := state.Particles[i].Weight*l + floor
		state.Particles[i].Weight = w
		sum += w
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		return resetWeights(state)
	}
	for i := range state.Particles {
		state.Particles[i].Weight /= sum
	}
	return state
}

// EstimateOf returns the weighted mean and variance of the population.
// Heading statistics are computed on deviations from the weighted circular
// mean, so a cloud straddling ±180 is handled and an unwrapped cloud gives the
// plain weighted mean and variance.
func EstimateOf(state ParticleFilterState) (localiser.Pose, localiser.Variance) {
	n := len(state.Particles)
	if n == 0 {
		return localiser.Pose{}, localiser.Variance{}
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	hs := make([]float64, n)
	vs := make([]float64, n)
	ws := make([]float64, n)
	for i, p := range state.Particles {
		xs[i], ys[i], vs[i], ws[i] = p.Pose.X, p.Pose.Y, p.Pose.Speed, p.Weight
		hs[i] = p.Pose.HeadingRadians()
	}
	if floats.Sum(ws) <= 0 {
		ws = nil
	}

	var mean localiser.Pose
	var v localiser.Variance
	mean.X, v.X = stat.PopMeanVariance(xs, ws)
	mean.Y, v.Y = stat.PopMeanVariance(ys, ws)
	mean.Speed, v.Speed = stat.PopMeanVariance(vs, ws)

	// Deviations from the circular mean are wrap-free, so their linear
	// statistics give the heading mean and variance.
	c := localiser.NormalizeHeading(stat.CircularMean(hs, ws) * 180 / math.Pi)
	for i, p := range state.Particles {
		hs[i] = localiser.HeadingDelta(p.Pose.Heading, c)
	}
	dm, dv := stat.PopMeanVariance(hs, ws)
	mean.Heading = localiser.NormalizeHeading(c + dm)
	v.Heading = dv
	return mean, v
}

// EffectiveSampleSize is 1/Σw², between 1 and N for normalised weights.
func EffectiveSampleSize(state ParticleFilterState) float64 {
	var sq float64
	for _, p := range state.Particles {
		sq += p.Weight * p.Weight
	}
	if sq == 0 {
		return 0
	}
	return 1 / sq
}

// Resample draws a new population of the same size by multinomial sampling
// on the weights and resets every weight to 1/N.
func Resample(state ParticleFilterState, rng *rand.Rand) ParticleFilterState {
	n := len(state.Particles)
	if n == 0 {
		return state
	}
	cum := floats.CumSum(make([]float64, n), state.Weights())
	cum[n-1] = 1

	next := make([]Particle, n)
	for i := range next {
		j := sort.SearchFloat64s(cum, rng.Float64())
		if j >= n {
			j = n - 1
		}
		next[i] = state.Particles[j]
	}
	copy(state.Particles, next)
	return resetWeights(state)
}

// Predict moves every particle along its heading by its speed.
func Predict(state ParticleFilterState) ParticleFilterState {
	for i := range state.Particles {
		p := &state.Particles[i].Pose
		h := p.HeadingRadians()
		p.X += p.Speed * math.Cos(h)
		p.Y += p.Speed * math.Sin(h)
	}
	return state
}

// Jitter adds independent normal noise to heading, x, y and speed. Headings
// are renormalised and speeds clamped at zero.
func Jitter(state ParticleFilterState, rng *rand.Rand, std Std) ParticleFilterState {
	dh := normal(rng, 0, std.Heading)
	dx := normal(rng, 0, std.X)
	dy := normal(rng, 0, std.Y)
	dv := normal(rng, 0, std.Speed)

	ps := state.Particles
	for i := range ps {
		ps[i].Pose.Heading = localiser.NormalizeHeading(ps[i].Pose.Heading + dh.Rand())
	}
	for i := range ps {
		ps[i].Pose.X += dx.Rand()
	}
	for i := range ps {
		ps[i].Pose.Y += dy.Rand()
	}
	for i := range ps {
		ps[i].Pose.Speed = math.Max(0, ps[i].Pose.Speed+dv.Rand())
	}
	return state
}

func resetWeights(state ParticleFilterState) ParticleFilterState {
	w := 1 / float64(len(state.Particles))
	for i := range state.Particles {
		state.Particles[i].Weight = w
	}
	return state
}
