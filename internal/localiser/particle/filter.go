package particle

import (
	"fmt"
	"math/rand/v2"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
)

// Name identifies particle filter estimates.
const Name = "pf"

// ResamplePolicy selects when the population is resampled.
type ResamplePolicy string

const (
	// ResampleAlways resamples every cycle.
	ResampleAlways ResamplePolicy = "always"
	// ResampleESS resamples only when the effective sample size drops below
	// ESSThreshold·N.
	ResampleESS ResamplePolicy = "ess"
)

// Config parameterises a Filter.
type Config struct {
	Particles    int
	InitStd      Std
	JitterStd    Std
	WeightFloor  float64
	Resample     ResamplePolicy
	ESSThreshold float64
	Seed         uint64
}

// DefaultConfig returns the settings used for the survival pool trials.
func DefaultConfig() Config {
	return Config{
		Particles:    1000,
		InitStd:      Std{X: 10, Y: 10, Heading: 10, Speed: 0},
		JitterStd:    Std{X: 0.25, Y: 0.25, Heading: 0.25, Speed: 0.25},
		WeightFloor:  DefaultWeightFloor,
		Resample:     ResampleAlways,
		ESSThreshold: 0.5,
		Seed:         1,
	}
}

// Filter runs the score, update, estimate, resample, predict, jitter cycle.
// It is not safe for concurrent use.
type Filter struct {
	scorer scoring.Scorer
	cfg    Config
	rng    *rand.Rand
	state  ParticleFilterState

	resampled int
}

// New seeds a filter around initial.
func New(scorer scoring.Scorer, initial localiser.Pose, cfg Config) (*Filter, error) {
	if cfg.Particles <= 0 {
		return nil, fmt.Errorf("particle count must be positive, got %d", cfg.Particles)
	}
	switch cfg.Resample {
	case "":
		cfg.Resample = ResampleAlways
	case ResampleAlways, ResampleESS:
	default:
		return nil, fmt.Errorf("unknown resample policy %q", cfg.Resample)
	}
	if cfg.ESSThreshold < 0 || cfg.ESSThreshold > 1 {
		return nil, fmt.Errorf("ESS threshold must be in [0,1], got %v", cfg.ESSThreshold)
	}
	if cfg.WeightFloor < 0 {
		return nil, fmt.Errorf("weight floor must be non-negative, got %v", cfg.WeightFloor)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	return &Filter{
		scorer: scorer,
		cfg:    cfg,
		rng:    rng,
		state:  Seed(rng, initial, cfg.InitStd, cfg.Particles),
	}, nil
}

// Name implements the pipeline localiser contract.
func (f *Filter) Name() string { return Name }

// State returns a copy of the current population.
func (f *Filter) State() ParticleFilterState { return f.state.Clone() }

// Resamples counts the cycles that resampled.
func (f *Filter) Resamples() int { return f.resampled }

// Step runs one filter cycle. The estimate is taken after the weight update
// and before resampling. Scans without rays carry no evidence, so the
// weights are left alone and only the motion steps run.
func (f *Filter) Step(s scan.Scan) localiser.Estimate {
	f.state.Cycle++
	if len(s.Rays) > 0 {
		f.state = UpdateWeights(f.state, ScoreAll(f.state, f.scorer, s), f.cfg.WeightFloor)
	}

	mean, variance := EstimateOf(f.state)
	var score float64
	if len(s.Rays) > 0 {
		score = f.scorer.Score(mean, s)
	}
	est := localiser.Estimate{
		Localiser: Name,
		Cycle:     f.state.Cycle,
		Timestamp: s.Timestamp,
		Mean:      mean,
		Variance:  variance,
		Score:     score,
		Rays:      len(s.Rays),
	}

	if f.shouldResample() {
		f.state = Resample(f.state, f.rng)
		f.resampled++
	}
	f.state = Jitter(Predict(f.state), f.rng, f.cfg.JitterStd)
	return est
}

func (f *Filter) shouldResample() bool {
	if f.cfg.Resample == ResampleAlways {
		return true
	}
	return EffectiveSampleSize(f.state) < f.cfg.ESSThreshold*float64(f.state.Len())
}
