package particle

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/localiser/scoring"
	"github.com/amsl/laserloc/internal/testutil"
)

type constScorer float64

func (c constScorer) Score(localiser.Pose, scan.Scan) float64 { return float64(c) }

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	base := DefaultConfig()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero particles", func(c *Config) { c.Particles = 0 }},
		{"bad policy", func(c *Config) { c.Resample = "sometimes" }},
		{"threshold above one", func(c *Config) { c.ESSThreshold = 1.5 }},
		{"negative floor", func(c *Config) { c.WeightFloor = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(constScorer(1), localiser.Pose{}, cfg)
			assert.Error(t, err)
		})
	}

	cfg := base
	cfg.Resample = ""
	f, err := New(constScorer(1), localiser.Pose{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, Name, f.Name())
	assert.Equal(t, cfg.Particles, f.State().Len())
}

func TestFilter_StepInvariants(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Particles = 200
	f, err := New(constScorer(2), localiser.Pose{X: 10, Y: 10}, cfg)
	require.NoError(t, err)

	s := scan.Scan{Timestamp: time.Unix(5, 0), Rays: []scan.Ray{{Range: 1}}}
	for i := 1; i <= 5; i++ {
		est := f.Step(s)
		assert.Equal(t, i, est.Cycle)
		assert.Equal(t, Name, est.Localiser)
		assert.Equal(t, s.Timestamp, est.Timestamp)
		assert.Equal(t, 2.0, est.Score)
		assert.Greater(t, est.Mean.Heading, -180.0)
		assert.LessOrEqual(t, est.Mean.Heading, 180.0)

		st := f.State()
		require.Equal(t, 200, st.Len())
		assert.InDelta(t, 1.0, weightSum(st), 1e-9)
		for _, p := range st.Particles {
			assert.Equal(t, 1.0/200, p.Weight)
			assert.GreaterOrEqual(t, p.Pose.Speed, 0.0)
		}
	}
	assert.Equal(t, 5, f.Resamples())
}

func TestFilter_EmptyScanSkipsUpdate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Particles = 50
	cfg.Resample = ResampleESS
	cfg.JitterStd = Std{X: 0.5}
	f, err := New(constScorer(0), localiser.Pose{}, cfg)
	require.NoError(t, err)
	before := f.State()

	est := f.Step(scan.Scan{})
	assert.Zero(t, est.Score)
	assert.Zero(t, est.Rays)

	after := f.State()
	assert.Equal(t, 1, after.Cycle)
	assert.Zero(t, f.Resamples(), "uniform weights keep ESS at N")
	for i := range after.Particles {
		assert.Equal(t, before.Particles[i].Weight, after.Particles[i].Weight)
		assert.NotEqual(t, before.Particles[i].Pose.X, after.Particles[i].Pose.X, "jitter still runs")
	}
}

func TestFilter_ESSPolicyResamplesWhenDegenerate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Particles = 100
	cfg.Resample = ResampleESS
	cfg.ESSThreshold = 0.5
	// Only particles right of the initial pose score, so weights collapse.
	sc := scorerFunc(func(p localiser.Pose, _ scan.Scan) float64 {
		if p.X > 12 {
			return 1
		}
		return 0
	})
	f, err := New(sc, localiser.Pose{X: 0}, cfg)
	require.NoError(t, err)
	f.Step(scan.Scan{Rays: []scan.Ray{{Range: 1}}})
	assert.Equal(t, 1, f.Resamples())
}

type scorerFunc func(localiser.Pose, scan.Scan) float64

func (f scorerFunc) Score(p localiser.Pose, s scan.Scan) float64 { return f(p, s) }

func TestFilter_Reproducible(t *testing.T) {
	t.Parallel()
	world := testutil.PoolWorld(t)
	truth := localiser.Pose{X: 60, Y: 150}
	s := world.Scan(truth, 60)

	cfg := DefaultConfig()
	cfg.Particles = 300
	cfg.Seed = 99
	a, err := New(scoring.MapScorer{Map: world.Map}, truth, cfg)
	require.NoError(t, err)
	b, err := New(scoring.MapScorer{Map: world.Map}, truth, cfg)
	require.NoError(t, err)
	for range 3 {
		if diff := cmp.Diff(a.Step(s), b.Step(s)); diff != "" {
			t.Fatalf("same seed diverged (-a +b):\n%s", diff)
		}
	}
}

// A stationary vehicle in the pool: the cloud seeded around the true pose
// tightens over the first cycles and stays on the truth.
func TestFilter_ConvergesOnStaticPose(t *testing.T) {
	t.Parallel()
	world := testutil.PoolWorld(t)
	truth := localiser.Pose{X: 60, Y: 150, Heading: 0}
	s := world.Scan(truth, 180)
	require.NotEmpty(t, s.Rays)

	cfg := Config{
		Particles:   2000,
		InitStd:     Std{X: 3, Y: 3, Heading: 2},
		JitterStd:   Std{X: 0.1, Y: 0.1, Heading: 0.1},
		WeightFloor: DefaultWeightFloor,
		Resample:    ResampleAlways,
		Seed:        42,
	}
	f, err := New(scoring.MapScorer{Map: world.Map}, truth, cfg)
	require.NoError(t, err)

	var ests []localiser.Estimate
	for range 50 {
		ests = append(ests, f.Step(s))
	}

	spread := func(e localiser.Estimate) float64 { return e.Variance.X + e.Variance.Y }
	assert.Greater(t, spread(ests[0]), spread(ests[1]))
	assert.Greater(t, spread(ests[1]), spread(ests[2]))

	last := ests[len(ests)-1]
	assert.Less(t, math.Abs(last.Mean.X-truth.X), cfg.InitStd.X, "x: %v", last.Mean)
	assert.Less(t, math.Abs(last.Mean.Y-truth.Y), cfg.InitStd.Y, "y: %v", last.Mean)
	assert.Less(t, math.Abs(localiser.HeadingDelta(last.Mean.Heading, truth.Heading)), cfg.InitStd.Heading, "heading: %v", last.Mean)
	assert.Less(t, spread(last), spread(ests[0]))
}
