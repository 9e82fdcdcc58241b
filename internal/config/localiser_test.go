package config

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/gridsearch"
	"github.com/amsl/laserloc/internal/localiser/particle"
	"github.com/amsl/laserloc/internal/units"
)

func TestDefaultsFileMatchesCode(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultLocaliserConfig(), fromFile); diff != "" {
		t.Errorf("%s drifted from DefaultLocaliserConfig (-code +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	t.Parallel()
	cfg := EmptyLocaliserConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeBoth, cfg.GetMode())
	assert.Equal(t, "", cfg.GetMapPath())
	assert.Equal(t, 1.0, cfg.GetMapOptions().Scale)
	assert.Equal(t, localiser.Pose{X: 60, Y: 150}, cfg.GetInitialPose())
	assert.Equal(t, "LIDAR", cfg.GetScanTag())
	assert.Equal(t, gridsearch.Window{HalfX: 5, HalfY: 5, HalfHeading: 10}, cfg.GetWindow())
	assert.Equal(t, particle.DefaultConfig(), cfg.GetParticleConfig())
	assert.Zero(t, cfg.GetCycleBudget())

	ac, err := cfg.GetAdapterConfig()
	require.NoError(t, err)
	assert.Equal(t, 1.0, ac.RangeScale)
	assert.Equal(t, 1.0, ac.MinValidRange)
	assert.InDelta(t, 2*math.Pi, ac.SpanRad, 1e-12)
}

// Every accessor on the full default config must agree with the empty one.
func TestDefaultConfigAgreesWithFallbacks(t *testing.T) {
	t.Parallel()
	full, empty := DefaultLocaliserConfig(), EmptyLocaliserConfig()
	assert.Equal(t, empty.GetMode(), full.GetMode())
	assert.Equal(t, empty.GetInitialPose(), full.GetInitialPose())
	assert.Equal(t, empty.GetWindow(), full.GetWindow())
	assert.Equal(t, empty.GetParticleConfig(), full.GetParticleConfig())
	a1, _ := empty.GetAdapterConfig()
	a2, _ := full.GetAdapterConfig()
	assert.Equal(t, a1, a2)
	assert.Equal(t, 200*time.Millisecond, full.GetCycleBudget())
}

func TestLoad_JSONAndYAML(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("c.json", []byte(`{
		"mode": "pf",
		"particles": 2000,
		"init_std": {"x": 3},
		"range_unit": "cm",
		"cells_per_metre": 10,
		"initial_heading": 270
	}`), 0644))
	require.NoError(t, mfs.WriteFile("c.yaml", []byte(`
mode: grid
window_half_x: 2
window_half_heading: 4
resample_policy: ess
seed: 7
cycle_budget: 50ms
`), 0644))

	cfg, err := Load(mfs, "c.json")
	require.NoError(t, err)
	assert.Equal(t, ModePF, cfg.GetMode())
	pc := cfg.GetParticleConfig()
	assert.Equal(t, 2000, pc.Particles)
	assert.Equal(t, 3.0, pc.InitStd.X)
	assert.Equal(t, particle.DefaultConfig().InitStd.Y, pc.InitStd.Y)
	assert.Equal(t, -90.0, cfg.GetInitialPose().Heading)
	ac, err := cfg.GetAdapterConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, ac.RangeScale, 1e-12)

	cfg, err = Load(mfs, "c.yaml")
	require.NoError(t, err)
	assert.Equal(t, ModeGrid, cfg.GetMode())
	assert.Equal(t, gridsearch.Window{HalfX: 2, HalfY: 5, HalfHeading: 4}, cfg.GetWindow())
	assert.Equal(t, particle.ResampleESS, cfg.GetParticleConfig().Resample)
	assert.Equal(t, uint64(7), cfg.GetParticleConfig().Seed)
	assert.Equal(t, 50*time.Millisecond, cfg.GetCycleBudget())
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	files := map[string]string{
		"bad.json":      `{"particles": `,
		"bad.yaml":      "mode: [",
		"mode.json":     `{"mode": "slam"}`,
		"neg.json":      `{"particles": -1}`,
		"std.json":      `{"jitter_std": {"heading": -0.1}}`,
		"unit.json":     `{"range_unit": "furlong"}`,
		"budget.json":   `{"cycle_budget": "soon"}`,
		"ess.yaml":      "ess_threshold: 1.5",
		"span.json":     `{"ray_span_deg": 400}`,
		"window.json":   `{"window_half_x": 1000, "window_half_y": 1000}`,
		"halfx.json":    `{"window_half_x": 4611686018427387904}`,
		"halfy.yaml":    "window_half_y: 10001",
		"heading.json":  `{"window_half_heading": 181}`,
		"oneray.json":   `{"ray_count": 1, "ray_span_deg": 90}`,
		"config.toml":   "",
		"policy.json":   `{"resample_policy": "never"}`,
		"cellsize.json": `{"cells_per_metre": -2}`,
	}
	for name, body := range files {
		require.NoError(t, mfs.WriteFile(name, []byte(body), 0644))
	}
	for name := range files {
		t.Run(name, func(t *testing.T) {
			_, err := Load(mfs, name)
			assert.Error(t, err)
		})
	}
	_, err := Load(mfs, "missing.json")
	assert.Error(t, err)
}

func TestLoad_TooLarge(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("big.json", make([]byte, maxFileSize+1), 0644))
	_, err := Load(mfs, "big.json")
	assert.ErrorContains(t, err, "too large")
}

func TestLoad_OSFileSystem(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yml")
	require.NoError(t, fsutil.OSFileSystem{}.WriteFile(path, []byte("range_unit: mm\ncells_per_metre: 2\n"), 0644))
	cfg, err := Load(fsutil.OSFileSystem{}, path)
	require.NoError(t, err)
	assert.Equal(t, units.Millimetre, cfg.GetRangeUnit())
	ac, err := cfg.GetAdapterConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.002, ac.RangeScale, 1e-12)
}

func TestValidate_WindowBounds(t *testing.T) {
	t.Parallel()
	cfg := EmptyLocaliserConfig()
	cfg.WindowHalfX = ptrInt(math.MaxInt / 2)
	assert.Error(t, cfg.Validate())

	// Within every per-field bound but still too many candidates.
	cfg.WindowHalfX = ptrInt(10000)
	cfg.WindowHalfY = ptrInt(10000)
	cfg.WindowHalfHeading = ptrInt(180)
	assert.ErrorContains(t, cfg.Validate(), "candidates")

	cfg.WindowHalfY = ptrInt(0)
	cfg.WindowHalfHeading = ptrInt(0)
	assert.NoError(t, cfg.Validate())
}

func TestMerge(t *testing.T) {
	t.Parallel()
	base := DefaultLocaliserConfig()
	require.NoError(t, base.Merge(&LocaliserConfig{
		Particles: ptrInt(42),
		JitterStd: &StdConfig{Heading: ptrFloat64(1)},
	}))
	assert.Equal(t, 42, base.GetParticleConfig().Particles)
	assert.Equal(t, 1.0, base.GetParticleConfig().JitterStd.Heading)
	assert.Equal(t, 0.25, base.GetParticleConfig().JitterStd.X, "unset nested fields survive")
	assert.Equal(t, ModeBoth, base.GetMode())

	require.NoError(t, base.Merge(nil))
	assert.Equal(t, 42, base.GetParticleConfig().Particles)
}
