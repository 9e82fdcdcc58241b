package config

import (
	"math"
	"time"

	"github.com/amsl/laserloc/internal/localiser"
	"github.com/amsl/laserloc/internal/localiser/gridsearch"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/particle"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/units"
)

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetMode returns the localisation mode.
func (c *LocaliserConfig) GetMode() string { return getString(c.Mode, ModeBoth) }

// GetMapPath returns the likelihood map path; empty means the built-in pool.
func (c *LocaliserConfig) GetMapPath() string { return getString(c.MapPath, "") }

// GetMapOptions returns the map loading options.
func (c *LocaliserConfig) GetMapOptions() mapstore.Options {
	return mapstore.Options{
		Scale:  getFloat(c.MapScale, 1),
		Width:  getInt(c.MapWidth, 0),
		Height: getInt(c.MapHeight, 0),
	}
}

// GetInitialPose returns the initial pose guess. The default is the middle
// of the survival pool's open water, facing +x.
func (c *LocaliserConfig) GetInitialPose() localiser.Pose {
	return localiser.Pose{
		X:       getFloat(c.InitialX, 60),
		Y:       getFloat(c.InitialY, 150),
		Heading: getFloat(c.InitialHeading, 0),
		Speed:   getFloat(c.InitialSpeed, 0),
	}.Normalized()
}

// GetScanTag returns the log record tag that marks a scan.
func (c *LocaliserConfig) GetScanTag() string { return getString(c.ScanTag, scan.DefaultTag) }

// GetRayCount returns the expected samples per scan; 0 accepts any.
func (c *LocaliserConfig) GetRayCount() int { return getInt(c.RayCount, 0) }

// GetMinValidRange returns the smallest range kept, in sensor units.
func (c *LocaliserConfig) GetMinValidRange() float64 { return getFloat(c.MinValidRange, 1) }

// GetRangeUnit returns the sensor range unit.
func (c *LocaliserConfig) GetRangeUnit() string { return getString(c.RangeUnit, units.Raw) }

// GetCellsPerMetre returns the map resolution.
func (c *LocaliserConfig) GetCellsPerMetre() float64 { return getFloat(c.CellsPerMetre, 1) }

// GetAdapterConfig builds the scan adapter settings.
func (c *LocaliserConfig) GetAdapterConfig() (scan.AdapterConfig, error) {
	scale, err := units.MapRangeScale(c.GetRangeUnit(), c.GetCellsPerMetre())
	if err != nil {
		return scan.AdapterConfig{}, err
	}
	return scan.AdapterConfig{
		RayCount:      c.GetRayCount(),
		StartRad:      getFloat(c.RayStartDeg, 0) * math.Pi / 180,
		SpanRad:       getFloat(c.RaySpanDeg, 360) * math.Pi / 180,
		MinValidRange: c.GetMinValidRange(),
		RangeScale:    scale,
	}, nil
}

// GetWindow returns the grid search half extents.
func (c *LocaliserConfig) GetWindow() gridsearch.Window {
	return gridsearch.Window{
		HalfX:       getInt(c.WindowHalfX, 5),
		HalfY:       getInt(c.WindowHalfY, 5),
		HalfHeading: getInt(c.WindowHalfHeading, 10),
	}
}

func (s *StdConfig) get(def particle.Std) particle.Std {
	if s == nil {
		return def
	}
	return particle.Std{
		X:       getFloat(s.X, def.X),
		Y:       getFloat(s.Y, def.Y),
		Heading: getFloat(s.Heading, def.Heading),
		Speed:   getFloat(s.Speed, def.Speed),
	}
}

// GetParticleConfig builds the particle filter settings.
func (c *LocaliserConfig) GetParticleConfig() particle.Config {
	def := particle.DefaultConfig()
	seed := def.Seed
	if c.Seed != nil {
		seed = *c.Seed
	}
	return particle.Config{
		Particles:    getInt(c.Particles, def.Particles),
		InitStd:      c.InitStd.get(def.InitStd),
		JitterStd:    c.JitterStd.get(def.JitterStd),
		WeightFloor:  getFloat(c.WeightFloor, def.WeightFloor),
		Resample:     particle.ResamplePolicy(getString(c.ResamplePolicy, string(def.Resample))),
		ESSThreshold: getFloat(c.ESSThreshold, def.ESSThreshold),
		Seed:         seed,
	}
}

// GetCycleBudget returns the per-cycle time budget; 0 disables the check.
func (c *LocaliserConfig) GetCycleBudget() time.Duration {
	if c.CycleBudget == nil || *c.CycleBudget == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.CycleBudget)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}

// DefaultLocaliserConfig returns a config with every field set to the value
// the Get* accessors fall back to. It mirrors DefaultConfigPath.
func DefaultLocaliserConfig() *LocaliserConfig {
	def := particle.DefaultConfig()
	std := func(s particle.Std) *StdConfig {
		return &StdConfig{X: ptrFloat64(s.X), Y: ptrFloat64(s.Y), Heading: ptrFloat64(s.Heading), Speed: ptrFloat64(s.Speed)}
	}
	return &LocaliserConfig{
		Mode:              ptrString(ModeBoth),
		MapScale:          ptrFloat64(1),
		MapWidth:          ptrInt(0),
		MapHeight:         ptrInt(0),
		InitialX:          ptrFloat64(60),
		InitialY:          ptrFloat64(150),
		InitialHeading:    ptrFloat64(0),
		InitialSpeed:      ptrFloat64(0),
		ScanTag:           ptrString(scan.DefaultTag),
		RayCount:          ptrInt(0),
		RayStartDeg:       ptrFloat64(0),
		RaySpanDeg:        ptrFloat64(360),
		MinValidRange:     ptrFloat64(1),
		RangeUnit:         ptrString(units.Raw),
		CellsPerMetre:     ptrFloat64(1),
		WindowHalfX:       ptrInt(5),
		WindowHalfY:       ptrInt(5),
		WindowHalfHeading: ptrInt(10),
		Particles:         ptrInt(def.Particles),
		InitStd:           std(def.InitStd),
		JitterStd:         std(def.JitterStd),
		WeightFloor:       ptrFloat64(def.WeightFloor),
		ResamplePolicy:    ptrString(string(def.Resample)),
		ESSThreshold:      ptrFloat64(def.ESSThreshold),
		Seed:              ptrUint64(def.Seed),
		CycleBudget:       ptrString("200ms"),
	}
}
