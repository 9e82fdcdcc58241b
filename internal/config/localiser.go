// Package config loads the localiser configuration.
//
// Every field is optional: a nil pointer means "use the default", which the
// Get* accessors supply. The canonical defaults live in DefaultConfigPath so
// a partial file only needs the values it changes.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/units"
)

// DefaultConfigPath is the path to the canonical localiser defaults file.
const DefaultConfigPath = "config/localiser.defaults.json"

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024

// maxCandidates bounds the grid search lattice per scan.
const maxCandidates = 5_000_000

// Localisation modes.
const (
	ModeGrid = "grid"
	ModePF   = "pf"
	ModeBoth = "both"
)

// StdConfig is a per-dimension standard deviation. Heading is in degrees.
type StdConfig struct {
	X       *float64 `json:"x,omitempty" yaml:"x,omitempty" validate:"omitempty,gte=0"`
	Y       *float64 `json:"y,omitempty" yaml:"y,omitempty" validate:"omitempty,gte=0"`
	Heading *float64 `json:"heading,omitempty" yaml:"heading,omitempty" validate:"omitempty,gte=0"`
	Speed   *float64 `json:"speed,omitempty" yaml:"speed,omitempty" validate:"omitempty,gte=0"`
}

// LocaliserConfig is the root configuration.
type LocaliserConfig struct {
	Mode *string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=grid pf both"`

	// Map
	MapPath   *string  `json:"map_path,omitempty" yaml:"map_path,omitempty"`
	MapScale  *float64 `json:"map_scale,omitempty" yaml:"map_scale,omitempty" validate:"omitempty,gt=0"`
	MapWidth  *int     `json:"map_width,omitempty" yaml:"map_width,omitempty" validate:"omitempty,gte=0"`
	MapHeight *int     `json:"map_height,omitempty" yaml:"map_height,omitempty" validate:"omitempty,gte=0"`

	// Initial pose guess
	InitialX       *float64 `json:"initial_x,omitempty" yaml:"initial_x,omitempty"`
	InitialY       *float64 `json:"initial_y,omitempty" yaml:"initial_y,omitempty"`
	InitialHeading *float64 `json:"initial_heading,omitempty" yaml:"initial_heading,omitempty"`
	InitialSpeed   *float64 `json:"initial_speed,omitempty" yaml:"initial_speed,omitempty" validate:"omitempty,gte=0"`

	// Scan adapter
	ScanTag       *string  `json:"scan_tag,omitempty" yaml:"scan_tag,omitempty"`
	RayCount      *int     `json:"ray_count,omitempty" yaml:"ray_count,omitempty" validate:"omitempty,gte=0"`
	RayStartDeg   *float64 `json:"ray_start_deg,omitempty" yaml:"ray_start_deg,omitempty"`
	RaySpanDeg    *float64 `json:"ray_span_deg,omitempty" yaml:"ray_span_deg,omitempty" validate:"omitempty,gt=0,lte=360"`
	MinValidRange *float64 `json:"min_valid_range,omitempty" yaml:"min_valid_range,omitempty" validate:"omitempty,gte=0"`
	RangeUnit     *string  `json:"range_unit,omitempty" yaml:"range_unit,omitempty"`
	CellsPerMetre *float64 `json:"cells_per_metre,omitempty" yaml:"cells_per_metre,omitempty" validate:"omitempty,gt=0"`

	// Grid search
	WindowHalfX       *int `json:"window_half_x,omitempty" yaml:"window_half_x,omitempty" validate:"omitempty,gte=0,lte=10000"`
	WindowHalfY       *int `json:"window_half_y,omitempty" yaml:"window_half_y,omitempty" validate:"omitempty,gte=0,lte=10000"`
	WindowHalfHeading *int `json:"window_half_heading,omitempty" yaml:"window_half_heading,omitempty" validate:"omitempty,gte=0,lte=180"`

	// Particle filter
	Particles      *int       `json:"particles,omitempty" yaml:"particles,omitempty" validate:"omitempty,gt=0"`
	InitStd        *StdConfig `json:"init_std,omitempty" yaml:"init_std,omitempty"`
	JitterStd      *StdConfig `json:"jitter_std,omitempty" yaml:"jitter_std,omitempty"`
	WeightFloor    *float64   `json:"weight_floor,omitempty" yaml:"weight_floor,omitempty" validate:"omitempty,gte=0"`
	ResamplePolicy *string    `json:"resample_policy,omitempty" yaml:"resample_policy,omitempty" validate:"omitempty,oneof=always ess"`
	ESSThreshold   *float64   `json:"ess_threshold,omitempty" yaml:"ess_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Seed           *uint64    `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Pipeline
	CycleBudget *string `json:"cycle_budget,omitempty" yaml:"cycle_budget,omitempty"` // duration string like "100ms"
}

// EmptyLocaliserConfig returns a config with every field unset.
func EmptyLocaliserConfig() *LocaliserConfig {
	return &LocaliserConfig{}
}

// Load reads a LocaliserConfig from a .json, .yaml or .yml file and
// validates it. Omitted fields keep their defaults.
func Load(fsys fsutil.FileSystem, path string) (*LocaliserConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyLocaliserConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. It panics when the file is missing; use it in tests.
func MustLoadDefaultConfig() *LocaliserConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(fsutil.OSFileSystem{}, path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var validate = validator.New()

// Validate checks field ranges and the cross-field constraints struct tags
// cannot express.
func (c *LocaliserConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.RangeUnit != nil && !units.IsValid(*c.RangeUnit) {
		return fmt.Errorf("invalid range_unit %q: must be one of %s", *c.RangeUnit, units.GetValidUnitsString())
	}
	if c.CycleBudget != nil && *c.CycleBudget != "" {
		if _, err := time.ParseDuration(*c.CycleBudget); err != nil {
			return fmt.Errorf("invalid cycle_budget '%s': %w", *c.CycleBudget, err)
		}
	}
	if n := c.GetWindow().Size(); n > maxCandidates {
		return fmt.Errorf("grid search window yields %d candidates per scan (max %d)", n, maxCandidates)
	}
	if c.RayCount != nil && *c.RayCount == 1 && c.RaySpanDeg != nil {
		return fmt.Errorf("ray_span_deg is meaningless with a single ray")
	}
	return nil
}

// Merge overlays the set fields of other onto c.
func (c *LocaliserConfig) Merge(other *LocaliserConfig) error {
	if other == nil {
		return nil
	}
	data, err := json.Marshal(other)
	if err != nil {
		return fmt.Errorf("failed to encode config overlay: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to apply config overlay: %w", err)
	}
	return nil
}
