package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/amsl/laserloc/internal/config"
	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser/gridsearch"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/monitor"
	"github.com/amsl/laserloc/internal/localiser/particle"
	"github.com/amsl/laserloc/internal/localiser/pipeline"
	"github.com/amsl/laserloc/internal/localiser/scoring"
	"github.com/amsl/laserloc/internal/security"
)

// overrides carries the command-line values that take precedence over the
// config file when their flag was given.
type overrides struct {
	Map     string
	Mode    string
	X       float64
	Y       float64
	Heading float64
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(fsys fsutil.FileSystem, path string) (*config.LocaliserConfig, error) {
	if path == "" {
		return config.DefaultLocaliserConfig(), nil
	}
	return config.Load(fsys, path)
}

// applyOverrides copies the flags named in set onto cfg.
func applyOverrides(cfg *config.LocaliserConfig, set map[string]bool, o overrides) {
	if set["map"] {
		cfg.MapPath = &o.Map
	}
	if set["mode"] {
		cfg.Mode = &o.Mode
	}
	if set["x"] {
		cfg.InitialX = &o.X
	}
	if set["y"] {
		cfg.InitialY = &o.Y
	}
	if set["heading"] {
		cfg.InitialHeading = &o.Heading
	}
}

// validateOutputs checks that every non-empty output path stays inside dir.
func validateOutputs(dir string, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := security.ValidatePathWithinDirectory(p, dir); err != nil {
			return err
		}
	}
	return nil
}

// loadMap loads the configured map file, or renders the survival pool when
// none is configured. Load failures are *mapstore.MapLoadError.
func loadMap(fsys fsutil.FileSystem, cfg *config.LocaliserConfig) (*mapstore.LikelihoodMap, error) {
	path := cfg.GetMapPath()
	if path == "" {
		return mapstore.BuildSurvivalPoolMap()
	}
	return mapstore.Load(fsys, path, cfg.GetMapOptions())
}

// buildLocalisers creates the localisers for the configured mode. The
// particle filter is also returned, or nil when it is not running.
func buildLocalisers(cfg *config.LocaliserConfig, m *mapstore.LikelihoodMap) ([]pipeline.Localiser, *particle.Filter, error) {
	scorer := scoring.MapScorer{Map: m}
	initial := cfg.GetInitialPose()

	var locs []pipeline.Localiser
	var pf *particle.Filter
	mode := cfg.GetMode()
	if mode == config.ModeGrid || mode == config.ModeBoth {
		locs = append(locs, gridsearch.New(scorer, initial, cfg.GetWindow()))
	}
	if mode == config.ModePF || mode == config.ModeBoth {
		f, err := particle.New(scorer, initial, cfg.GetParticleConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("particle filter: %w", err)
		}
		pf = f
		locs = append(locs, f)
	}
	if len(locs) == 0 {
		return nil, nil, fmt.Errorf("unknown mode %q", mode)
	}
	return locs, pf, nil
}

// configJSON records cfg for the runs table.
func configJSON(cfg *config.LocaliserConfig) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func attachTrajectoryRoute(mux *http.ServeMux, tr *monitor.TrajectoryRecorder) {
	debug := tsweb.Debugger(mux)
	debug.Handle("trajectory", "Trajectory report for the current run", tr)
}
