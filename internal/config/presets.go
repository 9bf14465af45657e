package config

import (
	"sort"

	"github.com/san-kum/kiteopt/internal/ocp"
)

func preset(study string, disc ocp.Discretization, edit func(*Config)) *Config {
	cfg := DefaultConfig()
	cfg.Study = study
	cfg.Discretization = disc
	if edit != nil {
		edit(cfg)
	}
	return cfg
}

var Presets = map[string]map[string]*Config{
	"crosswind_drag": {
		"quick": preset("crosswind_drag", ocp.Discretization{NK: 8, NICP: 1, Deg: 2}, func(c *Config) {
			c.Solver.MaxIter = 200
			c.Solver.ConstraintTol = 1e-3
		}),
		"full": preset("crosswind_drag", ocp.Discretization{NK: 40, NICP: 1, Deg: 4}, func(c *Config) {
			c.Solver.MaxIter = 1000
			c.Solver.Concurrent = true
		}),
	},
	"carousel": {
		"quick": preset("carousel", ocp.Discretization{NK: 10, NICP: 1, Deg: 2}, func(c *Config) {
			c.Homotopy.Stages = nil
			c.Kite.WindSpeed = 0
			c.Kite.EndTime = 1.6336935276077966
			c.Solver.ConstraintTol = 1e-4
		}),
		"full": preset("carousel", ocp.Discretization{NK: 40, NICP: 1, Deg: 4}, func(c *Config) {
			c.Homotopy.Stages = nil
			c.Kite.WindSpeed = 0
			c.Kite.EndTime = 1.6336935276077966
			c.Solver.Concurrent = true
		}),
	},
}

func GetPreset(study, preset string) *Config {
	studyPresets, ok := Presets[study]
	if !ok {
		return nil
	}
	cfg, ok := studyPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(study string) []string {
	studyPresets, ok := Presets[study]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(studyPresets))
	for name := range studyPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
