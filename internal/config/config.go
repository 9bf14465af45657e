package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/kiteopt/internal/homotopy"
	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/solver"
	"github.com/san-kum/kiteopt/internal/telemetry"
)

const (
	DefaultStudy       = "crosswind_drag"
	DefaultNK          = 40
	DefaultNICP        = 1
	DefaultDeg         = 4
	DefaultDataDir     = "data"
	DefaultPeriodicity = "dcm"
)

type Config struct {
	Study          string             `yaml:"study"`
	Discretization ocp.Discretization `yaml:"discretization"`
	Solver         solver.Options     `yaml:"solver"`
	Homotopy       HomotopyConfig     `yaml:"homotopy"`
	Telemetry      TelemetryConfig    `yaml:"telemetry"`
	Kite           KiteConfig         `yaml:"kite"`
	Storage        StorageConfig      `yaml:"storage"`
	Plot           PlotConfig         `yaml:"plot"`
}

type HomotopyConfig struct {
	Param  string           `yaml:"param"`
	Stages []homotopy.Stage `yaml:"stages"`
}

type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Topic         string `yaml:"topic"`
	QueueSize     int    `yaml:"queue_size"`
	ResetPerStage bool   `yaml:"reset_per_stage"`
}

// KiteConfig holds scenario constants and initial-guess shaping.
type KiteConfig struct {
	WindSpeed         float64 `yaml:"wind_speed"`
	MinAltitude       float64 `yaml:"min_altitude"`
	TetherLength      float64 `yaml:"tether_length"`
	EndTime           float64 `yaml:"end_time"`
	LineRadiusGuess   float64 `yaml:"line_radius_guess"`
	CircleRadiusGuess float64 `yaml:"circle_radius_guess"`
	Periodicity       string  `yaml:"periodicity"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type PlotConfig struct {
	Width  float64    `yaml:"width"`
	Height float64    `yaml:"height"`
	Groups [][]string `yaml:"groups"`
}

func DefaultConfig() *Config {
	return &Config{
		Study:          DefaultStudy,
		Discretization: ocp.Discretization{NK: DefaultNK, NICP: DefaultNICP, Deg: DefaultDeg},
		Solver:         solver.DefaultOptions(),
		Homotopy: HomotopyConfig{
			Param:  homotopy.DefaultParam,
			Stages: homotopy.DefaultStages(),
		},
		Telemetry: TelemetryConfig{
			Enabled:   true,
			Endpoint:  telemetry.DefaultEndpoint,
			Topic:     telemetry.DefaultTopic,
			QueueSize: telemetry.DefaultQueueSize,
		},
		Kite: KiteConfig{
			WindSpeed:         10,
			MinAltitude:       0.5,
			TetherLength:      100,
			EndTime:           4,
			LineRadiusGuess:   70,
			CircleRadiusGuess: 15,
			Periodicity:       DefaultPeriodicity,
		},
		Storage: StorageConfig{DataDir: DefaultDataDir},
		Plot:    PlotConfig{Width: 8, Height: 10},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the sections that cannot be caught later with a clear
// message.
func (c *Config) Validate() error {
	if err := c.Discretization.Validate(); err != nil {
		return err
	}
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	for i, s := range c.Homotopy.Stages {
		if s.Lower > s.Upper {
			return fmt.Errorf("homotopy stage %d: lower %g above upper %g", i, s.Lower, s.Upper)
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry enabled without endpoint")
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Homotopy.Stages = append([]homotopy.Stage(nil), c.Homotopy.Stages...)
	out.Plot.Groups = make([][]string, len(c.Plot.Groups))
	for i, g := range c.Plot.Groups {
		out.Plot.Groups[i] = append([]string(nil), g...)
	}
	return &out
}
