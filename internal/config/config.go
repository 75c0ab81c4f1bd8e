// Package config provides the engine's tunable configuration, loadable from
// a YAML file and overlaid onto canonical defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration.
type Config struct {
	// CostFloor is the minimum value any belief cost may hold.
	CostFloor float64 `yaml:"costFloor"`

	Learning    LearningConfig    `yaml:"learning"`
	Exploration ExplorationConfig `yaml:"exploration"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// LearningConfig holds the feedback loop's rates.
type LearningConfig struct {
	QuarkThreshold  float64 `yaml:"quarkThreshold"`
	TransformRate   float64 `yaml:"transformRate"`
	BaseRate        float64 `yaml:"baseRate"`
	SensitivityRate float64 `yaml:"sensitivityRate"`
}

// ExplorationConfig holds the epsilon-greedy settings.
type ExplorationConfig struct {
	Rate float64 `yaml:"rate"`
	// Seed fixes the exploration stream for reproducible runs; 0 means
	// an arbitrary seed.
	Seed int64 `yaml:"seed"`
}

// FusionConfig tunes the pattern engine.
type FusionConfig struct {
	Threshold  int `yaml:"threshold"`
	Interval   int `yaml:"interval"`
	HistoryCap int `yaml:"historyCap"`
}

// SensorsConfig locates the virtual device layer.
type SensorsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeoutMs"`
}

// TelemetryConfig locates the execution report store.
type TelemetryConfig struct {
	// DBPath is the SQLite file for execution reports; empty selects the
	// in-memory backend.
	DBPath string `yaml:"dbPath"`
}

// Default returns the canonical configuration.
func Default() Config {
	return Config{
		CostFloor: 1.0,
		Learning: LearningConfig{
			QuarkThreshold:  0.15,
			TransformRate:   0.10,
			BaseRate:        0.05,
			SensitivityRate: 0.10,
		},
		Exploration: ExplorationConfig{
			Rate: 0.05,
		},
		Fusion: FusionConfig{
			Threshold:  3,
			Interval:   10,
			HistoryCap: 256,
		},
		Sensors: SensorsConfig{
			Endpoint:  "http://127.0.0.1:8808",
			TimeoutMS: 2000,
		},
	}
}

// Load reads a YAML file and overlays it onto the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
