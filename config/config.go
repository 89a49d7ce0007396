// Package config loads the fluid simulation settings.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds every tunable of the process.
type Config struct {
	Grid       GridConfig       `yaml:"grid"`
	Simulation SimulationConfig `yaml:"simulation"`
	Server     ServerConfig     `yaml:"server"`
	Terminal   TerminalConfig   `yaml:"terminal"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// GridConfig is the default domain size in cells.
type GridConfig struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// SimulationConfig holds the step loop parameters.
type SimulationConfig struct {
	Particles int     `yaml:"particles"`
	FPS       int     `yaml:"fps"`
	Gravity   float64 `yaml:"gravity"`
	Seed      int64   `yaml:"seed"`
}

// ServerConfig holds the HTTP and websocket settings.
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Prefix     string `yaml:"prefix"`
	Root       string `yaml:"root"`
	SendBuffer int    `yaml:"send_buffer"` // frames queued per client before it is dropped
}

// TerminalConfig holds the termbox renderer settings.
type TerminalConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogFile string `yaml:"log_file"`
}

// TelemetryConfig holds the CSV recorder settings.
type TelemetryConfig struct {
	Dir string `yaml:"dir"`
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only fields present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Grid.Rows <= 0 || c.Grid.Cols <= 0 {
		errs = append(errs, fmt.Errorf("grid: rows and cols must be positive, got %dx%d", c.Grid.Rows, c.Grid.Cols))
	}
	if c.Simulation.Particles <= 0 {
		errs = append(errs, fmt.Errorf("simulation: particles must be positive, got %d", c.Simulation.Particles))
	}
	if c.Simulation.FPS <= 0 {
		errs = append(errs, fmt.Errorf("simulation: fps must be positive, got %d", c.Simulation.FPS))
	}
	if c.Server.Enabled {
		if c.Server.Address == "" {
			errs = append(errs, errors.New("server: address is required"))
		}
		if c.Server.SendBuffer <= 0 {
			errs = append(errs, fmt.Errorf("server: send_buffer must be positive, got %d", c.Server.SendBuffer))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// WriteYAML saves the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
