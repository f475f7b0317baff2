package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulateConfig drives the simulated counter module.
type SimulateConfig struct {
	// ImpulsesPerWake0/1 is how many impulses each channel accumulates
	// between wakes.
	ImpulsesPerWake0 uint32 `yaml:"impulses_per_wake0"`
	ImpulsesPerWake1 uint32 `yaml:"impulses_per_wake1"`

	// VoltageMV is the reported supply voltage.
	VoltageMV uint16 `yaml:"voltage_mv"`

	// TimeScale compresses sleep: a wake period of N minutes sleeps
	// N*time.Minute/TimeScale. 1 means real time.
	TimeScale uint32 `yaml:"time_scale"`
}

// Duration accepts "5s"-style strings in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// FileConfig is the optional YAML configuration file.
type FileConfig struct {
	DataDir    string   `yaml:"data_dir"`
	DeviceID   string   `yaml:"device_id"`
	Interface  string   `yaml:"interface"`
	WakeWindow Duration `yaml:"wake_window"`
	LogLevel   string   `yaml:"log_level"`

	Simulate SimulateConfig `yaml:"simulate"`
}

// defaultFileConfig returns the configuration used when no file is
// given.
func defaultFileConfig() FileConfig {
	return FileConfig{
		DataDir:    "./data",
		DeviceID:   "pulsar",
		WakeWindow: Duration(2 * time.Second),
		LogLevel:   "info",
		Simulate: SimulateConfig{
			ImpulsesPerWake0: 3,
			ImpulsesPerWake1: 1,
			VoltageMV:        3600,
			TimeScale:        60,
		},
	}
}

// loadFileConfig reads and validates the YAML configuration file.
func loadFileConfig(path string) (FileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.DataDir == "" {
		return cfg, fmt.Errorf("config: data_dir must not be empty")
	}
	if cfg.Simulate.TimeScale == 0 {
		cfg.Simulate.TimeScale = 1
	}
	return cfg, nil
}
