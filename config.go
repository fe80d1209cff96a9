package flexlink

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine/monitor configuration loaded from YAML.
type Config struct {
	Radio    RadioConfig    `yaml:"radio"`
	Client   ClientConfig   `yaml:"client"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Spectrum SpectrumConfig `yaml:"spectrum"`
	Debug    bool           `yaml:"debug"`
}

// RadioConfig identifies the radio to connect to.
type RadioConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"` // control port, default 4992
}

// ClientConfig is what the engine reports about itself on registration.
type ClientConfig struct {
	Program string `yaml:"program"`
	Station string `yaml:"station"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // e.g. ":9090"
}

// SpectrumConfig controls the monitor's spectrum fan-out.
type SpectrumConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // websocket listen address, e.g. ":8081"
	Width   int    `yaml:"width"`  // requested display width in pixels
	Height  int    `yaml:"height"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Radio.Host == "" {
		return nil, fmt.Errorf("radio.host is required")
	}
	if config.Radio.Port == 0 {
		config.Radio.Port = 4992
	}
	if config.Client.Program == "" {
		config.Client.Program = "flexlink"
	}
	if config.Metrics.Enabled && config.Metrics.Listen == "" {
		config.Metrics.Listen = ":9090"
	}
	if config.Spectrum.Enabled {
		if config.Spectrum.Listen == "" {
			config.Spectrum.Listen = ":8081"
		}
		if config.Spectrum.Width == 0 {
			config.Spectrum.Width = 1024
		}
		if config.Spectrum.Height == 0 {
			config.Spectrum.Height = 512
		}
	}
	return config, nil
}
