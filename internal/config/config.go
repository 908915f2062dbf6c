// Package config provides server configuration loading.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	Port          int    `yaml:"port"`
	DataDir       string `yaml:"data_dir"`
	MigrationsDir string `yaml:"migrations_dir"` // empty: use embedded migrations
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"` // empty: stdout
	MaxBatchItems int    `yaml:"max_batch_items"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Port:          8090,
		DataDir:       "./data",
		LogLevel:      "INFO",
		MaxBatchItems: 500,
	}
}

// Load reads configuration from a YAML file, applying defaults for unset
// fields. A missing file is not an error; defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxBatchItems <= 0 {
		return fmt.Errorf("max_batch_items must be positive, got %d", c.MaxBatchItems)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}
