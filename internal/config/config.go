package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the slideflow server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json

	MaxWorkers         int     `yaml:"max_workers"`          // Global concurrent job cap
	MaxActiveUsers     int     `yaml:"max_active_users"`     // Tenant slot count
	EventQueueCapacity int     `yaml:"event_queue_capacity"` // Per-subscription buffer
	ProgressMinDelta   float64 `yaml:"progress_min_delta"`   // Minimum percent change between progress events

	ResultsDBPath string `yaml:"results_db_path"` // SQLite archive path (":memory:" for testing)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:               ":8080",
		LogLevel:           "info",
		LogFormat:          "text",
		MaxWorkers:         4,
		MaxActiveUsers:     2,
		EventQueueCapacity: 256,
		ProgressMinDelta:   1.0,
	}
}

// LoadFile overlays the YAML config file at path onto cfg. Only keys
// present in the file are touched, so flag defaults survive.
func LoadFile(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects non-positive limits.
func (c *ServerConfig) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.MaxActiveUsers <= 0 {
		return fmt.Errorf("max_active_users must be positive, got %d", c.MaxActiveUsers)
	}
	if c.EventQueueCapacity <= 0 {
		return fmt.Errorf("event_queue_capacity must be positive, got %d", c.EventQueueCapacity)
	}
	return nil
}
