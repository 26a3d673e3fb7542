package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Runtime holds process-level settings read from the environment, separate
// from the scanner configuration file.
type Runtime struct {
	Logging LogConfig
	Server  ServerConfig
	Devices DeviceConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Port    string `envconfig:"STATUS_PORT" default:"8400"`
	Host    string `envconfig:"STATUS_HOST" default:"0.0.0.0"`
	Enabled bool   `envconfig:"STATUS_ENABLED" default:"true"`
}

// DeviceConfig holds accelerator configuration.
type DeviceConfig struct {
	Count int `envconfig:"RISA_DEVICE_COUNT" default:"1"`
}

// LoadRuntime loads runtime configuration from environment variables.
func LoadRuntime() (*Runtime, error) {
	var cfg Runtime
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load runtime: %w", err)
	}
	return &cfg, nil
}

// RuntimeOrDefault loads runtime configuration or falls back to defaults.
func RuntimeOrDefault() *Runtime {
	cfg, err := LoadRuntime()
	if err != nil {
		return &Runtime{
			Logging: LogConfig{Level: "info"},
			Server:  ServerConfig{Port: "8400", Host: "0.0.0.0", Enabled: true},
			Devices: DeviceConfig{Count: 1},
		}
	}
	return cfg
}
