package main

import (
	"fmt"
	"os"

	"github.com/mesmerverse/rats-tls/gate"
	"github.com/mesmerverse/rats-tls/hostcall"
	"gopkg.in/yaml.v3"
)

// Config holds the parent process configuration
type Config struct {
	// DevMode serves the gate over TCP on localhost instead of vsock
	DevMode bool `yaml:"dev_mode"`

	// Gate configuration
	Gate GateConfig `yaml:"gate"`

	// Access limits what the enclave may reach through the gate
	Access hostcall.Config `yaml:"access"`

	// HealthPort serves /health, /ready and /metrics on localhost. Zero
	// disables the endpoint.
	HealthPort int `yaml:"health_port"`
}

// GateConfig holds call gate listener settings
type GateConfig struct {
	Port uint32 `yaml:"port"`

	// TerminateOnExit stops the parent when the enclave asks to be ended
	TerminateOnExit bool `yaml:"terminate_on_exit"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Gate.Port == 0 {
		return nil, fmt.Errorf("gate port must not be zero")
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DevMode: false,
		Gate: GateConfig{
			Port:            gate.DefaultPort,
			TerminateOnExit: true,
		},
		Access: hostcall.Config{
			AllowedDirs: []string{"/usr/local/lib/rats-tls", "/etc/rats-tls"},
		},
		HealthPort: 8080,
	}
}
