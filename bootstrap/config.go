package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mesmerverse/rats-tls/dispatch"
	"github.com/mesmerverse/rats-tls/platform"
	"gopkg.in/yaml.v3"
)

// Config lists the modules to initialize at startup
type Config struct {
	// PluginDir is searched for lib<name>.so (host mode only)
	PluginDir string `yaml:"plugin_dir"`

	// AbortOnError terminates the process on the first module that fails.
	// Otherwise failures are logged and startup continues.
	AbortOnError bool `yaml:"abort_on_error"`

	// Remote module staging
	Stage StageConfig `yaml:"stage"`

	Modules []ModuleConfig `yaml:"modules"`
}

// StageConfig holds settings for fetching remote module locators
type StageConfig struct {
	Dir    string `yaml:"dir"`
	Region string `yaml:"region"`
}

// ModuleConfig names one module and where to find it
type ModuleConfig struct {
	Name string `yaml:"name"`

	// Locator is a shared object path or an s3://bucket/key URL. Ignored
	// inside an enclave.
	Locator string `yaml:"locator,omitempty"`

	// SHA256 pins the content of a remote locator (hex)
	SHA256 string `yaml:"sha256,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PluginDir:    dispatch.DefaultPluginDir,
		AbortOnError: true,
		Stage: StageConfig{
			Dir:    "/var/lib/rats-tls/modules",
			Region: "us-east-1",
		},
		Modules: []ModuleConfig{
			{Name: "nullcrypto"},
			{Name: "nullattester"},
			{Name: "nullverifier"},
			{Name: "nulltls"},
		},
	}
}

// ErrIsolatedFile is returned by LoadConfig inside an enclave, where files
// are only reachable through the platform adapter
var ErrIsolatedFile = errors.New("configuration files cannot be opened in isolated mode, use -config -")

// defaultConfigPath is "-" inside an enclave: the parent feeds the module
// list on stdin
func defaultConfigPath() string {
	if platform.Mode == platform.ModeIsolated {
		return "-"
	}
	return "/etc/rats-tls/modules.yaml"
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults. Host mode only.
func LoadConfig(path string) (*Config, error) {
	if platform.Mode == platform.ModeIsolated {
		return nil, fmt.Errorf("%w: %s", ErrIsolatedFile, path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseConfig(data)
}

// LoadConfigFD reads configuration from a descriptor through the adapter.
// Inside an enclave this is how the configuration reaches the process.
func LoadConfigFD(a platform.Adapter, fd int) (*Config, error) {
	data, err := readAll(a, fd, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Modules = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i, m := range cfg.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("module %d has no name", i)
		}
		if !validModuleName(m.Name) {
			return nil, fmt.Errorf("module %d: invalid name %q", i, m.Name)
		}
	}
	return cfg, nil
}

// validModuleName reports whether name can be used as a file name component
func validModuleName(name string) bool {
	return name != "" && name != "." && name != ".." && filepath.Base(name) == name
}

// readAll reads fd until end of stream, refusing more than limit bytes
func readAll(a platform.Adapter, fd int, limit int) ([]byte, error) {
	var data []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := a.Read(fd, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return data, nil
		}
		data = append(data, buf[:n]...)
		if len(data) > limit {
			return nil, io.ErrShortBuffer
		}
	}
}
