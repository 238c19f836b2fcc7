// Package config loads the sassplay configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LynnColeArt/sassplay"
	"github.com/LynnColeArt/sassplay/toolchain"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "sassplay.yaml"

// Device backends.
const (
	BackendEmulated = "emulated"
	BackendCUDA     = "cuda"
)

// Config is the complete configuration. It is loaded once and passed by
// value; nothing reads it from package state.
type Config struct {
	// Arch is the SM target for compilation and reassembly.
	Arch string `yaml:"arch"`
	// BuildDir receives tool outputs. Empty means next to each input.
	BuildDir string `yaml:"build_dir,omitempty"`
	// StoreDir holds the artifact database and blobs.
	StoreDir string `yaml:"store_dir"`

	Toolchain ToolchainConfig        `yaml:"toolchain"`
	Device    DeviceConfig           `yaml:"device"`
	Execution sassplay.ExecutionSpec `yaml:"execution"`
	// Family is the kernel family used when a command names none.
	Family  string        `yaml:"family"`
	Logging LoggingConfig `yaml:"logging"`
}

// ToolchainConfig lists the external tools.
type ToolchainConfig struct {
	toolchain.Tools `yaml:",inline"`
	// Timeout bounds each tool invocation, e.g. "2m".
	Timeout string `yaml:"timeout"`
}

// DeviceConfig selects the execution backend.
type DeviceConfig struct {
	Backend string `yaml:"backend"` // emulated, cuda
	// Library is the CUDA driver library for the cuda backend.
	Library string `yaml:"library,omitempty"`
	Ordinal int    `yaml:"ordinal"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Arch:     toolchain.DefaultArch,
		StoreDir: ".sassplay",
		Toolchain: ToolchainConfig{
			Tools: toolchain.Tools{
				NVCC:     "/usr/local/cuda/bin/nvcc",
				NVDisasm: "/usr/local/cuda/bin/nvdisasm",
				CuAsm:    "/usr/local/bin/cuasm",
			},
			Timeout: toolchain.DefaultTimeout.String(),
		},
		Device: DeviceConfig{
			Backend: BackendEmulated,
		},
		Execution: sassplay.DefaultExecutionSpec(),
		Family:    sassplay.VectorAdd.Name,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if arch := os.Getenv("SASSPLAY_ARCH"); arch != "" {
		c.Arch = arch
	}
	if dir := os.Getenv("SASSPLAY_STORE"); dir != "" {
		c.StoreDir = dir
	}
	// SASSPLAY_DEVICE is "emulated", "cuda" or "cuda:<ordinal>".
	if dev := os.Getenv("SASSPLAY_DEVICE"); dev != "" {
		backend, ordinal, found := strings.Cut(dev, ":")
		c.Device.Backend = backend
		if found {
			n, err := strconv.Atoi(ordinal)
			if err != nil {
				return fmt.Errorf("invalid SASSPLAY_DEVICE %q: %w", dev, err)
			}
			c.Device.Ordinal = n
		}
	}
	return nil
}

// ToolchainTimeout returns the per-invocation tool timeout.
func (c Config) ToolchainTimeout() time.Duration {
	d, err := time.ParseDuration(c.Toolchain.Timeout)
	if err != nil || d <= 0 {
		return toolchain.DefaultTimeout
	}
	return d
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Arch, "sm_") {
		return fmt.Errorf("invalid arch %q (want sm_XX)", c.Arch)
	}
	if c.StoreDir == "" {
		return fmt.Errorf("store_dir must be set")
	}
	if c.Toolchain.Timeout != "" {
		if _, err := time.ParseDuration(c.Toolchain.Timeout); err != nil {
			return fmt.Errorf("invalid toolchain timeout %q: %w", c.Toolchain.Timeout, err)
		}
	}
	switch c.Device.Backend {
	case BackendEmulated, BackendCUDA:
	default:
		return fmt.Errorf("invalid device backend: %s (valid: %s, %s)", c.Device.Backend, BackendEmulated, BackendCUDA)
	}
	if c.Device.Ordinal < 0 {
		return fmt.Errorf("invalid device ordinal %d", c.Device.Ordinal)
	}
	if _, err := sassplay.LookupFamily(c.Family); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return err
	}
	return c.Logging.validate()
}
