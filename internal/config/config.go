// Package config loads and validates the texbuild configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Compile CompileConfig `yaml:"compile"`
	Watch   WatchConfig   `yaml:"watch,omitempty"`
	Daemon  DaemonConfig  `yaml:"daemon,omitempty"`
	DataDir string        `yaml:"data_dir,omitempty"`
}

// ServiceConfig describes the typesetting service endpoints.
type ServiceConfig struct {
	BaseURL     string `yaml:"base_url"`
	PreviewPath string `yaml:"preview_path,omitempty"`
	FullPath    string `yaml:"full_path,omitempty"`
	QuickPath   string `yaml:"quick_path,omitempty"`
	StatusPath  string `yaml:"status_path,omitempty"`
}

// CompileConfig holds per-mode deadlines and polling cadence.
type CompileConfig struct {
	PreviewTimeout string `yaml:"preview_timeout,omitempty"` // default 60s
	FullTimeout    string `yaml:"full_timeout,omitempty"`    // default 300s
	PollInterval   string `yaml:"poll_interval,omitempty"`   // default 1s
	ColorMode      string `yaml:"color_mode,omitempty"`      // light|dark
}

// WatchConfig configures the file watcher for preview rebuilds.
type WatchConfig struct {
	Dir         string   `yaml:"dir,omitempty"`
	MainFile    string   `yaml:"main_file,omitempty"`
	SectionName string   `yaml:"section_name,omitempty"`
	Extensions  []string `yaml:"extensions,omitempty"` // default .tex .bib .sty .cls
	Debounce    string   `yaml:"debounce,omitempty"`   // default 400ms
}

// DaemonConfig configures daemon mode (HTTP surface + scheduled compiles).
type DaemonConfig struct {
	Listen   string `yaml:"listen,omitempty"`   // default :8787
	Schedule string `yaml:"schedule,omitempty"` // cron expression for full compiles
	DocType  string `yaml:"doc_type,omitempty"` // document type for scheduled compiles
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env if present so ${VAR} references in the YAML resolve.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no service
// base URL; callers must set one before use.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Service.PreviewPath == "" {
		c.Service.PreviewPath = "/api/compile/preview"
	}
	if c.Service.FullPath == "" {
		c.Service.FullPath = "/api/compile/full"
	}
	if c.Service.QuickPath == "" {
		c.Service.QuickPath = "/api/compile/quick"
	}
	if c.Service.StatusPath == "" {
		c.Service.StatusPath = "/api/compile/status"
	}
	if c.Compile.PreviewTimeout == "" {
		c.Compile.PreviewTimeout = "60s"
	}
	if c.Compile.FullTimeout == "" {
		c.Compile.FullTimeout = "300s"
	}
	if c.Compile.PollInterval == "" {
		c.Compile.PollInterval = "1s"
	}
	if c.Compile.ColorMode == "" {
		c.Compile.ColorMode = "light"
	}
	if len(c.Watch.Extensions) == 0 {
		c.Watch.Extensions = []string{".tex", ".bib", ".sty", ".cls"}
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = "400ms"
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = ":8787"
	}
	if c.Daemon.DocType == "" {
		c.Daemon.DocType = "report"
	}
	if c.DataDir == "" {
		c.DataDir = "./texbuild-data"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	for name, raw := range map[string]string{
		"compile.preview_timeout": c.Compile.PreviewTimeout,
		"compile.full_timeout":    c.Compile.FullTimeout,
		"compile.poll_interval":   c.Compile.PollInterval,
		"watch.debounce":          c.Watch.Debounce,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %q", name, raw)
		}
	}
	if c.Compile.ColorMode != "light" && c.Compile.ColorMode != "dark" {
		return fmt.Errorf("compile.color_mode: must be light or dark, got %q", c.Compile.ColorMode)
	}
	return nil
}

// PreviewTimeoutDuration returns the parsed preview deadline.
func (c *Config) PreviewTimeoutDuration() time.Duration {
	return mustDuration(c.Compile.PreviewTimeout, 60*time.Second)
}

// FullTimeoutDuration returns the parsed full-compile deadline.
func (c *Config) FullTimeoutDuration() time.Duration {
	return mustDuration(c.Compile.FullTimeout, 300*time.Second)
}

// PollIntervalDuration returns the parsed poll cadence.
func (c *Config) PollIntervalDuration() time.Duration {
	return mustDuration(c.Compile.PollInterval, time.Second)
}

// DebounceDuration returns the parsed watch debounce window.
func (c *Config) DebounceDuration() time.Duration {
	return mustDuration(c.Watch.Debounce, 400*time.Millisecond)
}

func mustDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Save writes the configuration to the specified file.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateDefault creates a default configuration file at the given path.
func CreateDefault(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
		}
	}

	cfg := Default()
	cfg.Service.BaseURL = "http://localhost:8080"
	cfg.Watch.Dir = "./src"
	cfg.Watch.MainFile = "main.tex"
	return cfg.Save(configPath)
}
