package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
)

// Config holds all application configuration.
type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
	Pool      PoolConfig      `yaml:"pool" toml:"pool"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
}

// SandboxConfig holds the limits and paths every session is created with.
type SandboxConfig struct {
	SandboxDir           string   `envconfig:"CENSORSCOPE_SANDBOX_DIR" default:"sandbox" yaml:"sandbox_dir" toml:"sandbox_dir"`
	LuasrcDir            string   `envconfig:"CENSORSCOPE_LUASRC_DIR" default:"luasrc" yaml:"luasrc_dir" toml:"luasrc_dir"`
	MaxInstructions      int64    `envconfig:"CENSORSCOPE_MAX_INSTRUCTIONS" default:"0" yaml:"max_instructions" toml:"max_instructions"`
	MaxMemory            int64    `envconfig:"CENSORSCOPE_MAX_MEMORY" default:"0" yaml:"max_memory" toml:"max_memory"`
	BudgetScope          string   `envconfig:"CENSORSCOPE_BUDGET_SCOPE" default:"session" yaml:"budget_scope" toml:"budget_scope"`
	ExposeBuiltins       bool     `envconfig:"CENSORSCOPE_EXPOSE_BUILTINS" default:"false" yaml:"expose_builtins" toml:"expose_builtins"`
	MemorySampleInterval int64    `envconfig:"CENSORSCOPE_MEMORY_SAMPLE_INTERVAL" default:"1000" yaml:"memory_sample_interval" toml:"memory_sample_interval"`
	Timeout              Duration `envconfig:"CENSORSCOPE_TIMEOUT" default:"0s" yaml:"timeout" toml:"timeout"`
}

// PoolConfig holds session pool configuration.
type PoolConfig struct {
	Size           int      `envconfig:"CENSORSCOPE_POOL_SIZE" default:"4" yaml:"size" toml:"size"`
	AcquireTimeout Duration `envconfig:"CENSORSCOPE_POOL_ACQUIRE_TIMEOUT" default:"5s" yaml:"acquire_timeout" toml:"acquire_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// MetricsConfig holds the admin endpoint configuration. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `envconfig:"CENSORSCOPE_METRICS_ADDR" default:"" yaml:"addr" toml:"addr"`
}

// SchedulerConfig names the scripts the scheduler starts from, relative to
// the sandbox and luasrc directories.
type SchedulerConfig struct {
	Settings    string `envconfig:"CENSORSCOPE_SETTINGS" default:"main.lua" yaml:"settings" toml:"settings"`
	Environment string `envconfig:"CENSORSCOPE_ENVIRONMENT" default:"api.lua" yaml:"environment" toml:"environment"`
}

// Duration is a time.Duration written as text ("5s", "250ms") in the
// environment and in YAML or TOML files.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment configuration and overlays the file at
// path. The format follows the extension: .yaml, .yml or .toml. Keys
// present in the file win over the environment.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			SandboxDir:           "sandbox",
			LuasrcDir:            "luasrc",
			BudgetScope:          string(sandbox.BudgetSession),
			MemorySampleInterval: sandbox.DefaultMemorySampleInterval,
		},
		Pool: PoolConfig{
			Size:           4,
			AcquireTimeout: Duration(5 * time.Second),
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Scheduler: SchedulerConfig{
			Settings:    "main.lua",
			Environment: "api.lua",
		},
	}
}

// SandboxConfig converts the sandbox section for sandbox.New.
func (c *Config) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		RootPath:             c.Sandbox.LuasrcDir,
		SandboxDir:           c.Sandbox.SandboxDir,
		MaxInstructions:      c.Sandbox.MaxInstructions,
		MaxMemory:            c.Sandbox.MaxMemory,
		BudgetScope:          sandbox.BudgetScope(c.Sandbox.BudgetScope),
		ExposeBuiltins:       c.Sandbox.ExposeBuiltins,
		MemorySampleInterval: c.Sandbox.MemorySampleInterval,
		Timeout:              c.Sandbox.Timeout.Std(),
	}
}

// SettingsPath returns the path of the scheduler settings script.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Sandbox.SandboxDir, c.Scheduler.Settings)
}

// EnvironmentPath returns the path of the default environment script, or
// "" when none is configured.
func (c *Config) EnvironmentPath() string {
	if c.Scheduler.Environment == "" {
		return ""
	}
	return filepath.Join(c.Sandbox.LuasrcDir, c.Scheduler.Environment)
}
