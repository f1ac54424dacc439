package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Sandbox config
	assert.Equal(t, "sandbox", cfg.Sandbox.SandboxDir)
	assert.Equal(t, "luasrc", cfg.Sandbox.LuasrcDir)
	assert.Zero(t, cfg.Sandbox.MaxInstructions)
	assert.Zero(t, cfg.Sandbox.MaxMemory)
	assert.Equal(t, "session", cfg.Sandbox.BudgetScope)

	// Pool config
	assert.Equal(t, 4, cfg.Pool.Size)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout.Std())

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "sandbox", cfg.Sandbox.SandboxDir)
	assert.Equal(t, int64(sandbox.DefaultMemorySampleInterval), cfg.Sandbox.MemorySampleInterval)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"CENSORSCOPE_SANDBOX_DIR":      "experiments",
		"CENSORSCOPE_LUASRC_DIR":       "lib",
		"CENSORSCOPE_MAX_INSTRUCTIONS": "5000",
		"CENSORSCOPE_MAX_MEMORY":       "1048576",
		"CENSORSCOPE_BUDGET_SCOPE":     "run",
		"CENSORSCOPE_EXPOSE_BUILTINS":  "true",
		"CENSORSCOPE_TIMEOUT":          "2s",
		"CENSORSCOPE_POOL_SIZE":        "8",
		"CENSORSCOPE_METRICS_ADDR":     ":9100",
		"LOG_LEVEL":                    "debug",
		"LOG_DEV":                      "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "experiments", cfg.Sandbox.SandboxDir)
	assert.Equal(t, "lib", cfg.Sandbox.LuasrcDir)
	assert.Equal(t, int64(5000), cfg.Sandbox.MaxInstructions)
	assert.Equal(t, int64(1048576), cfg.Sandbox.MaxMemory)
	assert.Equal(t, "run", cfg.Sandbox.BudgetScope)
	assert.True(t, cfg.Sandbox.ExposeBuiltins)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, 8, cfg.Pool.Size)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("CENSORSCOPE_MAX_MEMORY", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "yaml",
			file: "censorscope.yaml",
			content: `
sandbox:
  sandbox_dir: probes
  max_instructions: 100000
  max_memory: 65536
  budget_scope: run
  timeout: 3s
logging:
  level: warn
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "probes", cfg.Sandbox.SandboxDir)
				assert.Equal(t, int64(100000), cfg.Sandbox.MaxInstructions)
				assert.Equal(t, int64(65536), cfg.Sandbox.MaxMemory)
				assert.Equal(t, "run", cfg.Sandbox.BudgetScope)
				assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout.Std())
				assert.Equal(t, "warn", cfg.Logging.Level)
				// untouched keys keep their defaults
				assert.Equal(t, "luasrc", cfg.Sandbox.LuasrcDir)
			},
		},
		{
			name: "toml",
			file: "censorscope.toml",
			content: `
[sandbox]
luasrc_dir = "lib"
max_memory = 4096
expose_builtins = true
timeout = "1m30s"

[pool]
size = 2
acquire_timeout = "250ms"
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "lib", cfg.Sandbox.LuasrcDir)
				assert.Equal(t, int64(4096), cfg.Sandbox.MaxMemory)
				assert.True(t, cfg.Sandbox.ExposeBuiltins)
				assert.Equal(t, 2, cfg.Pool.Size)
				assert.Equal(t, 90*time.Second, cfg.Sandbox.Timeout.Std())
				assert.Equal(t, 250*time.Millisecond, cfg.Pool.AcquireTimeout.Std())
				assert.Equal(t, "sandbox", cfg.Sandbox.SandboxDir)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg, err := LoadFile(path)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "censorscope.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	_, err = LoadFile(ini)
	assert.ErrorContains(t, err, "unsupported config format")

	badDuration := filepath.Join(dir, "duration.toml")
	require.NoError(t, os.WriteFile(badDuration, []byte("[sandbox]\ntimeout = \"soon\"\n"), 0o644))
	_, err = LoadFile(badDuration)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sandbox: [unterminated"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestSandboxConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.MaxInstructions = 10
	cfg.Sandbox.MaxMemory = 2048
	cfg.Sandbox.BudgetScope = "run"

	sc := cfg.SandboxConfig()
	assert.Equal(t, "luasrc", sc.RootPath)
	assert.Equal(t, "sandbox", sc.SandboxDir)
	assert.Equal(t, int64(10), sc.MaxInstructions)
	assert.Equal(t, int64(2048), sc.MaxMemory)
	assert.Equal(t, sandbox.BudgetRun, sc.BudgetScope)

	cfg.Sandbox.Timeout = Duration(2 * time.Second)
	assert.Equal(t, 2*time.Second, cfg.SandboxConfig().Timeout)

	assert.Equal(t, filepath.Join("sandbox", "main.lua"), cfg.SettingsPath())
	assert.Equal(t, filepath.Join("luasrc", "api.lua"), cfg.EnvironmentPath())

	cfg.Scheduler.Environment = ""
	assert.Empty(t, cfg.EnvironmentPath())
}
