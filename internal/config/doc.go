// Package config provides 12-factor configuration management for censorscope.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally overlaid with a YAML or TOML file. CLI flags override both.
//
// Configuration Sections:
//   - Sandbox: script directories, instruction and memory limits, budget scope
//   - Pool: number of pre-created sessions and acquire timeout
//   - Logging: Log level and output format
//   - Metrics: admin endpoint address
//   - Scheduler: settings and environment script names
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	session, err := sandbox.New("probe", cfg.SandboxConfig())
//
// Environment Variables:
//   - CENSORSCOPE_SANDBOX_DIR, CENSORSCOPE_LUASRC_DIR
//   - CENSORSCOPE_MAX_INSTRUCTIONS, CENSORSCOPE_MAX_MEMORY, CENSORSCOPE_BUDGET_SCOPE
//   - CENSORSCOPE_EXPOSE_BUILTINS, CENSORSCOPE_MEMORY_SAMPLE_INTERVAL, CENSORSCOPE_TIMEOUT
//   - CENSORSCOPE_POOL_SIZE, CENSORSCOPE_POOL_ACQUIRE_TIMEOUT
//   - CENSORSCOPE_METRICS_ADDR, CENSORSCOPE_SETTINGS, CENSORSCOPE_ENVIRONMENT
//   - LOG_LEVEL, LOG_DEV
package config
