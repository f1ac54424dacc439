package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/censorscope/internal/config"
	"github.com/GriffinCanCode/censorscope/internal/infrastructure/logging"
)

var globalFlags struct {
	configFile      string
	maxInstructions int64
	maxMemory       int64
	luasrcDir       string
	sandboxDir      string
	budgetScope     string
	exposeBuiltins  bool
	timeout         time.Duration
	logLevel        string
	dev             bool
	metricsAddr     string
}

// loadConfig resolves the configuration: environment, then the config
// file, then any flag set explicitly on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globalFlags.configFile != "" {
		cfg, err = config.LoadFile(globalFlags.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("max-instructions") {
		cfg.Sandbox.MaxInstructions = globalFlags.maxInstructions
	}
	if flags.Changed("max-memory") {
		cfg.Sandbox.MaxMemory = globalFlags.maxMemory
	}
	if flags.Changed("luasrc-dir") {
		cfg.Sandbox.LuasrcDir = globalFlags.luasrcDir
	}
	if flags.Changed("sandbox-dir") {
		cfg.Sandbox.SandboxDir = globalFlags.sandboxDir
	}
	if flags.Changed("budget-scope") {
		cfg.Sandbox.BudgetScope = globalFlags.budgetScope
	}
	if flags.Changed("expose-builtins") {
		cfg.Sandbox.ExposeBuiltins = globalFlags.exposeBuiltins
	}
	if flags.Changed("timeout") {
		cfg.Sandbox.Timeout = config.Duration(globalFlags.timeout)
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = globalFlags.logLevel
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = globalFlags.dev
	}

	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = globalFlags.metricsAddr
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
