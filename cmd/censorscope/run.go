package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/censorscope/internal/primitives"
	"github.com/GriffinCanCode/censorscope/internal/sandbox"
)

var (
	runEnvironment string
	runName        string
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run one script in a fresh sandbox and print its result",
	Long: `Run a single experiment script once and print the value it returns
as JSON on stdout. Diagnostics are logged to stderr.

Examples:
  censorscope run sandbox/dns.lua
  censorscope run sandbox/dns.lua --env luasrc/api.lua -i 1000000
  censorscope run probe.lua --env "" --max-memory 1048576`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	runCmd.Flags().StringVar(&runEnvironment, "env", "", "environment script; defaults to the configured one, \"\" for an empty environment")
	runCmd.Flags().StringVar(&runName, "name", "run", "session name used in logs and options")
}

func runScript(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	environment := cfg.EnvironmentPath()
	if cmd.Flags().Changed("env") {
		environment = runEnvironment
	}

	session, err := sandbox.New(runName, cfg.SandboxConfig(), sandbox.WithLogger(logger.Sandbox("run")))
	if err != nil {
		return err
	}
	defer session.Close()

	if err := primitives.Register(session, primitives.Options{Logger: logger.Named("script")}); err != nil {
		return err
	}

	result, err := session.Run(cmd.Context(), args[0], environment)
	if err != nil {
		logger.Error("Script failed",
			zap.String("script", args[0]),
			zap.String("kind", sandbox.KindOf(err).String()),
			zap.Error(err),
		)
		return err
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"run_id":      result.RunID,
		"value":       result.Value,
		"steps":       result.Steps,
		"peak_memory": result.PeakMemory,
		"duration_ms": result.Duration.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
