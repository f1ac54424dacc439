package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "censorscope",
	Short: "Run untrusted measurement scripts in a bounded Lua sandbox",
	Long: `censorscope hosts measurement experiments written in Lua. Each script
runs inside a sandbox with an instruction budget, a memory ceiling and an
environment that only exposes what the host grants it.

Without a subcommand the scheduler is started from the settings script.`,
	RunE:          runSchedule,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalFlags.configFile, "config", "", "YAML or TOML config file")
	flags.Int64VarP(&globalFlags.maxInstructions, "max-instructions", "i", 0, "instruction steps before a script is aborted, 0 = unlimited")
	flags.Int64VarP(&globalFlags.maxMemory, "max-memory", "m", 0, "memory ceiling in bytes, 0 = unlimited")
	flags.StringVarP(&globalFlags.luasrcDir, "luasrc-dir", "l", "luasrc", "directory of auxiliary Lua modules")
	flags.StringVarP(&globalFlags.sandboxDir, "sandbox-dir", "s", "sandbox", "directory of experiment scripts")
	flags.StringVar(&globalFlags.budgetScope, "budget-scope", "session", "instruction budget lifetime: session or run")
	flags.BoolVar(&globalFlags.exposeBuiltins, "expose-builtins", false, "let environments fall through to the standard library")
	flags.DurationVar(&globalFlags.timeout, "timeout", 0, "wall-clock limit per run, 0 = none")
	flags.StringVar(&globalFlags.metricsAddr, "metrics-addr", "", "admin endpoint address for health and metrics, empty = disabled")
	flags.StringVar(&globalFlags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&globalFlags.dev, "dev", false, "human readable development logging")

	rootCmd.AddCommand(runCmd, scheduleCmd, checkCmd, versionCmd)

	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
