package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/censorscope/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/censorscope/internal/infrastructure/server"
	"github.com/GriffinCanCode/censorscope/internal/primitives"
	"github.com/GriffinCanCode/censorscope/internal/sandbox"
	"github.com/GriffinCanCode/censorscope/internal/scheduling"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the experiments listed in the settings script on their schedules",
	Long: `Load the settings script from the sandbox directory, then fire every
experiment it lists on its cron schedule until all of them have finished
or the process receives SIGINT or SIGTERM.

When --metrics-addr is set, an admin endpoint serves /health, /metrics,
/pool and /experiments.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	registrar := primitives.Registrar(primitives.Options{Logger: logger.Named("experiment")})
	settings, err := loadSettings(ctx, cfg.SandboxConfig(), cfg.SettingsPath(), registrar, logger.Sandbox("settings"))
	if err != nil {
		return err
	}

	pool, err := sandbox.NewPool(cfg.SandboxConfig(), sandbox.PoolConfig{
		Name:           "experiment",
		Size:           cfg.Pool.Size,
		AcquireTimeout: cfg.Pool.AcquireTimeout.Std(),
		Registrar:      registrar,
		Logger:         logger.Sandbox("experiment"),
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	scheduler, err := scheduling.New(pool, settings, scheduling.Config{
		SandboxDir:  cfg.Sandbox.SandboxDir,
		LuasrcDir:   cfg.Sandbox.LuasrcDir,
		Environment: cfg.EnvironmentPath(),
		Logger:      logger.Named("scheduler"),
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		admin := server.New(server.Config{
			Addr:        cfg.Metrics.Addr,
			Development: cfg.Logging.Development,
			Gatherer:    reg,
			Pool:        pool,
			Scheduler:   scheduler,
			Logger:      logger.Named("admin"),
		})
		go func() {
			if err := admin.Run(ctx); err != nil {
				logger.Error("Admin server stopped", zap.Error(err))
			}
		}()
	}

	err = scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted, shutting down")
		return nil
	}
	return err
}

// loadSettings evaluates the settings script in a session of its own, so
// the steps it spends do not count against the experiment sessions.
func loadSettings(ctx context.Context, config sandbox.Config, path string, registrar sandbox.Registrar, logger *zap.Logger) (*scheduling.Settings, error) {
	session, err := sandbox.New("settings", config, sandbox.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := registrar(session); err != nil {
		return nil, fmt.Errorf("register primitives: %w", err)
	}
	return scheduling.LoadSettings(ctx, session, path)
}
