package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/whiskeyjimbo/Watchman/internal/alerts"
	"github.com/whiskeyjimbo/Watchman/internal/config"
	"github.com/whiskeyjimbo/Watchman/internal/health"
	"github.com/whiskeyjimbo/Watchman/internal/metrics"
	"github.com/whiskeyjimbo/Watchman/internal/monitor"
	"github.com/whiskeyjimbo/Watchman/internal/notifications"
	"github.com/whiskeyjimbo/Watchman/internal/server"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger := initLogger(level)
	defer logger.Sync()

	if err := newRootCmd(logger, level).Execute(); err != nil {
		logger.Fatal(err)
	}
}

func newRootCmd(logger *zap.SugaredLogger, level zap.AtomicLevel) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "watchman",
		Short:         "Probe services, track their health and escalate failures",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfiguration(configFile)
			if err != nil {
				return err
			}
			if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			return run(cmd.Context(), logger, cfg)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path to the configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfiguration(configFile)
			if err != nil {
				return err
			}
			if _, err := cfg.Build(logger, nil); err != nil {
				return err
			}
			logger.Infow("configuration is valid", "file", configFile,
				"checks", len(cfg.Checks), "alerts", len(cfg.Alerts))
			return nil
		},
	})
	return rootCmd
}

func run(ctx context.Context, logger *zap.SugaredLogger, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	promMetrics := metrics.NewPrometheusMetrics(logger, nil)

	asm, err := cfg.Build(logger, promMetrics)
	if err != nil {
		return err
	}
	if err := initializeNotifiers(ctx, asm.Notifiers); err != nil {
		return err
	}
	defer closeNotifiers(logger, asm.Notifiers)

	engine := alerts.NewEngine(logger, promMetrics, cfg.Defaults.MarkUnknownTokens)
	scheduler := monitor.NewScheduler(logger, asm.Checks, engine, promMetrics, asm.Scheduler)

	probe := health.NewProbe(asm.Scheduler.Interval)
	scheduler.OnCycle(func(s *monitor.Snapshot) { probe.MarkCycle(s.Taken) })

	srv := server.New(logger, cfg.Server.Listen, server.NewRouter(logger, promMetrics.Handler(), probe, scheduler))
	if err := srv.Start(); err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	waitForShutdown(logger)
	cancel()
	scheduler.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http server shutdown", "error", err)
	}
	return nil
}

func initLogger(level zap.AtomicLevel) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	zapL, err := cfg.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return zapL.Sugar()
}

func initializeNotifiers(ctx context.Context, notifiers []notifications.Notifier) error {
	for _, n := range notifiers {
		if err := n.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s notifier: %w", n.Type(), err)
		}
	}
	return nil
}

func closeNotifiers(logger *zap.SugaredLogger, notifiers []notifications.Notifier) {
	for _, n := range notifiers {
		if err := n.Close(); err != nil {
			logger.Warnw("failed to close notifier", "type", n.Type(), "error", err)
		}
	}
}

func waitForShutdown(logger *zap.SugaredLogger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Infow("Received shutdown signal, exiting...", "signal", sig.String())
}
