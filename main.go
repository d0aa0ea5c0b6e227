package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hyperliquid-bot/bot"
	"hyperliquid-bot/config"
	"hyperliquid-bot/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "hyperliquid-bot",
		Short:         "Real-time trading bot for Hyperliquid perpetuals",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults are used if empty)")
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")

	load := func() (config.Config, error) {
		if err := config.LoadEnv(envFile); err != nil {
			return config.Config{}, err
		}
		return config.Load(configPath)
	}

	root.AddCommand(newRunCmd(load), newConfigCmd(load))
	return root
}

func newRunCmd(load func() (config.Config, error)) *cobra.Command {
	var paper bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if paper {
				cfg.Exchange.Mode = config.ModePaper
			}
			return run(cfg)
		},
	}
	cmd.Flags().BoolVar(&paper, "paper", false, "Simulate orders instead of sending them to the exchange")
	return cmd
}

func newConfigCmd(load func() (config.Config, error)) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return cfg.Redacted().Encode(cmd.OutOrStdout())
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	return configCmd
}

func run(cfg config.Config) error {
	// Инициализация логгера
	if err := logger.InitLogger(cfg.Log); err != nil {
		return err
	}
	defer logger.SyncLogger()

	logger.Logger.Info("Starting trading bot")

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            map[string]string{"mode": cfg.Exchange.Mode, "strategy": cfg.Trading.Strategy},
			Logger:          logger.Logger.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logger.Logger.Warn("Profiler not started", zap.Error(err))
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	b, err := bot.New(cfg, nil)
	if err != nil {
		logger.Logger.Error("Invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		logger.Logger.Error("Trading bot stopped with error", zap.Error(err))
		return err
	}
	logger.Logger.Info("Trading bot finished")
	return nil
}
