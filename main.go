package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for errors before the logger is set up
	"os"

	"github.com/spf13/cobra"

	"cryptoCrossBot/config"
	"cryptoCrossBot/internal/adapters/binanceclient"
	"cryptoCrossBot/internal/adapters/logger"
	"cryptoCrossBot/internal/adapters/notify"
	"cryptoCrossBot/internal/adapters/sqlite"
	"cryptoCrossBot/internal/app"
	"cryptoCrossBot/internal/risk"
	"cryptoCrossBot/internal/strategy"
)

func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:          "cryptoCrossBot",
		Short:        "Run the MA crossover spot trading bot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), envFile)
		},
	}
	rootCmd.Flags().StringVar(&envFile, "config", ".env", "Path to the .env configuration file")

	if err := rootCmd.Execute(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context, envFile string) error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateLive(); err != nil {
		return err
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger.With("sqlite"),
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize database repository")
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            appLogger.With("binance"),
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize Binance client")
		return err
	}

	// 5. Notifications
	var senders []notify.Sender
	if cfg.TelegramEnabled() {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID))
	} else {
		appLogger.Warn(ctx, "Telegram is not configured, notifications are disabled")
	}
	notifier := notify.NewNotifier(senders, cfg.NotifyEvents, appLogger.With("notify"))

	// 6. Risk manager and strategy
	riskManager, err := risk.NewRiskManager(cfg.RiskConfig())
	if err != nil {
		return err
	}
	strat, err := strategy.New(cfg.StrategyConfig(), appLogger.With("strategy"))
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize trading strategy")
		return err
	}

	// 7. Initialize Application Service
	tradingService, err := app.NewTradingService(cfg, appLogger, binanceClient, repo, notifier, riskManager, strat)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize trading service")
		return err
	}

	// 8. Start the Service
	if err := tradingService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trading service exited with error")
		return err
	}
	appLogger.Info(ctx, "Application finished gracefully.")
	return nil
}
