// Package main provides the entry point for the signal backtesting server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-desktop/signal-backtest/internal/api"
	"github.com/atlas-desktop/signal-backtest/internal/backtester"
	"github.com/atlas-desktop/signal-backtest/internal/data"
	"github.com/atlas-desktop/signal-backtest/internal/store"
	"github.com/atlas-desktop/signal-backtest/internal/workers"
	"github.com/atlas-desktop/signal-backtest/pkg/types"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configFile := flag.String("config", "", "Config file path (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting signal backtest server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("priceDir", cfg.Data.PriceDir),
		zap.String("database", cfg.Data.DatabasePath),
	)

	// Price store
	priceStore, err := data.NewStore(logger, cfg.Data.PriceDir)
	if err != nil {
		logger.Fatal("Failed to initialize price store", zap.Error(err))
	}

	// Signal and performance persistence
	db, err := store.NewSQLiteStore(logger, cfg.Data.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	// Backtesting core
	registry := backtester.NewRegistry(logger)
	logger.Info("Registered strategies", zap.Strings("strategies", registry.List()))

	pool := workers.NewPool(logger, cfg.EvalWorker)
	runner := backtester.NewRunner(logger, priceStore, db, db, registry, pool)
	summaries := backtester.NewSummaryAggregator(logger, db, db)
	curves := backtester.NewEquityCurveBuilder(logger, db)

	// WebSocket hub for run lifecycle events
	wsHub := api.NewHub(logger)
	go wsHub.Run()

	server := api.NewServer(logger, &cfg.Server, runner, summaries, curves, db, db, priceStore, wsHub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started successfully",
		zap.String("http", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// loadConfig reads configuration from an optional YAML file with
// BACKTEST_ env overrides and built-in defaults.
func loadConfig(path string) (*types.Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.enableMetrics", true)
	v.SetDefault("data.priceDir", "./data/prices")
	v.SetDefault("data.databasePath", "./data/backtest.db")
	v.SetDefault("logLevel", "info")
	v.SetDefault("evalWorkers", 0)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
