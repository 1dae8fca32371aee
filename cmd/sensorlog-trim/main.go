package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/oicur0t/sensorlog/internal/config"
	"github.com/oicur0t/sensorlog/internal/logstore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sensorlog-trim enforces the capacity of every log once and exits. It is
// meant for logs that grew while the daemon was stopped or reconfigured with
// a smaller capacity.
func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and SENSORLOG_* env when empty)")
	only := flag.String("log", "", "Trim only this log")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := logstore.New(cfg.Store.DataDir, cfg.StoreLogs(), logger)
	if err != nil {
		logger.Fatal("Failed to create log store", zap.Error(err))
	}

	names := store.Names()
	if *only != "" {
		if _, ok := store.Capacity(*only); !ok {
			logger.Fatal("Unknown log", zap.String("log", *only))
		}
		names = []string{*only}
	}

	failed := 0
	for _, name := range names {
		removed, err := store.Trim(name)
		if err != nil {
			logger.Error("Trim failed", zap.String("log", name), zap.Error(err))
			failed++
			continue
		}
		capacity, _ := store.Capacity(name)
		logger.Info("Trimmed log",
			zap.String("log", name),
			zap.Int("removed", removed),
			zap.Int("capacity", capacity))
	}

	if failed > 0 {
		logger.Sync()
		os.Exit(1)
	}
}

// initLogger creates a configured zap logger
func initLogger(level string, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var loggerConfig zap.Config
	if format == "json" {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
	}

	loggerConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	return loggerConfig.Build()
}
