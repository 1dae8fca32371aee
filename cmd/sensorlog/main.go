package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oicur0t/sensorlog/internal/archive"
	"github.com/oicur0t/sensorlog/internal/config"
	"github.com/oicur0t/sensorlog/internal/dashboard"
	"github.com/oicur0t/sensorlog/internal/ingest"
	"github.com/oicur0t/sensorlog/internal/logstore"
	"github.com/oicur0t/sensorlog/internal/scheduler"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"github.com/oicur0t/sensorlog/internal/server"
	"github.com/oicur0t/sensorlog/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults and SENSORLOG_* env when empty)")
	flag.Parse()
	startedAt := time.Now()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting sensorlog",
		zap.String("data_dir", cfg.Store.DataDir),
		zap.String("source", cfg.Source.Type),
		zap.Int("logs", len(cfg.Logs)))

	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Fatal("Invalid sensor catalog", zap.Error(err))
	}

	store, err := logstore.New(cfg.Store.DataDir, cfg.StoreLogs(), logger)
	if err != nil {
		logger.Fatal("Failed to create log store", zap.Error(err))
	}
	// Nothing runs without the log files
	if err := store.EnsureLogsExist(); err != nil {
		logger.Fatal("Failed to bootstrap log files", zap.Error(err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Optional MongoDB archive
	var archiveChan chan<- models.Record
	var sink *archive.MongoSink
	if cfg.Archive.Enabled {
		sink, err = archive.NewMongoSink(ctx, archive.MongoOptions{
			URI:                cfg.Archive.MongoDB.URI,
			Database:           cfg.Archive.MongoDB.Database,
			CollectionPrefix:   cfg.Archive.MongoDB.CollectionPrefix,
			CertificateKeyFile: cfg.Archive.MongoDB.CertificateKeyFile,
			MaxPoolSize:        cfg.Archive.MongoDB.MaxPoolSize,
			TTLDays:            cfg.Archive.MongoDB.TTLDays,
			Timeout:            cfg.Archive.MongoDB.Timeout,
			Retry:              cfg.ArchiveRetry(),
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect archive", zap.Error(err))
		}

		batcher := archive.NewBatcher(
			cfg.Archive.Batching.MaxSize,
			cfg.Archive.Batching.MaxWait,
			cfg.Archive.Batching.QueueSize,
			logger,
			sink,
		)
		archiveChan = batcher.Records()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := batcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Batcher failed", zap.Error(err))
			}
		}()
	}

	// Producer
	var source ingest.Source
	switch cfg.Source.Type {
	case config.SourceFile:
		source = ingest.NewFileSource(cfg.Source.File.Path, cfg.Source.File.StateFile, cfg.Source.File.FromStart, logger)
	default:
		source = ingest.NewSerialSource(cfg.Source.Serial.Device, cfg.Source.Serial.BaudRate, cfg.Source.Serial.ReadTimeout, logger)
	}

	router := sensor.NewRouter(catalog, logger)
	pipeline := ingest.NewPipeline(source, router, store, archiveChan, logger)

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- pipeline.Run(ctx)
	}()

	// Consumer
	dash := dashboard.New(store, catalog, cfg.Readiness(), logger)
	refresher := scheduler.Every(ctx, cfg.Dashboard.RefreshInterval, dash.RefreshAsync, logger)

	var httpServer *http.Server
	serverErrors := make(chan error, 1)
	if cfg.Server.Enabled {
		handler := server.NewHandler(dash, router.Stats, logger)
		httpServer, err = server.New(cfg.Server, cfg.MTLS, handler, logger)
		if err != nil {
			logger.Fatal("Failed to create HTTP server", zap.Error(err))
		}

		go func() {
			logger.Info("HTTP server starting",
				zap.String("addr", cfg.Server.ListenAddress),
				zap.Bool("tls", cfg.MTLS.Enabled))
			if err := server.ListenAndServe(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	pipelineDone := false
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-pipelineErr:
		pipelineDone = true
		if err != nil {
			logger.Error("Ingest stopped", zap.Error(err))
			exitCode = 1
		} else {
			logger.Info("Source ended")
		}
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
		exitCode = 1
	}

	cancel()
	if !pipelineDone {
		<-pipelineErr
	}
	refresher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
			httpServer.Close()
		}
	}

	// Wait for the final archive flush
	wg.Wait()
	if sink != nil {
		if err := sink.Close(shutdownCtx); err != nil {
			logger.Error("Failed to close MongoDB connection", zap.Error(err))
		}
	}

	stats := pipeline.Stats()
	logger.Info("Sensorlog stopped",
		zap.Uint64("written", stats.Written),
		zap.Uint64("trimmed", stats.Trimmed),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("refreshes", refresher.Fired()),
		zap.Duration("uptime", time.Since(startedAt)))

	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
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
