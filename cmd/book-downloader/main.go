package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/vertextoedge/book-downloader/internal/adapter/activity"
	"github.com/vertextoedge/book-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/book-downloader/internal/adapter/httpclient"
	"github.com/vertextoedge/book-downloader/internal/adapter/httpengine"
	"github.com/vertextoedge/book-downloader/internal/adapter/notifier"
	"github.com/vertextoedge/book-downloader/internal/adapter/sqlite"
	"github.com/vertextoedge/book-downloader/internal/config"
	"github.com/vertextoedge/book-downloader/internal/domain/event"
	"github.com/vertextoedge/book-downloader/internal/logger"
	"github.com/vertextoedge/book-downloader/internal/service/downloader"
	"github.com/vertextoedge/book-downloader/internal/service/maintenance"
	"github.com/vertextoedge/book-downloader/internal/service/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting book-downloader",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if err := run(cfg); err != nil {
		zapLogger.Error("book-downloader failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	zapLogger.Info("application stopped successfully")
}

func run(cfg *config.Config) error {
	zapLogger := logger.GetZapLogger()

	// Live preferences and the log level follow edits to the config file
	config.Watch(logger.Named("config"), logger.SetLevel)
	prefs := config.NewLivePreferences(viper.GetViper())

	// Initialize filesystem manager
	osFs := afero.NewOsFs()
	fsManager, err := filesystem.NewManager(osFs, cfg.Transfer.DocumentsDir, cfg.Transfer.TempDir)
	if err != nil {
		return fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	// Open database
	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher := event.NewInMemoryDispatcher(false, logger.Named("events"))
	dispatcher.Subscribe(event.NewLoggingHandler(logger.Named("events")))
	metricsHandler, err := event.NewMetricsHandler(registry)
	if err != nil {
		return fmt.Errorf("failed to register event metrics: %w", err)
	}
	dispatcher.Subscribe(metricsHandler)

	tracker, err := activity.New(registry, logger.Named("activity"))
	if err != nil {
		return fmt.Errorf("failed to register activity metrics: %w", err)
	}

	// Transfer engine
	client := httpclient.New(&httpclient.Config{
		RetryMax:              cfg.Engine.RetryMax,
		RetryWaitMin:          cfg.Engine.GetRetryWaitMin(),
		RetryWaitMax:          cfg.Engine.GetRetryWaitMax(),
		ResponseHeaderTimeout: cfg.Engine.GetResponseHeaderTimeout(),
	}, logger.Named("engine"))

	engine, err := httpengine.New(&httpengine.Config{
		TempDir:          fsManager.TempDir(),
		BufferSizeKB:     cfg.Engine.BufferSizeKB,
		ProgressInterval: cfg.Transfer.GetProgressInterval(),
		EventBuffer:      64,
	}, client, osFs, logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("failed to create transfer engine: %w", err)
	}
	defer engine.Close()

	// Notifications share the retrying client
	notify := notifier.New(cfg.Notifications.WebhookURL, client, logger.Named("notifier"))

	// Create download manager
	managerCfg := &downloader.Config{
		SizeThreshold:      cfg.Transfer.GetSizeThreshold(),
		FlushInterval:      cfg.Transfer.GetFlushInterval(),
		AutoResumeAttempts: cfg.Transfer.AutoResumeAttempts,
		AutoResumeDelay:    cfg.Transfer.GetAutoResumeDelay(),
		ShutdownTimeout:    cfg.Transfer.GetShutdownTimeout(),
	}
	manager, err := downloader.New(managerCfg, store, engine, fsManager, tracker, notify, prefs, dispatcher, logger.Named("downloader"))
	if err != nil {
		return fmt.Errorf("failed to create download manager: %w", err)
	}

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		ReconcileInterval: cfg.Maintenance.GetReconcileInterval(),
		CleanupInterval:   cfg.Maintenance.GetCleanupInterval(),
		TempFileMaxAge:    cfg.Maintenance.GetTempFileMaxAge(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, store, manager, fsManager, logger.Named("maintenance"))

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, store, manager, registry, logger.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	g.Go(func() error {
		return maintenanceService.Start(gctx)
	})

	g.Go(func() error {
		return httpServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("shutdown signal received, stopping services...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		maintenanceService.Stop()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
		}
		return nil
	})

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("documents_dir", fsManager.DocumentsDir()),
		zap.String("temp_dir", fsManager.TempDir()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
