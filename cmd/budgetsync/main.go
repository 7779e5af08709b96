package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budgetsync/internal/backend"
	"budgetsync/internal/cache"
	"budgetsync/internal/cli"
	"budgetsync/internal/core"
	apphttp "budgetsync/internal/http"
	"budgetsync/internal/log"
	"budgetsync/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	startCtx := context.Background()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(startCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err)
		os.Exit(1)
	}
	b := res.Backend

	caches := cache.NewManager()
	caches.Register(b.Local.ReadCache())
	caches.StartCleanup(time.Minute)

	diagCfg := services.DefaultDiagnosticsConfig()
	diagCfg.QueueSize = cfg.DiagnosticsQueueSize
	diagCfg.MaxRetries = cfg.DiagnosticsRetries
	queue := services.NewDiagnosticsQueue(diagCfg)
	if err := queue.Start(startCtx); err != nil {
		logger.Error("Failed to start diagnostics queue", log.FieldError, err)
		os.Exit(1)
	}

	coord := services.NewCoordinator(b.RemoteStore(), b.Local, services.CoordinatorConfig{
		StorageKey:  cfg.StorageKey,
		SettleDelay: cfg.SettleDelay,
		Currency:    cfg.Currency,
	})
	identity := core.NewSessionIdentity(cfg.DeviceUserAgent, cfg.DeviceName, time.Now())
	mirror := services.NewOperationMirror(queue, time.Local, b.Sinks...)
	ledger := services.NewLedger(coord, mirror, b.Backups(), identity)

	cloud := ledger.Open(startCtx)

	registry := services.NewDeviceRegistry(b.DeviceStore(), queue, coord.CloudAvailable, identity, cfg.HeartbeatInterval)
	if err := registry.Start(startCtx); err != nil {
		logger.Warn("Device registry did not start", log.FieldError, err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Ledger:  ledger,
		Devices: registry,
		Logger:  logger,
	})
	srv.SetReady(true)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		srv.SetReady(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := registry.Stop(shutdownCtx); err != nil {
			logger.Warn("Device registry shutdown error", log.FieldError, err)
		}
		ledger.Close()
		if err := queue.Stop(shutdownCtx); err != nil {
			logger.Warn("Diagnostics queue shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup error", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("Starting budgetsync server",
			"port", cfg.Port,
			"cloud", cloud,
			log.FieldFamilyID, cfg.FamilyID,
			log.FieldSessionID, identity.SessionID,
			log.FieldDeviceName, identity.Name,
			"sinks", mirror.Sinks())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
