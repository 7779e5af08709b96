package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetsync/internal/amqp"
	"budgetsync/internal/cache"
	"budgetsync/internal/cli"
	"budgetsync/internal/log"
	gsheet "budgetsync/internal/sheets/google"
	"budgetsync/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting mirror-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateMirrorWorker(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sheet, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirrorWorker := worker.NewMirrorWorker(sheet, cfg.FamilyID)

	// Recover the dedupe state after a restart; a failure only costs extra
	// sheet lookups.
	if err := mirrorWorker.WarmUp(ctx, time.Now().Year()); err != nil {
		logger.Warn("Failed to warm dedupe cache", log.FieldError, err)
	}

	caches := cache.NewManager()
	caches.Register(mirrorWorker.Seen())
	caches.StartCleanup(time.Hour)
	defer caches.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeOperationMirrors(gctx, mirrorWorker.HandleMirrorMessage)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := mirrorWorker.Stats()
				logger.Info("Mirror worker stats",
					"appended", stats.Appended,
					"duplicates", stats.Duplicates,
					"skipped", stats.Skipped)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", "stats", mirrorWorker.Stats())
}
