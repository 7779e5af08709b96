package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"budgetsync/internal/cli"
	"budgetsync/internal/config"
	"budgetsync/internal/log"
	"budgetsync/internal/remote/memory"
	"budgetsync/internal/treeserver"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentTree)

	cfg := config.Load()
	if err := cfg.ValidateTreeServer(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	var hubOpts []memory.HubOption
	var persister *treeserver.Persister
	if cfg.TreeDatabaseURL != "" {
		store, err := treeserver.OpenPostgres(cfg.TreeDatabaseURL)
		if err != nil {
			logger.Error("Failed to open tree database", log.FieldError, err)
			os.Exit(1)
		}
		defer store.Close()

		loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		root, revision, err := store.Load(loadCtx)
		cancel()
		if err != nil {
			logger.Error("Failed to restore tree snapshot", log.FieldError, err)
			os.Exit(1)
		}
		persister = treeserver.NewPersister(store, 10*time.Second)
		hubOpts = append(hubOpts,
			memory.WithSnapshot(root, revision),
			memory.WithCommitHook(persister.Commit))
		logger.Info("Tree restored from PostgreSQL", log.FieldRevision, revision)
	} else {
		logger.Warn("TREE_DATABASE_URL not set, tree state lives in memory only")
	}

	hub := memory.NewHub(hubOpts...)
	ts, err := treeserver.New(hub, treeserver.Config{
		JWTSecret: []byte(cfg.TreeJWTSecret),
		TokenTTL:  cfg.TreeTokenTTL,
	})
	if err != nil {
		logger.Error("Failed to create tree server", log.FieldError, err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.TreePort,
		Handler:           ts.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting tree server", "port", cfg.TreePort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down tree server", log.FieldOperation, log.OpShutdown)

		// Ending the streams first runs every session's disconnect removals.
		ts.DropSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cerr := ts.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if persister != nil {
			persister.Stop()
			logger.Info("Final tree snapshot stored", log.FieldRevision, persister.Saved())
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Tree server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Tree server stopped gracefully")
}
