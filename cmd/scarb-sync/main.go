package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/starkops/scarb-sync/internal/checksum"
	"github.com/starkops/scarb-sync/internal/config"
	"github.com/starkops/scarb-sync/internal/github"
	"github.com/starkops/scarb-sync/internal/logger"
	"github.com/starkops/scarb-sync/internal/service"
	"github.com/starkops/scarb-sync/internal/store"
	"github.com/starkops/scarb-sync/pkg/httpx"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Cancel the run on SIGINT or SIGTERM; an interrupted run writes
	// nothing, so the versions file is never left half merged.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("update failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("=== starting versions update ===",
		zap.String("repository", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo),
		zap.String("target", cfg.Storage.Path),
	)

	// One shared client; the token bucket covers listing and downloads
	httpClient := httpx.NewClient(cfg.HTTP.Timeout, cfg.HTTP.RPS, cfg.HTTP.Burst)

	fileStore := store.NewFileStore(cfg.Storage.Path, log)
	unlock, err := fileStore.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	releases := github.NewClient(cfg, httpClient, log)
	checksums := checksum.NewResolver(cfg, httpClient, log)

	updater := service.NewUpdater(releases, checksums, fileStore, log)
	if _, err := updater.Run(ctx); err != nil {
		return err
	}

	log.Info("=== update completed successfully ===")
	return nil
}
