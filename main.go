package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"crawler/pkg/api"
	"crawler/pkg/config"
	"crawler/pkg/crawler"
	"crawler/pkg/storage"
	"crawler/pkg/telegram"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yml", "path to the configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	if err := run(*cfgPath, logger); err != nil {
		logger.Fatal("Application failed", zap.Error(err))
	}
	logger.Info("Application stopped")
}

// run keeps all cleanup in deferred blocks so the storage handle is
// released no matter which error ends the process.
func run(cfgPath string, logger *zap.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Applying database migrations...")
	if err := storage.ApplyMigrations(cfg.Database.Path, "./migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tgClient := telegram.New(&cfg.Telegram, logger)

	apiServer := api.NewServer(tgClient, store, logger)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			logger.Error("API server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Starting Telegram client...")
	clientErr := make(chan error, 1)
	go func() {
		clientErr <- tgClient.Run(ctx, cfg.Telegram.Phone)
	}()

	select {
	case <-tgClient.AuthCompleted:
		logger.Info("Telegram authentication completed")
	case err := <-clientErr:
		return fmt.Errorf("telegram client failed to start: %w", err)
	case <-ctx.Done():
		logger.Info("Interrupted during Telegram client startup")
		return nil
	}

	if me, err := tgClient.Self(ctx); err != nil {
		logger.Warn("Failed to load own account", zap.Error(err))
	} else {
		logger.Info("Logged in",
			zap.String("first_name", me.FirstName),
			zap.String("username", me.Username))
	}

	msgCrawler := crawler.New(tgClient, store, logger, &cfg.Crawler)
	if err := msgCrawler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawler failed: %w", err)
	}
	return nil
}
