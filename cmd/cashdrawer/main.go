// Package main запускает HTTP-сервер денежного ящика.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/cash-drawer/internal/cache"
	"github.com/mmeshcher/cash-drawer/internal/catalog"
	"github.com/mmeshcher/cash-drawer/internal/config"
	"github.com/mmeshcher/cash-drawer/internal/discount"
	"github.com/mmeshcher/cash-drawer/internal/handler"
	"github.com/mmeshcher/cash-drawer/internal/repository"
	"github.com/mmeshcher/cash-drawer/internal/service"
)

func openRepository(cfg *config.Config) (service.Repository, error) {
	switch cfg.DatabaseType {
	case config.DatabasePostgres:
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	case config.DatabaseSQLite:
		return repository.NewSQLiteRepository(cfg.DatabasePath)
	case config.DatabaseMemory:
		return repository.NewMemoryRepository(), nil
	}
	return nil, fmt.Errorf("unknown database type %q", cfg.DatabaseType)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	set, err := cfg.DenominationSet()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "type", cfg.DatabaseType, "error", err.Error())
	}

	opts := []service.Option{
		service.WithDenominations(set),
		service.WithLogger(logger),
		service.WithDiscounts(discount.NewEngine(repo)),
	}

	if cfg.CatalogAddress != "" {
		opts = append(opts, service.WithCatalog(catalog.NewClient(cfg.CatalogAddress)))
		sugar.Infow("using external catalog", "addr", cfg.CatalogAddress)
	}

	if cfg.RedisAddress != "" {
		rdb, err := cache.Connect(context.Background(), cfg.RedisAddress)
		if err != nil {
			sugar.Warnw("redis unavailable, balance snapshots disabled", "addr", cfg.RedisAddress, "error", err.Error())
		} else {
			defer rdb.Close()
			opts = append(opts, service.WithBalanceCache(cache.New(rdb, cfg.SnapshotTTL)))
			sugar.Infow("balance snapshots enabled", "addr", cfg.RedisAddress)
		}
	}

	svc := service.NewService(repo, opts...)
	defer svc.Close()

	h := handler.NewHandler(svc, logger, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting cash drawer server", "addr", cfg.RunAddress, "storage", cfg.DatabaseType)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
