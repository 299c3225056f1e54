// Package main запускает HTTP-сервер сервиса бара.
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

	"github.com/mmeshcher/bartab/internal/agios"
	"github.com/mmeshcher/bartab/internal/config"
	"github.com/mmeshcher/bartab/internal/handler"
	"github.com/mmeshcher/bartab/internal/ledger"
	"github.com/mmeshcher/bartab/internal/middleware"
	"github.com/mmeshcher/bartab/internal/repository"
	"github.com/mmeshcher/bartab/internal/service"
)

// storage объединяет всё, что требуется от хранилища сервисам приложения.
type storage interface {
	service.Repository
	ledger.Repository
	ledger.AccountStore
	agios.Repository
}

func openStorage(dsn string) (storage, error) {
	if dsn == "" {
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStorage(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
	}

	l := ledger.NewService(repo, ledger.WithLogger(logger))
	engine := agios.NewEngine(repo, l, ledger.NewSystemAccounts(repo, cfg.SystemUsername), logger)

	svc := service.NewService(repo, l, engine, logger,
		service.WithSystemUsername(cfg.SystemUsername),
		service.WithAdmins(cfg.AdminUsernames...),
	)
	if len(cfg.AdminUsernames) == 0 {
		sugar.Warn("ADMIN_USERNAMES is empty, nobody can create bars")
	}
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartAgiosUpdates(ctx, cfg.AgiosInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting bar server", "addr", cfg.RunAddress)
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
