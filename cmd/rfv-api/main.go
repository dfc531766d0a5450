package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/config"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/observability"
	"github.com/boddenberg/rfv-config-bfa-go/internal/refapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/repository"

	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	repo, err := repository.New(repository.Config{
		Driver:          cfg.DBDriver,
		SQLitePath:      cfg.SQLitePath,
		PostgresDSN:     cfg.PostgresDSN,
		MaxOpenConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logger.Fatal("failed to open repository", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer repo.Close()

	logger.Info("repository ready", zap.String("driver", cfg.DBDriver))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.RefAPIPort),
		Handler:      refapi.NewServer(repo, cfg.RFVAPIToken, logger).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("rfv api starting", zap.Int("port", cfg.RefAPIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	logger.Info("rfv api stopped")
}
