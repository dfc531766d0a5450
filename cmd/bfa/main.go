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
	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/handler"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/cache"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/observability"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/rfvapi"
	"github.com/boddenberg/rfv-config-bfa-go/internal/port"
	"github.com/boddenberg/rfv-config-bfa-go/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("rfv_api_url", cfg.RFVAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("pending_save_ttl", cfg.PendingSaveTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("auth_enabled", cfg.AuthEnabled()),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Tracing ---
	if cfg.TracingOn {
		shutdown, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "rfv-config-bfa")
		if err != nil {
			logger.Fatal("failed to init tracer", zap.Error(err))
		}
		defer shutdown(context.Background())
	}

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	var redisClient *redis.Client
	if cfg.CacheBackend == config.CacheRedis {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("using redis cache", zap.String("addr", cfg.RedisAddr))
	}
	listingCache := newCache[[]domain.ParameterSet](redisClient, "parameters", cfg.CacheTTL, logger)
	pendingCache := newCache[domain.PendingSave](redisClient, "pending", cfg.PendingSaveTTL, logger)
	filiaisCache := newCache[[]domain.Filial](redisClient, "filiais", cfg.CacheTTL, logger)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("rfv-api")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	rfvClient := rfvapi.NewClient(httpClient, cfg.RFVAPIURL, cfg.RFVAPIToken, cb, resilienceCfg, logger)

	// --- Services ---
	svc := service.NewParameterService(
		rfvClient,
		service.NewParameterStore(listingCache),
		pendingCache,
		filiaisCache,
		metrics,
		logger,
	)

	opts := handler.Options{Upstream: rfvClient}
	if cfg.AuthEnabled() {
		opts.Verifier = service.NewTokenVerifier(cfg.JWTSecret)
		logger.Info("bearer authentication enabled")
	} else {
		logger.Warn("JWT_SECRET not set, /v1 routes are unauthenticated")
	}
	if cfg.RateLimitRPS > 0 {
		opts.RateLimit = handler.NewRateLimitStore(cfg.RateLimitRPS, cfg.RateLimitBurst)
		opts.RateLimit.StartJanitor(ctx)
	}

	// --- Router ---
	router := handler.NewRouter(svc, metrics, opts, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newCache picks the redis backend when a client is configured.
func newCache[T any](client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) port.Cache[T] {
	if client != nil {
		return cache.NewRedis[T](client, prefix, ttl, logger)
	}
	return cache.New[T](ttl)
}
