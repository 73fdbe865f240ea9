package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playforge/walletd/internal/infra/postgres"
	infraRedis "github.com/playforge/walletd/internal/infra/redis"
	"github.com/playforge/walletd/internal/platform/account"
	"github.com/playforge/walletd/internal/platform/asset"
	"github.com/playforge/walletd/internal/transport/httpapi"
	"github.com/playforge/walletd/internal/transport/httpapi/handler"
	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/config"
	"github.com/playforge/walletd/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting wallet service",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Initialize database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Initialize Redis client for the balance read cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Redis connection established")

	// Initialize the store and the transfer engine
	store := postgres.NewStore(db.Pool)
	balanceCache := infraRedis.NewBalanceCache(redisClient, log)

	engine := wallet.NewService(store, cfg.MaxTransactionAmount, log)
	ops := wallet.NewOperations(engine, store, balanceCache, log)

	// Admin services
	assetSvc := asset.NewService(store, log)
	accountSvc := account.NewService(store, log)

	// HTTP handlers
	walletHandler := handler.NewWalletHandler(ops, log)
	adminHandler := handler.NewAdminHandler(assetSvc, accountSvc, store, log)
	healthHandler := handler.NewHealthHandler(db.Pool, balanceCache)

	// Create HTTP router
	r := httpapi.NewRouter(httpapi.Config{
		Logger:            log,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		WalletHandler:     walletHandler,
		AdminHandler:      adminHandler,
		HealthHandler:     healthHandler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}
