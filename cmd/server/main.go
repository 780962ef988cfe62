// Package main is the entry point for the wavepick API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"wavepick/internal/domain/reservation"
	"wavepick/internal/domain/routing"
	"wavepick/internal/domain/shortage"
	"wavepick/internal/domain/wave"
	"wavepick/internal/infrastructure/cache"
	v1 "wavepick/internal/infrastructure/http/v1"
	slipnum "wavepick/internal/infrastructure/numerator"
	"wavepick/internal/infrastructure/storage/postgres"
	"wavepick/internal/infrastructure/storage/postgres/catalog_repo"
	"wavepick/internal/infrastructure/storage/postgres/earnings_repo"
	"wavepick/internal/infrastructure/storage/postgres/layout_repo"
	"wavepick/internal/infrastructure/storage/postgres/shortage_repo"
	"wavepick/internal/infrastructure/storage/postgres/stock_repo"
	"wavepick/internal/infrastructure/storage/postgres/wave_repo"
	"wavepick/internal/infrastructure/transfer"
	"wavepick/pkg/logger"
	"wavepick/pkg/numerator"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting wavepick server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	// --- Repositories ---
	lotRepo := stock_repo.NewLotRepo(txManager)
	waveRepo := wave_repo.NewWaveRepo(txManager)
	shortageRepo := shortage_repo.NewShortageRepo(txManager)
	layoutRepo := layout_repo.NewLayoutRepo(txManager)
	catalogRepo := catalog_repo.NewCatalogRepo(txManager)
	earningsRepo := earnings_repo.NewEarningsRepo(txManager)

	idempotencyStore := postgres.NewIdempotencyStore(txManager,
		getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour))

	// --- Services ---
	engine := reservation.NewEngine(lotRepo, txManager)

	outboxPublisher := postgres.NewOutboxPublisher(txManager)
	emitter := transfer.NewOutboxEmitter(outboxPublisher)
	slips := slipnum.NewSlipNumerator(numerator.New(slipnum.NewTxQuerier(txManager)))

	manager := shortage.NewManager(shortageRepo, waveRepo, catalogRepo, engine, emitter, slips, txManager)
	orchestrator := wave.NewOrchestrator(waveRepo, earningsRepo, catalogRepo, layoutRepo,
		engine, manager, idempotencyStore, txManager)
	manager.SetTaskCompleter(orchestrator)

	// --- Layout cache ---
	var layouts routing.LayoutSource = layoutRepo
	if redisAddr := getEnv("REDIS_ADDR", ""); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		})
		defer redisClient.Close()
		layouts = cache.NewLayoutCache(redisClient, layoutRepo,
			getEnvDuration("LAYOUT_CACHE_TTL", 30*time.Minute))
		log.Infow("layout cache enabled", "addr", redisAddr)
	}

	optimizer := routing.NewOptimizer(waveRepo, layouts, txManager)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger:           log,
		Pool:             pool,
		IdempotencyStore: idempotencyStore,
		Orchestrator:     orchestrator,
		Shortages:        manager,
		Optimizer:        optimizer,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
