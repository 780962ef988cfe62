// Package main is the entry point for the wavepick background worker: wave
// generation ticks, outbox relay, lot expiry sweeps and idempotency cleanup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wavepick/internal/core/execctx"
	"wavepick/internal/core/id"
	"wavepick/internal/domain/reservation"
	"wavepick/internal/domain/routing"
	"wavepick/internal/domain/shortage"
	"wavepick/internal/domain/wave"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting wavepick worker")

	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)

	lotRepo := stock_repo.NewLotRepo(txManager)
	waveRepo := wave_repo.NewWaveRepo(txManager)
	shortageRepo := shortage_repo.NewShortageRepo(txManager)
	layoutRepo := layout_repo.NewLayoutRepo(txManager)
	catalogRepo := catalog_repo.NewCatalogRepo(txManager)
	earningsRepo := earnings_repo.NewEarningsRepo(txManager)

	idempotencyStore := postgres.NewIdempotencyStore(txManager,
		getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour))

	engine := reservation.NewEngine(lotRepo, txManager)
	emitter := transfer.NewOutboxEmitter(postgres.NewOutboxPublisher(txManager))
	slips := slipnum.NewSlipNumerator(numerator.New(slipnum.NewTxQuerier(txManager)))

	manager := shortage.NewManager(shortageRepo, waveRepo, catalogRepo, engine, emitter, slips, txManager)
	orchestrator := wave.NewOrchestrator(waveRepo, earningsRepo, catalogRepo, layoutRepo,
		engine, manager, idempotencyStore, txManager)
	manager.SetTaskCompleter(orchestrator)

	optimizer := routing.NewOptimizer(waveRepo, layoutRepo, txManager)

	w := &Worker{
		log:          log.WithComponent("worker"),
		orchestrator: orchestrator,
		engine:       engine,
		catalog:      catalogRepo,
		waves:        waveRepo,
		optimizer:    optimizer,
		idempotency:  idempotencyStore,

		generateInterval: getEnvDuration("WAVE_TICK_INTERVAL", time.Minute),
		optimizeInterval: getEnvDuration("ROUTE_OPTIMIZE_INTERVAL", 30*time.Second),
		optimizeWorkers:  getEnvInt("ROUTE_OPTIMIZE_WORKERS", runtime.NumCPU()),
		expiryInterval:   getEnvDuration("LOT_EXPIRY_INTERVAL", time.Hour),
		cleanupInterval:  getEnvDuration("IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runWaveGeneration(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runRouteOptimization(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runLotExpiry(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runIdempotencyCleanup(ctx)
	}()

	// The outbox relay only runs when a broker is configured; transfer
	// instructions stay queued in the outbox table otherwise.
	if rabbitURL := getEnv("RABBITMQ_URL", ""); rabbitURL != "" {
		publisher := transfer.NewRabbitPublisher(transfer.RabbitConfig{
			URL:        rabbitURL,
			Exchange:   getEnv("RABBITMQ_EXCHANGE", ""),
			RoutingKey: getEnv("RABBITMQ_ROUTING_KEY", ""),
		})
		defer publisher.Close()

		relay := postgres.NewOutboxRelay(pool.Unwrap(), getEnvInt("OUTBOX_BATCH_SIZE", 100), publisher)

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runOutboxRelay(ctx, relay, getEnvDuration("OUTBOX_RELAY_INTERVAL", 5*time.Second))
		}()
		log.Infow("outbox relay enabled", "url", rabbitURL)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs the periodic jobs of the fulfillment engine.
type Worker struct {
	log          *logger.Logger
	orchestrator *wave.Orchestrator
	engine       *reservation.Engine
	catalog      *catalog_repo.CatalogRepo
	waves        wave.Repository
	optimizer    *routing.Optimizer
	idempotency  *postgres.IdempotencyStore

	generateInterval time.Duration
	optimizeInterval time.Duration
	optimizeWorkers  int
	expiryInterval   time.Duration
	cleanupInterval  time.Duration
}

// runWaveGeneration ticks wave generation for the current business date.
// Settings whose picking start has not elapsed are skipped inside the
// orchestrator, so a short interval is safe.
func (w *Worker) runWaveGeneration(ctx context.Context) {
	ticker := time.NewTicker(w.generateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			tickCtx := execctx.With(ctx, execctx.New(now, "wave-generator"))

			result, err := w.orchestrator.GenerateWaves(tickCtx, now.Truncate(24*time.Hour))
			if err != nil {
				w.log.Errorw("wave generation tick failed", "error", err)
				continue
			}
			if result.Created > 0 || result.Failed > 0 {
				w.log.Infow("wave generation tick",
					"created", result.Created,
					"skipped", result.Skipped,
					"failed", result.Failed,
				)
			}
		}
	}
}

// runRouteOptimization assigns walking orders to freshly generated tasks.
// Tasks whose items all still carry a zero walking order are dispatched to a
// pool of optimization workers; the graph search is CPU-bound so the pool is
// sized to the machine.
func (w *Worker) runRouteOptimization(ctx context.Context) {
	ticker := time.NewTicker(w.optimizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tasks, err := w.pendingOptimizationTasks(ctx)
			if err != nil {
				w.log.Errorw("list tasks for optimization failed", "error", err)
				continue
			}
			if len(tasks) == 0 {
				continue
			}
			w.optimizeTasks(ctx, tasks)
		}
	}
}

func (w *Worker) pendingOptimizationTasks(ctx context.Context) ([]id.ID, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	waves, err := w.waves.ListWavesByDate(ctx, today)
	if err != nil {
		return nil, err
	}

	var pending []id.ID
	for _, wv := range waves {
		if wv.Status == wave.WaveCompleted {
			continue
		}
		tasks, err := w.waves.ListTasksByWave(ctx, wv.ID)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			if task.Status != wave.TaskPending {
				continue
			}
			items, err := w.waves.ListItemResultsByTask(ctx, task.ID)
			if err != nil {
				return nil, err
			}
			if needsWalkingOrder(items) {
				pending = append(pending, task.ID)
			}
		}
	}
	return pending, nil
}

func needsWalkingOrder(items []wave.PickingItemResult) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.WalkingOrder != 0 {
			return false
		}
	}
	return true
}

func (w *Worker) optimizeTasks(ctx context.Context, taskIDs []id.ID) {
	jobs := make(chan id.ID)
	var wg sync.WaitGroup

	workers := w.optimizeWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for taskID := range jobs {
				if _, err := w.optimizer.OptimizeTask(ctx, taskID); err != nil {
					w.log.Errorw("task optimization failed",
						"task_id", taskID,
						"error", err,
					)
				}
			}
		}()
	}

	for _, taskID := range taskIDs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- taskID:
		}
	}
	close(jobs)
	wg.Wait()
}

// runLotExpiry sweeps expired lots across all active warehouses, releasing
// their reservations and archiving the lot records.
func (w *Worker) runLotExpiry(ctx context.Context) {
	ticker := time.NewTicker(w.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx := execctx.With(ctx, execctx.New(time.Now().UTC(), "lot-expiry"))

			warehouses, err := w.catalog.ListActiveWarehouses(sweepCtx)
			if err != nil {
				w.log.Errorw("list warehouses for expiry sweep failed", "error", err)
				continue
			}
			for _, warehouse := range warehouses {
				expired, err := w.engine.ExpireLots(sweepCtx, warehouse.ID)
				if err != nil {
					w.log.Errorw("lot expiry sweep failed",
						"warehouse_id", warehouse.ID,
						"error", err,
					)
					continue
				}
				if expired > 0 {
					w.log.Infow("expired lots archived",
						"warehouse_id", warehouse.ID,
						"count", expired,
					)
				}
			}
		}
	}
}

// runOutboxRelay drains the transfer outbox into the message broker.
func (w *Worker) runOutboxRelay(ctx context.Context, relay *postgres.OutboxRelay, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dlqTicker := time.NewTicker(10 * interval)
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := relay.ProcessBatch(ctx)
			if err != nil {
				w.log.Errorw("outbox relay batch failed", "error", err)
				continue
			}
			if processed > 0 {
				w.log.Infow("outbox messages published", "count", processed)
			}
		case <-dlqTicker.C:
			moved, err := relay.MoveToDLQ(ctx)
			if err != nil {
				w.log.Errorw("outbox DLQ move failed", "error", err)
				continue
			}
			if moved > 0 {
				w.log.Warnw("outbox messages moved to DLQ", "count", moved)
			}
		}
	}
}

// runIdempotencyCleanup purges expired duplicate-suppression keys.
func (w *Worker) runIdempotencyCleanup(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.idempotency.CleanupExpired(ctx)
			if err != nil {
				w.log.Errorw("idempotency cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				w.log.Infow("expired idempotency keys removed", "count", removed)
			}
		}
	}
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
