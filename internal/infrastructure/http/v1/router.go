// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"wavepick/internal/domain/routing"
	"wavepick/internal/domain/shortage"
	"wavepick/internal/domain/wave"
	"wavepick/internal/infrastructure/http/v1/handlers"
	"wavepick/internal/infrastructure/http/v1/middleware"
	"wavepick/internal/infrastructure/storage/postgres"
	"wavepick/pkg/logger"
)

// RouterConfig carries the dependencies of the HTTP API.
type RouterConfig struct {
	Logger           *logger.Logger
	Pool             *postgres.Pool
	IdempotencyStore *postgres.IdempotencyStore

	Orchestrator *wave.Orchestrator
	Shortages    *shortage.Manager
	Optimizer    *routing.Optimizer
}

// NewRouter builds the gin engine with all middleware and routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.ExecContext())

	base := handlers.NewBaseHandler()
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	waveHandler := handlers.NewWaveHandler(base, cfg.Orchestrator)
	shortageHandler := handlers.NewShortageHandler(base, cfg.Shortages)
	routingHandler := handlers.NewRoutingHandler(base, cfg.Optimizer)

	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	idempotent := middleware.Idempotency(cfg.IdempotencyStore)

	api := router.Group("/api/v1")
	{
		waves := api.Group("/waves")
		{
			waves.GET("", waveHandler.List)
			waves.POST("/generate", idempotent, waveHandler.Generate)
			waves.POST("/reset", waveHandler.Reset)
		}

		tasks := api.Group("/tasks")
		{
			tasks.GET("/:id", waveHandler.GetTask)
			tasks.POST("/:id/optimize-route", routingHandler.OptimizeTask)
		}

		picking := api.Group("/picking")
		{
			picking.POST("/items/:id/complete", idempotent, waveHandler.CompleteItem)
		}

		routes := api.Group("/routes")
		{
			routes.POST("/optimize", routingHandler.Optimize)
		}

		shortages := api.Group("/shortages")
		{
			shortages.GET("/:id", shortageHandler.Get)
			shortages.GET("/:id/allocations", shortageHandler.ListAllocations)
			shortages.POST("/:id/allocations", idempotent, shortageHandler.CreateProxy)
			shortages.POST("/:id/confirm", shortageHandler.Confirm)
			shortages.DELETE("/:id/confirm", shortageHandler.CancelConfirmation)
			shortages.POST("/:id/approve", shortageHandler.Approve)
		}

		allocations := api.Group("/allocations")
		{
			allocations.PUT("/:id", shortageHandler.UpdateProxy)
			allocations.DELETE("/:id", shortageHandler.CancelProxy)
			allocations.POST("/:id/reserve", shortageHandler.Reserve)
			allocations.POST("/:id/start-picking", shortageHandler.StartPicking)
			allocations.POST("/:id/complete-picking", idempotent, shortageHandler.CompletePicking)
		}
	}

	return router
}
