package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/api/handlers"
	"github.com/stitts-dev/fpl-engine/internal/cache"
	"github.com/stitts-dev/fpl-engine/internal/captaincy"
	"github.com/stitts-dev/fpl-engine/internal/config"
	"github.com/stitts-dev/fpl-engine/internal/forecast"
	"github.com/stitts-dev/fpl-engine/internal/heuristic"
	"github.com/stitts-dev/fpl-engine/internal/mlclient"
	"github.com/stitts-dev/fpl-engine/internal/optimizer"
	"github.com/stitts-dev/fpl-engine/internal/predictor"
	"github.com/stitts-dev/fpl-engine/internal/storage"
	"github.com/stitts-dev/fpl-engine/pkg/database"
	"github.com/stitts-dev/fpl-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logger with service context
	structuredLogger := logger.InitLogger("info", cfg.IsDevelopment())
	logger.WithService("fpl-engine").WithFields(logrus.Fields{
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting FPL engine")

	// Setup Gin mode
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		logger.WithService("fpl-engine").Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Connect to Redis
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithService("fpl-engine").Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opt)
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithService("fpl-engine").Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// External prediction service client
	mlClient := mlclient.NewClient(mlclient.Config{
		BaseURL:           cfg.MLServiceURL,
		Timeout:           cfg.MLServiceTimeout,
		RequestsPerSecond: cfg.MLServiceRPS,
		BreakerFailures:   uint32(cfg.MLBreakerFailures),
	}, structuredLogger)

	// Stores
	historyStore := storage.NewHistoryStore(db.DB)
	projectionStore := storage.NewProjectionStore(db.DB)
	fixtureStore := storage.NewFixtureStore(db.DB)
	playerStore := storage.NewPlayerStore(db.DB)

	// Engines
	heuristicEngine := heuristic.NewEngineWithWindow(historyStore, structuredLogger, cfg.RecencyWindow, cfg.MinHealthyStarts)
	hybridPredictor := predictor.New(mlClient, heuristicEngine, historyStore, fixtureStore, structuredLogger)
	orchestrator := forecast.NewOrchestratorWithHorizon(hybridPredictor, fixtureStore, structuredLogger, cfg.HorizonWeeks)
	batchGenerator := forecast.NewBatchGeneratorWithOptions(
		orchestrator,
		playerStore,
		projectionStore,
		structuredLogger,
		cfg.BatchWorkers,
		cfg.BatchMaxErrors,
		cfg.BatchRetryBudget,
	)
	captaincyEngine := captaincy.NewEngine(structuredLogger)
	xiOptimizer := optimizer.NewOptimizer(structuredLogger)

	// Forecast cache
	cacheService := cache.NewProjectionCacheServiceWithTTL(redisClient, structuredLogger, cfg.CacheTTL)

	// Initialize router
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Initialize handlers
	forecastHandler := handlers.NewForecastHandler(
		playerStore,
		projectionStore,
		historyStore,
		orchestrator,
		batchGenerator,
		cacheService,
		structuredLogger,
	)
	decisionHandler := handlers.NewDecisionHandler(
		captaincyEngine,
		xiOptimizer,
		cfg,
		structuredLogger,
	)
	healthHandler := handlers.NewHealthHandler(db, redisClient, mlClient, structuredLogger)

	// Setup API routes
	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/forecast/batch", forecastHandler.GenerateBatch)
		apiV1.POST("/forecast/:playerID", forecastHandler.GenerateForecast)
		apiV1.POST("/history/resync", forecastHandler.ResyncHistory)

		apiV1.POST("/captaincy/compare", decisionHandler.CompareCaptaincy)
		apiV1.POST("/lineup/optimize", decisionHandler.OptimizeLineup)
	}

	// Health check endpoints
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/ready", healthHandler.GetReady)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.WithService("fpl-engine").WithField("port", cfg.Port).Info("FPL engine started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithService("fpl-engine").Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.WithService("fpl-engine").Info("Shutting down FPL engine...")

	// The server has 5 seconds to finish the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithService("fpl-engine").Fatalf("FPL engine forced to shutdown: %v", err)
	}

	logger.WithService("fpl-engine").Info("FPL engine exited")
}
