package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/auth"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/broker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/config"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/database"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/modify"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/reconcile"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/twap"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/webhook"
	"github.com/LeeeWayyy/trading-platform-sub021/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the execution API server with graceful shutdown
// support. It wires the durable store, the Redis-backed circuit breaker, the
// broker client, the slice scheduler and the reconciliation runner.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Circuit breaker state lives in Redis so every replica sees a trip.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	gate := breaker.NewGate(rdb)

	// Select the outbound broker.
	var brk broker.Broker
	switch cfg.BrokerMode {
	case "http":
		brk = broker.NewClient(broker.ClientConfig{
			BaseURL:   cfg.BrokerBaseURL,
			APIKey:    cfg.BrokerAPIKey,
			APISecret: cfg.BrokerAPISecret,
			Timeout:   cfg.BrokerTimeout,
		})
	default:
		brk = broker.NewPaperBroker()
	}

	m := metrics.New()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	authService.RegisterClient(cfg.APIKey, cfg.APISecret, "strategy-runner")

	orderService := orders.NewService(db, brk, gate, m)
	twapService := twap.NewService(db, gate, m)
	orderHandlers := orders.NewGinHandlers(orderService, twapService)

	modifyService := modify.NewService(db, orderService, gate)
	modifyHandlers := modify.NewGinHandlers(modifyService)

	webhookHandlers := webhook.NewGinHandlers(orderService, m, cfg.WebhookSecret)
	breakerHandlers := breaker.NewGinHandlers(gate)

	// Reconcile once before accepting traffic so broker truth observed while
	// the service was down is applied first.
	engine := reconcile.NewEngine(db, orderService, brk, m, reconcile.Config{
		StaleAfter:  cfg.StaleAfter,
		OrphanGrace: cfg.OrphanGrace,
	})
	runner := reconcile.NewRunner(engine, cfg.ReconcileSchedule)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := runner.RunBootPass(bootCtx); err != nil {
		zlog.Error().Err(err).Msg("boot reconciliation pass failed, starting anyway")
	}
	bootCancel()

	// Background workers: slice scheduler and recurring reconciliation.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	scheduler := twap.NewScheduler(twap.NewDatabase(db), orderService, gate, m, cfg.SlicePollInterval)
	go scheduler.Start(workerCtx)
	go func() {
		if err := runner.Start(workerCtx); err != nil {
			zlog.Error().Err(err).Msg("reconciliation runner exited")
		}
	}()

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	router.GET("/metrics", gin.WrapH(m.Handler()))

	setupRoutes(router, cfg, authHandlers, orderHandlers, modifyHandlers, webhookHandlers, breakerHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	workerCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Webhook routes: Protected by HMAC payload signatures
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	modifyHandlers *modify.GinHandlers,
	webhookHandlers *webhook.GinHandlers,
	breakerHandlers *breaker.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orderRoutes := v1.Group("/orders")
		orderRoutes.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			orderRoutes.POST("", orderHandlers.CreateOrderHandler())
			orderRoutes.GET("/:client_order_id", orderHandlers.GetOrderHandler())
			orderRoutes.POST("/:client_order_id/replace", modifyHandlers.ReplaceOrderHandler())
			orderRoutes.POST("/:client_order_id/cancel", orderHandlers.CancelOrderHandler())
		}

		positions := v1.Group("/positions")
		positions.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			positions.GET("", orderHandlers.PositionsHandler())
		}

		// Webhook routes are authenticated by payload signature, not JWT
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/orders", webhookHandlers.OrderEventHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.JWTSecret))
		{
			internal.GET("/circuit-breaker", breakerHandlers.StatusHandler())
			internal.POST("/circuit-breaker/trip", breakerHandlers.TripHandler())
			internal.POST("/circuit-breaker/reset", breakerHandlers.ResetHandler())
		}
	}
}
