package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/infermed/backend/internal/api/handlers"
	"github.com/infermed/backend/internal/app"
	"github.com/infermed/backend/internal/metrics"
	"github.com/infermed/backend/internal/middleware/ratelimit"
	"github.com/infermed/backend/internal/middleware/security"
	"github.com/infermed/backend/internal/middleware/validation"
	"github.com/infermed/backend/pkg/config"
	appLogger "github.com/infermed/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting InferMed API Server")

	metrics.Init()

	application, err := app.New(context.Background(), cfg, appLogger.GetLogger(), app.Options{})
	if err != nil {
		appLogger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	defer application.Close()

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{
		HSTS:           cfg.Server.HSTS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}))

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	interactionHandler := handlers.NewInteractionHandler(application.Engine)
	feedbackHandler := handlers.NewFeedbackHandler(application.Feedback)

	api := fiberApp.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"time":    time.Now().Unix(),
			"sources": cfg.EnabledSources(),
			"version": application.Engine.Version(),
		})
	})

	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}))

	api.Post("/interactions", interactionHandler.HandleInteraction)
	api.Post("/feedback", feedbackHandler.RecordFeedback)
	api.Get("/feedback/stats", feedbackHandler.GetStats)
	api.Get("/reliability/:key", feedbackHandler.GetReliability)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
