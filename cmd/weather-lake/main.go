package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/weather-lake/internal/api/http"
	"github.com/i474232898/weather-lake/internal/config"
	"github.com/i474232898/weather-lake/internal/gateway"
	"github.com/i474232898/weather-lake/internal/pipeline"
	"github.com/i474232898/weather-lake/internal/scheduler"
	"github.com/i474232898/weather-lake/internal/sink"
	"github.com/i474232898/weather-lake/internal/source"
	"github.com/i474232898/weather-lake/internal/store"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Object-store gateway.
	gw, err := gateway.New(gateway.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to connect to object store: %v", err)
	}
	if err := gw.EnsureBucket(ctx, cfg.Bucket); err != nil {
		log.Fatalf("failed to ensure bucket: %v", err)
	}

	// Relational sink, with schema bootstrap.
	sk, err := sink.New(ctx, cfg.DBURL, cfg.DBSchema, gw)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer sk.Close()
	if err := sk.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	// Shared HTTP client for outbound weather API calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Source adapter for Open-Meteo.
	src := source.New(httpClient, source.Config{
		DataDir:      cfg.DataDir,
		Locations:    cfg.Locations,
		ForecastDays: cfg.ForecastDays,
		PastDays:     cfg.PastDays,
	})

	// Orchestrator and run history.
	runner := pipeline.NewRunner(src, gw, sk, cfg.Bucket, cfg.KeyPrefix)
	history := store.NewRunHistory(cfg.HistoryMaxRuns, cfg.HistoryMaxAge)

	// Scheduler that periodically runs the pipeline.
	sched := scheduler.New(runner, history, cfg.PipelineInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-lake",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-lake",
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Runner:       runner,
		History:      history,
		Drainer:      sk,
		Observations: sk,
		Artifacts:    gw,
		Bucket:       cfg.Bucket,
		KeyPrefix:    cfg.KeyPrefix,
		RunCooldown:  cfg.RunCooldown,
	})

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
