package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bilgisen/contentgen/internal/api"
	"github.com/bilgisen/contentgen/internal/app"
	"github.com/bilgisen/contentgen/internal/auth"
	"github.com/bilgisen/contentgen/internal/config"
	"github.com/bilgisen/contentgen/internal/content"
	"github.com/bilgisen/contentgen/internal/logger"
	"github.com/bilgisen/contentgen/internal/middleware"
	"github.com/bilgisen/contentgen/internal/observability"
	"github.com/bilgisen/contentgen/internal/realtime"
	"github.com/bilgisen/contentgen/internal/worker"
)

func main() {
	// Load and validate configuration
	cfg := config.Load()

	if err := logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Output:  cfg.LogOutput(),
		Pretty:  !cfg.IsProduction(),
		Service: cfg.ServiceName,
	}); err != nil {
		panic(err)
	}

	log := logger.Get()
	log.Info().Str("env", cfg.Env).Bool("run_workers", cfg.RunWorkers).Msg("Starting application...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
	}, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	infra, err := app.Open(ctx, cfg, *log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	// Real-time delivery: the relay feeds this process's hub from Redis.
	hub := realtime.NewHub(*log)
	relay := realtime.NewRelay(infra.Redis, cfg.RedisPrefix, hub, *log)
	wsServer := realtime.NewServer(hub, cfg.AllowedOrigins, *log)

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		if err := relay.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Notification relay stopped")
		}
	}()
	go func() {
		defer background.Done()
		if err := wsServer.ListenAndServe(ctx, ":"+cfg.RealtimePort, cfg.ShutdownTimeout); err != nil {
			log.Fatal().Err(err).Msg("Realtime server error")
		}
	}()

	var pool *worker.Pool
	if cfg.RunWorkers {
		pool, err = infra.NewWorkerPool(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize workers")
		}
		if err := pool.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start workers")
		}
	}

	authSvc := auth.NewService(infra.Store, cfg.JWTSecret, cfg.JWTTTL)
	handlers := api.NewHandlers(api.Deps{
		Content: content.NewService(infra.Store, infra.Queue, cfg.GenerationDelay, *log),
		Auth:    authSvc,
		Queues:  infra.Queue,
		Dedupe:  infra.Dedupe,
		Log:     *log,
	})

	// Create Fiber app with custom config
	server := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: middleware.ErrorHandler,
	})
	api.SetupRoutes(server, handlers, authSvc, api.RouteConfig{
		AdminAPIKey:    cfg.AdminAPIKey,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := server.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancel()
	if pool != nil {
		pool.Stop()
	}
	background.Wait()

	infra.Close(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown failed")
	}

	log.Info().Msg("Server exited properly")
}
