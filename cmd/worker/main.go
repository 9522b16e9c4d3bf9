// Command worker runs the job consumers without the HTTP API. Notifications
// reach users through the API processes' Redis relay.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilgisen/contentgen/internal/app"
	"github.com/bilgisen/contentgen/internal/config"
	"github.com/bilgisen/contentgen/internal/logger"
	"github.com/bilgisen/contentgen/internal/observability"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Output:  cfg.LogOutput(),
		Pretty:  !cfg.IsProduction(),
		Service: cfg.ServiceName + "-worker",
	}); err != nil {
		panic(err)
	}
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		ServiceName: cfg.ServiceName + "-worker",
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

	pool, err := infra.NewWorkerPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize workers")
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workers")
	}

	// Metrics and liveness for the worker process
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Worker metrics server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	cancel()
	pool.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server forced to shutdown")
	}
	infra.Close(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown failed")
	}

	log.Info().Msg("Worker exited properly")
}
