// Package main is the entry point for the altlens server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"altlens/internal/config"
	"altlens/internal/janitor"
	"altlens/internal/jobs"
	"altlens/internal/logger"
	"altlens/internal/observability"
	"altlens/internal/server"
	"altlens/internal/server/middleware"
	"altlens/internal/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "altlens", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slogger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "error", err)
		}
	}()

	// Registries are constructed once here and passed to collaborators; there
	// is no ambient global state.
	sessions, err := session.NewRegistry(filepath.Join(cfg.DataDir, "sessions"), slogger)
	if err != nil {
		log.Fatalf("Failed to create session registry: %v", err)
	}

	registry := jobs.NewRegistry(cfg.JobRetention)

	runner := jobs.NewRunner(registry, sessions, jobs.RunnerConfig{
		Command:       cfg.AnalyzerCommand,
		PageTimeout:   cfg.PageTimeout,
		BatchTimeout:  cfg.BatchTimeout,
		PollInterval:  cfg.ProgressPollInterval,
		MaxConcurrent: cfg.MaxConcurrentJobs,
	}, slogger)

	sweeper := janitor.New(sessions, cfg.JanitorInterval, cfg.SessionTTL, slogger)
	go sweeper.Run(ctx)

	handlers := server.NewHandlers(runner, registry, sessions, slogger)
	limits := middleware.RateLimits{
		PerSecond: cfg.SessionRateLimit,
		Burst:     cfg.SessionRateBurst,
	}

	srv := server.New(cfg.ListenAddr, handlers, limits, metricsHandler)

	slogger.Info("server starting", "addr", cfg.ListenAddr, "analyzer", cfg.AnalyzerCommand[0])

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		slogger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	slogger.Info("server stopped")
}
