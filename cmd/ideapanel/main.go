// Command ideapanel runs the pipeline worker pool that evaluates submitted
// ideas: claim queued runs from the job broker, drive them through
// expand -> five persona reviews -> aggregate_decision, and persist the
// result. It owns no HTTP listener — pkg/api.Service is the interface a
// transport binding would call into, left unwired per spec §6.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ideapanel/ideapanel/pkg/broker"
	"github.com/ideapanel/ideapanel/pkg/config"
	"github.com/ideapanel/ideapanel/pkg/llm"
	"github.com/ideapanel/ideapanel/pkg/models"
	"github.com/ideapanel/ideapanel/pkg/schema"
	"github.com/ideapanel/ideapanel/pkg/store"
	"github.com/ideapanel/ideapanel/pkg/version"
	"github.com/ideapanel/ideapanel/pkg/worker"
)

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to a directory holding a .env file")
	flag.Parse()

	if err := godotenv.Load(*configDir + "/.env"); err != nil {
		slog.Warn("no .env file loaded, continuing with process environment", "config_dir", *configDir, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := models.ValidatePersonaWeights(); err != nil {
		slog.Error("persona weight table is invalid", "error", err)
		os.Exit(1)
	}

	slog.Info("starting", "app", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := store.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}()
	slog.Info("connected to database and applied migrations")

	stores := worker.Stores{
		Runs:      store.NewRunStore(dbClient),
		Proposals: store.NewProposalStore(dbClient),
		Reviews:   store.NewReviewStore(dbClient),
		Decisions: store.NewDecisionStore(dbClient),
		Steps:     store.NewStepStore(dbClient),
	}

	llmClient := llm.NewAnthropicClient(llm.Config{
		APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff * float64(time.Second)),
		BackoffMultiplier: cfg.RetryBackoffMultiplier,
		StepTimeout:       cfg.WorkerStepTimeout,
	})

	registry := schema.NewDefaultRegistry()

	queue := broker.NewQueue(dbClient.DB())

	poolCfg := worker.DefaultConfig()
	poolCfg.WorkerCount = cfg.WorkerMaxConcurrency
	poolCfg.StepTimeout = cfg.WorkerStepTimeout
	poolCfg.MaxRetries = cfg.MaxRetriesPerPersona
	poolCfg.Model = cfg.ReviewModel
	poolCfg.AckDeadline = cfg.WorkerAckDeadline
	poolCfg.RerunThreshold = cfg.RerunConfidenceThreshold

	pool := worker.NewPool(poolCfg, queue, stores, llmClient, registry)
	pool.Start(ctx)
	slog.Info("pipeline worker pool started", "workers", poolCfg.WorkerCount)

	listener := broker.NewListener(cfg.Database.DSN(), pool.Wake)
	if err := listener.Start(ctx); err != nil {
		slog.Warn("broker listener failed to start, falling back to poll-only wake-ups", "error", err)
	} else {
		defer listener.Stop(context.Background())
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight jobs")
	pool.Stop()
	slog.Info("shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
