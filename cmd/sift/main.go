package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sift/internal/api"
	"github.com/MikeSquared-Agency/sift/internal/config"
	"github.com/MikeSquared-Agency/sift/internal/evaluation"
	"github.com/MikeSquared-Agency/sift/internal/feedback"
	"github.com/MikeSquared-Agency/sift/internal/generation"
	"github.com/MikeSquared-Agency/sift/internal/hermes"
	"github.com/MikeSquared-Agency/sift/internal/llm"
	"github.com/MikeSquared-Agency/sift/internal/observability"
	"github.com/MikeSquared-Agency/sift/internal/orgconfig"
	"github.com/MikeSquared-Agency/sift/internal/processor"
	"github.com/MikeSquared-Agency/sift/internal/profile"
	"github.com/MikeSquared-Agency/sift/internal/prompt"
	"github.com/MikeSquared-Agency/sift/internal/slack"
	"github.com/MikeSquared-Agency/sift/internal/store"
)

const orgConfigCacheSize = 1024

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("sift stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("sift stopped")
}

func run(cfg config.Config) error {
	slog.Info("sift starting", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	metrics := observability.NewMetrics("sift")

	// Database
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, running on the in-memory store")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// LLM client
	base, err := llm.New(llm.Options{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.APIKey(),
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return err
	}
	client := llm.NewInstrumented(llm.NewRateLimited(base, cfg.LLMRatePerMinute, 1), cfg.LLMProvider, metrics)
	slog.Info("llm client ready", "provider", cfg.LLMProvider, "model", cfg.Model)

	configs := orgconfig.NewCache(orgconfig.FileLoader{Dir: cfg.OrgConfigDir}, orgConfigCacheSize, cfg.OrgConfigTTL, logger)
	prompts := prompt.Default()

	genOpts := generation.Options{States: db, Logger: logger, Observer: metrics, StaleAfter: cfg.LockStale}
	runners := []generation.Runner{
		profile.NewService(profile.Options{
			Store: db, Configs: configs, LLM: client, Prompts: prompts,
			Model: cfg.Model, BatchLimit: cfg.BatchLimit, Logger: logger,
		}, genOpts),
		feedback.NewService(feedback.Options{
			Store: db, Configs: configs, LLM: client, Prompts: prompts,
			Model: cfg.Model, BatchLimit: cfg.BatchLimit, Logger: logger,
		}, genOpts),
		evaluation.NewService(evaluation.Options{
			Store: db, Configs: configs, LLM: client, Prompts: prompts,
			Model: cfg.Model, Logger: logger,
		}, genOpts),
	}

	// NATS/Hermes
	bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return err
	}
	defer bus.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Slack alerts (optional, sift runs fine without them)
	publisher := processor.Publishers{bus}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		publisher = append(publisher, slack.NewAlerter(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)))
		slog.Info("slack alerts ready", "channel", cfg.SlackChannel)
	}

	proc := processor.New(runners, processor.Options{
		Publisher:     publisher,
		Metrics:       metrics,
		Logger:        logger,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	if err := bus.Subscribe(hermes.SubjectInteractionsPublished, proc.HandleInteractionsPublished); err != nil {
		return err
	}

	srv := api.NewServer(cfg.Port, api.Deps{
		States:    db,
		Processor: proc,
		Metrics:   metrics.Handler(),
		Token:     cfg.APIToken,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := proc.Shutdown(shutdownCtx); err != nil {
			slog.Warn("in-flight generation cancelled", "error", err)
		}
		return nil
	})

	slog.Info("sift ready", "port", cfg.Port, "services", proc.Services())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
