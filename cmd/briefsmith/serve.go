package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/briefsmith/internal/anthropic"
	"github.com/MikeSquared-Agency/briefsmith/internal/api"
	"github.com/MikeSquared-Agency/briefsmith/internal/config"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
	"github.com/MikeSquared-Agency/briefsmith/internal/hermes"
	"github.com/MikeSquared-Agency/briefsmith/internal/inflight"
	"github.com/MikeSquared-Agency/briefsmith/internal/mockup"
	"github.com/MikeSquared-Agency/briefsmith/internal/processor"
	"github.com/MikeSquared-Agency/briefsmith/internal/slack"
	"github.com/MikeSquared-Agency/briefsmith/internal/store"
	"github.com/MikeSquared-Agency/briefsmith/internal/template"
)

func newServeCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("briefsmith starting", "port", cfg.Port)

	// Database
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database connected")

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	logger.Info("anthropic client ready", "model", cfg.AnthropicModel)

	if cfg.JWTSecret == "" {
		return errors.New("BRIEFSMITH_JWT_SECRET is required")
	}
	auth, err := api.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return err
	}

	catalog, err := template.Load(cfg.TemplatesPath)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	deps := processor.Deps{
		Questions:   conversation.DefaultQuestions,
		Engine:      template.NewEngine(catalog, logger),
		Catalog:     catalog,
		Oracle:      llm,
		Model:       llm.Model(),
		Store:       db,
		MaxTokens:   cfg.MaxTokens,
		TurnTimeout: cfg.TurnTimeout,
		Logger:      logger,
	}

	// NATS/Hermes (optional)
	if cfg.NatsURL != "" {
		hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer hermesClient.Close()
		deps.Events = hermesClient
		logger.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		logger.Warn("NATS not configured, brief events disabled")
	}

	// Redis in-flight guard (optional; in-process guard otherwise)
	if cfg.RedisURL != "" {
		guard, err := inflight.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer guard.Close()
		deps.Guard = guard
		logger.Info("redis in-flight guard ready")
	}

	// Slack poster (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	proc, err := processor.New(deps)
	if err != nil {
		return err
	}
	go proc.Janitor(ctx, time.Minute, cfg.SessionIdle)

	apiDeps := api.Deps{
		Conversations: proc,
		Projects:      db,
		Auth:          auth,
	}
	var mockups *mockup.Service
	if cfg.OpenAIAPIKey != "" {
		gen := mockup.NewGenerator(cfg.OpenAIAPIKey, cfg.ImageModel)
		mockups = mockup.NewService(gen, db, cfg.MockupPoll, logger)
		apiDeps.Mockups = mockups
		logger.Info("mockup generator ready", "model", cfg.ImageModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set, mockups disabled")
	}

	srv := api.NewServer(cfg.Port, apiDeps)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("briefsmith ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if mockups != nil {
		mockups.Wait()
	}
	logger.Info("briefsmith stopped")
	return nil
}
