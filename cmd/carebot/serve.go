package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/carebot/internal/auth"
	"github.com/xaenox/carebot/internal/bot"
	"github.com/xaenox/carebot/internal/companion"
	"github.com/xaenox/carebot/internal/guidance"
	"github.com/xaenox/carebot/internal/reports"
	"github.com/xaenox/carebot/internal/server"
	"github.com/xaenox/carebot/internal/topics"
	"github.com/xaenox/carebot/internal/trauma"
	"github.com/xaenox/carebot/pkg/config"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStorage(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	retriever, err := guidance.Load()
	if err != nil {
		return fmt.Errorf("failed to load guidance: %w", err)
	}

	completer, err := newCompleter(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize llm: %w", err)
	}

	var publisher reports.Publisher = reports.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := reports.NewNATSPublisher(reports.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.ReportSubject,
			Name:    "carebot",
			Timeout: cfg.NATS.Timeout,
		}, logger)
		if err != nil {
			return err
		}
		publisher = natsPublisher
	}
	defer publisher.Close()

	var tokens *auth.TokenStore
	if cfg.Redis.URL != "" {
		tokens, err = auth.NewTokenStore(cfg.Redis.URL, cfg.Redis.TokenTTL)
		if err != nil {
			return err
		}
		defer tokens.Close()
		logger.Info("Bearer token auth enabled")
	}

	tracker := topics.NewTracker(store, logger)
	guard := trauma.NewGuard(store, logger)
	orch := companion.New(companion.Deps{
		Store:     store,
		Tracker:   tracker,
		Guard:     guard,
		Guidance:  retriever,
		LLM:       completer,
		Publisher: publisher,
		Logger:    logger,
	}, companion.Config{
		HistoryLimit: cfg.Conversation.HistoryLimit,
		TopTopics:    cfg.Conversation.TopTopics,
	})
	defer orch.Close()

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, orch, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := b.Start(ctx); err != nil {
				logger.Error("Bot error", zap.Error(err))
			}
		}()
	}

	srv := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, server.Deps{
		Companion: orch,
		Guard:     guard,
		Tracker:   tracker,
		Guidance:  retriever,
		Tokens:    tokens,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
