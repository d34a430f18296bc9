package main

import (
	"fmt"

	"github.com/xaenox/carebot/internal/llm"
	"github.com/xaenox/carebot/internal/storage"
	"github.com/xaenox/carebot/pkg/config"
	"go.uber.org/zap"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

func openStorage(cfg config.DatabaseConfig, logger *zap.Logger) (storage.Storage, error) {
	if cfg.UseInMemory {
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}

	logger.Info("Using SQL storage", zap.String("driver", cfg.Driver))
	return storage.NewSQLStorage(storage.DatabaseConfig{
		Driver:   cfg.Driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Path:     cfg.Path,
	}, logger)
}

// newCompleter returns nil when no provider is configured
func newCompleter(cfg *config.Config, logger *zap.Logger) (llm.Completer, error) {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			logger.Warn("OpenAI API key not set, replies will use the fallback responder")
			return nil, nil
		}
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			VisionModel: cfg.OpenAI.VisionModel,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			logger.Warn("Anthropic API key not set, replies will use the fallback responder")
			return nil, nil
		}
		client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:      cfg.Anthropic.APIKey,
			Model:       cfg.Anthropic.Model,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Temperature: cfg.Anthropic.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		logger.Info("LLM disabled, replies will use the fallback responder")
		return nil, nil
	}
}
