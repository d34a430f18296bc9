package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/schema"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
)

type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// AnthropicClient talks to Claude models through langchaingo
type AnthropicClient struct {
	model       llms.Model
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewAnthropicClient(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	model, err := anthropic.New(
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic client: %w", err)
	}
	return newAnthropicClient(model, cfg, logger), nil
}

func newAnthropicClient(model llms.Model, cfg AnthropicConfig, logger *zap.Logger) *AnthropicClient {
	return &AnthropicClient{
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

func chatMessageType(role models.Role) schema.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	default:
		return schema.ChatMessageTypeHuman
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(req.History)+1)
	if req.System != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.History {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		c.logger.Error("Failed to get completion", zap.Error(err), zap.String("provider", "anthropic"))
		return "", &models.UpstreamServiceError{Service: "anthropic", Err: err}
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", &models.UpstreamServiceError{Service: "anthropic", Err: ErrEmptyResponse}
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
