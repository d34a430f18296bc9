package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
)

type fakeModel struct {
	messages []llms.MessageContent
	reply    string
	err      error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	if m.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestAnthropicComplete(t *testing.T) {
	model := &fakeModel{reply: " 좋은 아침이에요 "}
	client := newAnthropicClient(model, AnthropicConfig{MaxTokens: 100}, zap.NewNop())

	reply, err := client.Complete(context.Background(), Request{
		System: "persona",
		History: []models.Message{
			{Role: models.RoleUser, Content: "안녕"},
			{Role: models.RoleAssistant, Content: "안녕하세요"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "좋은 아침이에요", reply)

	require.Len(t, model.messages, 3)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, llms.TextContent{Text: "안녕"}, model.messages[1].Parts[0])
}

func TestAnthropicCompleteErrors(t *testing.T) {
	var upstream *models.UpstreamServiceError

	client := newAnthropicClient(&fakeModel{err: errors.New("rate limited")}, AnthropicConfig{}, zap.NewNop())
	_, err := client.Complete(context.Background(), Request{System: "persona"})
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "anthropic", upstream.Service)

	client = newAnthropicClient(&fakeModel{}, AnthropicConfig{}, zap.NewNop())
	_, err = client.Complete(context.Background(), Request{System: "persona"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
