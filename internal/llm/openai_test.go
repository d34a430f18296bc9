package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func newTestServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:      "test",
		BaseURL:     baseURL,
		Model:       "gpt-4o-mini",
		MaxTokens:   200,
		Temperature: 0.7,
	}, zap.NewNop())
}

func TestOpenAIComplete(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, http.StatusOK,
		`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  반가워요!  "},"finish_reason":"stop"}]}`,
		&captured)

	reply, err := newTestClient(srv.URL).Complete(context.Background(), Request{
		System: "persona",
		History: []models.Message{
			{Role: models.RoleUser, Content: "안녕"},
			{Role: models.RoleAssistant, Content: "안녕하세요"},
			{Role: models.RoleUser, Content: "오늘 날씨 좋네"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "반가워요!", reply)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 4)
	roles := []string{}
	for _, m := range captured.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"id":"1","object":"chat.completion","choices":[]}`, nil)

	_, err := newTestClient(srv.URL).Complete(context.Background(), Request{System: "persona"})
	require.Error(t, err)

	var upstream *models.UpstreamServiceError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "openai", upstream.Service)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAICompleteServerError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError,
		`{"error":{"message":"boom","type":"server_error"}}`, nil)

	_, err := newTestClient(srv.URL).Complete(context.Background(), Request{System: "persona"})
	require.Error(t, err)

	var upstream *models.UpstreamServiceError
	assert.True(t, errors.As(err, &upstream))
}

func TestOpenAIDescribeImage(t *testing.T) {
	var captured capturedRequest
	srv := newTestServer(t, http.StatusOK,
		`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"바닷가에서 찍은 가족 사진처럼 보입니다."},"finish_reason":"stop"}]}`,
		&captured)

	desc, err := newTestClient(srv.URL).DescribeImage(context.Background(), "https://example.com/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "바닷가에서 찍은 가족 사진처럼 보입니다.", desc)

	require.Len(t, captured.Messages, 1)
	assert.Contains(t, string(captured.Messages[0].Content), "https://example.com/photo.jpg")
}
