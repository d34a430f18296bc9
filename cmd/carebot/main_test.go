package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/carebot/internal/llm"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/storage"
	"github.com/xaenox/carebot/pkg/config"
	"go.uber.org/zap"
)

func TestReadTranscript(t *testing.T) {
	messages, err := readTranscript(strings.NewReader(`[
		{"role": "user", "content": "오늘은 집에 있어요"},
		{"role": "assistant", "content": "편안한 하루네요"}
	]`))
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)

	_, err = readTranscript(strings.NewReader(`[{"role": "narrator", "content": "x"}]`))
	assert.ErrorContains(t, err, "invalid role")

	_, err = readTranscript(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestAssessCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"role": "user", "content": "오늘은 집에 있어요"}]`), 0o600))

	cmd := newAssessCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), `"cdr": "CDR 1"`)
	assert.Contains(t, out.String(), `"source": "heuristic"`)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.DatabaseConfig{UseInMemory: true}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, store)

	store, err = openStorage(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLStorage{}, store)
	require.NoError(t, store.Close())
}

func TestNewCompleter(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Provider: "none"}}
	completer, err := newCompleter(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, completer)

	cfg = &config.Config{LLM: config.LLMConfig{Provider: "openai"}}
	completer, err = newCompleter(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, completer)

	cfg.OpenAI = config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"}
	completer, err = newCompleter(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIClient{}, completer)
}
