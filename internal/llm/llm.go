// Package llm wraps the text-completion services the companion talks to.
package llm

import (
	"context"
	"errors"

	"github.com/xaenox/carebot/internal/models"
)

// ErrEmptyResponse is returned when a provider answers without content
var ErrEmptyResponse = errors.New("empty completion")

// Request is a chat completion: a system prompt followed by the conversation so far
type Request struct {
	System      string
	History     []models.Message
	MaxTokens   int
	Temperature float64
}

// Completer is an opaque text-completion service. Failures are *models.UpstreamServiceError.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ImageDescriber is implemented by providers that can look at a picture
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}

const describePrompt = `이 사진을 치매 어르신과의 회상 대화에 활용하려고 합니다.
사진에 보이는 사람, 장소, 계절, 분위기를 한국어 3~4문장으로 간단히 설명해 주세요.
추측이 필요한 부분은 "~처럼 보입니다"라고 표현해 주세요.`
