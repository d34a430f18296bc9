// Package prompts holds the companion persona and the prompt builders around it.
package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/carebot/internal/models"
)

const Persona = `당신은 치매 어르신의 말벗이 되어 드리는 따뜻한 대화 상대 "다솜"입니다.
- 짧고 쉬운 문장으로 천천히 말합니다. 한 번에 질문은 하나만 합니다.
- 어르신의 말을 고치거나 틀렸다고 하지 않습니다.
- 기억을 시험하는 질문 대신 감정과 경험을 나누는 질문을 합니다.
- 답변은 두세 문장을 넘기지 않습니다.`

// PhotoPlaceholder is used when no analysis could be produced for a photo
const PhotoPlaceholder = "어르신이 보여 주신 사진입니다. 사진 속 인물과 장소에 대해 편하게 여쭤 보세요."

// TurnContext is everything the system prompt of a single turn is built from
type TurnContext struct {
	Guidance       string
	TopTopics      []models.EffectiveTopic
	PhotoAnalysis  string
	TraumaKeywords []string
	TraumaMatched  []string
}

func BuildSystemPrompt(tc TurnContext) string {
	var builder strings.Builder

	builder.WriteString(Persona)
	builder.WriteString("\n\n")

	if tc.Guidance != "" {
		builder.WriteString(tc.Guidance)
		builder.WriteString("\n\n")
	}

	if len(tc.TopTopics) > 0 {
		builder.WriteString("[반응이 좋았던 주제]\n")
		for _, topic := range tc.TopTopics {
			builder.WriteString(fmt.Sprintf("- %s (성공률 %.0f%%)\n",
				strings.Join(topic.Keywords, ", "), topic.SuccessRate*100))
		}
		builder.WriteString("대화가 막히면 위 주제로 자연스럽게 이어 가세요.\n\n")
	}

	if tc.PhotoAnalysis != "" {
		builder.WriteString("[함께 보고 있는 사진]\n")
		builder.WriteString(tc.PhotoAnalysis)
		builder.WriteString("\n사진 속 장면을 떠올리며 회상 대화를 이어 가세요.\n\n")
	}

	if len(tc.TraumaKeywords) > 0 {
		builder.WriteString("[피해야 할 주제]\n")
		builder.WriteString(fmt.Sprintf("다음 주제는 절대 먼저 꺼내지 마세요: %s\n",
			strings.Join(tc.TraumaKeywords, ", ")))
		if len(tc.TraumaMatched) > 0 {
			builder.WriteString(fmt.Sprintf(
				"주의: 어르신이 방금 '%s'에 대해 말씀하셨습니다. 공감만 짧게 표현하고 편안한 다른 주제로 부드럽게 전환하세요.\n",
				strings.Join(tc.TraumaMatched, ", ")))
		}
	}

	return strings.TrimSpace(builder.String())
}

const assessmentSystem = `당신은 치매 선별 대화를 검토하는 임상 보조자입니다.
아래 대화에서 어르신(user)의 발화만 보고 다음 JSON 하나만 출력하세요. 다른 설명은 쓰지 마세요.
{"memory_score": 1-5, "orientation_score": 1-5, "language_score": 1-5, "summary": "보호자를 위한 두세 문장 요약"}
점수는 높을수록 기능이 좋음을 뜻하며 0.5 단위까지 쓸 수 있습니다.`

// AssessmentSystemPrompt is sent with the full transcript at the end of a session
func AssessmentSystemPrompt() string {
	return assessmentSystem
}

// FormatTranscript renders messages as speaker-labelled lines for review
func FormatTranscript(messages []models.Message) string {
	var builder strings.Builder
	for _, m := range messages {
		speaker := "어르신"
		switch m.Role {
		case models.RoleAssistant:
			speaker = "다솜"
		case models.RoleSystem:
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: %s\n", speaker, m.Content))
	}
	return builder.String()
}

// AssessmentResponse is the model's view of the transcript
type AssessmentResponse struct {
	MemoryScore      float64 `json:"memory_score"`
	OrientationScore float64 `json:"orientation_score"`
	LanguageScore    float64 `json:"language_score"`
	Summary          string  `json:"summary"`
}

var errOutOfRange = errors.New("score out of range")

// ParseAssessmentResponse extracts and validates the JSON object in a model reply
func ParseAssessmentResponse(content string) (*AssessmentResponse, error) {
	jsonContent := extractJSON(content)
	if jsonContent == "" {
		return nil, fmt.Errorf("no valid JSON found in response")
	}

	var response AssessmentResponse
	if err := json.Unmarshal([]byte(jsonContent), &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	for name, score := range map[string]float64{
		"memory_score":      response.MemoryScore,
		"orientation_score": response.OrientationScore,
		"language_score":    response.LanguageScore,
	} {
		if score < 1 || score > 5 {
			return nil, fmt.Errorf("%s=%v: %w", name, score, errOutOfRange)
		}
	}

	response.Summary = strings.TrimSpace(response.Summary)
	return &response, nil
}

func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content, "}")
	if end == -1 || end <= start {
		return ""
	}

	return content[start : end+1]
}
