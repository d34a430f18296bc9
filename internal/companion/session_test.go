package companion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/carebot/internal/llm"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/prompts"
)

func TestStartPhotoSessionUsesSuppliedAnalysis(t *testing.T) {
	completer := &fakeLLM{reply: replyWith("멋진 사진이네요")}
	f := newFixture(t, completer)
	ctx := context.Background()

	session, err := f.orch.StartPhotoSession(ctx, "u1", "", "  바닷가에서 찍은 가족사진  ")
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, "바닷가에서 찍은 가족사진", session.ImageAnalysis)

	_, err = f.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Text: "이게 누구였더라"})
	require.NoError(t, err)
	assert.Contains(t, completer.last().System, "바닷가에서 찍은 가족사진")
}

func TestStartPhotoSessionDescribesImage(t *testing.T) {
	vision := &fakeVisionLLM{
		fakeLLM:     &fakeLLM{reply: replyWith("네")},
		description: "꽃밭 앞에 선 두 사람처럼 보입니다.",
	}
	f := newFixture(t, vision)

	session, err := f.orch.StartPhotoSession(context.Background(), "u1", "https://example.com/a.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "꽃밭 앞에 선 두 사람처럼 보입니다.", session.ImageAnalysis)
}

func TestStartPhotoSessionPlaceholder(t *testing.T) {
	vision := &fakeVisionLLM{
		fakeLLM: &fakeLLM{reply: replyWith("네")},
		err:     errors.New("vision unavailable"),
	}
	f := newFixture(t, vision)

	session, err := f.orch.StartPhotoSession(context.Background(), "u1", "https://example.com/a.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, prompts.PhotoPlaceholder, session.ImageAnalysis)

	f = newFixture(t, &fakeLLM{reply: replyWith("네")})
	session, err = f.orch.StartPhotoSession(context.Background(), "u1", "https://example.com/a.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, prompts.PhotoPlaceholder, session.ImageAnalysis)
}

func TestPhotoSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.StartPhotoSession(ctx, "u1", "", "첫 번째 사진")
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	second, err := f.orch.StartPhotoSession(ctx, "u1", "", "두 번째 사진")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := f.orch.ActivePhotoSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	require.NoError(t, f.orch.EndPhotoSession(ctx, "u1"))
	active, err = f.orch.ActivePhotoSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestEndSessionWithoutMessages(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.EndSession(context.Background(), "u1")
	assert.True(t, models.IsNotFound(err))
}

func TestEndSessionUsesModelScores(t *testing.T) {
	completer := &fakeLLM{reply: func(req llm.Request) (string, error) {
		if req.System == prompts.AssessmentSystemPrompt() {
			return `{"memory_score": 5, "orientation_score": 4, "language_score": 4.5, "summary": "대화에 적극적으로 참여하셨습니다."}`, nil
		}
		return "그렇군요", nil
	}}
	f := newFixture(t, completer)
	ctx := context.Background()

	_, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Text: "오늘은 집에서 딸이랑 점심을 먹었어"})
	require.NoError(t, err)

	report, err := f.orch.EndSession(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, models.SourceLLM, report.Assessment.Source)
	assert.Equal(t, 4.5, report.Assessment.AverageScore)
	assert.Equal(t, models.CDR0, report.Assessment.CDR)
	assert.Equal(t, "대화에 적극적으로 참여하셨습니다.", report.Summary)
	assert.Equal(t, 2, report.MessageCount)
	assert.NotEmpty(t, report.Assessment.BehavioralSymptoms)
	assert.True(t, strings.Contains(completer.last().History[0].Content, "어르신: 오늘은 집에서 딸이랑 점심을 먹었어"))

	stored, err := f.orch.Report(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Summary, stored.Summary)

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, report.ID, f.publisher.published[0].ID)
}

func TestEndSessionFallsBackToHeuristic(t *testing.T) {
	completer := &fakeLLM{reply: replyWith("평가하기 어렵습니다")}
	f := newFixture(t, completer)
	f.publisher.err = errors.New("nats down")
	ctx := context.Background()

	_, err := f.orch.HandleTurn(ctx, TurnRequest{UserID: "u1", Text: "네"})
	require.NoError(t, err)

	report, err := f.orch.EndSession(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, models.SourceHeuristic, report.Assessment.Source)
	expected := f.orch.estimator.Estimate([]models.Message{
		{Role: models.RoleUser, Content: "네"},
		{Role: models.RoleAssistant, Content: "평가하기 어렵습니다"},
	})
	assert.Equal(t, expected.CDR, report.Assessment.CDR)
	assert.Contains(t, report.Summary, string(expected.CDR))

	reports, err := f.orch.Reports(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}
