package companion

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/carebot/internal/assessment"
	"github.com/xaenox/carebot/internal/llm"
	"github.com/xaenox/carebot/internal/metrics"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/prompts"
	"go.uber.org/zap"
)

// StartPhotoSession makes a photo the subject of the conversation for the
// next hour. Without a supplied analysis the model is asked to describe the
// image; a neutral placeholder is used when that is not possible.
func (o *Orchestrator) StartPhotoSession(ctx context.Context, userID, imageURL, analysis string) (*models.PhotoSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("user_id", "is required")
	}

	analysis = strings.TrimSpace(analysis)
	if analysis == "" && imageURL != "" {
		if describer, ok := o.llm.(llm.ImageDescriber); ok {
			desc, err := describer.DescribeImage(ctx, imageURL)
			if err != nil {
				o.logger.Warn("Failed to describe photo",
					zap.String("user_id", userID),
					zap.Error(err))
			}
			analysis = desc
		}
	}
	if analysis == "" {
		analysis = prompts.PhotoPlaceholder
	}

	start := o.now()
	id, err := o.store.UpsertPhotoSession(ctx, userID, analysis, start)
	if err != nil {
		return nil, fmt.Errorf("failed to start photo session: %w", err)
	}

	o.logger.Info("Started photo session",
		zap.String("user_id", userID),
		zap.String("session_id", id))
	return &models.PhotoSession{
		ID:            id,
		UserID:        userID,
		ImageAnalysis: analysis,
		IsActive:      true,
		StartTime:     start,
	}, nil
}

// ActivePhotoSession returns nil when no session is active
func (o *Orchestrator) ActivePhotoSession(ctx context.Context, userID string) (*models.PhotoSession, error) {
	return o.store.ActivePhotoSession(ctx, userID)
}

func (o *Orchestrator) EndPhotoSession(ctx context.Context, userID string) error {
	return o.store.DeactivatePhotoSessions(ctx, userID)
}

// EndSession assesses the surviving transcript, stores the report and
// publishes it. Publishing failures are logged only.
func (o *Orchestrator) EndSession(ctx context.Context, userID string) (*models.Report, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("user_id", "is required")
	}

	messages, err := o.store.AllMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	if len(messages) == 0 {
		return nil, &models.NotFoundError{Resource: "conversation", ID: userID}
	}

	result := o.estimator.Estimate(messages)
	summary := ""
	if reviewed, err := o.reviewTranscript(ctx, messages); err != nil {
		o.logger.Warn("Using heuristic assessment",
			zap.String("user_id", userID),
			zap.Error(err))
	} else {
		result.MemoryScore = reviewed.MemoryScore
		result.OrientationScore = reviewed.OrientationScore
		result.LanguageScore = reviewed.LanguageScore
		result.AverageScore = assessment.Average(reviewed.MemoryScore, reviewed.OrientationScore, reviewed.LanguageScore)
		result.CDR = assessment.ClassifyCDR(result.AverageScore)
		result.ClinicalInsight = o.estimator.ClinicalInsight(messages, result.CDR)
		result.Source = models.SourceLLM
		summary = reviewed.Summary
	}
	if summary == "" {
		summary = fmt.Sprintf("%s (%s). %s", result.CDR, result.CDR.Description(), result.ClinicalInsight)
	}

	report := &models.Report{
		UserID:       userID,
		CreatedAt:    o.now(),
		MessageCount: len(messages),
		Assessment:   result,
		Summary:      summary,
	}
	if err := o.store.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	metrics.Reports.WithLabelValues(string(result.CDR), result.Source).Inc()

	if err := o.publisher.Publish(ctx, report); err != nil {
		o.logger.Error("Failed to publish report",
			zap.String("user_id", userID),
			zap.String("report_id", report.ID),
			zap.Error(err))
	}

	o.logger.Info("Session report created",
		zap.String("user_id", userID),
		zap.String("report_id", report.ID),
		zap.String("cdr", string(result.CDR)),
		zap.String("source", result.Source))
	return report, nil
}

func (o *Orchestrator) reviewTranscript(ctx context.Context, messages []models.Message) (*prompts.AssessmentResponse, error) {
	content, err := o.complete(ctx, llm.Request{
		System: prompts.AssessmentSystemPrompt(),
		History: []models.Message{
			{Role: models.RoleUser, Content: prompts.FormatTranscript(messages)},
		},
		MaxTokens:   o.config.MaxTokens,
		Temperature: assessmentTemperature,
	})
	if err != nil {
		return nil, err
	}
	return prompts.ParseAssessmentResponse(content)
}

func (o *Orchestrator) Report(ctx context.Context, id string) (*models.Report, error) {
	return o.store.GetReport(ctx, id)
}

func (o *Orchestrator) Reports(ctx context.Context, userID string, limit int) ([]models.Report, error) {
	return o.store.ListReports(ctx, userID, limit)
}
