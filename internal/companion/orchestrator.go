// Package companion runs a conversation turn end to end: history, guidance,
// topic tracking, trauma avoidance, the model call and its fallbacks.
package companion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xaenox/carebot/internal/assessment"
	"github.com/xaenox/carebot/internal/guidance"
	"github.com/xaenox/carebot/internal/llm"
	"github.com/xaenox/carebot/internal/metrics"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/prompts"
	"github.com/xaenox/carebot/internal/reports"
	"github.com/xaenox/carebot/internal/storage"
	"github.com/xaenox/carebot/internal/topics"
	"github.com/xaenox/carebot/internal/trauma"
	"go.uber.org/zap"
)

const (
	DefaultTopTopics       = 5
	topicUpdateTimeout     = 10 * time.Second
	minSuccessfulReplyRune = 10
	assessmentTemperature  = 0.2
	defaultGreeting        = "안녕하세요, 다솜이에요. 오늘 기분은 어떠세요?"
)

var (
	positiveMarkers = []string{"좋", "재밌", "재미있", "즐거", "행복", "기뻐", "기쁘", "고마", "맞아", "그래", "하하", "ㅎㅎ"}
	negativeMarkers = []string{"싫", "몰라", "모르겠", "그만", "짜증", "힘들", "아니", "귀찮"}
)

type Config struct {
	HistoryLimit int
	TopTopics    int
	MaxTokens    int
	Temperature  float64
}

// Deps are the collaborators of an Orchestrator. LLM may be nil, in which
// case every reply comes from the fallback responder.
type Deps struct {
	Store     storage.Storage
	Tracker   *topics.Tracker
	Guard     *trauma.Guard
	Guidance  *guidance.Retriever
	Estimator *assessment.Estimator
	LLM       llm.Completer
	Fallback  *llm.Fallback
	Publisher reports.Publisher
	Logger    *zap.Logger
}

type Orchestrator struct {
	store     storage.Storage
	tracker   *topics.Tracker
	guard     *trauma.Guard
	guidance  *guidance.Retriever
	estimator *assessment.Estimator
	llm       llm.Completer
	fallback  *llm.Fallback
	publisher reports.Publisher
	logger    *zap.Logger
	config    Config
	now       func() time.Time

	pending sync.WaitGroup
}

func New(deps Deps, config Config) *Orchestrator {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = storage.DefaultRecentLimit
	}
	if config.TopTopics <= 0 {
		config.TopTopics = DefaultTopTopics
	}
	if deps.Fallback == nil {
		deps.Fallback = llm.NewFallback()
	}
	if deps.Publisher == nil {
		deps.Publisher = reports.NopPublisher{}
	}
	if deps.Estimator == nil {
		deps.Estimator = assessment.NewEstimator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Orchestrator{
		store:     deps.Store,
		tracker:   deps.Tracker,
		guard:     deps.Guard,
		guidance:  deps.Guidance,
		estimator: deps.Estimator,
		llm:       deps.LLM,
		fallback:  deps.Fallback,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		config:    config,
		now:       time.Now,
	}
}

type TurnRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type TurnResult struct {
	Reply string `json:"reply"`
	// Triggers are the guidance keywords found in the user's text
	Triggers []string `json:"triggers"`
	// TraumaFlagged is set when the user's text mentioned a trauma keyword
	TraumaFlagged bool `json:"trauma_flagged"`
	// Redirected is set when the model reply was replaced for touching a trauma keyword
	Redirected   bool `json:"redirected"`
	UsedFallback bool `json:"used_fallback"`
}

func (r TurnRequest) validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return models.NewValidationError("user_id", "is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return models.NewValidationError("text", "is required")
	}
	return nil
}

func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)

	history, err := o.store.RecentMessages(ctx, req.UserID, o.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	o.scorePreviousTurn(ctx, req.UserID, history, text)

	userMsg := &models.Message{
		UserID:    req.UserID,
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: o.now(),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	traumaKeywords, err := o.traumaKeywords(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trauma info: %w", err)
	}
	inputCheck := trauma.Match(traumaKeywords, text)
	if inputCheck.HasMatch {
		metrics.TraumaFlags.WithLabelValues(metrics.TraumaSourceInput).Inc()
		o.logger.Info("User mentioned a trauma topic",
			zap.String("user_id", req.UserID),
			zap.Strings("keywords", inputCheck.MatchedKeywords))
	}

	result := &TurnResult{
		Triggers:      o.guidance.MatchedTriggers(text),
		TraumaFlagged: inputCheck.HasMatch,
	}

	system, err := o.systemPrompt(ctx, req.UserID, text, traumaKeywords, inputCheck.MatchedKeywords)
	if err != nil {
		return nil, err
	}

	reply, err := o.complete(ctx, llm.Request{
		System:      system,
		History:     append(history, *userMsg),
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
	})
	if err != nil {
		o.logger.Warn("Falling back to static reply",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		reply = o.fallback.Reply(text)
		result.UsedFallback = true
	}

	if check := trauma.Match(traumaKeywords, reply); check.HasMatch {
		metrics.TraumaFlags.WithLabelValues(metrics.TraumaSourceReply).Inc()
		o.logger.Info("Replaced reply that touched a trauma topic",
			zap.String("user_id", req.UserID),
			zap.Strings("keywords", check.MatchedKeywords))
		reply = o.fallback.Redirect()
		result.Redirected = true
	}
	result.Reply = reply

	if err := o.appendAssistant(ctx, req.UserID, reply, userMsg.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to save reply: %w", err)
	}

	switch {
	case result.Redirected:
		metrics.Turns.WithLabelValues(metrics.OutcomeRedirected).Inc()
	case result.UsedFallback:
		metrics.Turns.WithLabelValues(metrics.OutcomeFallback).Inc()
	default:
		metrics.Turns.WithLabelValues(metrics.OutcomeLLM).Inc()
	}
	return result, nil
}

func (o *Orchestrator) complete(ctx context.Context, req llm.Request) (string, error) {
	if o.llm == nil {
		return "", &models.UpstreamServiceError{Service: "llm", Err: fmt.Errorf("no provider configured")}
	}
	start := time.Now()
	reply, err := o.llm.Complete(ctx, req)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	return reply, err
}

// appendAssistant stores a reply strictly after the message it answers
func (o *Orchestrator) appendAssistant(ctx context.Context, userID, content string, after time.Time) error {
	ts := o.now()
	if floor := after.Truncate(time.Millisecond).Add(time.Millisecond); ts.Before(floor) {
		ts = floor
	}
	return o.store.AppendMessage(ctx, &models.Message{
		UserID:    userID,
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: ts,
	})
}

func (o *Orchestrator) traumaKeywords(ctx context.Context, userID string) ([]string, error) {
	info, err := o.guard.Get(ctx, userID)
	if models.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info.Keywords, nil
}

func (o *Orchestrator) systemPrompt(ctx context.Context, userID, text string, traumaKeywords, matched []string) (string, error) {
	top, err := o.tracker.TopEffectiveTopics(ctx, userID, o.config.TopTopics)
	if err != nil {
		return "", fmt.Errorf("failed to load effective topics: %w", err)
	}

	session, err := o.store.ActivePhotoSession(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load photo session: %w", err)
	}
	var photo string
	if session != nil {
		photo = session.ImageAnalysis
	}

	return prompts.BuildSystemPrompt(prompts.TurnContext{
		Guidance:       o.guidance.Retrieve(text),
		TopTopics:      top,
		PhotoAnalysis:  photo,
		TraumaKeywords: traumaKeywords,
		TraumaMatched:  matched,
	}), nil
}

// scorePreviousTurn records whether the last exchange landed, judged by how
// the user answered it. The update runs in the background.
func (o *Orchestrator) scorePreviousTurn(ctx context.Context, userID string, history []models.Message, text string) {
	if len(history) < 2 || history[len(history)-1].Role != models.RoleAssistant {
		return
	}

	var previous *models.Message
	for i := len(history) - 2; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			previous = &history[i]
			break
		}
	}
	if previous == nil {
		return
	}

	keywords := o.guidance.MatchedTriggers(previous.Content)
	if len(keywords) == 0 {
		return
	}
	successful := IsSuccessfulResponse(text)

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), topicUpdateTimeout)
		defer cancel()

		if _, err := o.tracker.RecordOutcome(bgCtx, userID, keywords, successful); err != nil {
			o.logger.Error("Failed to record topic outcome",
				zap.String("user_id", userID),
				zap.Strings("keywords", keywords),
				zap.Error(err))
		}
	}()
}

// IsSuccessfulResponse judges a user's answer to the companion's last reply:
// positive words without negative ones, or a reasonably long answer without
// negative words.
func IsSuccessfulResponse(text string) bool {
	if containsAny(text, negativeMarkers) {
		return false
	}
	return containsAny(text, positiveMarkers) || utf8.RuneCountInString(strings.TrimSpace(text)) >= minSuccessfulReplyRune
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Greet opens a conversation with a stage-appropriate greeting and stores it
func (o *Orchestrator) Greet(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", models.NewValidationError("user_id", "is required")
	}

	stage, err := o.guidance.Stage(guidance.StageInitial)
	if err != nil {
		return "", err
	}

	greeting, err := o.complete(ctx, llm.Request{
		System: prompts.Persona + "\n\n" + stage,
		History: []models.Message{
			{Role: models.RoleUser, Content: "(어르신이 대화를 시작했습니다. 먼저 인사해 주세요.)"},
		},
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
	})
	if err != nil {
		o.logger.Warn("Using default greeting", zap.String("user_id", userID), zap.Error(err))
		greeting = defaultGreeting
	}

	if err := o.appendAssistant(ctx, userID, greeting, time.Time{}); err != nil {
		return "", fmt.Errorf("failed to save greeting: %w", err)
	}
	return greeting, nil
}

func (o *Orchestrator) History(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.NewValidationError("user_id", "is required")
	}
	return o.store.RecentMessages(ctx, userID, limit)
}

// Close waits for background topic updates to finish
func (o *Orchestrator) Close() {
	o.pending.Wait()
}
