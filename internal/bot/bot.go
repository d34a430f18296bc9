package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/carebot/internal/companion"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
)

const historyLimit = 10

type Bot struct {
	api       *tgbotapi.BotAPI
	companion *companion.Orchestrator
	logger    *zap.Logger
}

func New(token string, companion *companion.Orchestrator, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:       api,
		companion: companion,
		logger:    logger,
	}, nil
}

// Start polls for updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

// userKey maps a Telegram account to the companion's user ID
func userKey(from *tgbotapi.User) string {
	return "tg-" + strconv.FormatInt(from.ID, 10)
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	if len(message.Photo) > 0 {
		b.handlePhoto(ctx, message)
		return
	}

	if strings.TrimSpace(message.Text) == "" {
		return
	}

	result, err := b.companion.HandleTurn(ctx, companion.TurnRequest{
		UserID: userKey(message.From),
		Text:   message.Text,
	})
	if err != nil {
		b.logger.Error("Failed to handle turn",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "죄송해요, 잠시 문제가 생겼어요. 조금 뒤에 다시 말씀해 주세요.")
		return
	}

	b.sendMessage(message.Chat.ID, result.Reply)
}

// largestPhoto returns the file ID of the highest resolution size
func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best.FileID
}

func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	url, err := b.api.GetFileDirectURL(largestPhoto(message.Photo))
	if err != nil {
		b.logger.Error("Failed to get photo URL",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "사진을 불러오지 못했어요. 다시 한번 보내 주시겠어요?")
		return
	}

	userID := userKey(message.From)
	if _, err := b.companion.StartPhotoSession(ctx, userID, url, ""); err != nil {
		b.logger.Error("Failed to start photo session",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "사진을 저장하지 못했어요. 다시 한번 보내 주시겠어요?")
		return
	}

	text := message.Caption
	if strings.TrimSpace(text) == "" {
		text = "사진을 보여 드렸어요."
	}
	result, err := b.companion.HandleTurn(ctx, companion.TurnRequest{UserID: userID, Text: text})
	if err != nil {
		b.logger.Error("Failed to handle photo turn",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, "멋진 사진이네요! 이 사진에 대해 이야기해 주세요.")
		return
	}
	b.sendMessage(message.Chat.ID, result.Reply)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "history":
		b.handleHistory(ctx, message)
	case "end":
		b.handleEnd(ctx, message)
	case "photo_done":
		b.handlePhotoDone(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "모르는 명령이에요. /help 로 사용 방법을 확인해 주세요.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	greeting, err := b.companion.Greet(ctx, userKey(message.From))
	if err != nil {
		b.logger.Error("Failed to greet user",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "죄송해요, 잠시 문제가 생겼어요.")
		return
	}
	b.sendMessage(message.Chat.ID, greeting)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `사용할 수 있는 명령:
/start - 대화 시작하기
/help - 도움말 보기
/history - 최근 대화 보기
/photo_done - 사진 이야기 마치기
/end - 대화를 마치고 보고서 받기

편하게 말을 걸거나 사진을 보내 주세요.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	messages, err := b.companion.History(ctx, userKey(message.From), historyLimit)
	if err != nil {
		b.logger.Error("Failed to get history",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "최근 대화를 불러오지 못했어요.")
		return
	}

	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "최근 30분 동안 나눈 대화가 없어요.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatHistory(messages))
}

func (b *Bot) handleEnd(ctx context.Context, message *tgbotapi.Message) {
	report, err := b.companion.EndSession(ctx, userKey(message.From))
	if models.IsNotFound(err) {
		b.sendMessage(message.Chat.ID, "정리할 대화가 아직 없어요.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to end session",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "보고서를 만들지 못했어요.")
		return
	}

	b.sendMarkdown(message.Chat.ID, formatReport(report))
}

func (b *Bot) handlePhotoDone(ctx context.Context, message *tgbotapi.Message) {
	if err := b.companion.EndPhotoSession(ctx, userKey(message.From)); err != nil {
		b.logger.Error("Failed to end photo session",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "사진 이야기를 마치지 못했어요.")
		return
	}
	b.sendMessage(message.Chat.ID, "사진 이야기 즐거웠어요. 다른 이야기도 들려주세요.")
}

func formatHistory(messages []models.Message) string {
	var builder strings.Builder
	builder.WriteString("*최근 대화*\n\n")
	for _, m := range messages {
		speaker := "나"
		if m.Role == models.RoleAssistant {
			speaker = "다솜"
		}
		builder.WriteString(fmt.Sprintf("*%s* %s\n",
			escapeMarkdown(speaker+" "+m.Timestamp.Format("15:04")),
			escapeMarkdown(m.Content)))
	}
	return builder.String()
}

func formatReport(report *models.Report) string {
	a := report.Assessment
	var builder strings.Builder
	builder.WriteString("*대화 보고서*\n\n")
	builder.WriteString(fmt.Sprintf("*판정:* %s\n", escapeMarkdown(fmt.Sprintf("%s (%s)", a.CDR, a.CDR.Description()))))
	builder.WriteString(escapeMarkdown(fmt.Sprintf("기억력 %.1f · 지남력 %.1f · 언어 %.1f (평균 %.2f)",
		a.MemoryScore, a.OrientationScore, a.LanguageScore, a.AverageScore)))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("*행동 증상:* %s\n", escapeMarkdown(strings.Join(a.BehavioralSymptoms, ", "))))
	builder.WriteString(fmt.Sprintf("*위험 요인:* %s\n\n", escapeMarkdown(strings.Join(a.RiskFactors, ", "))))
	builder.WriteString(escapeMarkdown(report.Summary))
	return builder.String()
}

// escapeMarkdown escapes the MarkdownV2 special characters
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send markdown message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
