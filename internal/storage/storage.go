package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xaenox/carebot/internal/models"
)

const (
	// MessageTTL is the inactivity window after which messages are evicted on read
	MessageTTL = 30 * time.Minute
	// PhotoSessionTTL is the wall-clock age after which a photo session expires
	PhotoSessionTTL = time.Hour
	// DefaultRecentLimit is used when RecentMessages is called with a non-positive limit
	DefaultRecentLimit = 20
)

// ConversationStore persists per-user message history and photo sessions.
// Reads evict stale state before returning.
type ConversationStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error)
	AllMessages(ctx context.Context, userID string) ([]models.Message, error)
	CleanupStale(ctx context.Context, userID string) (int64, error)
	LastInteraction(ctx context.Context, userID string) (time.Time, error)

	UpsertPhotoSession(ctx context.Context, userID, imageAnalysis string, startTime time.Time) (string, error)
	ActivePhotoSession(ctx context.Context, userID string) (*models.PhotoSession, error)
	DeactivatePhotoSessions(ctx context.Context, userID string) error
}

// TopicStore persists effective topics. Keywords passed in are already normalized.
type TopicStore interface {
	GetTopic(ctx context.Context, userID string, keywords []string) (*models.EffectiveTopic, error)
	SaveTopic(ctx context.Context, topic *models.EffectiveTopic) error
	ListTopics(ctx context.Context, userID string, minTotal int) ([]models.EffectiveTopic, error)
}

type TraumaStore interface {
	SaveTrauma(ctx context.Context, info *models.TraumaInfo) error
	GetTrauma(ctx context.Context, userID string) (*models.TraumaInfo, error)
	DeleteTrauma(ctx context.Context, userID string) error
}

type ReportStore interface {
	SaveReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context, userID string, limit int) ([]models.Report, error)
}

type Storage interface {
	ConversationStore
	TopicStore
	TraumaStore
	ReportStore
	Close() error
}

type options struct {
	now func() time.Time
}

// Option configures a storage backend
type Option func(*options)

// WithClock replaces time.Now for eviction and expiry checks
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &models.StorageError{Op: op, Err: err}
}

// topicKey is the exact-match identity of a keyword set
func topicKey(keywords []string) string {
	if keywords == nil {
		keywords = []string{}
	}
	data, _ := json.Marshal(keywords)
	return string(data)
}

func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
