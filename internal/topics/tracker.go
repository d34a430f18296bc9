// Package topics tracks which conversation topics lead to positive turns.
package topics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/storage"
	"go.uber.org/zap"
)

const (
	// NeutralPrior is returned for keyword sets that were never observed
	NeutralPrior = 0.5
	// MinObservationsForRanking excludes single observations from the top list
	MinObservationsForRanking = 2
	// MinObservationsForConfidence is the count below which estimates are shrunk toward NeutralPrior
	MinObservationsForConfidence = 3
	DefaultTopLimit              = 10
)

type Tracker struct {
	store  storage.TopicStore
	logger *zap.Logger
	now    func() time.Time

	// serializes read-modify-write of topic counters
	mu sync.Mutex
}

func NewTracker(store storage.TopicStore, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Normalize returns the identity of a keyword set: trimmed, de-duplicated and sorted.
func Normalize(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RecordOutcome counts one observation of keywords for the user.
// The success timestamp only moves forward on successful observations.
func (t *Tracker) RecordOutcome(ctx context.Context, userID string, keywords []string, wasSuccessful bool) (*models.EffectiveTopic, error) {
	key := Normalize(keywords)
	if len(key) == 0 {
		return nil, models.NewValidationError("keywords", "at least one keyword is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	topic, err := t.store.GetTopic(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		topic = &models.EffectiveTopic{UserID: userID, Keywords: key}
	}

	topic.TotalCount++
	if wasSuccessful {
		topic.SuccessCount++
		at := t.now()
		topic.LastSuccessAt = &at
	}
	topic.SuccessRate = float64(topic.SuccessCount) / float64(topic.TotalCount)

	if err := t.store.SaveTopic(ctx, topic); err != nil {
		return nil, err
	}

	t.logger.Debug("Recorded topic outcome",
		zap.String("user_id", userID),
		zap.Strings("keywords", key),
		zap.Bool("successful", wasSuccessful),
		zap.Float64("success_rate", topic.SuccessRate))
	return topic, nil
}

// TopEffectiveTopics returns topics seen at least twice, best success rate first.
// Ties go to the most recent success; topics that never succeeded sort last.
func (t *Tracker) TopEffectiveTopics(ctx context.Context, userID string, limit int) ([]models.EffectiveTopic, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	topics, err := t.store.ListTopics(ctx, userID, MinObservationsForRanking)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(topics, func(i, j int) bool {
		a, b := topics[i], topics[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		switch {
		case a.LastSuccessAt == nil && b.LastSuccessAt == nil:
			return strings.Join(a.Keywords, ",") < strings.Join(b.Keywords, ",")
		case a.LastSuccessAt == nil:
			return false
		case b.LastSuccessAt == nil:
			return true
		case !a.LastSuccessAt.Equal(*b.LastSuccessAt):
			return a.LastSuccessAt.After(*b.LastSuccessAt)
		}
		return strings.Join(a.Keywords, ",") < strings.Join(b.Keywords, ",")
	})

	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics, nil
}

// EffectivenessOf estimates how well a keyword set works for the user.
// Low-confidence topics are regressed halfway toward NeutralPrior.
func (t *Tracker) EffectivenessOf(ctx context.Context, userID string, keywords []string) (float64, error) {
	key := Normalize(keywords)
	if len(key) == 0 {
		return NeutralPrior, nil
	}

	topic, err := t.store.GetTopic(ctx, userID, key)
	if err != nil {
		return 0, err
	}
	if topic == nil {
		return NeutralPrior, nil
	}
	if topic.TotalCount < MinObservationsForConfidence {
		return (topic.SuccessRate + NeutralPrior) / 2, nil
	}
	return topic.SuccessRate, nil
}
