package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/carebot/internal/models"
)

type MemoryStorage struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         map[string]*models.User
	messages      map[string][]models.Message
	photoSessions map[string][]*models.PhotoSession
	topics        map[string]map[string]*models.EffectiveTopic
	trauma        map[string]*models.TraumaInfo
	reports       map[string]*models.Report
}

func NewMemoryStorage(opts ...Option) *MemoryStorage {
	o := buildOptions(opts)
	return &MemoryStorage{
		now:           o.now,
		users:         make(map[string]*models.User),
		messages:      make(map[string][]models.Message),
		photoSessions: make(map[string][]*models.PhotoSession),
		topics:        make(map[string]map[string]*models.EffectiveTopic),
		trauma:        make(map[string]*models.TraumaInfo),
		reports:       make(map[string]*models.Report),
	}
}

// Conversation methods
func (s *MemoryStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.Timestamp = truncateMillis(msg.Timestamp)
	s.messages[msg.UserID] = append(s.messages[msg.UserID], *msg)

	s.users[msg.UserID] = &models.User{
		ID:                msg.UserID,
		LastInteractionAt: truncateMillis(s.now()),
	}
	return nil
}

func (s *MemoryStorage) RecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked(userID)
	sorted := s.sortedLocked(userID)
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

func (s *MemoryStorage) AllMessages(ctx context.Context, userID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked(userID)
	return s.sortedLocked(userID), nil
}

func (s *MemoryStorage) CleanupStale(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cleanupLocked(userID), nil
}

func (s *MemoryStorage) cleanupLocked(userID string) int64 {
	cutoff := s.now().Add(-MessageTTL).UnixMilli()
	kept := s.messages[userID][:0]
	var removed int64
	for _, m := range s.messages[userID] {
		if m.Timestamp.UnixMilli() < cutoff {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(s.messages, userID)
	} else {
		s.messages[userID] = kept
	}
	return removed
}

func (s *MemoryStorage) sortedLocked(userID string) []models.Message {
	out := make([]models.Message, len(s.messages[userID]))
	copy(out, s.messages[userID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *MemoryStorage) LastInteraction(ctx context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if user, exists := s.users[userID]; exists {
		return user.LastInteractionAt, nil
	}
	return time.Time{}, &models.NotFoundError{Resource: "user", ID: userID}
}

// Photo session methods
func (s *MemoryStorage) UpsertPhotoSession(ctx context.Context, userID, imageAnalysis string, startTime time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ps := range s.photoSessions[userID] {
		ps.IsActive = false
	}

	ps := &models.PhotoSession{
		ID:            uuid.New().String(),
		UserID:        userID,
		ImageAnalysis: imageAnalysis,
		IsActive:      true,
		StartTime:     truncateMillis(startTime),
	}
	s.photoSessions[userID] = append(s.photoSessions[userID], ps)
	return ps.ID, nil
}

func (s *MemoryStorage) ActivePhotoSession(ctx context.Context, userID string) (*models.PhotoSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *models.PhotoSession
	for _, ps := range s.photoSessions[userID] {
		if !ps.IsActive {
			continue
		}
		if newest == nil || ps.StartTime.After(newest.StartTime) {
			newest = ps
		}
	}
	if newest == nil {
		return nil, nil
	}

	if s.now().Sub(newest.StartTime) > PhotoSessionTTL {
		newest.IsActive = false
		return nil, nil
	}

	found := *newest
	return &found, nil
}

func (s *MemoryStorage) DeactivatePhotoSessions(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ps := range s.photoSessions[userID] {
		ps.IsActive = false
	}
	return nil
}

// Topic methods
func (s *MemoryStorage) GetTopic(ctx context.Context, userID string, keywords []string) (*models.EffectiveTopic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topic, exists := s.topics[userID][topicKey(keywords)]; exists {
		return copyTopic(topic), nil
	}
	return nil, nil
}

func (s *MemoryStorage) SaveTopic(ctx context.Context, topic *models.EffectiveTopic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, exists := s.topics[topic.UserID]
	if !exists {
		byKey = make(map[string]*models.EffectiveTopic)
		s.topics[topic.UserID] = byKey
	}
	byKey[topicKey(topic.Keywords)] = copyTopic(topic)
	return nil
}

func (s *MemoryStorage) ListTopics(ctx context.Context, userID string, minTotal int) ([]models.EffectiveTopic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.EffectiveTopic
	for _, topic := range s.topics[userID] {
		if topic.TotalCount >= minTotal {
			out = append(out, *copyTopic(topic))
		}
	}
	return out, nil
}

func copyTopic(t *models.EffectiveTopic) *models.EffectiveTopic {
	c := *t
	c.Keywords = append([]string(nil), t.Keywords...)
	if t.LastSuccessAt != nil {
		at := *t.LastSuccessAt
		c.LastSuccessAt = &at
	}
	return &c
}

// Trauma methods
func (s *MemoryStorage) SaveTrauma(ctx context.Context, info *models.TraumaInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *info
	c.Keywords = append([]string(nil), info.Keywords...)
	s.trauma[info.UserID] = &c
	return nil
}

func (s *MemoryStorage) GetTrauma(ctx context.Context, userID string) (*models.TraumaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, exists := s.trauma[userID]
	if !exists {
		return nil, &models.NotFoundError{Resource: "trauma info", ID: userID}
	}
	c := *info
	c.Keywords = append([]string(nil), info.Keywords...)
	return &c, nil
}

func (s *MemoryStorage) DeleteTrauma(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.trauma, userID)
	return nil
}

// Report methods
func (s *MemoryStorage) SaveReport(ctx context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	c := *report
	s.reports[report.ID] = &c
	return nil
}

func (s *MemoryStorage) GetReport(ctx context.Context, id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, exists := s.reports[id]
	if !exists {
		return nil, &models.NotFoundError{Resource: "report", ID: id}
	}
	c := *report
	return &c, nil
}

func (s *MemoryStorage) ListReports(ctx context.Context, userID string, limit int) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Report
	for _, r := range s.reports {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
