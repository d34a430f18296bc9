// Package trauma keeps per-user lists of topics to avoid and flags text that mentions them.
package trauma

import (
	"context"
	"strings"
	"time"

	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/storage"
	"go.uber.org/zap"
)

// CheckResult lists the configured keywords found in a text
type CheckResult struct {
	HasMatch        bool     `json:"has_match"`
	MatchedKeywords []string `json:"matched_keywords"`
}

type Guard struct {
	store  storage.TraumaStore
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(store storage.TraumaStore, logger *zap.Logger) *Guard {
	return &Guard{store: store, logger: logger, now: time.Now}
}

// Save replaces the user's trauma record
func (g *Guard) Save(ctx context.Context, userID string, keywords []string, description string) (*models.TraumaInfo, error) {
	if userID == "" {
		return nil, models.NewValidationError("user_id", "is required")
	}

	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}

	info := &models.TraumaInfo{
		UserID:      userID,
		Keywords:    cleaned,
		Description: description,
		UpdatedAt:   g.now(),
	}
	if err := g.store.SaveTrauma(ctx, info); err != nil {
		return nil, err
	}

	g.logger.Info("Saved trauma info",
		zap.String("user_id", userID),
		zap.Int("keywords", len(cleaned)))
	return info, nil
}

func (g *Guard) Get(ctx context.Context, userID string) (*models.TraumaInfo, error) {
	return g.store.GetTrauma(ctx, userID)
}

func (g *Guard) Delete(ctx context.Context, userID string) error {
	return g.store.DeleteTrauma(ctx, userID)
}

// Check reports which of the user's keywords occur in text.
// Matching is case-insensitive substring containment, nothing more.
func (g *Guard) Check(ctx context.Context, userID, text string) (CheckResult, error) {
	info, err := g.store.GetTrauma(ctx, userID)
	if models.IsNotFound(err) {
		return CheckResult{MatchedKeywords: []string{}}, nil
	}
	if err != nil {
		return CheckResult{}, err
	}
	return Match(info.Keywords, text), nil
}

// Match is the pure form of Check
func Match(keywords []string, text string) CheckResult {
	lower := strings.ToLower(text)
	result := CheckResult{MatchedKeywords: []string{}}
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			result.MatchedKeywords = append(result.MatchedKeywords, k)
		}
	}
	result.HasMatch = len(result.MatchedKeywords) > 0
	return result
}
