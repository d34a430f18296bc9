package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/carebot/internal/models"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// forEachBackend runs fn against a fresh in-memory store and a fresh SQLite store
func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, NewMemoryStorage(WithClock(clock.Now)), clock)
	})
	t.Run("sqlite", func(t *testing.T) {
		clock := newFakeClock()
		s, err := OpenSQL(DriverSQLite, ":memory:", zap.NewNop(), WithClock(clock.Now))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s, clock)
	})
}

func appendAt(t *testing.T, s Storage, userID string, role models.Role, content string, at time.Time) {
	t.Helper()
	err := s.AppendMessage(context.Background(), &models.Message{
		UserID:    userID,
		Role:      role,
		Content:   content,
		Timestamp: at,
	})
	require.NoError(t, err)
}

func activeCount(t *testing.T, s Storage, userID string) int {
	t.Helper()
	switch store := s.(type) {
	case *MemoryStorage:
		store.mu.RLock()
		defer store.mu.RUnlock()
		n := 0
		for _, ps := range store.photoSessions[userID] {
			if ps.IsActive {
				n++
			}
		}
		return n
	case *SQLStorage:
		var n int
		err := store.db.Get(&n, store.db.Rebind(
			`SELECT COUNT(*) FROM photo_sessions WHERE user_id = ? AND is_active = ?`), userID, true)
		require.NoError(t, err)
		return n
	}
	t.Fatalf("unknown backend %T", s)
	return 0
}

func TestRecentMessagesOrderAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		base := clock.Now().Add(-10 * time.Minute)
		for i := 0; i < 25; i++ {
			appendAt(t, s, "u1", models.RoleUser, fmt.Sprintf("msg-%02d", i), base.Add(time.Duration(i)*time.Second))
		}
		appendAt(t, s, "u2", models.RoleUser, "other user", base)

		got, err := s.RecentMessages(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, got, DefaultRecentLimit)
		assert.Equal(t, "msg-05", got[0].Content)
		assert.Equal(t, "msg-24", got[len(got)-1].Content)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp), "messages must be ascending")
		}

		got, err = s.RecentMessages(ctx, "u1", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"msg-22", "msg-23", "msg-24"},
			[]string{got[0].Content, got[1].Content, got[2].Content})
	})
}

func TestStaleMessagesAreEvictedOnRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		now := clock.Now()
		appendAt(t, s, "u1", models.RoleUser, "too old", now.Add(-31*time.Minute))
		appendAt(t, s, "u1", models.RoleAssistant, "boundary", now.Add(-30*time.Minute))
		appendAt(t, s, "u1", models.RoleUser, "fresh", now.Add(-time.Minute))

		got, err := s.RecentMessages(ctx, "u1", 20)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "boundary", got[0].Content)
		assert.Equal(t, "fresh", got[1].Content)

		cutoff := clock.Now().Add(-MessageTTL)
		for _, m := range got {
			assert.False(t, m.Timestamp.Before(cutoff))
		}

		// Repeated immediate reads see the same survivors.
		again, err := s.RecentMessages(ctx, "u1", 20)
		require.NoError(t, err)
		assert.Equal(t, got, again)

		clock.Advance(31 * time.Minute)
		all, err := s.AllMessages(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestCleanupStaleReportsRemovedCount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		now := clock.Now()
		appendAt(t, s, "u1", models.RoleUser, "a", now.Add(-2*time.Hour))
		appendAt(t, s, "u1", models.RoleUser, "b", now.Add(-time.Hour))
		appendAt(t, s, "u1", models.RoleUser, "c", now)

		removed, err := s.CleanupStale(context.Background(), "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, removed)
	})
}

func TestLastInteraction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		_, err := s.LastInteraction(ctx, "ghost")
		assert.True(t, models.IsNotFound(err))

		appendAt(t, s, "u1", models.RoleUser, "hello", clock.Now())
		at, err := s.LastInteraction(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, clock.Now().UnixMilli(), at.UnixMilli())
	})
}

func TestPhotoSessionSingleActive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		var lastID string
		for i := 0; i < 4; i++ {
			id, err := s.UpsertPhotoSession(ctx, "u1", fmt.Sprintf("photo %d", i), clock.Now())
			require.NoError(t, err)
			lastID = id
			clock.Advance(time.Second)
			assert.Equal(t, 1, activeCount(t, s, "u1"))
		}

		active, err := s.ActivePhotoSession(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, lastID, active.ID)
		assert.Equal(t, "photo 3", active.ImageAnalysis)
		assert.True(t, active.IsActive)

		require.NoError(t, s.DeactivatePhotoSessions(ctx, "u1"))
		assert.Equal(t, 0, activeCount(t, s, "u1"))
		active, err = s.ActivePhotoSession(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, active)
	})
}

func TestPhotoSessionExpiresAfterAnHour(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		_, err := s.UpsertPhotoSession(ctx, "u1", "garden", clock.Now())
		require.NoError(t, err)

		clock.Advance(time.Hour)
		active, err := s.ActivePhotoSession(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, active, "exactly one hour old is still active")

		clock.Advance(time.Millisecond)
		active, err = s.ActivePhotoSession(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, active)
		assert.Equal(t, 0, activeCount(t, s, "u1"))
	})
}

func TestTopicRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		missing, err := s.GetTopic(ctx, "u1", []string{"가족"})
		require.NoError(t, err)
		assert.Nil(t, missing)

		at := clock.Now()
		require.NoError(t, s.SaveTopic(ctx, &models.EffectiveTopic{
			UserID: "u1", Keywords: []string{"가족", "노래"},
			SuccessCount: 1, TotalCount: 2, SuccessRate: 0.5, LastSuccessAt: &at,
		}))
		require.NoError(t, s.SaveTopic(ctx, &models.EffectiveTopic{
			UserID: "u1", Keywords: []string{"날씨"}, TotalCount: 1,
		}))

		got, err := s.GetTopic(ctx, "u1", []string{"가족", "노래"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 2, got.TotalCount)
		require.NotNil(t, got.LastSuccessAt)
		assert.Equal(t, at.UnixMilli(), got.LastSuccessAt.UnixMilli())

		weather, err := s.GetTopic(ctx, "u1", []string{"날씨"})
		require.NoError(t, err)
		require.NotNil(t, weather)
		assert.Nil(t, weather.LastSuccessAt)

		listed, err := s.ListTopics(ctx, "u1", 2)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, []string{"가족", "노래"}, listed[0].Keywords)
	})
}

func TestTraumaUpsertAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		_, err := s.GetTrauma(ctx, "u1")
		assert.True(t, models.IsNotFound(err))

		require.NoError(t, s.SaveTrauma(ctx, &models.TraumaInfo{
			UserID: "u1", Keywords: []string{"전쟁"}, Description: "first", UpdatedAt: clock.Now(),
		}))
		require.NoError(t, s.SaveTrauma(ctx, &models.TraumaInfo{
			UserID: "u1", Keywords: []string{"병원", "사고"}, Description: "second", UpdatedAt: clock.Now(),
		}))

		info, err := s.GetTrauma(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"병원", "사고"}, info.Keywords)
		assert.Equal(t, "second", info.Description)

		require.NoError(t, s.DeleteTrauma(ctx, "u1"))
		_, err = s.GetTrauma(ctx, "u1")
		assert.True(t, models.IsNotFound(err))
	})
}

func TestReports(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage, clock *fakeClock) {
		ctx := context.Background()
		first := &models.Report{
			UserID: "u1", CreatedAt: clock.Now(), MessageCount: 4, Summary: "first",
			Assessment: models.Assessment{CDR: models.CDR05, MemoryScore: 3},
		}
		require.NoError(t, s.SaveReport(ctx, first))
		clock.Advance(time.Minute)
		second := &models.Report{
			UserID: "u1", CreatedAt: clock.Now(), MessageCount: 8, Summary: "second",
			Assessment: models.Assessment{CDR: models.CDR1, RiskFactors: []string{"x"}},
		}
		require.NoError(t, s.SaveReport(ctx, second))
		assert.NotEmpty(t, first.ID)

		got, err := s.GetReport(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CDR05, got.Assessment.CDR)
		assert.Equal(t, "first", got.Summary)

		list, err := s.ListReports(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, []string{"x"}, list[0].Assessment.RiskFactors)

		_, err = s.GetReport(ctx, "missing")
		assert.True(t, models.IsNotFound(err))
	})
}

func TestSplitSQLSkipsComments(t *testing.T) {
	stmts := splitSQL("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

func TestDatabaseConfigDSN(t *testing.T) {
	driver, dsn, err := DatabaseConfig{
		Driver: DriverPostgres, Host: "db", Port: 5432, User: "care", Password: "pw", DBName: "carebot", SSLMode: "disable",
	}.DSN()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, driver)
	assert.Equal(t, "host=db port=5432 user=care password=pw dbname=carebot sslmode=disable", dsn)

	_, _, err = DatabaseConfig{Driver: DriverSQLite}.DSN()
	assert.Error(t, err)

	_, _, err = DatabaseConfig{Driver: "mysql"}.DSN()
	assert.Error(t, err)
}
