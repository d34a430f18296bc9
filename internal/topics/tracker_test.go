package topics

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/storage"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := NewTracker(storage.NewMemoryStorage(), zap.NewNop())
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"가족", "노래"}, Normalize([]string{"노래", " 가족 ", "노래", ""}))
	assert.Empty(t, Normalize(nil))
}

func TestRecordOutcomeCreatesAndUpdates(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	topic, err := tr.RecordOutcome(ctx, "u1", []string{"노래", "가족"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, topic.TotalCount)
	assert.Equal(t, 0, topic.SuccessCount)
	assert.Equal(t, 0.0, topic.SuccessRate)
	assert.Nil(t, topic.LastSuccessAt)

	// Same set in a different order is the same topic.
	topic, err = tr.RecordOutcome(ctx, "u1", []string{"가족", "노래"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, topic.TotalCount)
	assert.Equal(t, 1, topic.SuccessCount)
	assert.Equal(t, 0.5, topic.SuccessRate)
	require.NotNil(t, topic.LastSuccessAt)
	successAt := *topic.LastSuccessAt
	assert.Equal(t, *now, successAt)

	*now = now.Add(time.Hour)
	topic, err = tr.RecordOutcome(ctx, "u1", []string{"가족", "노래"}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, topic.TotalCount)
	require.NotNil(t, topic.LastSuccessAt)
	assert.Equal(t, successAt, *topic.LastSuccessAt, "failures must not move the success timestamp")
}

func TestRecordOutcomeRequiresKeywords(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.RecordOutcome(context.Background(), "u1", []string{" "}, true)
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSuccessRateBounds(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	sets := [][]string{{"가족"}, {"노래"}, {"고향", "음식"}}

	for i := 0; i < 200; i++ {
		topic, err := tr.RecordOutcome(ctx, "u1", sets[rng.Intn(len(sets))], rng.Intn(2) == 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, topic.SuccessCount, topic.TotalCount)
		assert.GreaterOrEqual(t, topic.SuccessRate, 0.0)
		assert.LessOrEqual(t, topic.SuccessRate, 1.0)
	}
}

func TestTopEffectiveTopics(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	record := func(keywords []string, outcomes ...bool) {
		for _, ok := range outcomes {
			_, err := tr.RecordOutcome(ctx, "u1", keywords, ok)
			require.NoError(t, err)
			*now = now.Add(time.Minute)
		}
	}

	record([]string{"단독"}, true)              // single observation, excluded
	record([]string{"가족"}, true, false)       // 0.5, earlier success
	record([]string{"노래"}, true, true)        // 1.0
	record([]string{"날씨"}, false, false)      // 0.0, no success
	record([]string{"고향"}, false, true)       // 0.5, later success
	record([]string{"음식"}, false, false, false) // 0.0, no success

	top, err := tr.TopEffectiveTopics(ctx, "u1", 0)
	require.NoError(t, err)

	var order []string
	for _, topic := range top {
		order = append(order, topic.Keywords[0])
	}
	assert.Equal(t, []string{"노래", "고향", "가족", "날씨", "음식"}, order)

	top, err = tr.TopEffectiveTopics(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestEffectivenessOf(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	score, err := tr.EffectivenessOf(ctx, "u1", []string{"미지"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)

	_, err = tr.RecordOutcome(ctx, "u1", []string{"가족"}, true)
	require.NoError(t, err)
	score, err = tr.EffectivenessOf(ctx, "u1", []string{"가족"})
	require.NoError(t, err)
	assert.Equal(t, 0.75, score)

	_, err = tr.RecordOutcome(ctx, "u1", []string{"가족"}, true)
	require.NoError(t, err)
	_, err = tr.RecordOutcome(ctx, "u1", []string{"가족"}, false)
	require.NoError(t, err)
	score, err = tr.EffectivenessOf(ctx, "u1", []string{"가족"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, score, 1e-9)
}
