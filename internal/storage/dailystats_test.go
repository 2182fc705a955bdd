package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
)

func TestRecordReviewCountsNewCardOnce(t *testing.T) {
	ctx := context.Background()
	daily := newDailyStatsRepository(newTestEngine(t), nil)

	first, err := daily.RecordReview(ctx, ReviewRecord{Date: "2024-03-10", CardID: "c1", Rating: domain.Again, IsNew: true, TimeSpentMs: 1000})
	require.NoError(t, err)
	assert.True(t, first)

	first, err = daily.RecordReview(ctx, ReviewRecord{Date: "2024-03-10", CardID: "c1", Rating: domain.Good, IsNew: true, TimeSpentMs: 500})
	require.NoError(t, err)
	assert.False(t, first)

	_, err = daily.RecordReview(ctx, ReviewRecord{Date: "2024-03-10", CardID: "c2", Rating: domain.Easy})
	require.NoError(t, err)

	got, err := daily.Get(ctx, "2024-03-10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DailyStats{
		Date:            "2024-03-10",
		Reviews:         3,
		Again:           1,
		Good:            1,
		Easy:            1,
		NewCards:        1,
		TimeSpentMs:     1500,
		ReviewedCardIDs: []string{"c1", "c2"},
	}, *got)
}

func TestRecordReviewRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	daily := newDailyStatsRepository(newTestEngine(t), nil)

	_, err := daily.RecordReview(ctx, ReviewRecord{Date: "2024-03-10", CardID: "c1", Rating: 7})
	assert.ErrorIs(t, err, ErrInvalidRating)
	_, err = daily.RecordReview(ctx, ReviewRecord{CardID: "c1", Rating: domain.Good})
	assert.Error(t, err)

	got, err := daily.Get(ctx, "2024-03-10")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDailyRangeAndStudyDays(t *testing.T) {
	ctx := context.Background()
	daily := newDailyStatsRepository(newTestEngine(t), nil)

	for _, d := range []string{"2024-01-03", "2024-01-01", "2024-01-05", "2024-02-01"} {
		_, err := daily.RecordReview(ctx, ReviewRecord{Date: d, CardID: "c", Rating: domain.Good})
		require.NoError(t, err)
	}

	days, err := daily.GetRange(ctx, "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, "2024-01-01", days[0].Date)
	assert.Equal(t, "2024-01-05", days[2].Date)

	study, err := daily.StudyDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-05", "2024-02-01"}, study)

	all, err := daily.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestReviewLogOrder(t *testing.T) {
	ctx := context.Background()
	daily := newDailyStatsRepository(newTestEngine(t), nil)

	_, err := daily.AddReviewLog(ctx, "c1", domain.ReviewLogEntry{Rating: domain.Hard, Timestamp: t0.Add(time.Second)})
	require.NoError(t, err)
	_, err = daily.AddReviewLog(ctx, "c1", domain.ReviewLogEntry{Rating: domain.Again, State: domain.Review, Timestamp: t0})
	require.NoError(t, err)

	logs, err := daily.GetReviewLogs(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.Again, logs[0].Rating)
	assert.Equal(t, domain.Review, logs[0].State)
	assert.Equal(t, domain.Hard, logs[1].Rating)
}
