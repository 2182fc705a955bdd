package storage

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
	"github.com/conorfennell/knolvault/internal/vault"
)

func newTestStore(t *testing.T, blob BlobStore, debounce time.Duration) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	s := New(blob, Options{Debounce: debounce, Clock: clock.Now, DayStartHour: 4})
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, clock
}

func TestStoreNotInitialized(t *testing.T) {
	ctx := context.Background()
	s := New(newMemBlob(), Options{})

	_, err := s.GetCard(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.SetCard(ctx, newCard("c1")), ErrNotInitialized)
	_, err = s.MergeFromDisk(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.SaveNow(ctx), ErrNotInitialized)
}

func TestStoreDebouncedFlush(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s, _ := newTestStore(t, blob, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SetCard(ctx, newCard("c"+string(rune('0'+i)))))
	}
	assert.True(t, s.Dirty())
	assert.Zero(t, blob.writeCount(), "nothing is written inside the debounce window")

	require.Eventually(t, func() bool { return blob.writeCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.Dirty())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, blob.writeCount(), "a burst of writes produces one flush")
	assert.True(t, blob.hasDir(".knolvault"))
}

func TestStoreSaveNowCancelsTimer(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s, _ := newTestStore(t, blob, time.Hour)

	require.NoError(t, s.SetCard(ctx, newCard("c1")))
	require.NoError(t, s.SaveNow(ctx))
	assert.Equal(t, 1, blob.writeCount())
	assert.False(t, s.Dirty())

	require.NoError(t, s.SaveNow(ctx))
	assert.Equal(t, 1, blob.writeCount(), "a clean store is not rewritten")
}

func TestStoreFailedFlushStaysDirty(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s, _ := newTestStore(t, blob, time.Hour)

	require.NoError(t, s.SetCard(ctx, newCard("c1")))
	blob.failWrites(10)
	assert.Error(t, s.SaveNow(ctx))
	assert.True(t, s.Dirty())

	blob.failWrites(0)
	require.NoError(t, s.SaveNow(ctx))
	assert.False(t, s.Dirty())
}

func TestStoreFlushRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s, _ := newTestStore(t, blob, time.Hour)

	require.NoError(t, s.SetCard(ctx, newCard("c1")))
	blob.failWrites(1)
	require.NoError(t, s.SaveNow(ctx))
	assert.Equal(t, 1, blob.writeCount())
}

func TestStoreCloseFlushesAndRejectsLaterCalls(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s := New(blob, Options{Debounce: time.Hour})
	require.NoError(t, s.Open(ctx))

	require.NoError(t, s.SetCard(ctx, newCard("c1")))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, blob.writeCount())

	assert.ErrorIs(t, s.SetCard(ctx, newCard("c2")), ErrClosed)
	assert.ErrorIs(t, s.Open(ctx), ErrClosed)
	require.NoError(t, s.Close(ctx), "closing twice is harmless")
	assert.Equal(t, 1, blob.writeCount())
}

func TestStoreReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	v := vault.New(fs, "/vault")

	s := New(v, Options{Debounce: time.Hour})
	require.NoError(t, s.Open(ctx))
	c := newCard("c1")
	c.Question = domain.StringPtr("Q")
	require.NoError(t, s.SetCard(ctx, c))
	require.NoError(t, s.UpsertSourceNote(ctx, domain.SourceNote{UID: "u1", Name: "Note", Path: "Note.md"}))
	require.NoError(t, s.Close(ctx))

	ok, err := afero.Exists(fs, "/vault/.knolvault/cards.db")
	require.NoError(t, err)
	assert.True(t, ok)

	reopened := New(v, Options{Debounce: time.Hour})
	require.NoError(t, reopened.Open(ctx))
	defer reopened.Close(ctx)

	got, err := reopened.GetCard(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Q", *got.Question)
	notes, err := reopened.SourceNotes(ctx)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestStoreOpenCorruptSnapshotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	garbage := []byte("this is not an sqlite database but it is long enough to look like one")
	require.NoError(t, blob.Write(".knolvault/cards.db", garbage))

	s, _ := newTestStore(t, blob, time.Hour)
	n, err := s.CardCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	backup, err := blob.Read(".knolvault/cards.db.bak")
	require.NoError(t, err)
	assert.Equal(t, garbage, backup)
}

func TestStoreReviewCard(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, newMemBlob(), time.Hour)

	require.NoError(t, s.SetCard(ctx, newCard("c1")))
	got, err := s.ReviewCard(ctx, "c1", domain.Good, 4*time.Second, fixedScheduler{})
	require.NoError(t, err)
	assert.Equal(t, domain.Review, got.State)
	assert.Equal(t, 1, got.Reps)
	require.Len(t, got.History, 1)
	assert.Equal(t, domain.New, got.History[0].State, "history records the state before the review")
	assert.EqualValues(t, 4000, got.History[0].TimeSpentMs)

	clock.Advance(time.Hour)
	_, err = s.ReviewCard(ctx, "c1", domain.Again, time.Second, fixedScheduler{})
	require.NoError(t, err)

	day, err := s.DailyStats(ctx, s.Calculator().DateKey(t0))
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, 2, day.Reviews)
	assert.Equal(t, 1, day.NewCards)
	assert.Equal(t, 1, day.Good)
	assert.Equal(t, 1, day.Again)
	assert.EqualValues(t, 5000, day.TimeSpentMs)

	logs, err := s.ReviewLogs(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	_, err = s.ReviewCard(ctx, "missing", domain.Good, 0, fixedScheduler{})
	assert.ErrorIs(t, err, ErrCardNotFound)
	_, err = s.ReviewCard(ctx, "c1", domain.Rating(0), 0, fixedScheduler{})
	assert.ErrorIs(t, err, ErrInvalidRating)
}

func TestStoreOrphanedCardsWithResolver(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, newMemBlob(), time.Hour)

	require.NoError(t, s.UpsertSourceNote(ctx, domain.SourceNote{UID: "present", Name: "P", Path: "P.md"}))
	require.NoError(t, s.UpsertSourceNote(ctx, domain.SourceNote{UID: "vanished", Name: "V", Path: "V.md"}))
	for id, uid := range map[string]string{"ok": "present", "stale": "vanished"} {
		c := newCard(id)
		c.SourceUID = domain.StringPtr(uid)
		require.NoError(t, s.SetCard(ctx, c))
	}

	orphans, err := s.GetOrphanedCards(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans, "without a resolver registered notes count as present")

	s.SetSourceResolver(SourceResolverFunc(func(uid string) (string, bool) {
		if uid == "present" {
			return "P.md", true
		}
		return "", false
	}))
	orphans, err = s.GetOrphanedCards(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "stale", orphans[0].Card.ID)
	assert.Equal(t, domain.OrphanMissingSourceFile, orphans[0].Reason)
}

func TestStoreBuryUntilTomorrow(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, newMemBlob(), time.Hour)

	require.NoError(t, s.SetCard(ctx, reviewCard("c1", t0, 3)))
	require.NoError(t, s.BuryCard(ctx, "c1"))

	due, err := s.DueCards(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(17 * time.Hour) // past 04:00 next day
	due, err = s.DueCards(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
