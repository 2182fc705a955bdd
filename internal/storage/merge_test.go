package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
)

// writeDiskSnapshot replaces the blob snapshot with one built by fill.
func writeDiskSnapshot(t *testing.T, blob *memBlob, fill func(cards *CardRepository, notes *SourceNoteRepository)) {
	t.Helper()
	ctx := context.Background()
	eng := newTestEngine(t)
	cards := newCardRepository(eng, nil)
	fill(cards, newSourceNoteRepository(eng, cards, nil))
	data, err := eng.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, blob.Write(".knolvault/cards.db", data))
}

func TestMergeFromDisk(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s, _ := newTestStore(t, blob, time.Hour)

	earlier := t0.Add(-2 * time.Hour)
	later := t0.Add(-time.Hour)

	// memory side
	memOlder := reviewCard("both-disk-newer", t0, 3)
	memOlder.LastReview = &earlier
	memNewer := reviewCard("both-memory-newer", t0, 3)
	memNewer.LastReview = &later
	memUnreviewed := newCard("both-only-disk-reviewed")
	for _, c := range []domain.Card{memOlder, memNewer, memUnreviewed, newCard("memory-only"), newCard("deleted-here")} {
		require.NoError(t, s.SetCard(ctx, c))
	}
	_, err := s.DeleteCard(ctx, "deleted-here")
	require.NoError(t, err)

	writeDiskSnapshot(t, blob, func(cards *CardRepository, notes *SourceNoteRepository) {
		diskNewer := reviewCard("both-disk-newer", t0, 7)
		diskNewer.LastReview = &later
		diskOlder := reviewCard("both-memory-newer", t0, 7)
		diskOlder.LastReview = &earlier
		diskReviewed := reviewCard("both-only-disk-reviewed", t0, 7)
		diskOnly := newCard("disk-only")
		diskOnly.SourceUID = domain.StringPtr("disk-note")
		revived := reviewCard("deleted-here", t0, 7)

		for _, c := range []domain.Card{diskNewer, diskOlder, diskReviewed, diskOnly, revived} {
			require.NoError(t, cards.Set(ctx, c, t0))
		}
		require.NoError(t, notes.Upsert(ctx, domain.SourceNote{UID: "disk-note", Name: "Disk", Path: "Disk.md"}, t0))
	})

	var events []MergeResult
	s.OnMergeResult(func(r MergeResult) { events = append(events, r) })

	res, err := s.MergeFromDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{Merged: 1, Conflicts: 2, Notes: 1}, res)
	assert.Equal(t, []MergeResult{res}, events)
	assert.True(t, s.Dirty())

	scheduledDays := func(id string) int {
		c, err := s.GetCard(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, c, id)
		return c.ScheduledDays
	}
	assert.Equal(t, 7, scheduledDays("both-disk-newer"))
	assert.Equal(t, 3, scheduledDays("both-memory-newer"))
	assert.Equal(t, 7, scheduledDays("both-only-disk-reviewed"))
	assert.Equal(t, 0, scheduledDays("disk-only"))
	assert.Equal(t, 0, scheduledDays("memory-only"), "cards only in memory are untouched")

	ok, err := s.HasCard(ctx, "deleted-here")
	require.NoError(t, err)
	assert.False(t, ok, "local deletion wins")

	orphans, err := s.GetOrphanedCards(ctx)
	require.NoError(t, err)
	for _, o := range orphans {
		assert.NotEqual(t, "disk-only", o.Card.ID, "adopted cards bring their source note")
	}
}

func TestMergeFromDiskIsIdempotent(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	s, _ := newTestStore(t, blob, time.Hour)

	writeDiskSnapshot(t, blob, func(cards *CardRepository, _ *SourceNoteRepository) {
		require.NoError(t, cards.Set(ctx, newCard("disk-only"), t0))
	})

	res, err := s.MergeFromDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)

	res, err = s.MergeFromDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{}, res)
}

func TestMergeFromDiskWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, newMemBlob(), time.Hour)

	res, err := s.MergeFromDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{}, res)
	assert.False(t, s.Dirty())
}
