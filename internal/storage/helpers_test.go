package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

// memBlob is an in-memory BlobStore that can be told to fail writes.
type memBlob struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	failNext int
	writes   int
}

func newMemBlob() *memBlob {
	return &memBlob{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (b *memBlob) Exists(p string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[p]
	return ok, nil
}

func (b *memBlob) Read(p string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[p]
	if !ok {
		return nil, errors.New("no such file")
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlob) Write(p string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return errors.New("disk full")
	}
	b.files[p] = append([]byte(nil), data...)
	b.writes++
	return nil
}

func (b *memBlob) MkdirAll(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs[dir] = true
	return nil
}

func (b *memBlob) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *memBlob) hasDir(dir string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirs[dir]
}

func (b *memBlob) failWrites(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

func newCard(id string) domain.Card {
	return domain.Card{ID: id, Due: t0, State: domain.New}
}

func reviewCard(id string, due time.Time, scheduledDays int) domain.Card {
	lr := due.AddDate(0, 0, -scheduledDays)
	return domain.Card{
		ID:            id,
		Due:           due,
		State:         domain.Review,
		Stability:     float64(scheduledDays),
		Difficulty:    5,
		Reps:          3,
		ScheduledDays: scheduledDays,
		LastReview:    &lr,
	}
}

// fixedScheduler moves every card to Review one day out.
type fixedScheduler struct{}

func (fixedScheduler) Next(card domain.Card, rating domain.Rating, now time.Time) domain.ScheduleUpdate {
	return domain.ScheduleUpdate{
		Due:           now.AddDate(0, 0, 1),
		Stability:     1,
		Difficulty:    5,
		State:         domain.Review,
		ScheduledDays: 1,
		Reps:          card.Reps + 1,
		Lapses:        card.Lapses,
		LastReview:    now,
	}
}
