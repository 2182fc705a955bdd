package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
)

func TestNewEngineSchemaVersion(t *testing.T) {
	eng := newTestEngine(t)
	v, err := eng.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t)
	cards := newCardRepository(src, nil)
	notes := newSourceNoteRepository(src, cards, nil)
	projects := newProjectsRepository(src, nil)

	c := newCard("c1")
	c.SourceUID = domain.StringPtr("u1")
	c.Tags = []string{"bio"}
	require.NoError(t, cards.Set(ctx, c, t0))
	require.NoError(t, notes.Upsert(ctx, domain.SourceNote{UID: "u1", Name: "Cells", Path: "bio/Cells.md"}, t0))
	_, err := projects.SyncNoteProjects(ctx, "u1", []string{"Biology"}, t0)
	require.NoError(t, err)

	data, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	dst := newTestEngine(t)
	require.NoError(t, dst.Load(ctx, data))

	got, err := newCardRepository(dst, nil).Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", *got.SourceUID)
	assert.Equal(t, []string{"bio"}, got.Tags)
	assert.True(t, t0.Equal(got.CreatedAt))

	names, err := newProjectsRepository(dst, nil).GetNoteProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology"}, names)
}

func TestLoadReplacesContents(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t)
	require.NoError(t, newCardRepository(src, nil).Set(ctx, newCard("disk"), t0))
	data, err := src.Snapshot(ctx)
	require.NoError(t, err)

	dst := newTestEngine(t)
	dstCards := newCardRepository(dst, nil)
	require.NoError(t, dstCards.Set(ctx, newCard("memory"), t0))
	require.NoError(t, dst.Load(ctx, data))

	ids, err := dstCards.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"disk"}, ids)
}

func TestLoadRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	require.NoError(t, newCardRepository(eng, nil).Set(ctx, newCard("keep"), t0))

	assert.Error(t, eng.Load(ctx, []byte("definitely not a database file, just some bytes")))
	assert.Error(t, eng.Load(ctx, nil))

	ok, err := newCardRepository(eng, nil).Has(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok, "failed load must leave contents untouched")
}

// v1Snapshot builds a snapshot carrying only the first migration.
func v1Snapshot(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, migrations[0])
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "PRAGMA user_version = 1")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO cards (id, due, created_at, updated_at) VALUES ('old', ?, ?, ?)`,
		toMillis(t0), toMillis(t0), toMillis(t0))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "v1.db")
	_, err = db.ExecContext(ctx, "VACUUM INTO ?", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestLoadUpgradesOldSnapshot(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	require.NoError(t, eng.Load(ctx, v1Snapshot(t)))

	got, err := newCardRepository(eng, nil).Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Tags)
	assert.Equal(t, domain.New, got.State)
}

func TestLoadRejectsNewerSnapshot(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t)
	_, err := src.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1))
	require.NoError(t, err)
	data, err := src.Snapshot(ctx)
	require.NoError(t, err)

	err = newTestEngine(t).Load(ctx, data)
	assert.ErrorIs(t, err, ErrSnapshotTooNew)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	cards := newCardRepository(eng, nil)

	err := eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := cards.set(ctx, tx, newCard("c1"), t0); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	ok, err := cards.Has(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}
