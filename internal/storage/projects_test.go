package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
)

func TestSyncNoteProjects(t *testing.T) {
	ctx := context.Background()
	writes := 0
	projects := newProjectsRepository(newTestEngine(t), func() { writes++ })

	res, err := projects.SyncNoteProjects(ctx, "u1", []string{" Biology ", "", "Chemistry", "Biology"}, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology", "Chemistry"}, res.Added)
	assert.Empty(t, res.Removed)

	names, err := projects.GetNoteProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Biology", "Chemistry"}, names)

	writes = 0
	res, err = projects.SyncNoteProjects(ctx, "u1", []string{"Chemistry", "Biology"}, t0)
	require.NoError(t, err)
	assert.False(t, res.Changed(), "second sync with the same set is a no-op")
	assert.Zero(t, writes)

	res, err = projects.SyncNoteProjects(ctx, "u1", []string{"Chemistry", "Physics"}, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Physics"}, res.Added)
	assert.Equal(t, []string{"Biology"}, res.Removed)

	bio, err := projects.GetByName(ctx, "Biology")
	require.NoError(t, err)
	require.NotNil(t, bio, "emptied projects are kept until garbage collected")
	assert.Zero(t, bio.NoteCount)
}

func TestSyncNoteProjectsToEmptySet(t *testing.T) {
	ctx := context.Background()
	projects := newProjectsRepository(newTestEngine(t), nil)

	_, err := projects.SyncNoteProjects(ctx, "u2", []string{"A"}, t0)
	require.NoError(t, err)
	_, err = projects.SyncNoteProjects(ctx, "u1", []string{"A", "B"}, t0)
	require.NoError(t, err)

	res, err := projects.SyncNoteProjects(ctx, "u1", nil, t0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, res.Removed)

	names, err := projects.GetNoteProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = projects.GetNoteProjects(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names, "other notes keep their memberships")

	n, err := projects.DeleteEmptyProjects(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	all, err := projects.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, 1, all[0].NoteCount)
}

func TestProjectsShareRows(t *testing.T) {
	ctx := context.Background()
	projects := newProjectsRepository(newTestEngine(t), nil)

	_, err := projects.SyncNoteProjects(ctx, "u1", []string{"Biology"}, t0)
	require.NoError(t, err)
	_, err = projects.SyncNoteProjects(ctx, "u2", []string{"Biology"}, t0)
	require.NoError(t, err)

	all, err := projects.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].NoteCount)

	uids, err := projects.GetProjectNotes(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, uids)
}

func TestProjectDeleteCascadesMemberships(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	cards := newCardRepository(eng, nil)
	notes := newSourceNoteRepository(eng, cards, nil)
	projects := newProjectsRepository(eng, nil)

	require.NoError(t, notes.Upsert(ctx, domain.SourceNote{UID: "u1", Name: "N", Path: "N.md"}, t0))
	c := newCard("c1")
	c.SourceUID = domain.StringPtr("u1")
	require.NoError(t, cards.Set(ctx, c, t0))
	_, err := projects.SyncNoteProjects(ctx, "u1", []string{"Biology"}, t0)
	require.NoError(t, err)

	p, err := projects.GetByName(ctx, "Biology")
	require.NoError(t, err)
	deleted, err := projects.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	names, err := projects.GetNoteProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, names)

	note, err := notes.Get(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, note, "notes survive project deletion")
	ok, err := cards.Has(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok, "cards survive project deletion")
}

func TestProjectGetOrCreateAndRename(t *testing.T) {
	ctx := context.Background()
	projects := newProjectsRepository(newTestEngine(t), nil)

	a, err := projects.GetOrCreate(ctx, "Physics", t0)
	require.NoError(t, err)
	b, err := projects.GetOrCreate(ctx, "  Physics", t0)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = projects.GetOrCreate(ctx, "   ", t0)
	assert.Error(t, err)

	require.NoError(t, projects.Rename(ctx, a.ID, "Mechanics"))
	got, err := projects.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mechanics", got.Name)

	_, err = projects.GetOrCreate(ctx, "Optics", t0)
	require.NoError(t, err)
	assert.Error(t, projects.Rename(ctx, a.ID, "Optics"), "names are unique")
	assert.ErrorIs(t, projects.Rename(ctx, 999, "X"), ErrProjectNotFound)
}

func TestSourceNoteDeleteCascade(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	cards := newCardRepository(eng, nil)
	notes := newSourceNoteRepository(eng, cards, nil)
	projects := newProjectsRepository(eng, nil)

	for _, uid := range []string{"keep", "drop"} {
		require.NoError(t, notes.Upsert(ctx, domain.SourceNote{UID: uid, Name: uid, Path: uid + ".md"}, t0))
		c := newCard("card-" + uid)
		c.SourceUID = domain.StringPtr(uid)
		require.NoError(t, cards.Set(ctx, c, t0))
		_, err := projects.SyncNoteProjects(ctx, uid, []string{"P"}, t0)
		require.NoError(t, err)
	}

	ok, err := notes.Delete(ctx, "keep", OrphanCards, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	c, err := cards.Get(ctx, "card-keep")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Nil(t, c.SourceUID)

	ok, err = notes.Delete(ctx, "drop", DeleteCards, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	has, err := cards.Has(ctx, "card-drop")
	require.NoError(t, err)
	assert.False(t, has)

	p, err := projects.GetByName(ctx, "P")
	require.NoError(t, err)
	assert.Zero(t, p.NoteCount)
}

func TestSourceNoteUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	notes := newSourceNoteRepository(eng, newCardRepository(eng, nil), nil)

	require.NoError(t, notes.Upsert(ctx, domain.SourceNote{UID: "u1", Name: "A", Path: "A.md"}, t0))
	later := t0.AddDate(0, 0, 1)
	require.NoError(t, notes.Upsert(ctx, domain.SourceNote{UID: "u1", Name: "B", Path: "dir/B.md", CreatedAt: later}, later))

	n, err := notes.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "B", n.Name)
	assert.True(t, t0.Equal(n.CreatedAt))
	assert.True(t, later.Equal(n.UpdatedAt))

	byPath, err := notes.GetByPath(ctx, "dir/B.md")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "u1", byPath.UID)

	assert.ErrorIs(t, notes.UpdatePath(ctx, "nope", "x", "x.md", t0), ErrSourceNoteNotFound)
}
