package knol

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolvault/internal/domain"
	"github.com/conorfennell/knolvault/internal/fieldindex"
	"github.com/conorfennell/knolvault/internal/parser"
	"github.com/conorfennell/knolvault/internal/storage"
	"github.com/conorfennell/knolvault/internal/vault"
)

const geography = `---
flashcard-uid: geo
---
Q: Capital of France?
A: Paris
C: Europe

Q: Capital of Japan?
A: Tokyo
`

func newImporter(t *testing.T, files map[string]string) (*Importer, *storage.Store, afero.Fs, *fieldindex.Index) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, "/vault/"+p, []byte(content), 0o644))
	}
	v := vault.New(fs, "/vault")
	ix := fieldindex.New(v, nil)
	ix.Register("flashcard-uid", fieldindex.String, true)
	require.NoError(t, ix.Rebuild())

	st := storage.New(v, storage.Options{Debounce: time.Hour})
	require.NoError(t, st.Open(context.Background()))
	t.Cleanup(func() { st.Close(context.Background()) })

	return NewImporter(v, ix, st, "flashcard-uid", nil), st, fs, ix
}

func TestImportDocument(t *testing.T) {
	ctx := context.Background()
	im, st, fs, ix := newImporter(t, map[string]string{"geo.md": geography})

	res, err := im.ImportDocument(ctx, "geo.md")
	require.NoError(t, err)
	assert.Equal(t, "geo", res.SourceUID)
	assert.Equal(t, 2, res.Blocks)
	assert.Equal(t, 2, res.Created)
	assert.Empty(t, res.Stale)

	card, err := st.GetCard(ctx, CardID("geo", parser.Block{Question: "Capital of France?", Answer: "Paris", Context: "Europe"}))
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, domain.New, card.State)
	assert.Equal(t, "Paris", *card.Answer)
	assert.Equal(t, []string{"Europe"}, card.Tags)
	assert.Equal(t, "geo", *card.SourceUID)

	// Importing again creates nothing.
	res, err = im.ImportDocument(ctx, "geo.md")
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Unchanged)

	// Editing a block makes a new card and leaves the old one stale.
	require.NoError(t, afero.WriteFile(fs, "/vault/geo.md",
		[]byte("---\nflashcard-uid: geo\n---\nQ: Capital of France?\nA: Paris\nC: Europe\n\nQ: Capital of Japan?\nA: Tokyo, since 1868\n"), 0o644))
	require.NoError(t, ix.Rebuild())

	res, err = im.ImportDocument(ctx, "geo.md")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, []string{CardID("geo", parser.Block{Question: "Capital of Japan?", Answer: "Tokyo"})}, res.Stale)

	n, err := st.CardCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImportDocumentWithoutUID(t *testing.T) {
	im, _, _, _ := newImporter(t, map[string]string{"plain.md": "Q: a\nA: b\n"})
	_, err := im.ImportDocument(context.Background(), "plain.md")
	assert.ErrorIs(t, err, ErrNoSourceUID)
}

func TestImportAll(t *testing.T) {
	im, st, _, _ := newImporter(t, map[string]string{
		"geo.md":   geography,
		"math.md":  "---\nflashcard-uid: math\n---\nQ: 2+2?\nA: 4\n",
		"plain.md": "Q: skipped\nA: no uid\n",
	})

	results, err := im.ImportAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "geo.md", results[0].Path)
	assert.Equal(t, "math.md", results[1].Path)

	n, err := st.CardCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
