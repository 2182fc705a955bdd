package knol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/conorfennell/knolvault/internal/domain"
	"github.com/conorfennell/knolvault/internal/parser"
)

// ErrNoSourceUID is returned for documents that do not declare a source uid.
var ErrNoSourceUID = errors.New("document declares no source uid")

// Documents reads document bodies. vault.Vault implements it.
type Documents interface {
	Read(path string) ([]byte, error)
}

// Index resolves the source uid of documents.
type Index interface {
	GetValues(field, path string) []string
	GetAllValues(field string) []string
	GetFileByValue(field, value string) (string, bool)
}

// Store is where generated cards are written.
type Store interface {
	HasCard(ctx context.Context, id string) (bool, error)
	SetCard(ctx context.Context, card domain.Card) error
	CardsBySource(ctx context.Context, sourceUID string) ([]domain.Card, error)
}

// Result is the outcome of importing one document.
type Result struct {
	Path      string
	SourceUID string
	Blocks    int
	Created   int
	Unchanged int
	// Stale lists generated cards of the source whose block is gone. They
	// are left in place, still scheduled, for the caller to decide on.
	Stale []string
}

// Importer creates new-state cards for the question blocks of documents.
type Importer struct {
	docs     Documents
	index    Index
	store    Store
	uidField string
	now      func() time.Time
	log      *slog.Logger
}

func NewImporter(docs Documents, index Index, store Store, uidField string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{docs: docs, index: index, store: store, uidField: uidField, now: time.Now, log: logger}
}

// ImportDocument parses the document at path and adds a card for every
// block not seen before.
func (im *Importer) ImportDocument(ctx context.Context, path string) (Result, error) {
	res := Result{Path: path}
	uids := im.index.GetValues(im.uidField, path)
	if len(uids) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoSourceUID, path)
	}
	res.SourceUID = uids[0]

	data, err := im.docs.Read(path)
	if err != nil {
		return res, err
	}
	blocks, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return res, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	res.Blocks = len(blocks)

	seen := make(map[string]struct{}, len(blocks))
	now := im.now()
	for _, b := range blocks {
		id := CardID(res.SourceUID, b)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		exists, err := im.store.HasCard(ctx, id)
		if err != nil {
			return res, err
		}
		if exists {
			res.Unchanged++
			continue
		}
		if err := im.store.SetCard(ctx, newCard(id, res.SourceUID, b, now)); err != nil {
			return res, fmt.Errorf("failed to create card for line %d of %s: %w", b.Line, path, err)
		}
		res.Created++
	}

	existing, err := im.store.CardsBySource(ctx, res.SourceUID)
	if err != nil {
		return res, err
	}
	for _, c := range existing {
		if _, ok := seen[c.ID]; !ok && strings.HasPrefix(c.ID, "k-") {
			res.Stale = append(res.Stale, c.ID)
		}
	}
	sort.Strings(res.Stale)

	im.log.Debug("Imported document", "path", path, "blocks", res.Blocks, "created", res.Created, "stale", len(res.Stale))
	return res, nil
}

// ImportAll imports every document declaring a source uid. A failing
// document is logged and skipped.
func (im *Importer) ImportAll(ctx context.Context) ([]Result, error) {
	var results []Result
	var created, failed int
	uids := im.index.GetAllValues(im.uidField)
	sort.Strings(uids)
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		path, ok := im.index.GetFileByValue(im.uidField, uid)
		if !ok {
			continue
		}
		res, err := im.ImportDocument(ctx, path)
		if err != nil {
			im.log.Error("Failed to import document", "path", path, "error", err)
			failed++
			continue
		}
		created += res.Created
		results = append(results, res)
	}
	im.log.Info("Import complete", "documents", len(results), "created", created, "errors", failed)
	return results, nil
}

func newCard(id, sourceUID string, b parser.Block, now time.Time) domain.Card {
	card := domain.Card{
		ID:        id,
		Due:       now,
		State:     domain.New,
		Question:  domain.StringPtr(b.Question),
		SourceUID: domain.StringPtr(sourceUID),
		CreatedAt: now,
	}
	if b.Answer != "" {
		card.Answer = domain.StringPtr(b.Answer)
	}
	if b.Context != "" {
		card.Tags = []string{b.Context}
	}
	return card
}
