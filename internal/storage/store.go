package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/conorfennell/knolvault/internal/dayboundary"
)

// DefaultDebounce is the quiet period after the last write before a flush.
const DefaultDebounce = 500 * time.Millisecond

// BlobStore persists the snapshot. Paths are slash separated and relative to
// the store's root. vault.Vault implements it.
type BlobStore interface {
	Exists(path string) (bool, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	MkdirAll(dir string) error
}

// SourceResolver reports the document currently declaring a source uid.
type SourceResolver interface {
	ResolveSource(uid string) (string, bool)
}

// SourceResolverFunc adapts a function to SourceResolver.
type SourceResolverFunc func(uid string) (string, bool)

func (f SourceResolverFunc) ResolveSource(uid string) (string, bool) { return f(uid) }

// Options configures a Store.
type Options struct {
	Folder       string        // snapshot folder inside the blob store
	File         string        // snapshot file name
	Debounce     time.Duration // zero means DefaultDebounce
	DayStartHour int
	Clock        func() time.Time
	Logger       *slog.Logger
	Resolver     SourceResolver
}

// repoSet is everything bound to one open engine.
type repoSet struct {
	eng      *Engine
	cards    *CardRepository
	notes    *SourceNoteRepository
	projects *ProjectsRepository
	daily    *DailyStatsRepository
	agg      *AggregationEngine
}

// Store is the single entry point to persisted state. Every write marks the
// store dirty and (re)starts the debounce timer; when it fires the whole
// database is written as one snapshot.
type Store struct {
	blob     BlobStore
	file     string
	folder   string
	debounce time.Duration
	calc     dayboundary.Calculator
	now      func() time.Time
	log      *slog.Logger
	resolver SourceResolver

	mu        sync.Mutex
	set       *repoSet
	dirty     bool
	timer     *time.Timer
	closed    bool
	listeners []func(MergeResult)

	// flushMu serializes snapshot writes and engine release.
	flushMu sync.Mutex
}

// New returns a Store persisting into blob. Call Open before use.
func New(blob BlobStore, opts Options) *Store {
	if opts.Folder == "" {
		opts.Folder = ".knolvault"
	}
	if opts.File == "" {
		opts.File = "cards.db"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		blob:     blob,
		folder:   opts.Folder,
		file:     path.Join(opts.Folder, opts.File),
		debounce: opts.Debounce,
		calc:     dayboundary.New(opts.DayStartHour),
		now:      opts.Clock,
		log:      opts.Logger,
		resolver: opts.Resolver,
	}
}

// Open loads the snapshot if one exists. An unreadable snapshot is logged,
// kept aside as a .bak file, and replaced by an empty store.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.set != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	eng, err := s.loadEngine(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = s.newRepoSet(eng)
	return nil
}

func (s *Store) loadEngine(ctx context.Context) (*Engine, error) {
	eng, err := NewEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	data, ok, err := s.readSnapshot()
	if err != nil {
		s.log.Error("Failed to read snapshot, starting empty", "file", s.file, "error", err)
		return eng, nil
	}
	if !ok {
		s.log.Info("No snapshot found, starting empty", "file", s.file)
		return eng, nil
	}

	if err := eng.Load(ctx, data); err != nil {
		s.log.Error("Failed to load snapshot, starting empty", "file", s.file, "error", err)
		if werr := s.blob.Write(s.file+".bak", data); werr != nil {
			s.log.Error("Failed to keep unreadable snapshot", "file", s.file+".bak", "error", werr)
		}
		eng.Close()
		return NewEngine(ctx)
	}
	s.log.Info("Snapshot loaded", "file", s.file, "bytes", len(data))
	return eng, nil
}

func (s *Store) readSnapshot() ([]byte, bool, error) {
	ok, err := s.blob.Exists(s.file)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err := s.blob.Read(s.file)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) newRepoSet(eng *Engine) *repoSet {
	cards := newCardRepository(eng, s.markDirty)
	return &repoSet{
		eng:      eng,
		cards:    cards,
		notes:    newSourceNoteRepository(eng, cards, s.markDirty),
		projects: newProjectsRepository(eng, s.markDirty),
		daily:    newDailyStatsRepository(eng, s.markDirty),
		agg:      newAggregationEngine(eng, s.calc),
	}
}

// repos returns the open repositories.
func (s *Store) repos() (*repoSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.set == nil {
		return nil, ErrNotInitialized
	}
	return s.set, nil
}

// Calculator returns the day boundary rules the store counts days with.
func (s *Store) Calculator() dayboundary.Calculator {
	return s.calc
}

// Dirty reports whether writes are waiting for a flush.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) markDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dirty = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.flush(context.Background()); err != nil {
			s.log.Error("Background flush failed", "error", err)
		}
	})
}

func (s *Store) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked writes a snapshot if the store is dirty. flushMu must be held.
// A failed flush leaves the store dirty.
func (s *Store) flushLocked(ctx context.Context) error {
	s.mu.Lock()
	set := s.set
	if set == nil || !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	err := s.writeSnapshot(ctx, set.eng)
	if err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) writeSnapshot(ctx context.Context, eng *Engine) error {
	data, err := eng.Snapshot(ctx)
	if err != nil {
		return err
	}
	err = retry.Do(
		func() error {
			if err := s.blob.MkdirAll(s.folder); err != nil {
				return err
			}
			return s.blob.Write(s.file, data)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", s.file, err)
	}
	s.log.Debug("Snapshot written", "file", s.file, "bytes", len(data))
	return nil
}

// SaveNow cancels the pending flush and writes the snapshot synchronously.
func (s *Store) SaveNow(ctx context.Context) error {
	if _, err := s.repos(); err != nil {
		return err
	}
	s.stopTimer()
	return s.flush(ctx)
}

// Close flushes pending writes and releases the database. The store cannot be
// reopened.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	flushErr := s.flushLocked(ctx)

	s.mu.Lock()
	set := s.set
	s.set = nil
	s.mu.Unlock()

	if set == nil {
		return flushErr
	}
	if err := set.eng.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to close database: %w", err))
	}
	return flushErr
}

// SetSourceResolver replaces the resolver used by GetOrphanedCards.
func (s *Store) SetSourceResolver(r SourceResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = r
}

func (s *Store) sourceResolver() SourceResolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}
