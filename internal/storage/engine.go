// Package storage is the persistence substrate of knolvault: an in-memory
// SQLite database holding cards, source notes, projects and daily review
// statistics, snapshotted as a single binary blob under the vault.
//
// The repositories share one Engine. Store composes them, tracks pending
// writes and flushes snapshots after a debounce window.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver
)

// Engine owns the in-memory database.
type Engine struct {
	db *sqlx.DB
}

// NewEngine opens an empty in-memory database at the current schema version.
func NewEngine(ctx context.Context) (*Engine, error) {
	db, err := openMemory(ctx)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Engine{db: db}, nil
}

func openMemory(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database, so the pool is
	// pinned to one connection that never expires. This also serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// DB exposes the underlying handle for read-only diagnostics.
func (e *Engine) DB() *sqlx.DB {
	return e.db
}

// SchemaVersion reports the version recorded in the database.
func (e *Engine) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, e.db)
}

// Close releases the database. The in-memory contents are lost.
func (e *Engine) Close() error {
	return e.db.Close()
}

// RunInTx runs fn inside a transaction, committing when fn returns nil.
func (e *Engine) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return runInTx(ctx, e.db, fn)
}

func runInTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Snapshot serializes the whole database to the SQLite file format.
func (e *Engine) Snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "knolvault-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := e.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Load replaces the contents of the database with a snapshot produced by
// Snapshot. Snapshots from older schema versions are upgraded first. On error
// the current contents are left untouched.
func (e *Engine) Load(ctx context.Context, snapshot []byte) error {
	if len(snapshot) == 0 {
		return errors.New("snapshot is empty")
	}

	dir, err := os.MkdirTemp("", "knolvault-load-")
	if err != nil {
		return fmt.Errorf("failed to create load directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if err := os.WriteFile(path, snapshot, 0o600); err != nil {
		return fmt.Errorf("failed to stage snapshot: %w", err)
	}
	if err := upgradeFile(ctx, path); err != nil {
		return err
	}

	if _, err := e.db.ExecContext(ctx, "ATTACH DATABASE ? AS snap", path); err != nil {
		return fmt.Errorf("failed to attach snapshot: %w", err)
	}
	defer e.db.ExecContext(context.Background(), "DETACH DATABASE snap")

	return e.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, "DELETE FROM main."+tables[i]); err != nil {
				return fmt.Errorf("failed to clear %s: %w", tables[i], err)
			}
		}
		// Both sides ran the same migrations, so column order matches.
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "INSERT INTO main."+t+" SELECT * FROM snap."+t); err != nil {
				return fmt.Errorf("failed to load %s: %w", t, err)
			}
		}
		return nil
	})
}

// upgradeFile migrates a staged snapshot file in place.
func upgradeFile(ctx context.Context, path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to upgrade snapshot: %w", err)
	}
	return nil
}
