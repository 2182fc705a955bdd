package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// MergeResult counts what MergeFromDisk took from the snapshot.
type MergeResult struct {
	Merged    int // cards only the snapshot had
	Conflicts int // cards replaced because the snapshot was reviewed later
	Notes     int // source notes only the snapshot had
}

// OnMergeResult registers fn to receive the result of every MergeFromDisk.
func (s *Store) OnMergeResult(fn func(MergeResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emitMerge(res MergeResult) {
	s.mu.Lock()
	listeners := append(([]func(MergeResult))(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}
}

// diskWins reports whether the snapshot row was reviewed after the memory row.
func diskWins(disk, mem cardRow) bool {
	if !disk.LastReview.Valid {
		return false
	}
	return !mem.LastReview.Valid || disk.LastReview.Int64 > mem.LastReview.Int64
}

// MergeFromDisk folds a snapshot that changed underneath this process into
// memory. Cards only on disk are adopted. Cards on both sides take the row
// with the later last review; ties and rows never reviewed on disk keep
// memory. Cards deleted in memory stay deleted. Edits that did not involve a
// review can be lost to a later review on the other side.
func (s *Store) MergeFromDisk(ctx context.Context) (MergeResult, error) {
	var res MergeResult
	r, err := s.repos()
	if err != nil {
		return res, err
	}

	data, ok, err := s.readSnapshot()
	if err != nil {
		return res, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !ok {
		s.log.Info("No snapshot to merge", "file", s.file)
		return res, nil
	}

	scratch, err := NewEngine(ctx)
	if err != nil {
		return res, err
	}
	defer scratch.Close()
	if err := scratch.Load(ctx, data); err != nil {
		return res, fmt.Errorf("failed to load snapshot for merge: %w", err)
	}

	diskCards, err := selectCardRows(ctx, scratch.db, live(""))
	if err != nil {
		return res, err
	}
	diskNotes, err := r.notes.getAll(ctx, scratch.db)
	if err != nil {
		return res, err
	}

	err = r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		res = MergeResult{}
		for _, note := range diskNotes {
			added, err := insertNoteIfMissing(ctx, tx, note)
			if err != nil {
				return err
			}
			if added {
				res.Notes++
			}
		}
		for _, disk := range diskCards {
			mem, err := getRow(ctx, tx, disk.ID)
			if err != nil {
				return err
			}
			switch {
			case mem == nil:
				if err := insertRow(ctx, tx, disk); err != nil {
					return err
				}
				res.Merged++
			case mem.DeletedAt.Valid:
				// deleted here; the tombstone stays
			case diskWins(disk, *mem):
				if err := insertRow(ctx, tx, disk); err != nil {
					return err
				}
				res.Conflicts++
			}
		}
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}

	s.log.Info("Merged snapshot from disk", "merged", res.Merged, "conflicts", res.Conflicts, "notes", res.Notes)
	if res.Merged > 0 || res.Conflicts > 0 || res.Notes > 0 {
		s.markDirty()
	}
	s.emitMerge(res)
	return res, nil
}
