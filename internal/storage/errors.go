package storage

import "errors"

var (
	// ErrNotInitialized is returned by every operation invoked before Open.
	ErrNotInitialized = errors.New("store is not initialized")
	// ErrClosed is returned by every operation invoked after Close.
	ErrClosed = errors.New("store is closed")
	// ErrCardNotFound is returned by operations that require an existing card.
	ErrCardNotFound = errors.New("card not found")
	// ErrSourceNoteNotFound is returned by operations that require an existing source note.
	ErrSourceNoteNotFound = errors.New("source note not found")
	// ErrProjectNotFound is returned by operations that require an existing project.
	ErrProjectNotFound = errors.New("project not found")
	// ErrInvalidRating is returned when a review carries an unknown rating.
	ErrInvalidRating = errors.New("invalid rating")
	// ErrSnapshotTooNew is returned when a snapshot was written by a newer schema.
	ErrSnapshotTooNew = errors.New("snapshot schema is newer than supported")
)
