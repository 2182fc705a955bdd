// Package vaultsync keeps the source note registry in step with the documents
// of the vault: uids declared in frontmatter become source notes, moved
// documents update their note's path, and the projects field drives project
// membership.
package vaultsync

import (
	"context"
	"log/slog"

	"github.com/conorfennell/knolvault/internal/domain"
	"github.com/conorfennell/knolvault/internal/storage"
	"github.com/conorfennell/knolvault/internal/vault"
)

// Index is the part of the field index the reconciler reads.
type Index interface {
	GetFileByValue(field, value string) (string, bool)
	GetValues(field, path string) []string
	GetAllValues(field string) []string
}

// Store is the part of the card store the reconciler writes.
type Store interface {
	SourceNote(ctx context.Context, uid string) (*domain.SourceNote, error)
	SourceNoteByPath(ctx context.Context, path string) (*domain.SourceNote, error)
	SourceNotes(ctx context.Context) ([]domain.SourceNote, error)
	UpsertSourceNote(ctx context.Context, note domain.SourceNote) error
	UpdateSourceNotePath(ctx context.Context, uid, name, path string) error
	SyncNoteProjects(ctx context.Context, sourceUID string, names []string) (storage.ProjectSync, error)
}

// Report summarizes one reconciliation.
type Report struct {
	Registered     int
	Moved          int
	ProjectChanges int
	Unresolved     []string // uids of source notes no document declares
	Errors         int
}

// Reconciler applies the index to the store.
type Reconciler struct {
	index         Index
	store         Store
	uidField      string
	projectsField string
	log           *slog.Logger
}

// New returns a Reconciler reading uids from uidField and project names from
// projectsField. An empty projectsField disables project sync.
func New(index Index, store Store, uidField, projectsField string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{index: index, store: store, uidField: uidField, projectsField: projectsField, log: logger}
}

// RunSync reconciles every document declaring a uid.
func (r *Reconciler) RunSync(ctx context.Context) (Report, error) {
	r.log.Info("Starting vault reconciliation")
	var report Report

	declared := make(map[string]struct{})
	for _, uid := range r.index.GetAllValues(r.uidField) {
		p, ok := r.index.GetFileByValue(r.uidField, uid)
		if !ok {
			continue
		}
		declared[uid] = struct{}{}
		r.reconcile(ctx, uid, p, &report)
	}

	notes, err := r.store.SourceNotes(ctx)
	if err != nil {
		return report, err
	}
	for _, n := range notes {
		if _, ok := declared[n.UID]; !ok {
			r.log.Warn("Source note no longer declared by any document", "uid", n.UID, "path", n.Path)
			report.Unresolved = append(report.Unresolved, n.UID)
		}
	}

	r.log.Info("Reconciliation complete",
		"registered", report.Registered,
		"moved", report.Moved,
		"project_changes", report.ProjectChanges,
		"unresolved", len(report.Unresolved),
		"errors", report.Errors,
	)
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, uid, p string, report *Report) {
	name := vault.DisplayName(p)
	existing, err := r.store.SourceNote(ctx, uid)
	if err != nil {
		r.log.Error("Failed to look up source note", "uid", uid, "error", err)
		report.Errors++
		return
	}

	switch {
	case existing == nil:
		if err := r.store.UpsertSourceNote(ctx, domain.SourceNote{UID: uid, Name: name, Path: p}); err != nil {
			r.log.Error("Failed to register source note", "uid", uid, "path", p, "error", err)
			report.Errors++
			return
		}
		r.log.Info("Registered source note", "uid", uid, "path", p)
		report.Registered++
	case existing.Path != p || existing.Name != name:
		if err := r.store.UpdateSourceNotePath(ctx, uid, name, p); err != nil {
			r.log.Error("Failed to update source note path", "uid", uid, "path", p, "error", err)
			report.Errors++
			return
		}
		r.log.Info("Source note moved", "uid", uid, "from", existing.Path, "to", p)
		report.Moved++
	}

	if r.projectsField == "" {
		return
	}
	res, err := r.store.SyncNoteProjects(ctx, uid, r.index.GetValues(r.projectsField, p))
	if err != nil {
		r.log.Error("Failed to sync note projects", "uid", uid, "error", err)
		report.Errors++
		return
	}
	if res.Changed() {
		r.log.Debug("Note projects changed", "uid", uid, "added", res.Added, "removed", res.Removed)
		report.ProjectChanges += len(res.Added) + len(res.Removed)
	}
}

// HandleEvent reconciles the document named by ev. It reads the field index,
// so it must be subscribed after the index.
func (r *Reconciler) HandleEvent(ev vault.Event) {
	ctx := context.Background()
	var report Report

	switch ev.Kind {
	case vault.Created, vault.Changed, vault.Renamed:
		for _, uid := range r.index.GetValues(r.uidField, ev.Path) {
			r.reconcile(ctx, uid, ev.Path, &report)
		}
	case vault.Deleted:
		note, err := r.store.SourceNoteByPath(ctx, ev.Path)
		if err != nil {
			r.log.Error("Failed to look up source note", "path", ev.Path, "error", err)
			return
		}
		if note == nil {
			return
		}
		if _, ok := r.index.GetFileByValue(r.uidField, note.UID); !ok {
			r.log.Warn("Source document deleted, its cards are orphaned until it returns", "uid", note.UID, "path", ev.Path)
		}
	}
}
