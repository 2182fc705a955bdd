package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolvault/internal/domain"
)

// ProjectsRepository groups source notes into named projects.
type ProjectsRepository struct {
	eng     *Engine
	onWrite func()
}

func newProjectsRepository(eng *Engine, onWrite func()) *ProjectsRepository {
	if onWrite == nil {
		onWrite = func() {}
	}
	return &ProjectsRepository{eng: eng, onWrite: onWrite}
}

type projectRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
	NoteCount int    `db:"note_count"`
}

func (r projectRow) toProject() domain.Project {
	return domain.Project{ID: r.ID, Name: r.Name, CreatedAt: fromMillis(r.CreatedAt), NoteCount: r.NoteCount}
}

const projectQuery = `
SELECT p.id, p.name, p.created_at, COUNT(np.source_uid) AS note_count
FROM projects p
LEFT JOIN note_projects np ON np.project_id = p.id`

func (r *ProjectsRepository) getWhere(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (*domain.Project, error) {
	var row projectRow
	err := sqlx.GetContext(ctx, q, &row, projectQuery+" WHERE "+where+" GROUP BY p.id", arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p := row.toProject()
	return &p, nil
}

// Get returns the project with id, or nil.
func (r *ProjectsRepository) Get(ctx context.Context, id int64) (*domain.Project, error) {
	return r.getWhere(ctx, r.eng.db, "p.id = ?", id)
}

// GetByName returns the project called name, or nil.
func (r *ProjectsRepository) GetByName(ctx context.Context, name string) (*domain.Project, error) {
	return r.getWhere(ctx, r.eng.db, "p.name = ?", strings.TrimSpace(name))
}

// GetAll returns every project with its note count, ordered by name.
func (r *ProjectsRepository) GetAll(ctx context.Context) ([]domain.Project, error) {
	var rows []projectRow
	if err := sqlx.SelectContext(ctx, r.eng.db, &rows, projectQuery+" GROUP BY p.id ORDER BY p.name"); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	out := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toProject())
	}
	return out, nil
}

func (r *ProjectsRepository) getOrCreate(ctx context.Context, e sqlx.ExtContext, name string, now time.Time) (*domain.Project, bool, error) {
	res, err := e.ExecContext(ctx, "INSERT INTO projects (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		name, toMillis(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	p, err := r.getWhere(ctx, e, "p.name = ?", name)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return p, n > 0, nil
}

// GetOrCreate returns the project called name, creating it if needed.
func (r *ProjectsRepository) GetOrCreate(ctx context.Context, name string, now time.Time) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project name is required")
	}
	p, created, err := r.getOrCreate(ctx, r.eng.db, name, now)
	if err != nil {
		return nil, err
	}
	if created {
		r.onWrite()
	}
	return p, nil
}

// Rename changes the name of a project. Names stay unique.
func (r *ProjectsRepository) Rename(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("project name is required")
	}
	res, err := r.eng.db.ExecContext(ctx, "UPDATE projects SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return fmt.Errorf("failed to rename project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	r.onWrite()
	return nil
}

// Delete removes a project and its memberships. Notes and cards are untouched.
func (r *ProjectsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.eng.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		r.onWrite()
	}
	return n > 0, nil
}

// ProjectSync is the outcome of SyncNoteProjects.
type ProjectSync struct {
	Added   []string
	Removed []string
}

// Changed reports whether any membership was touched.
func (s ProjectSync) Changed() bool {
	return len(s.Added) > 0 || len(s.Removed) > 0
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SyncNoteProjects makes names the exact set of projects sourceUID belongs
// to. Missing projects are created. Projects left without notes are kept
// until DeleteEmptyProjects runs.
func (r *ProjectsRepository) SyncNoteProjects(ctx context.Context, sourceUID string, names []string, now time.Time) (ProjectSync, error) {
	desired := normalizeNames(names)
	var result ProjectSync

	err := r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var current []projectRow
		if err := sqlx.SelectContext(ctx, tx, &current, `
SELECT p.id, p.name, p.created_at FROM note_projects np
JOIN projects p ON p.id = np.project_id
WHERE np.source_uid = ?`, sourceUID); err != nil {
			return fmt.Errorf("failed to read memberships: %w", err)
		}

		want := make(map[string]struct{}, len(desired))
		for _, n := range desired {
			want[n] = struct{}{}
		}
		have := make(map[string]struct{}, len(current))
		for _, p := range current {
			have[p.Name] = struct{}{}
			if _, ok := want[p.Name]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM note_projects WHERE source_uid = ? AND project_id = ?",
				sourceUID, p.ID); err != nil {
				return fmt.Errorf("failed to remove membership: %w", err)
			}
			result.Removed = append(result.Removed, p.Name)
		}

		for _, n := range desired {
			if _, ok := have[n]; ok {
				continue
			}
			p, _, err := r.getOrCreate(ctx, tx, n, now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO note_projects (source_uid, project_id) VALUES (?, ?)",
				sourceUID, p.ID); err != nil {
				return fmt.Errorf("failed to add membership: %w", err)
			}
			result.Added = append(result.Added, n)
		}
		return nil
	})
	if err != nil {
		return ProjectSync{}, err
	}
	sort.Strings(result.Removed)
	if result.Changed() {
		r.onWrite()
	}
	return result, nil
}

// GetNoteProjects returns the project names of sourceUID, sorted.
func (r *ProjectsRepository) GetNoteProjects(ctx context.Context, sourceUID string) ([]string, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, r.eng.db, &names, `
SELECT p.name FROM note_projects np JOIN projects p ON p.id = np.project_id
WHERE np.source_uid = ? ORDER BY p.name`, sourceUID); err != nil {
		return nil, fmt.Errorf("failed to read note projects: %w", err)
	}
	return names, nil
}

// GetProjectNotes returns the uids of the notes in a project, sorted.
func (r *ProjectsRepository) GetProjectNotes(ctx context.Context, id int64) ([]string, error) {
	var uids []string
	if err := sqlx.SelectContext(ctx, r.eng.db, &uids,
		"SELECT source_uid FROM note_projects WHERE project_id = ? ORDER BY source_uid", id); err != nil {
		return nil, fmt.Errorf("failed to read project notes: %w", err)
	}
	return uids, nil
}

// DeleteEmptyProjects removes every project without members and returns how
// many were removed. It is a maintenance operation: membership changes never
// delete projects on their own.
func (r *ProjectsRepository) DeleteEmptyProjects(ctx context.Context) (int64, error) {
	res, err := r.eng.db.ExecContext(ctx,
		"DELETE FROM projects WHERE id NOT IN (SELECT DISTINCT project_id FROM note_projects)")
	if err != nil {
		return 0, fmt.Errorf("failed to delete empty projects: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.onWrite()
	}
	return n, nil
}
