// Package fieldindex maintains an inverted index from declared frontmatter
// fields to the documents that declare them.
//
// Fields must be registered before use. Queries on unregistered fields return
// empty results. Unique fields map a value to a single document: when a
// second document claims the same value it takes the mapping over (last
// writer wins) and the previous owner loses the value.
package fieldindex

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/conorfennell/knolvault/internal/vault"
)

// FieldType is the expected shape of a field value.
type FieldType int

const (
	String FieldType = iota
	Array
)

type set map[string]struct{}

type entry struct {
	typ    FieldType
	unique bool

	forward map[string]set // path -> values
	byValue map[string]set // value -> paths; at most one path for unique fields
}

func newEntry(typ FieldType, unique bool) *entry {
	return &entry{
		typ:     typ,
		unique:  unique,
		forward: make(map[string]set),
		byValue: make(map[string]set),
	}
}

func (e *entry) reset() {
	e.forward = make(map[string]set)
	e.byValue = make(map[string]set)
}

// Index is safe for concurrent use.
type Index struct {
	corpus vault.Corpus
	log    *slog.Logger

	mu     sync.RWMutex
	fields map[string]*entry
}

// New returns an empty Index reading documents from corpus.
func New(corpus vault.Corpus, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{corpus: corpus, log: logger, fields: make(map[string]*entry)}
}

// Register declares a tracked field. Registering the same field twice keeps
// the first declaration.
func (ix *Index) Register(field string, typ FieldType, unique bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.fields[field]; ok {
		ix.log.Warn("Field already registered, ignoring", "field", field)
		return
	}
	ix.fields[field] = newEntry(typ, unique)
}

// Rebuild clears every field and re-indexes the whole corpus. Documents whose
// metadata cannot be read are indexed as empty.
func (ix *Index) Rebuild() error {
	docs, err := ix.corpus.ListDocuments()
	if err != nil {
		return err
	}

	metas := make(map[string]map[string]any, len(docs))
	for _, p := range docs {
		meta, err := ix.corpus.Metadata(p)
		if err != nil {
			ix.log.Warn("Failed to read metadata", "path", p, "error", err)
			continue
		}
		metas[p] = meta
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range ix.fields {
		e.reset()
	}
	for p, meta := range metas {
		ix.indexLocked(p, meta)
	}
	ix.log.Info("Field index rebuilt", "documents", len(docs), "fields", len(ix.fields))
	return nil
}

// IndexFile recomputes the values of one document from meta and applies the
// difference. Other documents are untouched.
func (ix *Index) IndexFile(path string, meta map[string]any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indexLocked(path, meta)
}

func (ix *Index) indexLocked(path string, meta map[string]any) {
	for field, e := range ix.fields {
		want := extract(meta, field, e.typ)
		have := e.forward[path]

		for v := range have {
			if _, keep := want[v]; !keep {
				e.unlink(path, v)
			}
		}
		for v := range want {
			if _, ok := have[v]; ok {
				continue
			}
			if e.unique {
				for owner := range e.byValue[v] {
					if owner != path {
						ix.log.Warn("Unique value claimed by another document, last one wins",
							"field", field, "value", v, "previous", owner, "path", path)
						e.unlink(owner, v)
					}
				}
			}
			e.link(path, v)
		}
	}
}

func (e *entry) link(path, v string) {
	if e.forward[path] == nil {
		e.forward[path] = make(set)
	}
	e.forward[path][v] = struct{}{}
	if e.byValue[v] == nil {
		e.byValue[v] = make(set)
	}
	e.byValue[v][path] = struct{}{}
}

func (e *entry) unlink(path, v string) {
	if vals, ok := e.forward[path]; ok {
		delete(vals, v)
		if len(vals) == 0 {
			delete(e.forward, path)
		}
	}
	if paths, ok := e.byValue[v]; ok {
		delete(paths, path)
		if len(paths) == 0 {
			delete(e.byValue, v)
		}
	}
}

// RemoveFile drops every value of path.
func (ix *Index) RemoveFile(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range ix.fields {
		for v := range e.forward[path] {
			e.unlink(path, v)
		}
	}
}

// RenameFile moves the entries of oldPath to newPath. Whatever newPath held
// before is dropped.
func (ix *Index) RenameFile(oldPath, newPath string) {
	if oldPath == newPath {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range ix.fields {
		for v := range e.forward[newPath] {
			e.unlink(newPath, v)
		}
		for v := range e.forward[oldPath] {
			e.unlink(oldPath, v)
			e.link(newPath, v)
		}
	}
}

// HandleEvent applies a document change notification. A rename drops the old
// path and re-reads the destination.
func (ix *Index) HandleEvent(ev vault.Event) {
	switch ev.Kind {
	case vault.Created, vault.Changed:
		ix.reindex(ev.Path)
	case vault.Deleted:
		ix.RemoveFile(ev.Path)
	case vault.Renamed:
		if ev.OldPath != ev.Path {
			ix.RemoveFile(ev.OldPath)
		}
		ix.reindex(ev.Path)
	}
}

func (ix *Index) reindex(path string) {
	meta, err := ix.corpus.Metadata(path)
	if err != nil {
		ix.log.Warn("Failed to read metadata, dropping document from index", "path", path, "error", err)
		ix.RemoveFile(path)
		return
	}
	ix.IndexFile(path, meta)
	ix.log.Debug("Indexed document", "path", path)
}

// GetFileByValue returns the document declaring value for field. For
// non-unique fields with several documents, any one of them is returned.
func (ix *Index) GetFileByValue(field, value string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.fields[field]
	if !ok {
		return "", false
	}
	for p := range e.byValue[value] {
		return p, true
	}
	return "", false
}

// GetFilesByValue returns every document declaring value for field.
func (ix *Index) GetFilesByValue(field, value string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.fields[field]
	if !ok {
		return nil
	}
	return keys(e.byValue[value])
}

// GetAllValues returns the distinct values of field.
func (ix *Index) GetAllValues(field string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.fields[field]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.byValue))
	for v := range e.byValue {
		out = append(out, v)
	}
	return out
}

// GetValues returns the values of field declared by path.
func (ix *Index) GetValues(field, path string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.fields[field]
	if !ok {
		return nil
	}
	return keys(e.forward[path])
}

func keys(s set) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// lookup walks a dot path into nested maps.
func lookup(meta map[string]any, field string) (any, bool) {
	var cur any = meta
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func extract(meta map[string]any, field string, typ FieldType) set {
	out := make(set)
	raw, ok := lookup(meta, field)
	if !ok || raw == nil {
		return out
	}
	switch typ {
	case String:
		if s, ok := raw.(string); ok && s != "" {
			out[s] = struct{}{}
		}
	case Array:
		switch vals := raw.(type) {
		case []any:
			for _, v := range vals {
				if s, ok := v.(string); ok && s != "" {
					out[s] = struct{}{}
				}
			}
		case []string:
			for _, s := range vals {
				if s != "" {
					out[s] = struct{}{}
				}
			}
		}
	}
	return out
}
