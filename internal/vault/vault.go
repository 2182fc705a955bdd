// Package vault adapts a directory of markdown documents to the contracts the
// card store and field index consume: document enumeration, frontmatter
// metadata, durable blob storage and change notifications.
package vault

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Corpus enumerates documents and reads their metadata.
type Corpus interface {
	ListDocuments() ([]string, error)
	Metadata(path string) (map[string]any, error)
}

// Vault is a document corpus and blob store rooted at a directory of fs.
// All paths it accepts and returns are slash separated and relative to the root.
type Vault struct {
	fs   afero.Fs
	root string
}

// New returns a Vault over fs rooted at root.
func New(fs afero.Fs, root string) *Vault {
	return &Vault{fs: fs, root: root}
}

// NewOS returns a Vault over the operating system file system.
func NewOS(root string) *Vault {
	return New(afero.NewOsFs(), root)
}

// Root returns the vault root directory.
func (v *Vault) Root() string {
	return v.root
}

func (v *Vault) abs(rel string) string {
	return filepath.Join(v.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under the root into a vault path.
func (v *Vault) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// IsDocument reports whether a vault path names a markdown document outside hidden folders.
func IsDocument(p string) bool {
	if !strings.HasSuffix(strings.ToLower(p), ".md") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}

// ListDocuments returns every markdown document in the vault.
func (v *Vault) ListDocuments() ([]string, error) {
	var docs []string
	err := afero.Walk(v.fs, v.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, ok := v.Rel(p)
		if !ok {
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsDocument(rel) {
			docs = append(docs, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk vault %s: %w", v.root, err)
	}
	return docs, nil
}

// Metadata returns the frontmatter of the document at p.
func (v *Vault) Metadata(p string) (map[string]any, error) {
	f, err := v.fs.Open(v.abs(p))
	if err != nil {
		return nil, fmt.Errorf("failed to open document %s: %w", p, err)
	}
	defer f.Close()

	meta, err := ParseFrontmatter(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read frontmatter of %s: %w", p, err)
	}
	return meta, nil
}

// DisplayName returns the document name without folder and extension.
func DisplayName(p string) string {
	return strings.TrimSuffix(path.Base(p), path.Ext(p))
}

// Exists reports whether a blob exists at p.
func (v *Vault) Exists(p string) (bool, error) {
	ok, err := afero.Exists(v.fs, v.abs(p))
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return ok, nil
}

// Read returns the blob stored at p.
func (v *Vault) Read(p string) ([]byte, error) {
	data, err := afero.ReadFile(v.fs, v.abs(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// MkdirAll creates the folder dir and its parents.
func (v *Vault) MkdirAll(dir string) error {
	if err := v.fs.MkdirAll(v.abs(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	return nil
}

// Write replaces the blob at p. The data is written to a sibling temp file and
// renamed over the target so readers never see a partial file.
func (v *Vault) Write(p string, data []byte) error {
	target := v.abs(p)
	tmp := target + ".tmp"
	if err := afero.WriteFile(v.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := v.fs.Rename(tmp, target); err != nil {
		_ = v.fs.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", p, err)
	}
	return nil
}

// NewID returns a new globally unique id.
func NewID() string {
	return uuid.NewString()
}
