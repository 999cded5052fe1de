// Package index persists the set of installed addons and their metadata.
//
// The index is a single JSON document stored under the addon root. It owns
// the uniqueness invariants of the data model: addon names are unique within
// the index, and no folder is ever claimed by more than one addon.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// FileName is the index document stored under the addon root.
	FileName = "hoard.json"
	// BackupFileName receives a copy of the document before mutating commands.
	BackupFileName = "hoard.backup.json"

	// currentVersion is written into new documents. Readers ignore unknown
	// fields, so minor schema additions stay forward-readable.
	currentVersion = 1
)

var (
	// ErrCorrupt indicates the persisted index document cannot be parsed.
	ErrCorrupt = errors.New("index document is corrupt")
	// ErrFolderConflict indicates a folder is already owned by a different addon.
	ErrFolderConflict = errors.New("folder already owned by another addon")
)

// Record describes one installed addon. An addon occupies one or more folders
// under the addon root; a multi-addon repository yields a single record owning
// all of its folders.
type Record struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Branch      string    `json:"branch,omitempty"`
	Commit      string    `json:"commit"`
	ReleasedAt  time.Time `json:"released_at"`
	InstalledAt time.Time `json:"installed_at"`
	Folders     []string  `json:"folders"`
	Checksum    string    `json:"checksum"`
}

// Key returns the identity key for an addon name. Lookups are case-insensitive
// so that "Quiver" and "quiver" refer to the same addon.
func Key(name string) string {
	return strings.ToLower(name)
}

// Index is the persisted collection of addon records for one addon root.
type Index struct {
	Version int               `json:"version"`
	Addons  map[string]Record `json:"addons"`

	root string
}

// Load reads the index document under root. A missing document yields an
// empty index (first run); an unparseable one fails with ErrCorrupt.
func Load(root string) (*Index, error) {
	ix := &Index{
		Version: currentVersion,
		Addons:  make(map[string]Record),
		root:    root,
	}

	data, err := os.ReadFile(ix.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ix, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	if err := json.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, ix.Path(), err)
	}
	if ix.Addons == nil {
		ix.Addons = make(map[string]Record)
	}
	return ix, nil
}

// Root returns the addon root directory this index describes.
func (ix *Index) Root() string {
	return ix.root
}

// Path returns the location of the persisted document.
func (ix *Index) Path() string {
	return filepath.Join(ix.root, FileName)
}

// Save writes the full document. The write is atomic from the caller's
// perspective: content goes to a temporary file in the same directory which
// is then renamed over the live document, so a crash mid-write never leaves
// a document that fails to parse on the next load.
func (ix *Index) Save() error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(ix.root, ".hoard-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary index file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write index: %w", err)
	}

	if err := os.Rename(tmpName, ix.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

// Backup copies the current on-disk document to the backup location.
// A missing document is a no-op (nothing installed yet).
func (ix *Index) Backup() error {
	src, err := os.Open(ix.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read index for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(ix.root, BackupFileName))
	if err != nil {
		return fmt.Errorf("failed to create index backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write index backup: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the record for its identity. It fails with
// ErrFolderConflict if any of the record's folders is already owned by a
// different addon; re-upserting the same identity over its own folders is
// always allowed.
func (ix *Index) Upsert(rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("record has no name")
	}
	if len(rec.Folders) == 0 {
		return fmt.Errorf("record %q has no folders", rec.Name)
	}

	key := Key(rec.Name)
	for _, folder := range rec.Folders {
		if owner, ok := ix.FindByFolder(folder); ok && Key(owner.Name) != key {
			return fmt.Errorf("%w: %q belongs to %q", ErrFolderConflict, folder, owner.Name)
		}
	}

	ix.Addons[key] = rec
	return nil
}

// Remove deletes the record for name if present; otherwise it is a no-op.
func (ix *Index) Remove(name string) {
	delete(ix.Addons, Key(name))
}

// Get returns the record for name.
func (ix *Index) Get(name string) (Record, bool) {
	rec, ok := ix.Addons[Key(name)]
	return rec, ok
}

// FindByFolder returns the record owning the given folder name, if any.
// Folder ownership is case-insensitive to match common addon filesystems.
func (ix *Index) FindByFolder(folder string) (Record, bool) {
	for _, rec := range ix.Addons {
		for _, f := range rec.Folders {
			if strings.EqualFold(f, folder) {
				return rec, true
			}
		}
	}
	return Record{}, false
}

// Records returns all records sorted by identity key.
func (ix *Index) Records() []Record {
	keys := make([]string, 0, len(ix.Addons))
	for k := range ix.Addons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recs := make([]Record, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, ix.Addons[k])
	}
	return recs
}

// Len returns the number of tracked addons.
func (ix *Index) Len() int {
	return len(ix.Addons)
}
