// Package install drives addon installation, updates and removal.
//
// An install is a short pipeline: resolve the source, clone or update its
// cached working copy, map the installable folders, copy them under the
// addon root, fingerprint the result and record it in the index. The index
// is only written after every preceding step has succeeded, so a failed
// install never leaves a half-mutated document.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wowkit/hoard/internal/addon"
	"github.com/wowkit/hoard/internal/fingerprint"
	"github.com/wowkit/hoard/internal/git"
	"github.com/wowkit/hoard/internal/index"
	"github.com/wowkit/hoard/internal/reconcile"
)

// CacheRoot returns the directory under the addon root where working copies
// of repository sources are kept between runs.
func CacheRoot(root string) string {
	return filepath.Join(root, ".hoard", "src")
}

// Installer brings addons to their latest revision and updates the index.
type Installer struct {
	client           *git.Client
	interfaceVersion int
	log              zerolog.Logger
}

// New creates an Installer. interfaceVersion gates which .toc descriptors
// count as installable (0 disables the gate).
func New(client *git.Client, interfaceVersion int, log zerolog.Logger) *Installer {
	return &Installer{client: client, interfaceVersion: interfaceVersion, log: log}
}

// Install clones or updates the given source and records it in ix. branch
// selects the branch to track; empty means the remote default, or whatever
// branch the locator itself names. The returned record reflects the freshly
// installed state.
func (in *Installer) Install(ctx context.Context, ix *index.Index, locator, branch string) (index.Record, error) {
	src, err := in.client.Resolve(locator)
	if err != nil {
		return index.Record{}, err
	}
	if branch != "" {
		if src.Branch != "" && src.Branch != branch {
			return index.Record{}, fmt.Errorf("requested branch %q, but the url names branch %q",
				branch, src.Branch)
		}
		src.Branch = branch
	}

	in.log.Info().Str("url", src.URL).Msg("resolving remote head")
	rev, err := src.LatestRevision(ctx)
	if err != nil {
		return index.Record{}, err
	}

	wcDir := git.WorkingCopyPath(CacheRoot(ix.Root()), src.Name)
	in.log.Info().Str("url", src.URL).Str("revision", rev.ID).Msg("materializing working copy")
	wc, err := src.Materialize(ctx, wcDir, rev.ID)
	if err != nil {
		return index.Record{}, err
	}

	folders, err := addon.Discover(wc.Dir, in.interfaceVersion)
	if err != nil {
		return index.Record{}, err
	}

	names := make([]string, len(folders))
	for i, f := range folders {
		names[i] = f.Name
	}

	// Reject folder conflicts before any file is copied, so a failed install
	// leaves nothing on disk that the index does not know about.
	key := index.Key(src.Name)
	for _, name := range names {
		if owner, ok := ix.FindByFolder(name); ok && index.Key(owner.Name) != key {
			return index.Record{}, fmt.Errorf("%w: %q belongs to %q",
				index.ErrFolderConflict, name, owner.Name)
		}
	}

	for _, f := range folders {
		dst := filepath.Join(ix.Root(), f.Name)
		in.log.Debug().Str("addon", f.Name).Msg("installing folder")
		if err := os.RemoveAll(dst); err != nil {
			return index.Record{}, fmt.Errorf("failed to clear %s: %w", dst, err)
		}
		if err := copyTree(f.Dir, dst); err != nil {
			return index.Record{}, fmt.Errorf("failed to install %s: %w", f.Name, err)
		}
	}

	// A single addon living in a subdirectory loses the repository's
	// top-level readme on copy; carry the common doc files along.
	if len(folders) == 1 && folders[0].Dir != wc.Dir {
		if err := copyDocFiles(wc.Dir, filepath.Join(ix.Root(), folders[0].Name)); err != nil {
			return index.Record{}, err
		}
	}

	sum, err := fingerprint.Folders(ix.Root(), names)
	if err != nil {
		return index.Record{}, fmt.Errorf("failed to fingerprint install: %w", err)
	}

	commit, err := wc.CurrentRevision(ctx)
	if err != nil {
		return index.Record{}, err
	}
	branch, err = wc.CurrentBranch(ctx)
	if err != nil {
		return index.Record{}, err
	}
	if branch == "HEAD" {
		// Detached checkout; keep whatever the source was asked to track.
		branch = src.Branch
	}
	released, err := wc.CommitTimestamp(ctx, commit)
	if err != nil {
		in.log.Debug().Err(err).Msg("commit timestamp unavailable")
		released = time.Time{}
	}

	rec := index.Record{
		Name:        src.Name,
		URL:         src.URL,
		Branch:      branch,
		Commit:      commit,
		ReleasedAt:  released,
		InstalledAt: time.Now().UTC(),
		Folders:     names,
		Checksum:    sum,
	}

	if err := ix.Upsert(rec); err != nil {
		return index.Record{}, err
	}
	if err := ix.Save(); err != nil {
		return index.Record{}, err
	}

	in.log.Info().Str("addon", rec.Name).Strs("folders", names).
		Str("commit", commit).Msg("installed")
	return rec, nil
}

// Update re-installs a tracked addon from its recorded source. It differs
// from Install only in that the locator and branch come from the existing
// record.
func (in *Installer) Update(ctx context.Context, ix *index.Index, name string) (index.Record, error) {
	rec, ok := ix.Get(name)
	if !ok {
		return index.Record{}, fmt.Errorf("unknown addon %q", name)
	}
	return in.Install(ctx, ix, rec.URL, rec.Branch)
}

// UpdateOutdated runs a reconciliation pass and re-installs only the addons
// it reports as outdated. Locally modified addons are never touched; they
// come back in skipped along with missing or errored ones, for the caller to
// report. A fatal error (folder conflict, corrupt index) aborts the pass.
func (in *Installer) UpdateOutdated(ctx context.Context, ix *index.Index, eng *reconcile.Engine) (updated []index.Record, skipped []reconcile.Result, err error) {
	results, err := eng.Run(ctx, ix)
	if err != nil {
		return nil, nil, err
	}

	for _, res := range results {
		switch res.Status {
		case reconcile.StatusOutdated:
			rec, uerr := in.Update(ctx, ix, res.Name)
			if uerr != nil {
				if IsFatal(uerr) {
					return updated, skipped, uerr
				}
				res.Status = reconcile.StatusError
				res.Err = uerr
				res.Error = uerr.Error()
				skipped = append(skipped, res)
				continue
			}
			updated = append(updated, rec)
		case reconcile.StatusUpToDate, reconcile.StatusUntracked:
			// Nothing to do.
		default:
			skipped = append(skipped, res)
		}
	}
	return updated, skipped, nil
}

// Remove drops an addon from the index and deletes its folders from disk.
// The index is persisted before folders are removed, so a crash mid-removal
// leaves stray folders (reported as untracked) rather than dangling records.
func (in *Installer) Remove(ix *index.Index, name string) error {
	rec, ok := ix.Get(name)
	if !ok {
		return fmt.Errorf("unknown addon %q", name)
	}

	ix.Remove(rec.Name)
	if err := ix.Save(); err != nil {
		return err
	}

	for _, folder := range rec.Folders {
		if err := os.RemoveAll(filepath.Join(ix.Root(), folder)); err != nil {
			return fmt.Errorf("failed to delete %s: %w", folder, err)
		}
		in.log.Info().Str("folder", folder).Msg("removed")
	}
	return nil
}

// vcsDirs and vcsFiles name version-control metadata excluded from installs.
// Matching is by exact name so addon content that merely starts with ".git"
// still installs.
var (
	vcsDirs  = map[string]bool{".git": true, ".svn": true, ".hg": true}
	vcsFiles = map[string]bool{
		".git":           true, // worktree pointer
		".gitignore":     true,
		".gitattributes": true,
		".gitmodules":    true,
	}
)

// copyTree copies a directory tree excluding version-control metadata.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if vcsDirs[d.Name()] {
				return filepath.SkipDir
			}
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() || vcsFiles[d.Name()] {
			return nil
		}
		return copyFile(path, target)
	})
}

// copyDocFiles copies top-level readme, .txt and .html files from src into
// dst without overwriting files the addon already ships.
func copyDocFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isDocFile(entry.Name()) {
			continue
		}
		target := filepath.Join(dst, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), target); err != nil {
			return err
		}
	}
	return nil
}

func isDocFile(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "readme") {
		return true
	}
	switch filepath.Ext(lower) {
	case ".txt", ".html":
		return true
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// IsFatal reports whether an install/update error should abort the whole
// command rather than be reported per-addon.
func IsFatal(err error) bool {
	return errors.Is(err, index.ErrFolderConflict) || errors.Is(err, index.ErrCorrupt)
}
