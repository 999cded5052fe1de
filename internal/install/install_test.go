package install

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wowkit/hoard/internal/git"
	"github.com/wowkit/hoard/internal/index"
	"github.com/wowkit/hoard/internal/reconcile"
)

// fakeGit emulates the git command line: "clone" and "checkout" write the
// configured repository tree to disk, "ls-remote" serves the remote head.
type fakeGit struct {
	head        string
	tree        map[string]string
	unreachable bool
	calls       []string
}

func (g *fakeGit) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	g.calls = append(g.calls, strings.Join(args, " "))

	switch args[0] {
	case "ls-remote":
		if g.unreachable {
			return nil, fmt.Errorf("fatal: unable to access")
		}
		return []byte(g.head + "\tHEAD\n" + g.head + "\trefs/heads/master\n"), nil
	case "clone":
		dest := args[len(args)-1]
		if err := os.MkdirAll(filepath.Join(dest, ".git"), 0755); err != nil {
			return nil, err
		}
		return nil, g.writeTree(dest)
	case "fetch":
		return nil, nil
	case "checkout", "reset":
		return nil, g.writeTree(dir)
	case "rev-parse":
		if args[1] == "--abbrev-ref" {
			return []byte("master\n"), nil
		}
		return []byte(g.head + "\n"), nil
	case "log":
		return []byte("1709290800\n"), nil
	}
	return nil, nil
}

func (g *fakeGit) writeTree(dir string) error {
	for rel, content := range g.tree {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// multiGit routes commands to per-repository fakes: by URL for remote
// commands, by working copy directory for local ones.
type multiGit struct {
	repos map[string]*fakeGit // keyed by lowercased repository name
}

func (m *multiGit) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	key := strings.ToLower(filepath.Base(dir))
	for _, arg := range args {
		if strings.HasPrefix(arg, "https://") {
			key = strings.ToLower(strings.TrimSuffix(path.Base(arg), ".git"))
		}
	}
	repo, ok := m.repos[key]
	if !ok {
		return nil, fmt.Errorf("no such repository %q", key)
	}
	return repo.Run(ctx, dir, name, args...)
}

const quiverURL = "https://github.com/example/Quiver"

func newTestInstaller(g *fakeGit) *Installer {
	return New(git.NewClientWithRunner(g), 11200, zerolog.Nop())
}

func loadIndex(t *testing.T, root string) *index.Index {
	t.Helper()
	ix, err := index.Load(root)
	require.NoError(t, err)
	return ix
}

func TestInstallFresh(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{
			"Quiver.toc":    "## Interface: 11200\n## Title: Quiver\n",
			"core/main.lua": "-- quiver",
		},
	}

	ix := loadIndex(t, root)
	rec, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	require.Equal(t, "Quiver", rec.Name)
	require.Equal(t, quiverURL+".git", rec.URL)
	require.Equal(t, "abc123", rec.Commit)
	require.Equal(t, "master", rec.Branch)
	require.Equal(t, []string{"Quiver"}, rec.Folders)
	require.NotEmpty(t, rec.Checksum)
	require.Equal(t, int64(1709290800), rec.ReleasedAt.Unix())
	require.False(t, rec.InstalledAt.IsZero())

	// Folder installed under the addon root, git metadata excluded.
	require.FileExists(t, filepath.Join(root, "Quiver", "Quiver.toc"))
	require.FileExists(t, filepath.Join(root, "Quiver", "core", "main.lua"))
	require.NoDirExists(t, filepath.Join(root, "Quiver", ".git"))

	// Index persisted.
	reloaded := loadIndex(t, root)
	got, ok := reloaded.Get("quiver")
	require.True(t, ok)
	require.Equal(t, rec.Checksum, got.Checksum)
}

func TestInstallIdempotent(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"Quiver.toc": "## Interface: 11200\n"},
	}
	installer := newTestInstaller(g)

	ix := loadIndex(t, root)
	first, err := installer.Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)
	second, err := installer.Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	require.Equal(t, first.Folders, second.Folders)
	require.Equal(t, first.Checksum, second.Checksum)
	require.Equal(t, first.Commit, second.Commit)
	require.Equal(t, 1, ix.Len())

	// Immediately after install the addon reconciles as up-to-date.
	checker := git.NewChecker(git.NewClientWithRunner(g), CacheRoot(root))
	engine := reconcile.New(checker, reconcile.Options{Parallelism: 2}, zerolog.Nop())
	results, err := engine.Run(context.Background(), ix)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, reconcile.StatusUpToDate, results[0].Status)
}

func TestInstallMultiFolderBundle(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{
			"BigWigs/BigWigs.toc":       "## Interface: 11200\n",
			"LittleWigs/LittleWigs.toc": "## Interface: 11200\n",
			"README.md":                 "a bundle",
		},
	}

	ix := loadIndex(t, root)
	rec, err := newTestInstaller(g).Install(context.Background(), ix, "https://github.com/example/wigs", "")
	require.NoError(t, err)

	require.Equal(t, "wigs", rec.Name)
	require.Equal(t, []string{"BigWigs", "LittleWigs"}, rec.Folders)
	require.DirExists(t, filepath.Join(root, "BigWigs"))
	require.DirExists(t, filepath.Join(root, "LittleWigs"))

	// One record owns both folders.
	owner, ok := ix.FindByFolder("LittleWigs")
	require.True(t, ok)
	require.Equal(t, "wigs", owner.Name)
}

func TestInstallCopiesDocFilesForNestedSingleAddon(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{
			"Quiver/Quiver.toc": "## Interface: 11200\n",
			"README.md":         "docs",
			"LICENSE.txt":       "gpl",
			"build.sh":          "#!/bin/sh",
		},
	}

	ix := loadIndex(t, root)
	_, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(root, "Quiver", "README.md"))
	require.FileExists(t, filepath.Join(root, "Quiver", "LICENSE.txt"))
	require.NoFileExists(t, filepath.Join(root, "Quiver", "build.sh"))
}

func TestInstallNoInstallableContent(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"README.md": "not an addon"},
	}

	ix := loadIndex(t, root)
	_, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.Error(t, err)
	require.Equal(t, 0, ix.Len())
	require.NoFileExists(t, ix.Path())
}

func TestInstallSourceUnreachable(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{unreachable: true}

	ix := loadIndex(t, root)
	_, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.ErrorIs(t, err, git.ErrSourceUnreachable)
	require.Equal(t, 0, ix.Len())
}

func TestInstallFolderConflict(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"Quiver/Quiver.toc": "## Interface: 11200\n"},
	}

	ix := loadIndex(t, root)
	require.NoError(t, ix.Upsert(index.Record{
		Name:     "Imposter",
		URL:      "https://github.com/example/imposter.git",
		Commit:   "zzz",
		Folders:  []string{"Quiver"},
		Checksum: "f0",
	}))
	require.NoError(t, ix.Save())

	_, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.ErrorIs(t, err, index.ErrFolderConflict)
	require.True(t, IsFatal(err))

	// Nothing was copied and the imposter record survived.
	require.NoDirExists(t, filepath.Join(root, "Quiver"))
	reloaded := loadIndex(t, root)
	_, ok := reloaded.Get("Imposter")
	require.True(t, ok)
	require.Equal(t, 1, reloaded.Len())
}

func TestUpdate(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"Quiver.toc": "## Interface: 11200\n## Version: 1\n"},
	}
	installer := newTestInstaller(g)

	ix := loadIndex(t, root)
	first, err := installer.Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	// Remote moves on.
	g.head = "def456"
	g.tree["Quiver.toc"] = "## Interface: 11200\n## Version: 2\n"

	updated, err := installer.Update(context.Background(), ix, "quiver")
	require.NoError(t, err)
	require.Equal(t, "def456", updated.Commit)
	require.NotEqual(t, first.Checksum, updated.Checksum)

	data, err := os.ReadFile(filepath.Join(root, "Quiver", "Quiver.toc"))
	require.NoError(t, err)
	require.Contains(t, string(data), "Version: 2")
}

func TestUpdateOutdatedSkipsModified(t *testing.T) {
	root := t.TempDir()
	quiver := &fakeGit{head: "q1", tree: map[string]string{"Quiver.toc": "## Interface: 11200\n"}}
	atlas := &fakeGit{head: "a1", tree: map[string]string{"atlas.toc": "## Interface: 11200\n## Version: 1\n"}}
	g := &multiGit{repos: map[string]*fakeGit{"quiver": quiver, "atlas": atlas}}

	installer := New(git.NewClientWithRunner(g), 11200, zerolog.Nop())
	ix := loadIndex(t, root)
	_, err := installer.Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)
	_, err = installer.Install(context.Background(), ix, "https://github.com/example/atlas", "")
	require.NoError(t, err)

	// Quiver gets a local edit; atlas's remote moves on.
	require.NoError(t, os.WriteFile(filepath.Join(root, "Quiver", "notes.lua"), []byte("-- mine"), 0644))
	atlas.head = "a2"
	atlas.tree["atlas.toc"] = "## Interface: 11200\n## Version: 2\n"

	checker := git.NewChecker(git.NewClientWithRunner(g), CacheRoot(root))
	engine := reconcile.New(checker, reconcile.Options{Parallelism: 2}, zerolog.Nop())

	updated, skipped, err := installer.UpdateOutdated(context.Background(), ix, engine)
	require.NoError(t, err)

	require.Len(t, updated, 1)
	require.Equal(t, "atlas", updated[0].Name)
	require.Equal(t, "a2", updated[0].Commit)

	require.Len(t, skipped, 1)
	require.Equal(t, "Quiver", skipped[0].Name)
	require.Equal(t, reconcile.StatusModified, skipped[0].Status)

	// The local edit survived and the record still points at the old commit.
	require.FileExists(t, filepath.Join(root, "Quiver", "notes.lua"))
	rec, ok := ix.Get("quiver")
	require.True(t, ok)
	require.Equal(t, "q1", rec.Commit)
}

func TestUpdateOutdatedReportsUnreachable(t *testing.T) {
	root := t.TempDir()
	quiver := &fakeGit{head: "q1", tree: map[string]string{"Quiver.toc": "## Interface: 11200\n"}}
	g := &multiGit{repos: map[string]*fakeGit{"quiver": quiver}}

	installer := New(git.NewClientWithRunner(g), 11200, zerolog.Nop())
	ix := loadIndex(t, root)
	_, err := installer.Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	quiver.unreachable = true
	checker := git.NewChecker(git.NewClientWithRunner(g), CacheRoot(root))
	engine := reconcile.New(checker, reconcile.Options{Parallelism: 2}, zerolog.Nop())

	updated, skipped, err := installer.UpdateOutdated(context.Background(), ix, engine)
	require.NoError(t, err)
	require.Empty(t, updated)
	require.Len(t, skipped, 1)
	require.Equal(t, reconcile.StatusError, skipped[0].Status)
	require.ErrorIs(t, skipped[0].Err, git.ErrSourceUnreachable)
}

func TestInstallSuppressesEmbeddedLibrary(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{
			"Quiver/Quiver.toc":               "## Interface: 11200\n",
			"Quiver/libs/LibStub/LibStub.toc": "## Interface: 11200\n",
		},
	}

	ix := loadIndex(t, root)
	rec, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	// The vendored library ships inside its addon, never as its own folder.
	require.Equal(t, []string{"Quiver"}, rec.Folders)
	require.NoDirExists(t, filepath.Join(root, "LibStub"))
	require.FileExists(t, filepath.Join(root, "Quiver", "libs", "LibStub", "LibStub.toc"))
}

func TestInstallKeepsDotGitPrefixedContent(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{
			"Quiver.toc":          "## Interface: 11200\n",
			".github/FUNDING.yml": "custom: nobody",
			".gitignore":          "*.bak",
			".gitmodules":         "[submodule]",
		},
	}

	ix := loadIndex(t, root)
	_, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	// Only exact metadata names are excluded.
	require.FileExists(t, filepath.Join(root, "Quiver", ".github", "FUNDING.yml"))
	require.NoFileExists(t, filepath.Join(root, "Quiver", ".gitignore"))
	require.NoFileExists(t, filepath.Join(root, "Quiver", ".gitmodules"))
	require.NoDirExists(t, filepath.Join(root, "Quiver", ".git"))
}

func TestInstallTracksRequestedBranch(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"Quiver.toc": "## Interface: 11200\n"},
	}

	ix := loadIndex(t, root)
	rec, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL, "master")
	require.NoError(t, err)
	require.Equal(t, "master", rec.Branch)

	// A branch resolves through the heads listing, not the default HEAD.
	require.Contains(t, g.calls, "ls-remote --refs --heads "+quiverURL+".git")
}

func TestInstallBranchFromURL(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"Quiver.toc": "## Interface: 11200\n"},
	}

	ix := loadIndex(t, root)
	rec, err := newTestInstaller(g).Install(context.Background(), ix, quiverURL+"/tree/master", "")
	require.NoError(t, err)
	require.Equal(t, quiverURL+".git", rec.URL)
	require.Equal(t, "master", rec.Branch)
}

func TestInstallBranchConflict(t *testing.T) {
	ix := loadIndex(t, t.TempDir())
	_, err := newTestInstaller(&fakeGit{}).Install(context.Background(), ix, quiverURL+"/tree/main", "dev")
	require.Error(t, err)
	require.Contains(t, err.Error(), "branch")
	require.Equal(t, 0, ix.Len())
}

func TestUpdateUnknownAddon(t *testing.T) {
	ix := loadIndex(t, t.TempDir())
	_, err := newTestInstaller(&fakeGit{}).Update(context.Background(), ix, "nope")
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	g := &fakeGit{
		head: "abc123",
		tree: map[string]string{"Quiver.toc": "## Interface: 11200\n"},
	}
	installer := newTestInstaller(g)

	ix := loadIndex(t, root)
	_, err := installer.Install(context.Background(), ix, quiverURL, "")
	require.NoError(t, err)

	require.NoError(t, installer.Remove(ix, "Quiver"))
	require.NoDirExists(t, filepath.Join(root, "Quiver"))

	reloaded := loadIndex(t, root)
	require.Equal(t, 0, reloaded.Len())

	require.Error(t, installer.Remove(ix, "Quiver"))
}
