// Package reconcile derives a status for every tracked addon and classifies
// stray folders under the addon root.
//
// Per-addon checks are independent units of work: each one fingerprints the
// addon's folders on disk and, only when the content is pristine, asks the
// remote for its current head. Checks run concurrently on a bounded pool and
// a single addon's failure never aborts its siblings.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/wowkit/hoard/internal/fingerprint"
	"github.com/wowkit/hoard/internal/git"
	"github.com/wowkit/hoard/internal/index"
)

// ErrFolderMissing indicates a tracked addon's folders are gone from disk.
var ErrFolderMissing = errors.New("addon folders missing from disk")

// Status is the reconciliation outcome for one addon or folder.
type Status string

const (
	// StatusUpToDate means disk content is pristine and the remote has not moved.
	StatusUpToDate Status = "up-to-date"
	// StatusModified means disk content differs from the installed fingerprint.
	// Modification wins over staleness: the remote is not even queried.
	StatusModified Status = "modified"
	// StatusOutdated means disk content is pristine but the remote has advanced.
	StatusOutdated Status = "outdated"
	// StatusUntracked marks an on-disk folder no record owns.
	StatusUntracked Status = "untracked"
	// StatusMissing marks a record whose folders are gone from disk.
	StatusMissing Status = "missing"
	// StatusError marks a record whose check failed (network, git, disk).
	StatusError Status = "error"
)

// Remote looks up the current head revision of a repository source.
// *git.Checker is the production implementation.
type Remote interface {
	LatestRevision(ctx context.Context, repoURL, branch string) (git.Revision, error)
}

// Result is the reconciliation outcome for one addon or untracked folder.
type Result struct {
	Name        string    `json:"name" yaml:"name"`
	Status      Status    `json:"status" yaml:"status"`
	ReleasedAt  time.Time `json:"released_at,omitzero" yaml:"released_at,omitempty"`
	InstalledAt time.Time `json:"installed_at,omitzero" yaml:"installed_at,omitempty"`
	// Error mirrors Err for serialized output.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	Err   error  `json:"-" yaml:"-"`
}

// fail marks a result as failed, keeping the typed error for callers and its
// text for serialized output.
func (r *Result) fail(status Status, err error) {
	r.Status = status
	r.Err = err
	r.Error = err.Error()
}

// Options tunes a reconciliation pass.
type Options struct {
	// Parallelism bounds concurrent checks (and thereby simultaneous
	// outbound connections). Values below 1 fall back to 1.
	Parallelism int
	// IgnorePrefixes lists folder name prefixes never reported as untracked,
	// e.g. the game's own "Blizzard_" addons.
	IgnorePrefixes []string
}

// Engine resolves addon statuses against local disk and remote state.
type Engine struct {
	remote Remote
	opts   Options
	log    zerolog.Logger
}

// New creates an Engine.
func New(remote Remote, opts Options, log zerolog.Logger) *Engine {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Engine{remote: remote, opts: opts, log: log}
}

// Run produces one Result per tracked addon plus one per untracked folder,
// sorted by name. The index is treated as an immutable snapshot for the
// duration of the pass. Per-addon failures are attached to their result;
// Run itself only fails when the addon root cannot be enumerated.
func (e *Engine) Run(ctx context.Context, ix *index.Index) ([]Result, error) {
	records := ix.Records()

	p := pool.NewWithResults[Result]().
		WithContext(ctx).
		WithMaxGoroutines(e.opts.Parallelism)

	for _, rec := range records {
		rec := rec
		p.Go(func(ctx context.Context) (Result, error) {
			return e.check(ctx, ix.Root(), rec), nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		// Tasks never return errors; anything here is context cancellation
		// racing pool internals. Completed results are still valid.
		e.log.Debug().Err(err).Msg("reconciliation pool interrupted")
	}

	untracked, err := e.scanUntracked(ix)
	if err != nil {
		return nil, err
	}
	results = append(results, untracked...)

	sort.Slice(results, func(i, j int) bool {
		return strings.ToLower(results[i].Name) < strings.ToLower(results[j].Name)
	})
	return results, nil
}

// check resolves the status of a single record. It never returns an error;
// failures become StatusMissing or StatusError results.
func (e *Engine) check(ctx context.Context, root string, rec index.Record) Result {
	res := Result{Name: rec.Name, InstalledAt: rec.InstalledAt}

	if err := ctx.Err(); err != nil {
		res.fail(StatusError, err)
		return res
	}

	sum, err := fingerprint.Folders(root, rec.Folders)
	if errors.Is(err, fs.ErrNotExist) {
		res.fail(StatusMissing, fmt.Errorf("%w: %s", ErrFolderMissing, strings.Join(rec.Folders, ", ")))
		return res
	}
	if err != nil {
		res.fail(StatusError, err)
		return res
	}

	if sum != rec.Checksum {
		res.Status = StatusModified
		res.ReleasedAt = rec.ReleasedAt
		return res
	}

	rev, err := e.remote.LatestRevision(ctx, rec.URL, rec.Branch)
	if err != nil {
		e.log.Debug().Err(err).Str("addon", rec.Name).Msg("remote check failed")
		res.fail(StatusError, err)
		return res
	}

	if rev.ID != rec.Commit {
		res.Status = StatusOutdated
		res.ReleasedAt = rev.Timestamp
		return res
	}

	res.Status = StatusUpToDate
	res.ReleasedAt = rec.ReleasedAt
	return res
}

// scanUntracked reports top-level folders under the addon root that no
// record owns. Hidden folders and configured ignore prefixes are skipped.
func (e *Engine) scanUntracked(ix *index.Index) ([]Result, error) {
	entries, err := os.ReadDir(ix.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to read addon root: %w", err)
	}

	var results []Result
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if e.ignored(entry.Name()) {
			continue
		}
		if _, owned := ix.FindByFolder(entry.Name()); owned {
			continue
		}
		results = append(results, Result{Name: entry.Name(), Status: StatusUntracked})
	}
	return results, nil
}

func (e *Engine) ignored(name string) bool {
	for _, prefix := range e.opts.IgnorePrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// AllFailed reports whether every tracked-addon check in results failed.
// Missing folders count as failed checks alongside errors. Untracked entries
// are not checks and do not count. It is false when there were no checks at
// all.
func AllFailed(results []Result) bool {
	checks, failed := 0, 0
	for _, res := range results {
		if res.Status == StatusUntracked {
			continue
		}
		checks++
		if res.Status == StatusError || res.Status == StatusMissing {
			failed++
		}
	}
	return checks > 0 && failed == checks
}
