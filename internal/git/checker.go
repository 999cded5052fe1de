package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// WorkingCopyPath returns the cached checkout location for a repository name
// under the given cache root.
func WorkingCopyPath(cacheRoot, name string) string {
	return filepath.Join(cacheRoot, strings.ToLower(name))
}

// Checker resolves the latest remote revision of repository sources for
// status checks. It answers from a single ls-remote round-trip and enriches
// the result with the commit timestamp when the commit already exists in a
// cached working copy; it never fetches, so a status pass stays cheap.
type Checker struct {
	client    *Client
	cacheRoot string // root of cached working copies; may be empty
}

// NewChecker creates a Checker. cacheRoot may be empty, in which case
// revision timestamps are never resolved.
func NewChecker(client *Client, cacheRoot string) *Checker {
	return &Checker{client: client, cacheRoot: cacheRoot}
}

// LatestRevision returns the remote head of repoURL on branch (the default
// branch when empty). The revision timestamp is best-effort and zero when
// unknown.
func (ch *Checker) LatestRevision(ctx context.Context, repoURL, branch string) (Revision, error) {
	id, err := ch.client.lsRemote(ctx, repoURL, branch)
	if err != nil {
		return Revision{}, err
	}

	rev := Revision{ID: id}
	if ch.cacheRoot == "" {
		return rev, nil
	}

	src, err := ch.client.Resolve(repoURL)
	if err != nil {
		return rev, nil
	}
	dir := WorkingCopyPath(ch.cacheRoot, src.Name)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return rev, nil
	}

	wc := &WorkingCopy{Dir: dir, source: src}
	if ts, err := wc.CommitTimestamp(ctx, id); err == nil {
		rev.Timestamp = ts
	}
	return rev, nil
}
