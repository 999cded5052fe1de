// Package git wraps the git command line as a repository source adapter.
//
// The rest of the system consumes sources through this package's Client,
// Source and WorkingCopy types; no other package runs git directly.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSourceUnreachable indicates the remote endpoint cannot be contacted.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrVersionControl indicates an underlying git operation failed.
	ErrVersionControl = errors.New("version control operation failed")
)

// Runner executes external commands. This allows for mocking in tests.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, separating stdout from stderr so
// parsed output is never polluted by progress messages.
type ExecRunner struct{}

// Run executes a command in the given directory and returns its stdout.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return stdout.Bytes(), nil
}

// Client resolves repository locators into sources.
type Client struct {
	runner Runner
}

// NewClient creates a Client backed by the git command line.
func NewClient() *Client {
	return &Client{runner: ExecRunner{}}
}

// NewClientWithRunner creates a Client with a custom runner (for testing).
func NewClientWithRunner(runner Runner) *Client {
	return &Client{runner: runner}
}

// Available reports whether the git command can be executed at all.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.runner.Run(ctx, "", "git", "--version")
	return err == nil
}

// Resolve normalizes a repository locator and derives the repository name.
// github.com and gitlab.com paths get the canonical ".git" suffix appended,
// and browser URLs pointing at a branch ("/tree/<branch>", "/-/tree/<branch>")
// resolve to that branch; other hosts must already carry the .git path.
func (c *Client) Resolve(locator string) (*Source, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid repository url %q", locator)
	}

	branch := ""
	switch u.Host {
	case "github.com", "gitlab.com":
		u.Path, branch = splitTreePath(u.Path)
		if !strings.HasSuffix(u.Path, ".git") {
			u.Path += ".git"
		}
	default:
		if !strings.HasSuffix(u.Path, ".git") {
			return nil, fmt.Errorf("invalid repository url %q: expected a .git path", locator)
		}
	}

	name := strings.TrimSuffix(path.Base(u.Path), ".git")
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("invalid repository url %q: no repository name", locator)
	}

	return &Source{URL: u.String(), Name: name, Branch: branch, client: c}, nil
}

// splitTreePath separates a github/gitlab browser path like
// "/author/repo/tree/main" or "/author/repo/-/tree/feature/x" into the
// repository path and the branch it points at.
func splitTreePath(p string) (repoPath, branch string) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 2 {
		return p, ""
	}
	rest := parts[2:]
	switch {
	case len(rest) >= 3 && rest[0] == "-" && rest[1] == "tree":
		branch = strings.Join(rest[2:], "/")
	case len(rest) >= 2 && rest[0] == "tree":
		branch = strings.Join(rest[1:], "/")
	default:
		return p, ""
	}
	return "/" + parts[0] + "/" + parts[1], branch
}

// Revision identifies a state of a remote repository. Timestamp is zero when
// the commit time is not (yet) known locally.
type Revision struct {
	ID        string
	Timestamp time.Time
}

// Source is one remote version-control endpoint.
type Source struct {
	// URL is the normalized repository locator.
	URL string
	// Name is the repository name derived from the URL path.
	Name string
	// Branch is the branch to track; empty means the remote default.
	Branch string

	client *Client
}

// LatestRevision asks the remote for its current head without fetching.
// Failures surface as ErrSourceUnreachable since ls-remote is the cheapest
// probe of the endpoint.
func (s *Source) LatestRevision(ctx context.Context) (Revision, error) {
	id, err := s.client.lsRemote(ctx, s.URL, s.Branch)
	if err != nil {
		return Revision{}, err
	}
	return Revision{ID: id}, nil
}

// lsRemote resolves the remote head commit for a branch (or the default
// branch when branch is empty).
func (c *Client) lsRemote(ctx context.Context, repoURL, branch string) (string, error) {
	if branch == "" {
		out, err := c.runner.Run(ctx, "", "git", "ls-remote", repoURL, "HEAD")
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, repoURL, err)
		}
		fields := strings.Fields(string(out))
		if len(fields) < 1 || fields[0] == "" {
			return "", fmt.Errorf("%w: %s: remote reported no HEAD", ErrSourceUnreachable, repoURL)
		}
		return fields[0], nil
	}

	out, err := c.runner.Run(ctx, "", "git", "ls-remote", "--refs", "--heads", repoURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, repoURL, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if strings.HasSuffix(fields[1], "/"+branch) {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("%w: %s: branch %q not found on remote", ErrSourceUnreachable, repoURL, branch)
}

// Materialize clones the source into dir, or updates an existing checkout,
// then checks out revision (the remote head when revision is empty).
func (s *Source) Materialize(ctx context.Context, dir, revision string) (*WorkingCopy, error) {
	run := s.client.runner.Run

	exists := false
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		exists = true
	}

	if !exists {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVersionControl, err)
		}
		if _, err := run(ctx, "", "git", "clone", s.URL, dir); err != nil {
			return nil, fmt.Errorf("%w: clone: %v", ErrVersionControl, err)
		}
	} else {
		if _, err := run(ctx, dir, "git", "fetch", "origin"); err != nil {
			return nil, fmt.Errorf("%w: fetch: %v", ErrVersionControl, err)
		}
	}

	wc := &WorkingCopy{Dir: dir, source: s}

	if revision != "" {
		// Try the revision directly (commit hash, tag, local branch), then
		// fall back to the remote tracking ref.
		if _, err := run(ctx, dir, "git", "checkout", "-f", revision); err != nil {
			if _, err := run(ctx, dir, "git", "checkout", "-f", "origin/"+revision); err != nil {
				return nil, fmt.Errorf("%w: checkout %s: %v", ErrVersionControl, revision, err)
			}
		}
		return wc, nil
	}

	branch := s.Branch
	if branch == "" {
		b, err := wc.defaultBranch(ctx)
		if err != nil {
			return nil, err
		}
		branch = b
	}
	if _, err := run(ctx, dir, "git", "checkout", "-f", branch); err != nil {
		return nil, fmt.Errorf("%w: checkout %s: %v", ErrVersionControl, branch, err)
	}
	if exists {
		// A stale local branch needs a hard reset to pick up fetched commits.
		if _, err := run(ctx, dir, "git", "reset", "--hard", "origin/"+branch); err != nil {
			return nil, fmt.Errorf("%w: reset %s: %v", ErrVersionControl, branch, err)
		}
	}
	return wc, nil
}

// WorkingCopy is a local checkout of a source.
type WorkingCopy struct {
	Dir string

	source *Source
}

// CurrentRevision returns the commit the working copy is checked out at.
func (w *WorkingCopy) CurrentRevision(ctx context.Context) (string, error) {
	out, err := w.source.client.runner.Run(ctx, w.Dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: rev-parse: %v", ErrVersionControl, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (w *WorkingCopy) CurrentBranch(ctx context.Context) (string, error) {
	out, err := w.source.client.runner.Run(ctx, w.Dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: rev-parse: %v", ErrVersionControl, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitTimestamp returns the commit time of revision, which must be present
// in the working copy's object store.
func (w *WorkingCopy) CommitTimestamp(ctx context.Context, revision string) (time.Time, error) {
	out, err := w.source.client.runner.Run(ctx, w.Dir, "git", "log", "-1", "--format=%ct", revision)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: log: %v", ErrVersionControl, err)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unexpected commit timestamp %q", ErrVersionControl, strings.TrimSpace(string(out)))
	}
	return time.Unix(secs, 0), nil
}

// defaultBranch resolves the remote's default branch from origin/HEAD.
func (w *WorkingCopy) defaultBranch(ctx context.Context) (string, error) {
	out, err := w.source.client.runner.Run(ctx, w.Dir, "git", "rev-parse", "--abbrev-ref", "origin/HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: cannot determine default branch: %v", ErrVersionControl, err)
	}
	return strings.TrimPrefix(strings.TrimSpace(string(out)), "origin/"), nil
}
