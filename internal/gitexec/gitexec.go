// Package gitexec shells out to the git binary to drive the
// gitgov-state sync engine (spec.md §7): branch management, commits,
// fetch/push, rebase, and reading blobs off a ref without checking it
// out.
package gitexec

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrMergeConflict is returned when a rebase or merge stops on conflict
// markers; callers surface this to the conflict-resolution policy
// described in spec.md §7.3.
var ErrMergeConflict = errors.New("git conflict")

// ErrNotAGitRepo is returned when workspace is not inside a git
// worktree.
var ErrNotAGitRepo = errors.New("not a git repository")

// Commit is one entry of `git log`, with BeadIDs left out: the sync
// engine reasons about record IDs via trailers, not commit-message
// scraping.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
}

// Git shells out to the git binary rooted at Workspace.
type Git struct {
	Workspace string
}

// New returns a Git rooted at workspace.
func New(workspace string) *Git {
	return &Git{Workspace: workspace}
}

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.Workspace
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, text)
	}
	return text, nil
}

// BranchExists reports whether branch exists locally.
func (g *Git) BranchExists(branch string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = g.Workspace
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("checking branch %s: %w", branch, err)
}

// EnsureOrphanBranch checks out branch, creating it as an orphan (no
// shared history with any other branch) if it does not exist yet. The
// gitgov-state branch is orphaned so its history never mixes with
// source history, per spec.md §7.1.
func (g *Git) EnsureOrphanBranch(branch string) error {
	exists, err := g.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		_, err := g.run("checkout", branch)
		return err
	}
	if _, err := g.run("checkout", "--orphan", branch); err != nil {
		return err
	}
	if _, err := g.run("rm", "-rf", "--cached", "."); err != nil {
		return err
	}
	return nil
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(branch string) error {
	_, err := g.run("checkout", branch)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// AddAll stages every change under workspace.
func (g *Git) AddAll() error {
	_, err := g.run("add", "-A")
	return err
}

// Commit records a commit with message, optionally appending trailers
// (e.g. "Gitgov-Resolution: rebase") as "Key: Value" lines.
func (g *Git) Commit(message string, trailers map[string]string) error {
	full := message
	if len(trailers) > 0 {
		full += "\n\n"
		for k, v := range trailers {
			full += fmt.Sprintf("%s: %s\n", k, v)
		}
	}
	_, err := g.run("commit", "--allow-empty", "-m", full)
	return err
}

// Fetch fetches branch from remote.
func (g *Git) Fetch(remote, branch string) error {
	_, err := g.run("fetch", remote, branch)
	return err
}

// Push pushes the current HEAD to remote/branch.
func (g *Git) Push(remote, branch string, force bool) error {
	args := []string{"push", remote, "HEAD:" + branch}
	if force {
		args = append(args, "--force-with-lease")
	}
	_, err := g.run(args...)
	return err
}

// Rebase rebases the current branch onto upstream. On conflict it
// returns ErrMergeConflict wrapped with the raw git output, and leaves
// the rebase in progress for the caller to abort or resolve.
func (g *Git) Rebase(upstream string) error {
	_, err := g.run("rebase", upstream)
	if err == nil {
		return nil
	}
	status, _ := g.run("status", "--porcelain")
	if strings.Contains(status, "UU ") || isConflictErr(err) {
		return fmt.Errorf("%w: %s", ErrMergeConflict, err.Error())
	}
	return err
}

func isConflictErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict") || strings.Contains(msg, "could not apply")
}

// RebaseAbort aborts an in-progress rebase.
func (g *Git) RebaseAbort() error {
	_, err := g.run("rebase", "--abort")
	return err
}

// Log returns up to limit commits reachable from ref (default HEAD).
func (g *Git) Log(ref string, limit int) ([]Commit, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := g.run("log", fmt.Sprintf("-n%d", limit), "--pretty=format:%H|%s|%an|%ai", ref)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		date, perr := time.Parse("2006-01-02 15:04:05 -0700", parts[3])
		if perr != nil {
			continue
		}
		commits = append(commits, Commit{Hash: parts[0], Message: parts[1], Author: parts[2], Date: date})
	}
	return commits, nil
}

// Diff returns the diff between two refs.
func (g *Git) Diff(from, to string) (string, error) {
	return g.run("diff", from, to)
}

// ChangedFiles lists paths that differ between since and the working
// tree, used by the source auditor's changedSince scope.
func (g *Git) ChangedFiles(since string) ([]string, error) {
	out, err := g.run("diff", "--name-only", since)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// ShowFile reads the content of path as it exists at ref, without
// checking the ref out. The sync engine uses this to read the
// gitgov-state branch's record tree while staying on the working
// branch, per spec.md §7.2.
func (g *Git) ShowFile(ref, path string) (string, error) {
	return g.run("show", fmt.Sprintf("%s:%s", ref, path))
}

// ListTree enumerates every blob path under ref's tree, recursively.
// The sync engine uses this to discover what a bootstrap from
// gitgov-state must materialise, per spec.md §4.9.
func (g *Git) ListTree(ref string) ([]string, error) {
	out, err := g.run("ls-tree", "-r", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

// RefExists reports whether ref resolves to a commit.
func (g *Git) RefExists(ref string) (bool, error) {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", ref)
	cmd.Dir = g.Workspace
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// HeadHash returns the current commit hash.
func (g *Git) HeadHash() (string, error) {
	return g.run("rev-parse", "HEAD")
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
