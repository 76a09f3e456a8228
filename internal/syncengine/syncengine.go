package syncengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/gitexec"
	"github.com/gitgovernance/core/internal/records"
)

const stateBranch = "gitgov-state"
const commitMessage = "gitgov: sync state"

// RawStore is the subset of recordstore.Store[T] the sync engine needs:
// enumerate and fetch records without committing to a payload type.
type RawStore interface {
	List() ([]string, error)
	Get(id string) (*records.Record, error)
}

// Mirror names the record directories the engine materialises onto the
// gitgov-state branch, matching the watcher's directory layout.
type Mirror struct {
	DirName string
	Store   RawStore
}

// PushResult reports the outcome of PushState.
type PushResult struct {
	Pushed     bool
	DryRun     bool
	CommitHash string
	DiffPlan   string
}

// PullResult reports the outcome of PullState.
type PullResult struct {
	FastForwarded    bool
	ConflictDetected bool
}

// ResolveResult reports the outcome of ResolveConflict.
type ResolveResult struct {
	CommitHash string
}

// AuditReport summarises a walk of the gitgov-state branch history.
type AuditReport struct {
	TotalCommits        int
	RebaseCommits       int
	ResolutionCommits   int
	IntegrityViolations []string
}

// Engine drives the gitgov-state sync workflow described in spec.md §4.9.
type Engine struct {
	git     *gitexec.Git
	mirrors []Mirror
	remote  string
	cache   *AuditCache
	clock   func() time.Time
	log     *logrus.Entry
}

// New wires an Engine around a gitexec.Git rooted at the project
// workspace, the set of record stores to mirror, and the git remote
// name to push/fetch against ("origin" in the common case).
func New(git *gitexec.Git, mirrors []Mirror, remote string) *Engine {
	return &Engine{
		git: git, mirrors: mirrors, remote: remote, clock: time.Now,
		log: logrus.WithField("component", "syncengine"),
	}
}

// WithAuditCache attaches a local commit-ledger cache so AuditState
// can skip re-verifying commits it has already recorded.
func (e *Engine) WithAuditCache(cache *AuditCache) *Engine {
	e.cache = cache
	return e
}

// PushState materialises every record from the mirrored stores onto the
// gitgov-state branch, commits, and pushes. dryRun computes the diff
// plan only and leaves the branch untouched.
func (e *Engine) PushState(actorID string, dryRun, force bool) (*PushResult, error) {
	originalBranch, err := e.git.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("push state: %w", err)
	}

	plan, err := e.diffPlan()
	if err != nil {
		return nil, fmt.Errorf("push state: computing diff plan: %w", err)
	}
	if dryRun {
		return &PushResult{DryRun: true, DiffPlan: plan}, nil
	}

	if err := e.git.EnsureOrphanBranch(stateBranch); err != nil {
		return nil, fmt.Errorf("push state: %w", err)
	}
	defer e.git.Checkout(originalBranch)

	if err := e.materialiseRecords(); err != nil {
		return nil, fmt.Errorf("push state: materialising records: %w", err)
	}

	if err := e.git.AddAll(); err != nil {
		return nil, fmt.Errorf("push state: %w", err)
	}
	if err := e.git.Commit(commitMessage, map[string]string{"Gitgov-Actor": actorID}); err != nil {
		return nil, fmt.Errorf("push state: %w", err)
	}

	hash, err := e.git.HeadHash()
	if err != nil {
		return nil, fmt.Errorf("push state: %w", err)
	}

	if err := e.git.Push(e.remote, stateBranch, force); err != nil {
		return nil, &RemoteUnreachable{Remote: e.remote, Cause: err}
	}

	return &PushResult{Pushed: true, CommitHash: hash}, nil
}

// PullState fetches gitgov-state from remote and fast-forwards the
// local branch if possible; otherwise it reports ConflictDetected
// without mutating local state.
func (e *Engine) PullState(forceReindex bool) (*PullResult, error) {
	if err := e.git.Fetch(e.remote, stateBranch); err != nil {
		return nil, &RemoteUnreachable{Remote: e.remote, Cause: err}
	}

	localExists, err := e.git.RefExists("refs/heads/" + stateBranch)
	if err != nil {
		return nil, fmt.Errorf("pull state: %w", err)
	}
	if !localExists {
		return &PullResult{FastForwarded: true}, nil
	}

	originalBranch, err := e.git.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("pull state: %w", err)
	}
	if err := e.git.Checkout(stateBranch); err != nil {
		return nil, fmt.Errorf("pull state: %w", err)
	}
	defer e.git.Checkout(originalBranch)

	if err := e.git.Rebase(e.remote + "/" + stateBranch); err != nil {
		if err := e.git.RebaseAbort(); err != nil {
			e.log.WithError(err).Warn("rebase abort failed during conflict detection")
		}
		return &PullResult{ConflictDetected: true}, nil
	}

	return &PullResult{FastForwarded: true}, nil
}

// ResolveConflict rebases the local gitgov-state branch onto remote and
// records a resolution commit carrying {reason, actorId}.
func (e *Engine) ResolveConflict(reason, actorID string) (*ResolveResult, error) {
	originalBranch, err := e.git.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	if err := e.git.Checkout(stateBranch); err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	defer e.git.Checkout(originalBranch)

	if err := e.git.Rebase(e.remote + "/" + stateBranch); err != nil {
		return nil, &RebaseFailed{Cause: err}
	}

	if err := e.git.Commit(commitMessage, map[string]string{
		"Gitgov-Resolution": "rebase",
		"Gitgov-Reason":     reason,
		"Gitgov-Actor":      actorID,
	}); err != nil {
		return nil, fmt.Errorf("resolve conflict: recording resolution commit: %w", err)
	}

	hash, err := e.git.HeadHash()
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	return &ResolveResult{CommitHash: hash}, nil
}

// AuditState walks the gitgov-state branch history, counting commit
// kinds and re-verifying record checksums (and signatures, if resolve
// is provided).
func (e *Engine) AuditState(resolve envelope.ResolvePublicKey, verifyChecksums bool) (*AuditReport, error) {
	commits, err := e.git.Log(stateBranch, 0)
	if err != nil {
		return nil, fmt.Errorf("audit state: %w", err)
	}

	report := &AuditReport{TotalCommits: len(commits)}
	for _, c := range commits {
		kind := "commit"
		if strings.Contains(c.Message, "Gitgov-Resolution") || strings.HasPrefix(c.Message, "rebase") {
			report.RebaseCommits++
			kind = "resolution"
		}
		if e.cache != nil {
			if cached, err := e.cache.Has(c.Hash); err == nil && !cached {
				if err := e.cache.Record(c.Hash, kind, c.Message, 0); err != nil {
					e.log.WithError(err).Warn("failed to record commit in audit cache")
				}
			}
		}
	}

	if verifyChecksums {
		for _, m := range e.mirrors {
			ids, err := m.Store.List()
			if err != nil {
				continue
			}
			for _, id := range ids {
				rec, err := m.Store.Get(id)
				if err != nil {
					report.IntegrityViolations = append(report.IntegrityViolations, fmt.Sprintf("%s/%s: %v", m.DirName, id, err))
					continue
				}
				checksum, err := envelope.ComputeChecksum(rec.Payload)
				if err != nil || checksum != rec.Header.PayloadChecksum {
					report.IntegrityViolations = append(report.IntegrityViolations, fmt.Sprintf("%s/%s: checksum mismatch", m.DirName, id))
					continue
				}
				if resolve != nil {
					if err := envelope.Verify(*rec, resolve); err != nil {
						report.IntegrityViolations = append(report.IntegrityViolations, fmt.Sprintf("%s/%s: %v", m.DirName, id, err))
					}
				}
			}
		}
	}

	return report, nil
}

// BootstrapFromStateBranch materialises the gitgov-state branch content
// into a fresh .gitgov/ directory, used when the project root has no
// local state but a remote gitgov-state branch exists.
func (e *Engine) BootstrapFromStateBranch(root string) error {
	if err := e.git.Fetch(e.remote, stateBranch); err != nil {
		return &RemoteUnreachable{Remote: e.remote, Cause: err}
	}
	remoteRef := e.remote + "/" + stateBranch

	for _, m := range e.mirrors {
		dir := filepath.Join(root, ".gitgov", m.DirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	paths, err := e.git.ListTree(remoteRef)
	if err != nil {
		return fmt.Errorf("bootstrap: listing %s: %w", remoteRef, err)
	}

	for _, path := range paths {
		content, err := e.git.ShowFile(remoteRef, path)
		if err != nil {
			return fmt.Errorf("bootstrap: reading %s: %w", path, err)
		}
		dst := filepath.Join(root, ".gitgov", path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return fmt.Errorf("bootstrap: writing %s: %w", dst, err)
		}
	}

	return nil
}

func (e *Engine) materialiseRecords() error {
	for _, m := range e.mirrors {
		ids, err := m.Store.List()
		if err != nil {
			return fmt.Errorf("listing %s: %w", m.DirName, err)
		}
		dir := filepath.Join(e.git.Workspace, m.DirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := m.Store.Get(id)
			if err != nil {
				return fmt.Errorf("reading %s/%s: %w", m.DirName, id, err)
			}
			blob, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, id+".json"), blob, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) diffPlan() (string, error) {
	var b strings.Builder
	for _, m := range e.mirrors {
		ids, err := m.Store.List()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s: %d record(s)\n", m.DirName, len(ids))
	}
	return b.String(), nil
}
