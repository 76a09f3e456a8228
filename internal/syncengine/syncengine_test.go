package syncengine

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/gitexec"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return string(out)
}

// initRepoWithRemote sets up a local working repo with a bare "origin"
// remote, mirroring the gitexec_test.go fixture pattern.
func initRepoWithRemote(t *testing.T) (local, remote string) {
	t.Helper()
	remote = t.TempDir()
	runGit(t, remote, "init", "-q", "--bare")

	local = t.TempDir()
	runGit(t, local, "init", "-q")
	runGit(t, local, "config", "user.email", "test@example.com")
	runGit(t, local, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(local, "README.md"), []byte("hello"), 0o644))
	runGit(t, local, "add", "-A")
	runGit(t, local, "commit", "-q", "-m", "initial")
	runGit(t, local, "remote", "add", "origin", remote)
	return local, remote
}

func newTaskStore(t *testing.T, dir string) *recordstore.Store[records.Task] {
	t.Helper()
	return recordstore.New[records.Task](dir, records.TypeTask, nil, nil)
}

func putTask(t *testing.T, store *recordstore.Store[records.Task], payload records.Task) {
	t.Helper()
	checksum, err := envelope.ComputeChecksum(payload)
	require.NoError(t, err)
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeTask,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{{KeyID: "human:lead-dev", Role: "author", Signature: "sig", Timestamp: 1000}},
		},
		Payload: payload,
	}
	require.NoError(t, store.Put(payload.ID, rec))
}

func TestPushState_DryRunComputesPlanWithoutMutatingBranch(t *testing.T) {
	local, _ := initRepoWithRemote(t)
	tasks := newTaskStore(t, filepath.Join(local, "tasks-src"))
	putTask(t, tasks, records.Task{ID: "t1", Title: "a", Status: records.TaskDraft})

	g := gitexec.New(local)
	engine := New(g, []Mirror{{DirName: "tasks", Store: tasks}}, "origin")

	originalBranch, err := g.CurrentBranch()
	require.NoError(t, err)

	result, err := engine.PushState("human:lead-dev", true, false)
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Contains(t, result.DiffPlan, "tasks: 1 record(s)")

	branch, err := g.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, originalBranch, branch)
}

func TestPushState_MaterialisesCommitsAndPushesToRemote(t *testing.T) {
	local, remote := initRepoWithRemote(t)
	tasks := newTaskStore(t, filepath.Join(local, "tasks-src"))
	putTask(t, tasks, records.Task{ID: "t1", Title: "a", Status: records.TaskDraft})

	g := gitexec.New(local)
	engine := New(g, []Mirror{{DirName: "tasks", Store: tasks}}, "origin")

	originalBranch, err := g.CurrentBranch()
	require.NoError(t, err)

	result, err := engine.PushState("human:lead-dev", false, false)
	require.NoError(t, err)
	require.True(t, result.Pushed)
	require.NotEmpty(t, result.CommitHash)

	branch, err := g.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, originalBranch, branch)

	out := runGit(t, remote, "branch", "--list", "gitgov-state")
	require.Contains(t, out, "gitgov-state")

	require.FileExists(t, filepath.Join(local, "tasks", "t1.json"))
}

func TestAuditState_DetectsChecksumMismatch(t *testing.T) {
	local, _ := initRepoWithRemote(t)
	dir := filepath.Join(local, "tasks-src")
	tasks := newTaskStore(t, dir)
	putTask(t, tasks, records.Task{ID: "t1", Title: "a", Status: records.TaskDraft})

	g := gitexec.New(local)
	engine := New(g, []Mirror{{DirName: "tasks", Store: tasks}}, "origin")

	_, err := engine.PushState("human:lead-dev", false, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "t1.json"),
		[]byte(`{"header":{"version":1,"type":"task","payloadChecksum":"bogus","signatures":[]},"payload":{"id":"t1","title":"tampered"}}`), 0o644))

	report, err := engine.AuditState(nil, true)
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.TotalCommits, 1)
	require.NotEmpty(t, report.IntegrityViolations)
}

func TestAuditCache_RecordsCommitsSeenDuringAudit(t *testing.T) {
	local, _ := initRepoWithRemote(t)
	dir := filepath.Join(local, "tasks-src")
	tasks := newTaskStore(t, dir)
	putTask(t, tasks, records.Task{ID: "t1", Title: "a", Status: records.TaskDraft})

	g := gitexec.New(local)
	cache, err := OpenAuditCache(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer cache.Close()

	engine := New(g, []Mirror{{DirName: "tasks", Store: tasks}}, "origin").WithAuditCache(cache)

	_, err = engine.PushState("human:lead-dev", false, false)
	require.NoError(t, err)

	report, err := engine.AuditState(nil, false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.TotalCommits, 1)

	count, err := cache.Count("commit")
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
}

func TestBootstrapFromStateBranch_MaterialisesRecordContent(t *testing.T) {
	local, remote := initRepoWithRemote(t)
	tasks := newTaskStore(t, filepath.Join(local, "tasks-src"))
	putTask(t, tasks, records.Task{ID: "t1", Title: "a", Status: records.TaskDraft})

	pushEngine := New(gitexec.New(local), []Mirror{{DirName: "tasks", Store: tasks}}, "origin")
	_, err := pushEngine.PushState("human:lead-dev", false, false)
	require.NoError(t, err)

	fresh := t.TempDir()
	runGit(t, fresh, "clone", "-q", remote, ".")
	runGit(t, fresh, "config", "user.email", "test@example.com")
	runGit(t, fresh, "config", "user.name", "Test")

	bootstrapEngine := New(gitexec.New(fresh), []Mirror{{DirName: "tasks", Store: newTaskStore(t, filepath.Join(fresh, "unused"))}}, "origin")
	require.NoError(t, bootstrapEngine.BootstrapFromStateBranch(fresh))

	require.FileExists(t, filepath.Join(fresh, ".gitgov", "tasks", "t1.json"))
	content, err := os.ReadFile(filepath.Join(fresh, ".gitgov", "tasks", "t1.json"))
	require.NoError(t, err)
	require.Contains(t, string(content), `"id": "t1"`)

	pulledStore := newTaskStore(t, filepath.Join(fresh, ".gitgov", "tasks"))
	ids, err := pulledStore.List()
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ids)
}

func TestPullState_FastForwardsWhenNoLocalBranchExists(t *testing.T) {
	local, _ := initRepoWithRemote(t)
	g := gitexec.New(local)
	engine := New(g, nil, "origin")

	result, err := engine.PullState(false)
	require.NoError(t, err)
	require.True(t, result.FastForwarded)
	require.False(t, result.ConflictDetected)
}
