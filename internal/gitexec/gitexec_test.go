package gitexec

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestEnsureOrphanBranch_CreatesAndReentersIdempotently(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	originalBranch, err := g.CurrentBranch()
	require.NoError(t, err)

	require.NoError(t, g.EnsureOrphanBranch("gitgov-state"))
	branch, err := g.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "gitgov-state", branch)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{}"), 0o644))
	require.NoError(t, g.AddAll())
	require.NoError(t, g.Commit("initial state", nil))

	require.NoError(t, g.Checkout(originalBranch))
	require.NoError(t, g.EnsureOrphanBranch("gitgov-state"))
	branch, err = g.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "gitgov-state", branch)
}

func TestCommit_WithTrailers(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	require.NoError(t, g.Commit("sync: resolve conflict", map[string]string{"Gitgov-Resolution": "rebase"}))

	commits, err := g.Log("HEAD", 1)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Equal(t, "sync: resolve conflict", commits[0].Message)
}

func TestShowFile_ReadsBlobWithoutCheckout(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	content, err := g.ShowFile("HEAD", "README.md")
	require.NoError(t, err)
	require.Equal(t, "hello", content)

	branch, err := g.CurrentBranch()
	require.NoError(t, err)
	require.NotEqual(t, "", branch)
}

func TestListTree_EnumeratesBlobsRecursively(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tasks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks", "t1.json"), []byte("{}"), 0o644))
	require.NoError(t, g.AddAll())
	require.NoError(t, g.Commit("add task", nil))

	paths, err := g.ListTree("HEAD")
	require.NoError(t, err)
	require.Contains(t, paths, "README.md")
	require.Contains(t, paths, "tasks/t1.json")
}

func TestRefExists(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	exists, err := g.RefExists("HEAD")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = g.RefExists("refs/heads/does-not-exist")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestBranchExists(t *testing.T) {
	dir := initRepo(t)
	g := New(dir)

	branch, err := g.CurrentBranch()
	require.NoError(t, err)

	exists, err := g.BranchExists(branch)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = g.BranchExists("no-such-branch")
	require.NoError(t, err)
	require.False(t, exists)
}
