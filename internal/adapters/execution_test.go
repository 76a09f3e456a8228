package adapters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/identity"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
	"github.com/gitgovernance/core/internal/workflow"
)

type executionHarness struct {
	backlog    *BacklogAdapter
	executions *ExecutionAdapter
}

func newExecutionHarness(t *testing.T) executionHarness {
	t.Helper()
	dir := t.TempDir()

	actorStore := recordstore.New[records.Actor](filepath.Join(dir, "actors"), records.TypeActor, nil, nil)

	bus := eventbus.New()
	sess := &memSession{}
	idMgr := identity.NewManager(actorStore, newMemKeys(), sess, bus)

	taskStore := recordstore.New[records.Task](filepath.Join(dir, "tasks"), records.TypeTask, nil, idMgr.ResolvePublicKey)
	cycleStore := recordstore.New[records.Cycle](filepath.Join(dir, "cycles"), records.TypeCycle, nil, idMgr.ResolvePublicKey)
	executionStore := recordstore.New[records.Execution](filepath.Join(dir, "executions"), records.TypeExecution, nil, idMgr.ResolvePublicKey)

	_, err := idMgr.CreateActor(records.Actor{ID: "human:lead-dev", Type: records.ActorHuman, Roles: []string{"developer", "approver"}})
	require.NoError(t, err)
	require.NoError(t, sess.SetCurrentActor("human:lead-dev"))

	methodPath := filepath.Join(dir, "methodology.toml")
	require.NoError(t, os.WriteFile(methodPath, []byte(testMethodology), 0o644))
	registry := workflow.NewRegistry(nil)
	method, err := workflow.LoadMethodology(methodPath, registry)
	require.NoError(t, err)

	backlog := NewBacklogAdapter(taskStore, cycleStore, idMgr, idMgr, bus, method, registry)
	execution := NewExecutionAdapter(executionStore, taskStore, idMgr, bus, method, registry)
	return executionHarness{backlog: backlog, executions: execution}
}

// readyTask drives a freshly created task through draft -> review -> ready.
func (h executionHarness) readyTask(t *testing.T) *records.Task {
	t.Helper()
	task, err := h.backlog.CreateTask(records.Task{ID: "t1", Title: "Fix auth bug"}, "human:lead-dev")
	require.NoError(t, err)
	task, err = h.backlog.SubmitTask(task.ID, "human:lead-dev")
	require.NoError(t, err)
	task, err = h.backlog.ApproveTask(task.ID, "human:lead-dev")
	require.NoError(t, err)
	require.Equal(t, records.TaskReady, task.Status)
	return task
}

func TestExecutionAdapter_Create_ProgressAutoActivatesReadyTask(t *testing.T) {
	h := newExecutionHarness(t)
	task := h.readyTask(t)

	_, err := h.executions.Create(records.Execution{TaskID: task.ID, Type: records.ExecProgress, Title: "started work", Result: "in progress"}, "human:lead-dev")
	require.NoError(t, err)

	got, _, err := h.executions.tasks.GetTyped(task.ID)
	require.NoError(t, err)
	require.Equal(t, records.TaskActive, got.Status)
}

func TestExecutionAdapter_Create_AnalysisDoesNotActivate(t *testing.T) {
	h := newExecutionHarness(t)
	task := h.readyTask(t)

	_, err := h.executions.Create(records.Execution{TaskID: task.ID, Type: records.ExecAnalysis, Title: "scoped the fix", Result: "analysis done"}, "human:lead-dev")
	require.NoError(t, err)

	got, _, err := h.executions.tasks.GetTyped(task.ID)
	require.NoError(t, err)
	require.Equal(t, records.TaskReady, got.Status, "analysis reports must not auto-activate a ready task")
}

func TestExecutionAdapter_Create_InfoDoesNotActivate(t *testing.T) {
	h := newExecutionHarness(t)
	task := h.readyTask(t)

	_, err := h.executions.Create(records.Execution{TaskID: task.ID, Type: records.ExecInfo, Title: "context note", Result: "fyi"}, "human:lead-dev")
	require.NoError(t, err)

	got, _, err := h.executions.tasks.GetTyped(task.ID)
	require.NoError(t, err)
	require.Equal(t, records.TaskReady, got.Status)
}

func TestExecutionAdapter_Create_RejectsUnknownTask(t *testing.T) {
	h := newExecutionHarness(t)
	_, err := h.executions.Create(records.Execution{TaskID: "does-not-exist", Type: records.ExecProgress, Title: "x", Result: "y"}, "human:lead-dev")
	var broken *BrokenReference
	require.ErrorAs(t, err, &broken)
}

func TestExecutionAdapter_Create_RejectsDuplicateID(t *testing.T) {
	h := newExecutionHarness(t)
	task := h.readyTask(t)

	exec, err := h.executions.Create(records.Execution{ID: "exec-1", TaskID: task.ID, Type: records.ExecProgress, Title: "a", Result: "b"}, "human:lead-dev")
	require.NoError(t, err)

	_, err = h.executions.Create(records.Execution{ID: exec.ID, TaskID: task.ID, Type: records.ExecProgress, Title: "a", Result: "b"}, "human:lead-dev")
	var dup *DuplicateRecord
	require.ErrorAs(t, err, &dup)
}
