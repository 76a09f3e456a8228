package projector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

func ensureGitgovDir(root string) error {
	return os.MkdirAll(filepath.Join(root, ".gitgov"), 0o755)
}

func putTask(t *testing.T, store *recordstore.Store[records.Task], payload records.Task, ts int64) {
	t.Helper()
	checksum, err := envelope.ComputeChecksum(payload)
	require.NoError(t, err)
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeTask,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{{KeyID: "human:lead-dev", Role: "author", Signature: "sig", Timestamp: ts}},
		},
		Payload: payload,
	}
	require.NoError(t, store.Put(payload.ID, rec))
}

func newTestProjector(t *testing.T) (*Projector, *recordstore.Store[records.Task], *recordstore.Store[records.Execution]) {
	t.Helper()
	dir := t.TempDir()
	tasks := recordstore.New[records.Task](filepath.Join(dir, "tasks"), records.TypeTask, nil, nil)
	cycles := recordstore.New[records.Cycle](filepath.Join(dir, "cycles"), records.TypeCycle, nil, nil)
	actors := recordstore.New[records.Actor](filepath.Join(dir, "actors"), records.TypeActor, nil, nil)
	feedback := recordstore.New[records.Feedback](filepath.Join(dir, "feedback"), records.TypeFeedback, nil, nil)
	executions := recordstore.New[records.Execution](filepath.Join(dir, "executions"), records.TypeExecution, nil, nil)

	sink := NewMemorySink()
	p := New(tasks, cycles, actors, feedback, executions, sink, "test-repo")
	return p, tasks, executions
}

func putExecution(t *testing.T, store *recordstore.Store[records.Execution], payload records.Execution, ts int64) {
	t.Helper()
	checksum, err := envelope.ComputeChecksum(payload)
	require.NoError(t, err)
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeExecution,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{{KeyID: "human:lead-dev", Role: "reporter", Signature: "sig", Timestamp: ts}},
		},
		Payload: payload,
	}
	require.NoError(t, store.Put(payload.ID, rec))
}

func TestComputeProjection_EmptyStores_NoNaNHealth(t *testing.T) {
	p, _, _ := newTestProjector(t)
	data, err := p.ComputeProjection()
	require.NoError(t, err)
	require.Equal(t, 0, data.Metadata.RecordCounts[records.TypeTask])
	require.Equal(t, 100, data.Metrics.HealthScore)
	require.Empty(t, data.DerivedStates.StalledTasks)
}

func TestComputeProjection_CountsTasksByStatus(t *testing.T) {
	p, tasks, _ := newTestProjector(t)
	putTask(t, tasks, records.Task{ID: "t1", Title: "a", Status: records.TaskDraft}, 1000)
	putTask(t, tasks, records.Task{ID: "t2", Title: "b", Status: records.TaskActive}, 1000)
	putTask(t, tasks, records.Task{ID: "t3", Title: "c", Status: records.TaskActive}, 1000)

	data, err := p.ComputeProjection()
	require.NoError(t, err)
	require.Equal(t, 1, data.Metrics.TasksByStatus[records.TaskDraft])
	require.Equal(t, 2, data.Metrics.TasksByStatus[records.TaskActive])
	require.Len(t, data.EnrichedTasks, 3)
}

func TestComputeProjection_BlockedByDependency(t *testing.T) {
	p, tasks, _ := newTestProjector(t)
	putTask(t, tasks, records.Task{ID: "t1", Title: "base", Status: records.TaskActive}, 1000)
	putTask(t, tasks, records.Task{ID: "t2", Title: "dependent", Status: records.TaskActive, References: []string{"t1"}}, 1000)

	data, err := p.ComputeProjection()
	require.NoError(t, err)
	require.Contains(t, data.DerivedStates.BlockedByDependencyTasks, "t2")
	require.NotContains(t, data.DerivedStates.BlockedByDependencyTasks, "t1")
}

func TestComputeProjection_LeadCycleTimeAndThroughput(t *testing.T) {
	p, tasks, executions := newTestProjector(t)
	now := time.Unix(2_000_000, 0)
	p.clock = func() time.Time { return now }

	createdAt := now.Add(-5 * 24 * time.Hour)
	startedAt := now.Add(-3 * 24 * time.Hour)
	doneAt := now.Add(-1 * 24 * time.Hour)

	taskID := records.TimeIndexedID(createdAt.Unix(), "task", "fix auth bug")
	putTask(t, tasks, records.Task{ID: taskID, Title: "fix auth bug", Status: records.TaskDone}, doneAt.Unix())

	execID := records.TimeIndexedID(startedAt.Unix(), "execution", "started work")
	putExecution(t, executions, records.Execution{ID: execID, TaskID: taskID, Type: records.ExecProgress, Title: "started work", Result: "in progress"}, startedAt.Unix())

	data, err := p.ComputeProjection()
	require.NoError(t, err)
	require.Equal(t, 4*24*time.Hour, data.Metrics.AverageLeadTime)
	require.Equal(t, 2*24*time.Hour, data.Metrics.AverageCycleTime)
	require.InDelta(t, 1.0/30.0, data.Metrics.Throughput, 0.0001)
	require.Len(t, data.Metrics.ActivityHistory, 1)
	require.Equal(t, 1, data.Metrics.ActivityHistory[0].Completed)
}

func TestComputeProjection_AnalysisExecutionDoesNotAnchorCycleTime(t *testing.T) {
	p, tasks, executions := newTestProjector(t)
	now := time.Unix(2_000_000, 0)
	p.clock = func() time.Time { return now }

	createdAt := now.Add(-5 * 24 * time.Hour)
	doneAt := now.Add(-1 * 24 * time.Hour)

	taskID := records.TimeIndexedID(createdAt.Unix(), "task", "fix auth bug")
	putTask(t, tasks, records.Task{ID: taskID, Title: "fix auth bug", Status: records.TaskDone}, doneAt.Unix())

	execID := records.TimeIndexedID(createdAt.Unix(), "execution", "scoped the fix")
	putExecution(t, executions, records.Execution{ID: execID, TaskID: taskID, Type: records.ExecAnalysis, Title: "scoped the fix", Result: "done"}, createdAt.Unix())

	data, err := p.ComputeProjection()
	require.NoError(t, err)
	require.Equal(t, 4*24*time.Hour, data.Metrics.AverageLeadTime)
	require.Zero(t, data.Metrics.AverageCycleTime, "analysis-only executions must not anchor cycle time")
}

func TestMemorySink_PersistReadExistsClear(t *testing.T) {
	sink := NewMemorySink()
	exists, err := sink.Exists("repo")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, sink.Persist("repo", IndexData{Metadata: Metadata{IntegrityStatus: "ok"}}))
	exists, err = sink.Exists("repo")
	require.NoError(t, err)
	require.True(t, exists)

	data, err := sink.Read("repo")
	require.NoError(t, err)
	require.Equal(t, "ok", data.Metadata.IntegrityStatus)

	require.NoError(t, sink.Clear("repo"))
	exists, err = sink.Exists("repo")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFilesystemSink_PersistThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ensureGitgovDir(dir))
	sink := NewFilesystemSink(dir)

	exists, err := sink.Exists("ignored")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, sink.Persist("ignored", IndexData{Metadata: Metadata{IntegrityStatus: "ok"}}))

	data, err := sink.Read("ignored")
	require.NoError(t, err)
	require.Equal(t, "ok", data.Metadata.IntegrityStatus)

	require.NoError(t, sink.Clear("ignored"))
	exists, err = sink.Exists("ignored")
	require.NoError(t, err)
	require.False(t, exists)
}
