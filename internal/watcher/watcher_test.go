package watcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/records"
)

func writeRecordFile(t *testing.T, path string, payload records.Task) string {
	t.Helper()
	checksum, err := envelope.ComputeChecksum(payload)
	require.NoError(t, err)
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeTask,
			PayloadChecksum: checksum,
		},
		Payload: payload,
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return checksum
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".gitgov", "tasks"), 0o755))
	return root
}

func TestWatcher_Start_FailsWithoutGitgovDir(t *testing.T) {
	root := t.TempDir()
	w := New(root, eventbus.New(), 50*time.Millisecond)
	err := w.Start()
	var notInit *ProjectNotInitialized
	require.ErrorAs(t, err, &notInit)
}

func TestWatcher_EmitsAddedEventOnNewFile(t *testing.T) {
	root := setupProject(t)
	bus := eventbus.New()

	var mu sync.Mutex
	var events []eventbus.Event
	bus.Subscribe(eventbus.EventRecordAdded, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	w := New(root, bus, 50*time.Millisecond)
	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(root, ".gitgov", "tasks", "t1.json")
	writeRecordFile(t, path, records.Task{ID: "t1", Title: "Fix auth bug", Status: records.TaskDraft})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_DebouncesRapidRewrites_S4(t *testing.T) {
	root := setupProject(t)
	bus := eventbus.New()

	var mu sync.Mutex
	var events []eventbus.Event
	bus.Subscribe(eventbus.EventRecordAdded, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	bus.Subscribe(eventbus.EventRecordChanged, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	w := New(root, bus, 300*time.Millisecond)
	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(root, ".gitgov", "tasks", "t1.json")
	checksum1 := writeRecordFile(t, path, records.Task{ID: "t1", Title: "v1"})
	_ = checksum1
	time.Sleep(10 * time.Millisecond)
	writeRecordFile(t, path, records.Task{ID: "t1", Title: "v2"})
	time.Sleep(10 * time.Millisecond)
	finalChecksum := writeRecordFile(t, path, records.Task{ID: "t1", Title: "v3"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	payload := events[0].Payload.(map[string]any)
	require.Equal(t, "t1", payload["recordId"])
	_ = finalChecksum
}

func TestWatcher_SkipsChecksumMismatch(t *testing.T) {
	root := setupProject(t)
	bus := eventbus.New()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(eventbus.EventRecordAdded, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	w := New(root, bus, 50*time.Millisecond)
	require.NoError(t, w.Start())
	defer w.Stop()

	path := filepath.Join(root, ".gitgov", "tasks", "bad.json")
	rec := records.Record{
		Header: records.Header{Version: records.CurrentEnvelopeVersion, Type: records.TypeTask, PayloadChecksum: "deadbeef"},
		Payload: records.Task{ID: "bad", Title: "corrupt"},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)

	status := w.GetStatus()
	require.Error(t, status.LastError)
}

func TestWatcher_Stop_IsIdempotentAndStopsEvents(t *testing.T) {
	root := setupProject(t)
	bus := eventbus.New()
	w := New(root, bus, 50*time.Millisecond)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()

	status := w.GetStatus()
	require.False(t, status.Running)
}
