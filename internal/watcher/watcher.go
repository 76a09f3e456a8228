// Package watcher observes the record directories under a .gitgov/
// project root and emits debounced, checksum-verified events onto the
// event bus, per spec.md §4.7.
package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/records"
)

// ProjectNotInitialized is returned by Start when the project root has
// no .gitgov/ directory.
type ProjectNotInitialized struct {
	Root string
}

func (e *ProjectNotInitialized) Error() string {
	return fmt.Sprintf("%s is not a GitGovernance project (missing .gitgov/)", e.Root)
}

// WatcherSetupError wraps an underlying fsnotify failure.
type WatcherSetupError struct {
	Dir   string
	Cause error
}

func (e *WatcherSetupError) Error() string {
	return fmt.Sprintf("setting up watcher for %s: %v", e.Dir, e.Cause)
}

func (e *WatcherSetupError) Unwrap() error { return e.Cause }

// ChecksumMismatch is logged-and-skipped by the watcher, never returned
// to a caller, but is exported so tests can assert on it via the status
// report's LastError field.
type ChecksumMismatch struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("%s: checksum mismatch expected=%s actual=%s", e.Path, e.Expected, e.Actual)
}

// watchedDirs are the per-type record directories observed under the
// project root, per spec.md §4.7.
var watchedDirs = map[string]records.RecordType{
	"tasks":      records.TypeTask,
	"cycles":     records.TypeCycle,
	"actors":     records.TypeActor,
	"agents":     records.TypeAgent,
	"executions": records.TypeExecution,
	"feedback":   records.TypeFeedback,
	"changelogs": records.TypeChangelog,
}

// Status reports the watcher's current operating state, per the
// getStatus() contract in spec.md §4.7.
type Status struct {
	Running        bool
	WatchedDirs    []string
	EventsEmitted  int64
	LastError      error
}

// Watcher observes the record directories of a GitGovernance project
// root and publishes watcher.record.* events after debouncing raw
// filesystem churn.
type Watcher struct {
	root           string
	debounceWindow time.Duration
	bus            *eventbus.Bus
	log            *logrus.Entry

	fsw *fsnotify.Watcher

	mu          sync.Mutex
	running     bool
	dirs        []string
	checksums   map[string]string // file path -> last observed payloadChecksum
	timers      map[string]*time.Timer
	eventsCount int64
	lastErr     error

	done chan struct{}
}

// New constructs a Watcher rooted at root, publishing to bus, with the
// given debounce window (0 defaults to 300ms per spec.md §4.7).
func New(root string, bus *eventbus.Bus, debounceWindow time.Duration) *Watcher {
	if debounceWindow <= 0 {
		debounceWindow = 300 * time.Millisecond
	}
	return &Watcher{
		root:           root,
		debounceWindow: debounceWindow,
		bus:            bus,
		log:            logrus.WithField("component", "watcher"),
		checksums:      make(map[string]string),
		timers:         make(map[string]*time.Timer),
	}
}

// Start verifies the project is initialised, attaches per-directory
// watchers for every existing record subdirectory, and begins
// processing filesystem events in a background goroutine.
func (w *Watcher) Start() error {
	if _, err := os.Stat(filepath.Join(w.root, ".gitgov")); err != nil {
		return &ProjectNotInitialized{Root: w.root}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return &WatcherSetupError{Dir: w.root, Cause: err}
	}
	w.fsw = fsw

	var attached []string
	for dirName := range watchedDirs {
		dir := filepath.Join(w.root, ".gitgov", dirName)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return &WatcherSetupError{Dir: dir, Cause: err}
		}
		attached = append(attached, dir)
	}

	w.mu.Lock()
	w.dirs = attached
	w.running = true
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run()
	return nil
}

// Stop cancels pending debounce timers and closes the underlying
// watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	done := w.done
	w.mu.Unlock()

	if w.fsw != nil {
		w.fsw.Close()
	}
	<-done
}

// GetStatus reports the watcher's running state, attached directories,
// cumulative events emitted, and last error.
func (w *Watcher) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make([]string, len(w.dirs))
	copy(dirs, w.dirs)
	return Status{Running: w.running, WatchedDirs: dirs, EventsEmitted: w.eventsCount, LastError: w.lastErr}
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRawEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.lastErr = err
			w.mu.Unlock()
			w.log.WithError(err).Error("fsnotify error")
		}
	}
}

func (w *Watcher) handleRawEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0 {
		w.scheduleDebounced(event.Name, true)
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		w.scheduleDebounced(event.Name, false)
	}
}

// scheduleDebounced coalesces repeated raw events for the same path
// into a single logical evaluation, fired debounceWindow after the most
// recent raw event — per the property-8.4 quiescence guarantee.
func (w *Watcher) scheduleDebounced(path string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounceWindow, func() {
		if removed {
			w.evaluateRemoval(path)
		} else {
			w.evaluateWrite(path)
		}
	})
}

func (w *Watcher) evaluateRemoval(path string) {
	w.mu.Lock()
	_, had := w.checksums[path]
	delete(w.checksums, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if !had {
		return
	}
	recType, id := recordTypeAndIDForPath(path)
	w.emit(eventbus.EventRecordDeleted, recType, id, path)
}

func (w *Watcher) evaluateWrite(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	w.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		// File may have been removed between the debounce firing and
		// the read; treat as a no-op, the Remove event (if any) handles it.
		return
	}

	var rec records.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		w.log.WithField("path", path).WithError(err).Warn("skipping unparsable record file")
		return
	}

	checksum, err := envelope.ComputeChecksum(rec.Payload)
	if err != nil {
		w.log.WithField("path", path).WithError(err).Warn("skipping record: could not compute checksum")
		return
	}
	if checksum != rec.Header.PayloadChecksum {
		mismatch := &ChecksumMismatch{Path: path, Expected: rec.Header.PayloadChecksum, Actual: checksum}
		w.mu.Lock()
		w.lastErr = mismatch
		w.mu.Unlock()
		w.log.WithField("path", path).Warn(mismatch.Error())
		return
	}

	w.mu.Lock()
	prev, existed := w.checksums[path]
	if existed && prev == checksum {
		w.mu.Unlock()
		return
	}
	w.checksums[path] = checksum
	w.mu.Unlock()

	recType, id := recordTypeAndIDForPath(path)
	if existed {
		w.emit(eventbus.EventRecordChanged, recType, id, path)
	} else {
		w.emit(eventbus.EventRecordAdded, recType, id, path)
	}
}

func (w *Watcher) emit(eventType string, recType records.RecordType, id, path string) {
	w.mu.Lock()
	w.eventsCount++
	w.mu.Unlock()

	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{
		Type:   eventType,
		Source: "watcher",
		Payload: map[string]any{
			"recordType": recType,
			"recordId":   id,
			"filePath":   path,
		},
	})
}

func recordTypeAndIDForPath(path string) (records.RecordType, string) {
	dir := filepath.Base(filepath.Dir(path))
	recType, ok := watchedDirs[dir]
	if !ok {
		recType = records.TypeCustom
	}
	base := filepath.Base(path)
	id := base[:len(base)-len(filepath.Ext(base))]
	return recType, id
}
