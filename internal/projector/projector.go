package projector

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

const stalledAfter = 7 * 24 * time.Hour

// activityWindow bounds how far back Throughput and ActivityHistory look.
const activityWindow = 30 * 24 * time.Hour

// Projector builds the IndexData projection from the record stores and
// keeps a Sink's copy current, either via a full rebuild or an
// incremental update driven by the event bus.
type Projector struct {
	tasks      *recordstore.Store[records.Task]
	cycles     *recordstore.Store[records.Cycle]
	actors     *recordstore.Store[records.Actor]
	feedback   *recordstore.Store[records.Feedback]
	executions *recordstore.Store[records.Execution]

	sink           Sink
	repoIdentifier string
	clock          func() time.Time
	log            *logrus.Entry
}

// New wires a Projector around the record stores and a sink.
func New(tasks *recordstore.Store[records.Task], cycles *recordstore.Store[records.Cycle], actors *recordstore.Store[records.Actor], feedback *recordstore.Store[records.Feedback], executions *recordstore.Store[records.Execution], sink Sink, repoIdentifier string) *Projector {
	return &Projector{
		tasks: tasks, cycles: cycles, actors: actors, feedback: feedback, executions: executions,
		sink: sink, repoIdentifier: repoIdentifier, clock: time.Now,
		log: logrus.WithField("component", "projector"),
	}
}

// Subscribe registers the projector's incremental-update handler on bus
// for every watcher/adapter event; each invocation triggers a fresh full
// computeProjection, since the record stores are cheap to re-scan at
// the scale this module targets (a project's backlog, not a data
// warehouse).
func (p *Projector) Subscribe(bus *eventbus.Bus) string {
	return bus.Subscribe("*", func(e eventbus.Event) {
		if err := p.IncrementalUpdate(e); err != nil {
			p.log.WithError(err).WithField("eventType", e.Type).Error("incremental projection update failed")
		}
	})
}

// IncrementalUpdate recomputes and persists the projection in response
// to a single bus event.
func (p *Projector) IncrementalUpdate(event eventbus.Event) error {
	data, err := p.ComputeProjection()
	if err != nil {
		return err
	}
	return p.sink.Persist(p.repoIdentifier, *data)
}

// ComputeProjection walks every store and derives the full IndexData
// snapshot.
func (p *Projector) ComputeProjection() (*IndexData, error) {
	start := p.clock()

	taskIDs, err := p.tasks.List()
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	tasks := make(map[string]records.Task, len(taskIDs))
	taskUpdatedAt := make(map[string]time.Time, len(taskIDs))
	for _, id := range taskIDs {
		t, header, err := p.tasks.GetTyped(id)
		if err != nil {
			p.log.WithField("taskId", id).WithError(err).Warn("skipping unreadable task in projection")
			continue
		}
		tasks[id] = *t
		taskUpdatedAt[id] = latestSignatureTime(header)
	}

	cycleIDs, err := p.cycles.List()
	if err != nil {
		return nil, fmt.Errorf("listing cycles: %w", err)
	}
	cycles := make(map[string]records.Cycle, len(cycleIDs))
	for _, id := range cycleIDs {
		c, _, err := p.cycles.GetTyped(id)
		if err != nil {
			continue
		}
		cycles[id] = *c
	}

	actorIDs, err := p.actors.List()
	if err != nil {
		return nil, fmt.Errorf("listing actors: %w", err)
	}
	actors := make(map[string]records.Actor, len(actorIDs))
	for _, id := range actorIDs {
		a, _, err := p.actors.GetTyped(id)
		if err != nil {
			continue
		}
		actors[id] = *a
	}

	feedbackIDs, err := p.feedback.List()
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	feedbackByID := make(map[string]records.Feedback, len(feedbackIDs))
	for _, id := range feedbackIDs {
		f, _, err := p.feedback.GetTyped(id)
		if err != nil {
			continue
		}
		feedbackByID[id] = *f
	}

	firstProgressAt, err := p.firstProgressTimestamps()
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	now := p.clock()
	metrics := p.computeMetrics(tasks, cycles, taskUpdatedAt, firstProgressAt, now)
	derived := p.computeDerivedStates(tasks, feedbackByID, taskUpdatedAt, now)
	enriched := p.computeEnrichedTasks(tasks, taskUpdatedAt, now)

	recordCounts := map[records.RecordType]int{
		records.TypeTask:     len(tasks),
		records.TypeCycle:    len(cycles),
		records.TypeActor:    len(actors),
		records.TypeFeedback: len(feedbackByID),
	}

	data := &IndexData{
		Metadata: Metadata{
			GeneratedAt:     start,
			IntegrityStatus: "ok",
			RecordCounts:    recordCounts,
			GenerationTime:  p.clock().Sub(start),
		},
		Metrics:       metrics,
		DerivedStates: derived,
		EnrichedTasks: enriched,
		Tasks:         tasks,
		Cycles:        cycles,
		Actors:        actors,
		Feedback:      feedbackByID,
	}
	return data, nil
}

// firstProgressTimestamps scans the execution log for each task's
// earliest progress-or-later report, used as the "work started" anchor
// for cycle-time computation (active->done isn't otherwise observable,
// since a task's own record carries no transition history).
func (p *Projector) firstProgressTimestamps() (map[string]time.Time, error) {
	ids, err := p.executions.List()
	if err != nil {
		return nil, err
	}
	first := make(map[string]time.Time)
	for _, id := range ids {
		e, _, err := p.executions.GetTyped(id)
		if err != nil {
			p.log.WithField("executionId", id).WithError(err).Warn("skipping unreadable execution in projection")
			continue
		}
		if !e.Type.IsProgressOrLater() {
			continue
		}
		at, ok := records.CreatedAtFromID(id)
		if !ok {
			continue
		}
		if existing, seen := first[e.TaskID]; !seen || at.Before(existing) {
			first[e.TaskID] = at
		}
	}
	return first, nil
}

func (p *Projector) computeMetrics(tasks map[string]records.Task, cycles map[string]records.Cycle, updatedAt, firstProgressAt map[string]time.Time, now time.Time) Metrics {
	byStatus := make(map[records.TaskStatus]int)
	byPriority := make(map[records.TaskPriority]int)
	for _, t := range tasks {
		byStatus[t.Status]++
		byPriority[t.Priority]++
	}

	byCycleStatus := make(map[records.CycleStatus]int)
	for _, c := range cycles {
		byCycleStatus[c.Status]++
	}

	active := byStatus[records.TaskReady] + byStatus[records.TaskActive] + byStatus[records.TaskPaused]
	derived := p.computeDerivedStates(tasks, nil, updatedAt, now)

	health := 100
	if active > 0 {
		stalledPenalty := (len(derived.StalledTasks) * 100) / active
		atRiskPenalty := (len(derived.AtRiskTasks) * 100) / active
		blockedPenalty := (len(derived.BlockedByDependencyTasks) * 100) / active
		health -= stalledPenalty + atRiskPenalty + blockedPenalty
		if health < 0 {
			health = 0
		}
	}

	throughput, leadTime, cycleTime, history := p.computeActivityMetrics(tasks, updatedAt, firstProgressAt, now)

	return Metrics{
		TasksByStatus:     byStatus,
		TasksByPriority:   byPriority,
		CyclesByStatus:    byCycleStatus,
		HealthScore:       health,
		Throughput:        throughput,
		AverageLeadTime:   leadTime,
		AverageCycleTime:  cycleTime,
		ActivityHistory:   history,
	}
}

// computeActivityMetrics derives throughput and lead/cycle times from
// done tasks within activityWindow of now. A task contributes lead time
// when both its ID-embedded creation timestamp and its last-touched
// timestamp (taken as its completion time) are resolvable, and cycle
// time additionally requires an earliest progress-or-later execution.
func (p *Projector) computeActivityMetrics(tasks map[string]records.Task, updatedAt, firstProgressAt map[string]time.Time, now time.Time) (throughput float64, leadTime, cycleTime time.Duration, history []ActivityPoint) {
	windowStart := now.Add(-activityWindow)
	var leadSum, cycleSum time.Duration
	var leadCount, cycleCount int
	byDay := make(map[time.Time]int)

	for id, t := range tasks {
		if t.Status != records.TaskDone {
			continue
		}
		doneAt, ok := updatedAt[id]
		if !ok || doneAt.IsZero() || doneAt.Before(windowStart) {
			continue
		}

		if createdAt, ok := records.CreatedAtFromID(id); ok {
			leadSum += doneAt.Sub(createdAt)
			leadCount++
		}
		if startedAt, ok := firstProgressAt[id]; ok {
			cycleSum += doneAt.Sub(startedAt)
			cycleCount++
		}

		day := time.Date(doneAt.Year(), doneAt.Month(), doneAt.Day(), 0, 0, 0, 0, doneAt.Location())
		byDay[day]++
	}

	if leadCount > 0 {
		leadTime = leadSum / time.Duration(leadCount)
	}
	if cycleCount > 0 {
		cycleTime = cycleSum / time.Duration(cycleCount)
	}

	windowDays := activityWindow.Hours() / 24
	var completedInWindow int
	for _, n := range byDay {
		completedInWindow += n
	}
	if windowDays > 0 {
		throughput = float64(completedInWindow) / windowDays
	}

	history = make([]ActivityPoint, 0, len(byDay))
	for day, n := range byDay {
		history = append(history, ActivityPoint{Day: day, Completed: n})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Day.Before(history[j].Day) })

	return throughput, leadTime, cycleTime, history
}

func (p *Projector) computeDerivedStates(tasks map[string]records.Task, feedbackByID map[string]records.Feedback, updatedAt map[string]time.Time, now time.Time) DerivedStates {
	var ds DerivedStates

	for id, t := range tasks {
		if t.Status != records.TaskReady && t.Status != records.TaskActive {
			continue
		}
		last, ok := updatedAt[id]
		if ok && !last.IsZero() && now.Sub(last) > stalledAfter {
			ds.StalledTasks = append(ds.StalledTasks, id)
		}
	}

	for id, t := range tasks {
		if (t.Priority == records.PriorityCritical || t.Priority == records.PriorityHigh) && contains(ds.StalledTasks, id) {
			ds.AtRiskTasks = append(ds.AtRiskTasks, id)
		}
	}

	for _, f := range feedbackByID {
		if f.EntityType == records.EntityTask && f.Status == records.FeedbackOpen &&
			(f.Type == records.FeedbackQuestion || f.Type == records.FeedbackClarification) {
			ds.NeedsClarificationTasks = appendUniqueStr(ds.NeedsClarificationTasks, f.EntityID)
		}
	}

	for id, t := range tasks {
		for _, ref := range t.References {
			if dep, ok := tasks[ref]; ok && dep.Status != records.TaskDone {
				ds.BlockedByDependencyTasks = appendUniqueStr(ds.BlockedByDependencyTasks, id)
			}
		}
	}

	return ds
}

func (p *Projector) computeEnrichedTasks(tasks map[string]records.Task, updatedAt map[string]time.Time, now time.Time) []EnrichedTask {
	enriched := make([]EnrichedTask, 0, len(tasks))
	for id, t := range tasks {
		edges := make([]string, 0, len(t.References))
		edges = append(edges, t.References...)

		var timeInState time.Duration
		if last, ok := updatedAt[id]; ok {
			timeInState = now.Sub(last)
		}

		enriched = append(enriched, EnrichedTask{
			Task:            t,
			TimeInState:     timeInState,
			Age:             timeInState,
			DependencyEdges: edges,
		})
	}
	return enriched
}

// latestSignatureTime returns the most recent signature timestamp on a
// record's header, used as a proxy for "last touched" since task
// payloads carry no timestamp fields of their own.
func latestSignatureTime(header records.Header) time.Time {
	var latest int64
	for _, sig := range header.Signatures {
		if sig.Timestamp > latest {
			latest = sig.Timestamp
		}
	}
	if latest == 0 {
		return time.Time{}
	}
	return time.Unix(latest, 0)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendUniqueStr(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}
