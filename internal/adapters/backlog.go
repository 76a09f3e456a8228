package adapters

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/identity"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
	"github.com/gitgovernance/core/internal/workflow"
)

// Signer is the subset of identity.Manager the adapters depend on.
type Signer interface {
	Sign(payload any, role, notes string) (records.Signature, error)
}

// RoleResolver looks up an actor's roles and type, feeding
// workflow.SignerInfo for signature-gate evaluation.
type RoleResolver interface {
	GetActor(id string) (*records.Actor, error)
}

// BacklogAdapter implements task and cycle lifecycle operations per
// spec.md §4.6, keeping task.cycleIds and cycle.taskIds consistent.
type BacklogAdapter struct {
	tasks   *recordstore.Store[records.Task]
	cycles  *recordstore.Store[records.Cycle]
	signer  Signer
	roles   RoleResolver
	bus     *eventbus.Bus
	method  *workflow.Methodology
	reg     *workflow.Registry
	clock   func() time.Time

	mu sync.Mutex // serialises bidirectional cycle<->task link mutations
}

// NewBacklogAdapter wires a BacklogAdapter.
func NewBacklogAdapter(tasks *recordstore.Store[records.Task], cycles *recordstore.Store[records.Cycle], signer Signer, roles RoleResolver, bus *eventbus.Bus, method *workflow.Methodology, reg *workflow.Registry) *BacklogAdapter {
	return &BacklogAdapter{
		tasks: tasks, cycles: cycles, signer: signer, roles: roles, bus: bus,
		method: method, reg: reg, clock: time.Now,
	}
}

func (a *BacklogAdapter) putTask(id string, payload records.Task, role, notes string) error {
	sig, err := a.signer.Sign(payload, role, notes)
	if err != nil {
		return err
	}
	checksum, err := envelope.ComputeChecksum(payload)
	if err != nil {
		return err
	}
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeTask,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{sig},
		},
		Payload: payload,
	}
	return a.tasks.Put(id, rec)
}

func (a *BacklogAdapter) publish(eventType string, payload any) {
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventType, Source: "backlog-adapter", Payload: payload})
	}
}

// CreateTask generates an ID, fills status=draft, signs as author, and
// publishes task.created.
func (a *BacklogAdapter) CreateTask(payload records.Task, actorID string) (*records.Task, error) {
	payload.Status = records.TaskDraft
	if payload.ID == "" {
		payload.ID = records.TimeIndexedID(a.clock().Unix(), "task", payload.Title)
	}
	if exists, _ := a.tasks.Exists(payload.ID); exists {
		return nil, &DuplicateRecord{RecordID: payload.ID}
	}
	if err := a.putTask(payload.ID, payload, "author", "task created"); err != nil {
		return nil, fmt.Errorf("creating task %s: %w", payload.ID, err)
	}
	a.publish("task.created", payload)
	return &payload, nil
}

func (a *BacklogAdapter) applyTransition(id, transitionName, actorID, trigger string) (*records.Task, error) {
	task, _, err := a.tasks.GetTyped(id)
	if err != nil {
		return nil, err
	}

	signers, err := a.accumulatedSigners(id)
	if err != nil {
		return nil, err
	}

	ctx := workflow.Context{Trigger: trigger, Signatures: signers}
	if err := a.method.CanTransition(*task, transitionName, ctx, a.reg); err != nil {
		return nil, fmt.Errorf("backlog: %w", err)
	}

	to, _ := a.method.TargetStatus(transitionName)
	task.Status = to

	if err := a.putTask(id, *task, "approver", fmt.Sprintf("transition:%s", transitionName)); err != nil {
		return nil, fmt.Errorf("applying transition %s to task %s: %w", transitionName, id, err)
	}
	a.publish("task."+transitionName, *task)
	return task, nil
}

func (a *BacklogAdapter) accumulatedSigners(taskID string) ([]workflow.SignerInfo, error) {
	_, header, err := a.tasks.GetTyped(taskID)
	if err != nil {
		return nil, err
	}
	var signers []workflow.SignerInfo
	for _, sig := range header.Signatures {
		actor, err := a.roles.GetActor(sig.KeyID)
		if err != nil {
			continue
		}
		signers = append(signers, workflow.SignerInfo{ActorID: actor.ID, Roles: actor.Roles, ActorType: actor.Type})
	}
	return signers, nil
}

// SubmitTask, ApproveTask, ActivateTask, CompleteTask, PauseTask,
// ResumeTask, and DiscardTask each drive the named methodology
// transition for the given task.
func (a *BacklogAdapter) SubmitTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "submit", actorID, "submit")
}
func (a *BacklogAdapter) ApproveTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "approve", actorID, "approve")
}
func (a *BacklogAdapter) ActivateTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "activate", actorID, "activate")
}
func (a *BacklogAdapter) CompleteTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "complete", actorID, "complete")
}
func (a *BacklogAdapter) PauseTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "pause", actorID, "pause")
}
func (a *BacklogAdapter) ResumeTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "resume", actorID, "resume")
}
func (a *BacklogAdapter) DiscardTask(id, actorID string) (*records.Task, error) {
	return a.applyTransition(id, "discard", actorID, "discard")
}

// DeleteTask removes a task, only while it is still in draft.
func (a *BacklogAdapter) DeleteTask(id, actorID string) error {
	task, _, err := a.tasks.GetTyped(id)
	if err != nil {
		return err
	}
	if task.Status != records.TaskDraft {
		return &InvalidState{RecordID: id, Status: string(task.Status), Op: "delete"}
	}
	if err := a.tasks.Delete(id); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	a.publish("task.deleted", task)
	return nil
}

func (a *BacklogAdapter) putCycle(id string, payload records.Cycle, role, notes string) error {
	sig, err := a.signer.Sign(payload, role, notes)
	if err != nil {
		return err
	}
	checksum, err := envelope.ComputeChecksum(payload)
	if err != nil {
		return err
	}
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeCycle,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{sig},
		},
		Payload: payload,
	}
	return a.cycles.Put(id, rec)
}

// CreateCycle generates an ID if none supplied, signs, persists, and
// publishes cycle.created.
func (a *BacklogAdapter) CreateCycle(payload records.Cycle, actorID string) (*records.Cycle, error) {
	if payload.Status == "" {
		payload.Status = records.CyclePlanning
	}
	if payload.ID == "" {
		payload.ID = records.TimeIndexedID(a.clock().Unix(), "cycle", payload.Title)
	}
	if exists, _ := a.cycles.Exists(payload.ID); exists {
		return nil, &DuplicateRecord{RecordID: payload.ID}
	}
	if err := a.putCycle(payload.ID, payload, "author", "cycle created"); err != nil {
		return nil, fmt.Errorf("creating cycle %s: %w", payload.ID, err)
	}
	a.publish("cycle.created", payload)
	return &payload, nil
}

// UpdateCycle overwrites a cycle's mutable fields (title, tags, notes,
// status) and re-signs.
func (a *BacklogAdapter) UpdateCycle(id string, mutate func(*records.Cycle), actorID string) (*records.Cycle, error) {
	cycle, _, err := a.cycles.GetTyped(id)
	if err != nil {
		return nil, err
	}
	mutate(cycle)
	if err := a.putCycle(id, *cycle, "editor", "cycle updated"); err != nil {
		return nil, fmt.Errorf("updating cycle %s: %w", id, err)
	}
	a.publish("cycle.updated", *cycle)
	return cycle, nil
}

// AddTaskToCycle links task and cycle bidirectionally in one critical
// section, rolling back the task-side write if the cycle-side write
// fails.
func (a *BacklogAdapter) AddTaskToCycle(taskID, cycleID, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, _, err := a.tasks.GetTyped(taskID)
	if err != nil {
		return err
	}
	cycle, _, err := a.cycles.GetTyped(cycleID)
	if err != nil {
		return err
	}

	if containsString(task.CycleIDs, cycleID) && containsString(cycle.TaskIDs, taskID) {
		return nil
	}

	origTask := *task
	task.CycleIDs = appendUnique(task.CycleIDs, cycleID)
	if err := a.putTask(taskID, *task, "linker", "linked to cycle"); err != nil {
		return fmt.Errorf("linking task %s to cycle %s: %w", taskID, cycleID, err)
	}

	cycle.TaskIDs = appendUnique(cycle.TaskIDs, taskID)
	if err := a.putCycle(cycleID, *cycle, "linker", "task linked"); err != nil {
		if rbErr := a.putTask(taskID, origTask, "linker", "rollback link"); rbErr != nil {
			return fmt.Errorf("linking task %s to cycle %s: %w (rollback also failed: %v)", taskID, cycleID, err, rbErr)
		}
		return fmt.Errorf("linking task %s to cycle %s: %w", taskID, cycleID, err)
	}

	a.publish("task.cycle.linked", map[string]string{"taskId": taskID, "cycleId": cycleID})
	return nil
}

// RemoveTaskFromCycle unlinks task and cycle bidirectionally, atomically.
func (a *BacklogAdapter) RemoveTaskFromCycle(taskID, cycleID, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, _, err := a.tasks.GetTyped(taskID)
	if err != nil {
		return err
	}
	cycle, _, err := a.cycles.GetTyped(cycleID)
	if err != nil {
		return err
	}

	origTask := *task
	task.CycleIDs = removeString(task.CycleIDs, cycleID)
	if err := a.putTask(taskID, *task, "linker", "unlinked from cycle"); err != nil {
		return fmt.Errorf("unlinking task %s from cycle %s: %w", taskID, cycleID, err)
	}

	cycle.TaskIDs = removeString(cycle.TaskIDs, taskID)
	if err := a.putCycle(cycleID, *cycle, "linker", "task unlinked"); err != nil {
		if rbErr := a.putTask(taskID, origTask, "linker", "rollback unlink"); rbErr != nil {
			return fmt.Errorf("unlinking task %s from cycle %s: %w (rollback also failed: %v)", taskID, cycleID, err, rbErr)
		}
		return fmt.Errorf("unlinking task %s from cycle %s: %w", taskID, cycleID, err)
	}

	a.publish("task.cycle.unlinked", map[string]string{"taskId": taskID, "cycleId": cycleID})
	return nil
}

// MoveTaskBetweenCycles removes the link to fromCycle and adds the link
// to toCycle in sequence, rolling back on a failed second step.
func (a *BacklogAdapter) MoveTaskBetweenCycles(taskID, fromCycle, toCycle, actorID string) error {
	if err := a.RemoveTaskFromCycle(taskID, fromCycle, actorID); err != nil {
		return err
	}
	if err := a.AddTaskToCycle(taskID, toCycle, actorID); err != nil {
		if rbErr := a.AddTaskToCycle(taskID, fromCycle, actorID); rbErr != nil {
			logrus.WithFields(logrus.Fields{"taskId": taskID, "fromCycle": fromCycle, "error": rbErr}).
				Error("failed to roll back cycle move after partial failure")
		}
		return err
	}
	return nil
}

// AddChildCycle appends childID to cycle's childCycleIds.
func (a *BacklogAdapter) AddChildCycle(parentID, childID, actorID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent, _, err := a.cycles.GetTyped(parentID)
	if err != nil {
		return err
	}
	if _, _, err := a.cycles.GetTyped(childID); err != nil {
		return &BrokenReference{Field: "childCycleId", ID: childID}
	}

	parent.ChildCycleIDs = appendUnique(parent.ChildCycleIDs, childID)
	if err := a.putCycle(parentID, *parent, "linker", "child cycle added"); err != nil {
		return fmt.Errorf("adding child cycle %s to %s: %w", childID, parentID, err)
	}
	a.publish("cycle.child.added", map[string]string{"parentId": parentID, "childId": childID})
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if containsString(list, v) {
		return list
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
