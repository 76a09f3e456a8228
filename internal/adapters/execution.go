package adapters

import (
	"fmt"
	"time"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
	"github.com/gitgovernance/core/internal/workflow"
)

// ExecutionAdapter records progress/analysis/blocker/completion reports
// against a task, auto-activating a `ready` task on its first report at
// or beyond the progress stage.
type ExecutionAdapter struct {
	executions *recordstore.Store[records.Execution]
	tasks      *recordstore.Store[records.Task]
	signer     Signer
	bus        *eventbus.Bus
	method     *workflow.Methodology
	reg        *workflow.Registry
	clock      func() time.Time
}

// NewExecutionAdapter wires an ExecutionAdapter.
func NewExecutionAdapter(executions *recordstore.Store[records.Execution], tasks *recordstore.Store[records.Task], signer Signer, bus *eventbus.Bus, method *workflow.Methodology, reg *workflow.Registry) *ExecutionAdapter {
	return &ExecutionAdapter{executions: executions, tasks: tasks, signer: signer, bus: bus, method: method, reg: reg, clock: time.Now}
}

// Create persists an execution record against an existing task, then
// auto-transitions the task from ready to active on its first report at
// or beyond the progress stage, if the methodology allows it.
func (a *ExecutionAdapter) Create(payload records.Execution, actorID string) (*records.Execution, error) {
	task, _, err := a.tasks.GetTyped(payload.TaskID)
	if err != nil {
		return nil, &BrokenReference{Field: "taskId", ID: payload.TaskID}
	}

	if payload.ID == "" {
		payload.ID = records.TimeIndexedID(a.clock().Unix(), "execution", payload.Title)
	}
	if exists, _ := a.executions.Exists(payload.ID); exists {
		return nil, &DuplicateRecord{RecordID: payload.ID}
	}

	sig, err := a.signer.Sign(payload, "reporter", "execution recorded")
	if err != nil {
		return nil, err
	}
	checksum, err := envelope.ComputeChecksum(payload)
	if err != nil {
		return nil, err
	}
	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeExecution,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{sig},
		},
		Payload: payload,
	}
	if err := a.executions.Put(payload.ID, rec); err != nil {
		return nil, fmt.Errorf("creating execution %s: %w", payload.ID, err)
	}

	if task.Status == records.TaskReady && payload.Type.IsProgressOrLater() {
		ctx := workflow.Context{Trigger: "execution.reported"}
		if err := a.method.CanTransition(*task, "activate", ctx, a.reg); err == nil {
			task.Status = records.TaskActive
			taskChecksum, cErr := envelope.ComputeChecksum(*task)
			if cErr == nil {
				taskSig, sErr := a.signer.Sign(*task, "approver", "auto-activated on first execution")
				if sErr == nil {
					taskRec := records.Record{
						Header: records.Header{
							Version:         records.CurrentEnvelopeVersion,
							Type:            records.TypeTask,
							PayloadChecksum: taskChecksum,
							Signatures:      []records.Signature{taskSig},
						},
						Payload: *task,
					}
					if err := a.tasks.Put(task.ID, taskRec); err == nil {
						a.publishEvent("task.activate", *task)
					}
				}
			}
		}
	}

	a.publishEvent("execution.created", payload)
	return &payload, nil
}

func (a *ExecutionAdapter) publishEvent(eventType string, payload any) {
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventType, Source: "execution-adapter", Payload: payload})
	}
}
