package adapters

import (
	"fmt"
	"time"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

// ChangelogAdapter aggregates completed tasks into a release note,
// requiring every related task to already be done.
type ChangelogAdapter struct {
	changelogs *recordstore.Store[records.Changelog]
	tasks      *recordstore.Store[records.Task]
	signer     Signer
	bus        *eventbus.Bus
	clock      func() time.Time
}

// NewChangelogAdapter wires a ChangelogAdapter.
func NewChangelogAdapter(changelogs *recordstore.Store[records.Changelog], tasks *recordstore.Store[records.Task], signer Signer, bus *eventbus.Bus) *ChangelogAdapter {
	return &ChangelogAdapter{changelogs: changelogs, tasks: tasks, signer: signer, bus: bus, clock: time.Now}
}

// Create persists a changelog record, rejecting it unless every related
// task is in status done.
func (a *ChangelogAdapter) Create(payload records.Changelog, actorID string) (*records.Changelog, error) {
	for _, taskID := range payload.RelatedTasks {
		task, _, err := a.tasks.GetTyped(taskID)
		if err != nil {
			return nil, &BrokenReference{Field: "relatedTasks", ID: taskID}
		}
		if task.Status != records.TaskDone {
			return nil, &InvalidState{RecordID: taskID, Status: string(task.Status), Op: "include in changelog"}
		}
	}

	if payload.ID == "" {
		payload.ID = records.TimeIndexedID(a.clock().Unix(), "changelog", payload.Title)
	}
	if exists, _ := a.changelogs.Exists(payload.ID); exists {
		return nil, &DuplicateRecord{RecordID: payload.ID}
	}

	sig, err := a.signer.Sign(payload, "author", "changelog entry")
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
			Type:            records.TypeChangelog,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{sig},
		},
		Payload: payload,
	}
	if err := a.changelogs.Put(payload.ID, rec); err != nil {
		return nil, fmt.Errorf("creating changelog %s: %w", payload.ID, err)
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: "changelog.created", Source: "changelog-adapter", Payload: payload})
	}
	return &payload, nil
}
