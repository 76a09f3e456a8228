package adapters

import (
	"fmt"
	"time"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

// FeedbackAdapter records feedback against any referenceable entity. A
// blocking feedback against a task publishes an event the backlog
// adapter's subscribers may use to pause that task.
type FeedbackAdapter struct {
	feedback *recordstore.Store[records.Feedback]
	signer   Signer
	bus      *eventbus.Bus
	clock    func() time.Time
}

// NewFeedbackAdapter wires a FeedbackAdapter.
func NewFeedbackAdapter(feedback *recordstore.Store[records.Feedback], signer Signer, bus *eventbus.Bus) *FeedbackAdapter {
	return &FeedbackAdapter{feedback: feedback, signer: signer, bus: bus, clock: time.Now}
}

// Create persists a feedback record and publishes feedback.created; a
// type=blocking feedback against a task additionally publishes
// feedback.blocking so the backlog adapter can react.
func (a *FeedbackAdapter) Create(payload records.Feedback, actorID string) (*records.Feedback, error) {
	if payload.Status == "" {
		payload.Status = records.FeedbackOpen
	}
	if len(payload.Content) > records.MaxFeedbackContentLen {
		return nil, fmt.Errorf("feedback content exceeds %d characters", records.MaxFeedbackContentLen)
	}
	if payload.ID == "" {
		payload.ID = records.TimeIndexedID(a.clock().Unix(), "feedback", payload.Content)
	}
	if exists, _ := a.feedback.Exists(payload.ID); exists {
		return nil, &DuplicateRecord{RecordID: payload.ID}
	}

	sig, err := a.signer.Sign(payload, "author", "feedback")
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
			Type:            records.TypeFeedback,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{sig},
		},
		Payload: payload,
	}
	if err := a.feedback.Put(payload.ID, rec); err != nil {
		return nil, fmt.Errorf("creating feedback %s: %w", payload.ID, err)
	}

	a.publish("feedback.created", payload)
	if payload.Type == records.FeedbackBlocking && payload.EntityType == records.EntityTask {
		a.publish("feedback.blocking", payload)
	}

	return &payload, nil
}

// AssignTask emits an assignment feedback record resolving immediately,
// per spec.md §8 scenario S3.
func (a *FeedbackAdapter) AssignTask(taskID, assignee, actorID string) (*records.Feedback, error) {
	payload := records.Feedback{
		EntityType: records.EntityTask,
		EntityID:   taskID,
		Type:       records.FeedbackAssignment,
		Status:     records.FeedbackResolved,
		Content:    fmt.Sprintf("assigned to %s", assignee),
		Assignee:   assignee,
	}
	return a.Create(payload, actorID)
}

func (a *FeedbackAdapter) publish(eventType string, payload any) {
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventType, Source: "feedback-adapter", Payload: payload})
	}
}
