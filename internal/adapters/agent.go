package adapters

import (
	"fmt"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

// AgentAdapter registers `agent` records, each requiring a matching
// actor record of type agent.
type AgentAdapter struct {
	agents *recordstore.Store[records.Agent]
	actors RoleResolver
	signer Signer
	bus    *eventbus.Bus
}

// NewAgentAdapter wires an AgentAdapter.
func NewAgentAdapter(agents *recordstore.Store[records.Agent], actors RoleResolver, signer Signer, bus *eventbus.Bus) *AgentAdapter {
	return &AgentAdapter{agents: agents, actors: actors, signer: signer, bus: bus}
}

// CreateAgentRecord persists an agent record, requiring payload.ID to
// match an existing actor of type agent, and rejecting duplicates.
func (a *AgentAdapter) CreateAgentRecord(payload records.Agent, actorID string) (*records.Agent, error) {
	actor, err := a.actors.GetActor(payload.ID)
	if err != nil {
		return nil, &BrokenReference{Field: "id", ID: payload.ID}
	}
	if actor.Type != records.ActorAgent {
		return nil, fmt.Errorf("agent record %s: actor %s is not of type agent", payload.ID, payload.ID)
	}
	if exists, _ := a.agents.Exists(payload.ID); exists {
		return nil, &DuplicateRecord{RecordID: payload.ID}
	}
	if payload.Status == "" {
		payload.Status = records.ActorActive
	}

	sig, err := a.signer.Sign(payload, "author", "agent registered")
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
			Type:            records.TypeAgent,
			PayloadChecksum: checksum,
			Signatures:      []records.Signature{sig},
		},
		Payload: payload,
	}
	if err := a.agents.Put(payload.ID, rec); err != nil {
		return nil, fmt.Errorf("creating agent %s: %w", payload.ID, err)
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: "agent.created", Source: "agent-adapter", Payload: payload})
	}
	return &payload, nil
}
