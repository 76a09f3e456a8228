// Package identity resolves actor identities to public keys, holds the
// current actor (session), signs records on the current actor's behalf,
// and exposes actor CRUD, per spec.md §4.3.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitgovernance/core/internal/envelope"
	"github.com/gitgovernance/core/internal/eventbus"
	"github.com/gitgovernance/core/internal/recordstore"
	"github.com/gitgovernance/core/internal/records"
)

// KeyProvider stores and retrieves the private key material paired with
// an actor record (on disk: actors/<id>.key next to actors/<id>.json).
type KeyProvider interface {
	GetPrivateKey(actorID string) (ed25519.PrivateKey, error)
	StorePrivateKey(actorID string, key ed25519.PrivateKey) error
}

// SessionManager holds the current actor, persisted as session.json.
type SessionManager interface {
	GetCurrentActor() (string, bool)
	SetCurrentActor(actorID string) error
}

// ProjectConfig is the subset of project metadata identity needs:
// protocolVersion, projectId, projectName, rootCycle (spec.md §4.3).
type ProjectConfig struct {
	ProtocolVersion string `json:"protocolVersion"`
	ProjectID       string `json:"projectId"`
	ProjectName     string `json:"projectName"`
	RootCycle       string `json:"rootCycle"`
}

// Manager is the concrete identity layer: actor CRUD, key resolution,
// session tracking, and record signing for the current actor.
type Manager struct {
	actors  *recordstore.Store[records.Actor]
	keys    KeyProvider
	session SessionManager
	bus     *eventbus.Bus
	clock   func() time.Time
	log     *logrus.Entry
}

// NewManager wires an identity Manager around an actor store, key
// provider, session manager, and event bus.
func NewManager(actors *recordstore.Store[records.Actor], keys KeyProvider, session SessionManager, bus *eventbus.Bus) *Manager {
	return &Manager{
		actors:  actors,
		keys:    keys,
		session: session,
		bus:     bus,
		clock:   time.Now,
		log:     logrus.WithField("component", "identity"),
	}
}

// WithClock overrides the manager's time source; used by tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// ResolvePublicKey implements envelope.ResolvePublicKey by looking up an
// actor's stored public key. Revoked actors resolve to false so that any
// signature they produced after revocation fails verification, per the
// invariant in spec.md §4.3.
func (m *Manager) ResolvePublicKey(actorID string) (ed25519.PublicKey, bool) {
	actor, _, err := m.actors.GetTyped(actorID)
	if err != nil {
		return nil, false
	}
	if actor.Status == records.ActorRevoked {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(actor.PublicKey)
	if err != nil {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// CreateActor generates a keypair (if the payload carries none),
// persists the private key, and writes a self-signed actor record.
func (m *Manager) CreateActor(payload records.Actor) (*records.Actor, error) {
	var priv ed25519.PrivateKey

	if payload.PublicKey == "" {
		kp := envelope.DeriveKeypair(fmt.Sprintf("%s:%d", payload.ID, m.clock().UnixNano()))
		priv = kp.PrivateKey
		payload.PublicKey = kp.PublicKeyBase64
	} else {
		var err error
		priv, err = m.keys.GetPrivateKey(payload.ID)
		if err != nil {
			return nil, fmt.Errorf("creating actor %s: private key not supplied and none on file: %w", payload.ID, err)
		}
	}

	if payload.Status == "" {
		payload.Status = records.ActorActive
	}
	if len(payload.Roles) == 0 {
		return nil, fmt.Errorf("creating actor %s: at least one role is required", payload.ID)
	}

	if err := m.keys.StorePrivateKey(payload.ID, priv); err != nil {
		return nil, fmt.Errorf("creating actor %s: storing private key: %w", payload.ID, err)
	}

	checksum, err := envelope.ComputeChecksum(payload)
	if err != nil {
		return nil, err
	}
	ts := m.clock().Unix()
	sig := envelope.Sign(checksum, payload.ID, "author", "self-registration", ts, priv)

	rec := records.Record{
		Header: records.Header{
			Version:         records.CurrentEnvelopeVersion,
			Type:            records.TypeActor,
			PayloadChecksum: checksum,
			Signatures: []records.Signature{
				{KeyID: payload.ID, Role: "author", Notes: "self-registration", Signature: sig, Timestamp: ts},
			},
		},
		Payload: payload,
	}

	if err := m.actors.Put(payload.ID, rec); err != nil {
		return nil, fmt.Errorf("creating actor %s: %w", payload.ID, err)
	}

	m.log.WithField("actorId", payload.ID).Info("actor created")
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: "actor.created", Source: "identity", Payload: payload})
	}

	return &payload, nil
}

// GetActor returns the actor payload for id.
func (m *Manager) GetActor(id string) (*records.Actor, error) {
	actor, _, err := m.actors.GetTyped(id)
	return actor, err
}

// ListActors enumerates all registered actor IDs.
func (m *Manager) ListActors() ([]string, error) {
	return m.actors.List()
}

// Sign produces a signature for payload using the current actor's
// private key, with timestamp set to "now" in unix seconds.
func (m *Manager) Sign(payload any, role, notes string) (records.Signature, error) {
	actorID, ok := m.session.GetCurrentActor()
	if !ok {
		return records.Signature{}, fmt.Errorf("no current actor set in session")
	}

	priv, err := m.keys.GetPrivateKey(actorID)
	if err != nil {
		return records.Signature{}, fmt.Errorf("signing as %s: %w", actorID, err)
	}

	checksum, err := envelope.ComputeChecksum(payload)
	if err != nil {
		return records.Signature{}, err
	}

	ts := m.clock().Unix()
	sig := envelope.Sign(checksum, actorID, role, notes, ts, priv)

	return records.Signature{
		KeyID:     actorID,
		Role:      role,
		Notes:     notes,
		Signature: sig,
		Timestamp: ts,
	}, nil
}

// CurrentActor returns the current session actor ID.
func (m *Manager) CurrentActor() (string, bool) {
	return m.session.GetCurrentActor()
}
