// Package eventingest decodes and admits the normalized events the core
// consumes (spec.md §6) over a NATS JetStream transport: a handler registry
// keyed by event type, with self-loop suppression applied before any
// handler runs.
package eventingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/passrepo/depositorch/internal/model"
)

// EntityType mirrors model.EntityType for the wire envelope, accepting only
// the two kinds the core acts on.
type EntityType string

const (
	EntitySubmission EntityType = "Submission"
	EntityDeposit    EntityType = "Deposit"
)

// EventType is the kind of change a message reports.
type EventType string

const (
	EventCreation     EventType = "CREATION"
	EventModification EventType = "MODIFICATION"
)

// Envelope is the normalized event shape of spec.md §6:
// {entityType, eventType, entityId, payload, timestamp}.
type Envelope struct {
	EntityType EntityType      `json:"entityType"`
	EventType  EventType       `json:"eventType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// payloadAgent is the subset of an event's payload this core inspects for
// self-loop suppression: the name of the agent that made the change.
type payloadAgent struct {
	UserAgent     string `json:"userAgent"`
	SoftwareAgent string `json:"softwareAgent"`
}

// Decode parses raw JSON bytes into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("eventingest: decode envelope: %w", err)
	}
	return env, nil
}

// Admissible reports whether env should be handed to a processor: its
// entityType/eventType are ones the core acts on, and its payload does not
// attribute the change to selfAgent (spec.md §6, §8 property 7).
func Admissible(env Envelope, selfAgent string) bool {
	switch env.EntityType {
	case EntitySubmission, EntityDeposit:
	default:
		return false
	}
	switch env.EventType {
	case EventCreation, EventModification:
	default:
		return false
	}

	if selfAgent == "" || len(env.Payload) == 0 {
		return true
	}
	var agent payloadAgent
	if err := json.Unmarshal(env.Payload, &agent); err != nil {
		return true
	}
	return agent.UserAgent != selfAgent && agent.SoftwareAgent != selfAgent
}

// ModelEntityType converts env's wire entity type to the model package's.
func (e Envelope) ModelEntityType() model.EntityType {
	switch e.EntityType {
	case EntitySubmission:
		return model.EntitySubmission
	case EntityDeposit:
		return model.EntityDeposit
	default:
		return ""
	}
}
