// Package domain defines the canonical event envelope shared by producers and consumers.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/validation"
)

// EventEnvelope is the wire shape wrapping any domain payload with identity,
// versioning, and tenancy metadata. It is transient: its persisted shadow is
// the payload column of an outbox event.
type EventEnvelope struct {
	EventID      uuid.UUID       `json:"eventId"`
	EventType    string          `json:"eventType"`
	EventVersion int             `json:"eventVersion"`
	OccurredAt   time.Time       `json:"occurredAt"`
	Producer     string          `json:"producer"`
	TraceID      string          `json:"traceId,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	TenantID     uuid.UUID       `json:"tenantId"`
	BranchID     *uuid.UUID      `json:"branchId,omitempty"`
	AggregateID  uuid.UUID       `json:"aggregateId"`
	Payload      json.RawMessage `json:"payload"`
}

// NewEnvelopeInput carries the caller-supplied fields for a new envelope.
type NewEnvelopeInput struct {
	EventType    string
	EventVersion int
	Producer     string
	TraceID      string
	RequestID    string
	TenantID     uuid.UUID
	BranchID     *uuid.UUID
	AggregateID  uuid.UUID
	Payload      json.RawMessage
}

// NewEnvelope builds an envelope with a generated event id and occurrence time.
func NewEnvelope(input NewEnvelopeInput) *EventEnvelope {
	return &EventEnvelope{
		EventID:      uuid.Must(uuid.NewV7()),
		EventType:    input.EventType,
		EventVersion: input.EventVersion,
		OccurredAt:   time.Now().UTC(),
		Producer:     input.Producer,
		TraceID:      input.TraceID,
		RequestID:    input.RequestID,
		TenantID:     input.TenantID,
		BranchID:     input.BranchID,
		AggregateID:  input.AggregateID,
		Payload:      input.Payload,
	}
}

// Validate checks the structural invariants of the envelope.
func (e EventEnvelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.EventID, validation.Required),
		validation.Field(&e.EventType, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.EventVersion, validation.Required, validation.Min(1)),
		validation.Field(&e.OccurredAt, validation.Required),
		validation.Field(&e.Producer, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.TenantID, validation.Required),
	)
}
