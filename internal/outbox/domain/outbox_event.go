// Package domain defines the core outbox domain entities and types.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/errors"
	eventDomain "github.com/autorepair/eventcore/internal/event/domain"
)

// Status represents the status of an outbox event.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// transitions is the closed set of legal status transitions. PUBLISHED and
// FAILED are terminal: no transition ever leads back to PENDING.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPublished, StatusFailed},
	StatusPublished: {},
	StatusFailed:    {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	targets, ok := transitions[s]
	return ok && len(targets) == 0
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// OutboxEvent is a durable staging row for an event pending publication.
// It is created in the same transaction as the domain mutation it announces
// and afterwards mutated only by the publisher.
type OutboxEvent struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	BranchID     *uuid.UUID
	EventType    string
	EventVersion int
	OccurredAt   time.Time
	Payload      []byte
	Topic        string
	Status       Status
	RetryCount   int
	LastError    *string
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOutboxEvent stages a validated envelope as a PENDING row bound for topic.
func NewOutboxEvent(envelope *eventDomain.EventEnvelope, topic string) (*OutboxEvent, error) {
	if topic == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "destination topic is required")
	}
	if err := envelope.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	return &OutboxEvent{
		ID:           envelope.EventID,
		TenantID:     envelope.TenantID,
		BranchID:     envelope.BranchID,
		EventType:    envelope.EventType,
		EventVersion: envelope.EventVersion,
		OccurredAt:   envelope.OccurredAt,
		Payload:      payload,
		Topic:        topic,
		Status:       StatusPending,
		RetryCount:   0,
	}, nil
}

// MessageKey returns the partitioning key for broker delivery: the envelope's
// aggregate id when the payload carries one, otherwise the row id.
func (e *OutboxEvent) MessageKey() []byte {
	var partial struct {
		AggregateID uuid.UUID `json:"aggregateId"`
	}
	if err := json.Unmarshal(e.Payload, &partial); err == nil && partial.AggregateID != uuid.Nil {
		return []byte(partial.AggregateID.String())
	}
	return []byte(e.ID.String())
}
