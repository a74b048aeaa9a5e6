// Package domain defines the processed-event ledger entities.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent records that a consumer group finished handling an event for
// a tenant. The triple (TenantID, EventID, ConsumerGroup) is unique: inserting
// it a second time fails, which is what turns at-least-once delivery into
// effectively-once processing.
type ProcessedEvent struct {
	TenantID      uuid.UUID
	EventID       uuid.UUID
	ConsumerGroup string
	ProcessedAt   time.Time
}

// NewProcessedEvent creates a ledger entry for the given delivery.
func NewProcessedEvent(tenantID, eventID uuid.UUID, consumerGroup string) *ProcessedEvent {
	return &ProcessedEvent{
		TenantID:      tenantID,
		EventID:       eventID,
		ConsumerGroup: consumerGroup,
	}
}
