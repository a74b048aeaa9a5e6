// Package dto defines request and response payloads for the outbox HTTP API.
package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/outbox/domain"
)

// OutboxEventResponse is the API representation of an outbox event.
type OutboxEventResponse struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenantId"`
	BranchID     *uuid.UUID      `json:"branchId,omitempty"`
	EventType    string          `json:"eventType"`
	EventVersion int             `json:"eventVersion"`
	OccurredAt   time.Time       `json:"occurredAt"`
	Payload      json.RawMessage `json:"payload"`
	Topic        string          `json:"topic"`
	Status       string          `json:"status"`
	RetryCount   int             `json:"retryCount"`
	LastError    *string         `json:"lastError,omitempty"`
	PublishedAt  *time.Time      `json:"publishedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewOutboxEventResponse maps a domain event to its API representation.
func NewOutboxEventResponse(event *domain.OutboxEvent) OutboxEventResponse {
	return OutboxEventResponse{
		ID:           event.ID,
		TenantID:     event.TenantID,
		BranchID:     event.BranchID,
		EventType:    event.EventType,
		EventVersion: event.EventVersion,
		OccurredAt:   event.OccurredAt,
		Payload:      json.RawMessage(event.Payload),
		Topic:        event.Topic,
		Status:       string(event.Status),
		RetryCount:   event.RetryCount,
		LastError:    event.LastError,
		PublishedAt:  event.PublishedAt,
		CreatedAt:    event.CreatedAt,
		UpdatedAt:    event.UpdatedAt,
	}
}

// ListOutboxEventsResponse is the paginated list representation.
type ListOutboxEventsResponse struct {
	Events []OutboxEventResponse `json:"events"`
	Offset int                   `json:"offset"`
	Limit  int                   `json:"limit"`
}

// NewListOutboxEventsResponse maps a page of domain events to the API shape.
func NewListOutboxEventsResponse(events []*domain.OutboxEvent, offset, limit int) ListOutboxEventsResponse {
	response := ListOutboxEventsResponse{
		Events: make([]OutboxEventResponse, 0, len(events)),
		Offset: offset,
		Limit:  limit,
	}
	for _, event := range events {
		response.Events = append(response.Events, NewOutboxEventResponse(event))
	}
	return response
}
