// Package domain defines the idempotency guard entities and types.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of an idempotency record. A record starts
// IN_PROGRESS when the key is claimed and becomes COMPLETED once the stored
// response is attached.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// IdempotencyRecord binds an idempotency key to the hash of the request that
// first used it and, once the operation finishes, to the response to replay.
// A key is unique per (tenant, endpoint key, idempotency key): the same key
// value on a different logical operation is an independent record.
type IdempotencyRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	EndpointKey    string
	Key            string
	RequestHash    string
	Status         Status
	ResponseStatus *int
	ResponseBody   *string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StoredResponse is the replayable outcome of a completed operation.
type StoredResponse struct {
	Status int
	Body   string
}

// NewIdempotencyRecord creates an IN_PROGRESS record claiming key for the
// request identified by requestHash. endpointKey is a stable identifier for
// the logical operation (route plus method), not the concrete URL.
func NewIdempotencyRecord(tenantID uuid.UUID, endpointKey, key, requestHash string, ttl time.Duration) *IdempotencyRecord {
	return &IdempotencyRecord{
		ID:          uuid.Must(uuid.NewV7()),
		TenantID:    tenantID,
		EndpointKey: endpointKey,
		Key:         key,
		RequestHash: requestHash,
		Status:      StatusInProgress,
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
}

// Completed reports whether the record carries a replayable response.
func (r *IdempotencyRecord) Completed() bool {
	return r.Status == StatusCompleted
}

// Expired reports whether the record's retention window has passed.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Response returns the stored response of a completed record.
func (r *IdempotencyRecord) Response() *StoredResponse {
	if !r.Completed() || r.ResponseStatus == nil {
		return nil
	}
	response := &StoredResponse{Status: *r.ResponseStatus}
	if r.ResponseBody != nil {
		response.Body = *r.ResponseBody
	}
	return response
}

// HashRequest returns the canonical fingerprint of a request body: the
// lowercase hex SHA-256 digest. Matching fingerprints mean matching requests
// for replay purposes.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
