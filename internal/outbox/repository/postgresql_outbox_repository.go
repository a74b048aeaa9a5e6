// Package repository provides data persistence implementations for outbox entities.
package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/database"
	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/outbox/domain"
)

// PostgreSQLOutboxEventRepository handles outbox event persistence for PostgreSQL.
type PostgreSQLOutboxEventRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxEventRepository creates a new PostgreSQLOutboxEventRepository.
func NewPostgreSQLOutboxEventRepository(db *sql.DB) *PostgreSQLOutboxEventRepository {
	return &PostgreSQLOutboxEventRepository{
		db: db,
	}
}

// Create inserts a new PENDING outbox event. It runs on the caller's ambient
// transaction when one is present in the context, so the staged event commits
// or rolls back together with the domain mutation.
func (r *PostgreSQLOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_events (id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query, event.ID, event.TenantID, nullUUID(event.BranchID),
		event.EventType, event.EventVersion, event.OccurredAt, event.Payload, event.Topic, event.Status,
		event.RetryCount, event.LastError, event.PublishedAt)

	return err
}

// GetPendingEvents claims up to limit oldest pending events. The rows are
// locked with SKIP LOCKED so concurrent publishers never claim the same row.
func (r *PostgreSQLOutboxEventRepository) GetPendingEvents(
	ctx context.Context,
	limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at
			  FROM outbox_events
			  WHERE status = $1
			  ORDER BY created_at ASC
			  LIMIT $2
			  FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query, domain.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanOutboxEvents(rows)
}

// MarkPublished transitions a pending event to PUBLISHED and stamps published_at.
// The update is guarded by the current status: it reports false without error
// when the row is already terminal.
func (r *PostgreSQLOutboxEventRepository) MarkPublished(ctx context.Context, id uuid.UUID) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET status = $1, published_at = NOW(), updated_at = NOW()
			  WHERE id = $2 AND status = $3`

	result, err := querier.ExecContext(ctx, query, domain.StatusPublished, id, domain.StatusPending)
	if err != nil {
		return false, err
	}

	return affected(result)
}

// MarkRetry increments the retry count and records the delivery error while
// keeping the event PENDING for a later cycle.
func (r *PostgreSQLOutboxEventRepository) MarkRetry(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			  WHERE id = $2 AND status = $3`

	result, err := querier.ExecContext(ctx, query, lastError, id, domain.StatusPending)
	if err != nil {
		return false, err
	}

	return affected(result)
}

// MarkFailed transitions a pending event to the terminal FAILED status,
// incrementing the retry count and recording the final delivery error.
func (r *PostgreSQLOutboxEventRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET status = $1, retry_count = retry_count + 1, last_error = $2, updated_at = NOW()
			  WHERE id = $3 AND status = $4`

	result, err := querier.ExecContext(ctx, query, domain.StatusFailed, lastError, id, domain.StatusPending)
	if err != nil {
		return false, err
	}

	return affected(result)
}

// GetByID retrieves a single outbox event scoped by tenant.
func (r *PostgreSQLOutboxEventRepository) GetByID(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at
			  FROM outbox_events
			  WHERE tenant_id = $1 AND id = $2`

	event, err := scanOutboxEvent(querier.QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return event, nil
}

// ListByStatus retrieves tenant-scoped events in a given status, oldest first.
// It backs the operator review surface for FAILED (dead-letter) events.
func (r *PostgreSQLOutboxEventRepository) ListByStatus(
	ctx context.Context,
	tenantID uuid.UUID,
	status domain.Status,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at
			  FROM outbox_events
			  WHERE tenant_id = $1 AND status = $2
			  ORDER BY created_at ASC
			  OFFSET $3 LIMIT $4`

	rows, err := querier.QueryContext(ctx, query, tenantID, status, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanOutboxEvents(rows)
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(row rowScanner) (*domain.OutboxEvent, error) {
	var event domain.OutboxEvent
	var branchID uuid.NullUUID

	err := row.Scan(&event.ID, &event.TenantID, &branchID, &event.EventType,
		&event.EventVersion, &event.OccurredAt, &event.Payload, &event.Topic, &event.Status,
		&event.RetryCount, &event.LastError, &event.PublishedAt, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if branchID.Valid {
		event.BranchID = &branchID.UUID
	}

	return &event, nil
}

func scanOutboxEvents(rows *sql.Rows) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func affected(result sql.Result) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// nullUUID converts an optional uuid to a nullable driver value.
func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
