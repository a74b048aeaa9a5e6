package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/database"
	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/outbox/domain"
)

// MySQLOutboxEventRepository handles outbox event persistence for MySQL.
type MySQLOutboxEventRepository struct {
	db *sql.DB
}

// NewMySQLOutboxEventRepository creates a new MySQLOutboxEventRepository.
func NewMySQLOutboxEventRepository(db *sql.DB) *MySQLOutboxEventRepository {
	return &MySQLOutboxEventRepository{
		db: db,
	}
}

// Create inserts a new PENDING outbox event on the caller's ambient transaction.
func (r *MySQLOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_events (id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query, event.ID.String(), event.TenantID.String(),
		uuidPtrString(event.BranchID), event.EventType, event.EventVersion, event.OccurredAt,
		event.Payload, event.Topic, event.Status, event.RetryCount, event.LastError, event.PublishedAt)

	return err
}

// GetPendingEvents claims up to limit oldest pending events using SKIP LOCKED
// (MySQL 8+), so concurrent publishers never claim the same row.
func (r *MySQLOutboxEventRepository) GetPendingEvents(
	ctx context.Context,
	limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at
			  FROM outbox_events
			  WHERE status = ?
			  ORDER BY created_at ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query, domain.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanMySQLOutboxEvents(rows)
}

// MarkPublished transitions a pending event to PUBLISHED; no-op when terminal.
func (r *MySQLOutboxEventRepository) MarkPublished(ctx context.Context, id uuid.UUID) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET status = ?, published_at = NOW(), updated_at = NOW()
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(ctx, query, domain.StatusPublished, id.String(), domain.StatusPending)
	if err != nil {
		return false, err
	}

	return affected(result)
}

// MarkRetry increments the retry count and records the delivery error.
func (r *MySQLOutboxEventRepository) MarkRetry(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET retry_count = retry_count + 1, last_error = ?, updated_at = NOW()
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(ctx, query, lastError, id.String(), domain.StatusPending)
	if err != nil {
		return false, err
	}

	return affected(result)
}

// MarkFailed transitions a pending event to the terminal FAILED status.
func (r *MySQLOutboxEventRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE outbox_events
			  SET status = ?, retry_count = retry_count + 1, last_error = ?, updated_at = NOW()
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(ctx, query, domain.StatusFailed, lastError, id.String(), domain.StatusPending)
	if err != nil {
		return false, err
	}

	return affected(result)
}

// GetByID retrieves a single outbox event scoped by tenant.
func (r *MySQLOutboxEventRepository) GetByID(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at
			  FROM outbox_events
			  WHERE tenant_id = ? AND id = ?`

	event, err := scanMySQLOutboxEvent(querier.QueryRowContext(ctx, query, tenantID.String(), id.String()))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return event, nil
}

// ListByStatus retrieves tenant-scoped events in a given status, oldest first.
func (r *MySQLOutboxEventRepository) ListByStatus(
	ctx context.Context,
	tenantID uuid.UUID,
	status domain.Status,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, branch_id, event_type, event_version, occurred_at,
			  payload, topic, status, retry_count, last_error, published_at, created_at, updated_at
			  FROM outbox_events
			  WHERE tenant_id = ? AND status = ?
			  ORDER BY created_at ASC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, tenantID.String(), status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	return scanMySQLOutboxEvents(rows)
}

// scanMySQLOutboxEvent scans a row whose uuid columns are stored as CHAR(36).
func scanMySQLOutboxEvent(row rowScanner) (*domain.OutboxEvent, error) {
	var event domain.OutboxEvent
	var id, tenantID string
	var branchID sql.NullString

	err := row.Scan(&id, &tenantID, &branchID, &event.EventType,
		&event.EventVersion, &event.OccurredAt, &event.Payload, &event.Topic, &event.Status,
		&event.RetryCount, &event.LastError, &event.PublishedAt, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if event.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if event.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	if branchID.Valid {
		parsed, err := uuid.Parse(branchID.String)
		if err != nil {
			return nil, err
		}
		event.BranchID = &parsed
	}

	return &event, nil
}

func scanMySQLOutboxEvents(rows *sql.Rows) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	for rows.Next() {
		event, err := scanMySQLOutboxEvent(rows)
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

// uuidPtrString converts an optional uuid to a nullable driver value.
func uuidPtrString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
