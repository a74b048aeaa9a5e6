// Package repository provides data persistence implementations for idempotency records.
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/database"
	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/idempotency/domain"
)

// PostgreSQLIdempotencyRepository handles idempotency record persistence for PostgreSQL.
type PostgreSQLIdempotencyRepository struct {
	db *sql.DB
}

// NewPostgreSQLIdempotencyRepository creates a new PostgreSQLIdempotencyRepository.
func NewPostgreSQLIdempotencyRepository(db *sql.DB) *PostgreSQLIdempotencyRepository {
	return &PostgreSQLIdempotencyRepository{
		db: db,
	}
}

// Create inserts a new idempotency record. The unique constraint on
// (tenant_id, endpoint_key, idempotency_key) makes the insert a claim: exactly
// one of the concurrent writers for a key succeeds, the rest get ErrConflict.
func (r *PostgreSQLIdempotencyRepository) Create(ctx context.Context, record *domain.IdempotencyRecord) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO idempotency_records (id, tenant_id, endpoint_key, idempotency_key, request_hash,
			  status, response_status, response_body, expires_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query, record.ID, record.TenantID, record.EndpointKey, record.Key,
		record.RequestHash, record.Status, record.ResponseStatus, record.ResponseBody, record.ExpiresAt)
	if err != nil {
		if isPostgreSQLUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return apperrors.Wrap(err, "failed to create idempotency record")
	}
	return nil
}

// GetByKey retrieves the record claiming key for the tenant's endpoint.
func (r *PostgreSQLIdempotencyRepository) GetByKey(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
) (*domain.IdempotencyRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, endpoint_key, idempotency_key, request_hash, status,
			  response_status, response_body, expires_at, created_at, updated_at
			  FROM idempotency_records
			  WHERE tenant_id = $1 AND endpoint_key = $2 AND idempotency_key = $3`

	record, err := scanIdempotencyRecord(querier.QueryRowContext(ctx, query, tenantID, endpointKey, key))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// Complete attaches the stored response to an in-progress record and marks it
// COMPLETED. It reports false when the record is missing or already completed.
func (r *PostgreSQLIdempotencyRepository) Complete(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
	response domain.StoredResponse,
) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE idempotency_records
			  SET status = $1, response_status = $2, response_body = $3, updated_at = NOW()
			  WHERE tenant_id = $4 AND endpoint_key = $5 AND idempotency_key = $6 AND status = $7`

	result, err := querier.ExecContext(ctx, query, domain.StatusCompleted, response.Status,
		response.Body, tenantID, endpointKey, key, domain.StatusInProgress)
	if err != nil {
		return false, err
	}

	return rowsAffected(result)
}

// Delete removes a record, releasing its key. Used to roll back a claim whose
// operation failed without a replayable outcome.
func (r *PostgreSQLIdempotencyRepository) Delete(ctx context.Context, tenantID uuid.UUID, endpointKey, key string) error {
	querier := database.GetTx(ctx, r.db)

	query := `DELETE FROM idempotency_records
			  WHERE tenant_id = $1 AND endpoint_key = $2 AND idempotency_key = $3`

	_, err := querier.ExecContext(ctx, query, tenantID, endpointKey, key)
	return err
}

// CountExpired returns the number of records whose retention window passed before now.
func (r *PostgreSQLIdempotencyRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM idempotency_records WHERE expires_at < $1`, now).Scan(&count)
	return count, err
}

// DeleteExpired removes records whose retention window passed before now and
// returns the number of rows removed.
func (r *PostgreSQLIdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanIdempotencyRecord(row rowScanner) (*domain.IdempotencyRecord, error) {
	var record domain.IdempotencyRecord

	err := row.Scan(&record.ID, &record.TenantID, &record.EndpointKey, &record.Key, &record.RequestHash,
		&record.Status, &record.ResponseStatus, &record.ResponseBody,
		&record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// CHAR(64) columns come back space-padded on some drivers.
	record.RequestHash = strings.TrimSpace(record.RequestHash)

	return &record, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func rowsAffected(result sql.Result) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// isPostgreSQLUniqueViolation detects unique constraint violations without
// depending on driver-specific error types.
func isPostgreSQLUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	// PostgreSQL: "duplicate key value violates unique constraint" or "pq: duplicate key"
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}
