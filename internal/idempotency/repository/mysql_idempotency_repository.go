package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/autorepair/eventcore/internal/database"
	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/idempotency/domain"
)

// MySQLIdempotencyRepository handles idempotency record persistence for MySQL.
type MySQLIdempotencyRepository struct {
	db *sql.DB
}

// NewMySQLIdempotencyRepository creates a new MySQLIdempotencyRepository.
func NewMySQLIdempotencyRepository(db *sql.DB) *MySQLIdempotencyRepository {
	return &MySQLIdempotencyRepository{
		db: db,
	}
}

// Create inserts a new idempotency record. The unique constraint on
// (tenant_id, endpoint_key, idempotency_key) makes the insert a claim: exactly
// one of the concurrent writers for a key succeeds, the rest get ErrConflict.
func (r *MySQLIdempotencyRepository) Create(ctx context.Context, record *domain.IdempotencyRecord) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO idempotency_records (id, tenant_id, endpoint_key, idempotency_key, request_hash,
			  status, response_status, response_body, expires_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`

	_, err := querier.ExecContext(ctx, query, record.ID.String(), record.TenantID.String(), record.EndpointKey,
		record.Key, record.RequestHash, record.Status, record.ResponseStatus, record.ResponseBody, record.ExpiresAt)
	if err != nil {
		if isMySQLDuplicateEntry(err) {
			return apperrors.ErrConflict
		}
		return apperrors.Wrap(err, "failed to create idempotency record")
	}
	return nil
}

// GetByKey retrieves the record claiming key for the tenant's endpoint.
func (r *MySQLIdempotencyRepository) GetByKey(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
) (*domain.IdempotencyRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, tenant_id, endpoint_key, idempotency_key, request_hash, status,
			  response_status, response_body, expires_at, created_at, updated_at
			  FROM idempotency_records
			  WHERE tenant_id = ? AND endpoint_key = ? AND idempotency_key = ?`

	record, err := scanMySQLIdempotencyRecord(querier.QueryRowContext(ctx, query, tenantID.String(), endpointKey, key))
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
func (r *MySQLIdempotencyRepository) Complete(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
	response domain.StoredResponse,
) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE idempotency_records
			  SET status = ?, response_status = ?, response_body = ?, updated_at = NOW(6)
			  WHERE tenant_id = ? AND endpoint_key = ? AND idempotency_key = ? AND status = ?`

	result, err := querier.ExecContext(ctx, query, domain.StatusCompleted, response.Status,
		response.Body, tenantID.String(), endpointKey, key, domain.StatusInProgress)
	if err != nil {
		return false, err
	}

	return rowsAffected(result)
}

// Delete removes a record, releasing its key.
func (r *MySQLIdempotencyRepository) Delete(ctx context.Context, tenantID uuid.UUID, endpointKey, key string) error {
	querier := database.GetTx(ctx, r.db)

	query := `DELETE FROM idempotency_records
			  WHERE tenant_id = ? AND endpoint_key = ? AND idempotency_key = ?`

	_, err := querier.ExecContext(ctx, query, tenantID.String(), endpointKey, key)
	return err
}

// CountExpired returns the number of records whose retention window passed before now.
func (r *MySQLIdempotencyRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM idempotency_records WHERE expires_at < ?`, now).Scan(&count)
	return count, err
}

// DeleteExpired removes records whose retention window passed before now and
// returns the number of rows removed.
func (r *MySQLIdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// scanMySQLIdempotencyRecord scans a row whose uuid columns are stored as CHAR(36).
func scanMySQLIdempotencyRecord(row rowScanner) (*domain.IdempotencyRecord, error) {
	var record domain.IdempotencyRecord
	var id, tenantID string

	err := row.Scan(&id, &tenantID, &record.EndpointKey, &record.Key, &record.RequestHash, &record.Status,
		&record.ResponseStatus, &record.ResponseBody, &record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if record.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if record.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	record.RequestHash = strings.TrimSpace(record.RequestHash)

	return &record, nil
}

// isMySQLDuplicateEntry detects unique constraint violations (error 1062).
func isMySQLDuplicateEntry(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "duplicate entry") || strings.Contains(errMsg, "1062")
}
