// Package repository provides data persistence implementations for the processed-event ledger.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/autorepair/eventcore/internal/database"
	"github.com/autorepair/eventcore/internal/ledger/domain"
)

// PostgreSQLLedgerRepository handles processed-event persistence for PostgreSQL.
type PostgreSQLLedgerRepository struct {
	db *sql.DB
}

// NewPostgreSQLLedgerRepository creates a new PostgreSQLLedgerRepository.
func NewPostgreSQLLedgerRepository(db *sql.DB) *PostgreSQLLedgerRepository {
	return &PostgreSQLLedgerRepository{
		db: db,
	}
}

// InsertIfAbsent records the delivery unless the same (tenant, event, group)
// triple was already recorded. It reports true exactly once per triple, making
// the insert itself the deduplication decision.
func (r *PostgreSQLLedgerRepository) InsertIfAbsent(ctx context.Context, event *domain.ProcessedEvent) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO processed_events (tenant_id, event_id, consumer_group, processed_at)
			  VALUES ($1, $2, $3, NOW())
			  ON CONFLICT (tenant_id, event_id, consumer_group) DO NOTHING`

	result, err := querier.ExecContext(ctx, query, event.TenantID, event.EventID, event.ConsumerGroup)
	if err != nil {
		return false, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountBefore returns the number of ledger entries processed before the cutoff.
func (r *PostgreSQLLedgerRepository) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE processed_at < $1`, cutoff).Scan(&count)
	return count, err
}

// DeleteBefore removes ledger entries processed before the cutoff and returns
// the number of rows removed.
func (r *PostgreSQLLedgerRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
