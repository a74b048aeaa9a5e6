package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/autorepair/eventcore/internal/database"
	"github.com/autorepair/eventcore/internal/ledger/domain"
)

// MySQLLedgerRepository handles processed-event persistence for MySQL.
type MySQLLedgerRepository struct {
	db *sql.DB
}

// NewMySQLLedgerRepository creates a new MySQLLedgerRepository.
func NewMySQLLedgerRepository(db *sql.DB) *MySQLLedgerRepository {
	return &MySQLLedgerRepository{
		db: db,
	}
}

// InsertIfAbsent records the delivery unless the same (tenant, event, group)
// triple was already recorded. INSERT IGNORE reports zero affected rows for
// the duplicate, so the return value is the deduplication decision.
func (r *MySQLLedgerRepository) InsertIfAbsent(ctx context.Context, event *domain.ProcessedEvent) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT IGNORE INTO processed_events (tenant_id, event_id, consumer_group, processed_at)
			  VALUES (?, ?, ?, NOW(6))`

	result, err := querier.ExecContext(ctx, query,
		event.TenantID.String(), event.EventID.String(), event.ConsumerGroup)
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
func (r *MySQLLedgerRepository) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE processed_at < ?`, cutoff).Scan(&count)
	return count, err
}

// DeleteBefore removes ledger entries processed before the cutoff and returns
// the number of rows removed.
func (r *MySQLLedgerRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
