// Package usecase implements the processed-event ledger: claiming event
// deliveries for a consumer group and pruning old entries.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/ledger/domain"
	"github.com/autorepair/eventcore/internal/metrics"
)

// Config holds ledger use case configuration.
type Config struct {
	// Retention is how long ledger entries are kept. Zero keeps them forever.
	Retention time.Duration
}

// LedgerRepository defines processed-event repository operations.
type LedgerRepository interface {
	InsertIfAbsent(ctx context.Context, event *domain.ProcessedEvent) (bool, error)
	CountBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UseCase defines the interface for ledger use cases.
type UseCase interface {
	Claim(ctx context.Context, tenantID, eventID uuid.UUID, consumerGroup string) (bool, error)
	CleanupOld(ctx context.Context, dryRun bool) (int64, error)
}

// LedgerUseCase implements the processed-event ledger.
type LedgerUseCase struct {
	config          Config
	repo            LedgerRepository
	businessMetrics metrics.BusinessMetrics
	logger          *slog.Logger
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	config Config,
	repo LedgerRepository,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *LedgerUseCase {
	return &LedgerUseCase{
		config:          config,
		repo:            repo,
		businessMetrics: businessMetrics,
		logger:          logger,
	}
}

// Claim atomically records that consumerGroup processed eventID for the
// tenant. It reports true exactly once per (tenant, event, group) triple; a
// false return means the event was already processed and the delivery is a
// duplicate to be acknowledged without side effects.
//
// Claim is meant to run inside the consumer's processing transaction so the
// ledger entry commits together with the handler's own writes.
func (uc *LedgerUseCase) Claim(
	ctx context.Context,
	tenantID, eventID uuid.UUID,
	consumerGroup string,
) (bool, error) {
	if consumerGroup == "" {
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "consumer group is required")
	}

	claimed, err := uc.repo.InsertIfAbsent(ctx, domain.NewProcessedEvent(tenantID, eventID, consumerGroup))
	if err != nil {
		return false, err
	}

	if claimed {
		uc.recordOperation(ctx, "claim", "success")
	} else {
		if uc.logger != nil {
			uc.logger.Debug("skipping duplicate event delivery",
				slog.String("tenant_id", tenantID.String()),
				slog.String("event_id", eventID.String()),
				slog.String("consumer_group", consumerGroup),
			)
		}
		uc.recordOperation(ctx, "duplicate", "success")
	}

	return claimed, nil
}

// CleanupOld removes ledger entries older than the retention window. With
// dryRun it only reports how many entries would be removed. A zero retention
// keeps the ledger forever and cleanup is a no-op.
func (uc *LedgerUseCase) CleanupOld(ctx context.Context, dryRun bool) (int64, error) {
	if uc.config.Retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-uc.config.Retention)

	if dryRun {
		return uc.repo.CountBefore(ctx, cutoff)
	}

	count, err := uc.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if uc.logger != nil && count > 0 {
		uc.logger.Info("removed old processed-event entries", slog.Int64("count", count))
	}
	return count, nil
}

func (uc *LedgerUseCase) recordOperation(ctx context.Context, operation, status string) {
	if uc.businessMetrics != nil {
		uc.businessMetrics.RecordOperation(ctx, "ledger", operation, status)
	}
}
