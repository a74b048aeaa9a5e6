// Package usecase implements the idempotency guard: claiming keys, replaying
// stored responses, and cleaning up expired records.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/idempotency/domain"
	"github.com/autorepair/eventcore/internal/metrics"
)

// Config holds idempotency use case configuration.
type Config struct {
	// TTL is the retention window of a record after which its key can be reused.
	TTL time.Duration
}

// IdempotencyRepository defines idempotency record repository operations.
type IdempotencyRepository interface {
	Create(ctx context.Context, record *domain.IdempotencyRecord) error
	GetByKey(ctx context.Context, tenantID uuid.UUID, endpointKey, key string) (*domain.IdempotencyRecord, error)
	Complete(ctx context.Context, tenantID uuid.UUID, endpointKey, key string, response domain.StoredResponse) (bool, error)
	Delete(ctx context.Context, tenantID uuid.UUID, endpointKey, key string) error
	CountExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// UseCase defines the interface for idempotency use cases.
type UseCase interface {
	Check(ctx context.Context, tenantID uuid.UUID, endpointKey, key string, requestBody []byte) (*domain.StoredResponse, error)
	Claim(ctx context.Context, tenantID uuid.UUID, endpointKey, key string, requestBody []byte) (*domain.StoredResponse, error)
	Complete(ctx context.Context, tenantID uuid.UUID, endpointKey, key string, response domain.StoredResponse) error
	Release(ctx context.Context, tenantID uuid.UUID, endpointKey, key string) error
	CleanupExpired(ctx context.Context, dryRun bool) (int64, error)
}

// IdempotencyUseCase implements the idempotency guard.
type IdempotencyUseCase struct {
	config          Config
	repo            IdempotencyRepository
	businessMetrics metrics.BusinessMetrics
	logger          *slog.Logger
}

// NewIdempotencyUseCase creates a new IdempotencyUseCase.
func NewIdempotencyUseCase(
	config Config,
	repo IdempotencyRepository,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *IdempotencyUseCase {
	return &IdempotencyUseCase{
		config:          config,
		repo:            repo,
		businessMetrics: businessMetrics,
		logger:          logger,
	}
}

// Check inspects the state of key without claiming it. It returns the stored
// response for a completed record with a matching request, nil for a fresh or
// expired key, ErrHashMismatch when the key was used with a different request
// body, and ErrInProgress while the first request is still executing.
func (uc *IdempotencyUseCase) Check(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
	requestBody []byte,
) (*domain.StoredResponse, error) {
	record, err := uc.repo.GetByKey(ctx, tenantID, endpointKey, key)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return uc.resolve(ctx, record, domain.HashRequest(requestBody))
}

// Claim atomically reserves key for the request identified by requestBody.
// A nil, nil return means the claim was won and the caller must execute the
// operation, then call Complete (or Release on failure). A non-nil response
// means an identical request already completed and its outcome should be
// replayed without re-executing.
//
// The claim is a placeholder insert: the unique constraint on the key makes
// concurrent claims race on the database, so exactly one caller ever wins.
func (uc *IdempotencyUseCase) Claim(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
	requestBody []byte,
) (*domain.StoredResponse, error) {
	requestHash := domain.HashRequest(requestBody)

	for attempt := 0; attempt < 2; attempt++ {
		record := domain.NewIdempotencyRecord(tenantID, endpointKey, key, requestHash, uc.config.TTL)

		err := uc.repo.Create(ctx, record)
		if err == nil {
			uc.recordOperation(ctx, "claim", "success")
			return nil, nil
		}
		if !apperrors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}

		// Lost the race: resolve against the winner's record.
		winner, getErr := uc.repo.GetByKey(ctx, tenantID, endpointKey, key)
		if apperrors.Is(getErr, apperrors.ErrNotFound) {
			// The winner was deleted between insert and read; try again.
			continue
		}
		if getErr != nil {
			return nil, getErr
		}

		// An expired record no longer binds the key. Release it and retry the
		// claim once.
		if winner.Expired(time.Now().UTC()) {
			if delErr := uc.repo.Delete(ctx, tenantID, endpointKey, key); delErr != nil {
				return nil, delErr
			}
			continue
		}

		return uc.resolve(ctx, winner, requestHash)
	}

	return nil, apperrors.ErrInProgress
}

// resolve maps an existing record to the guard outcome for a request with the
// given hash.
func (uc *IdempotencyUseCase) resolve(
	ctx context.Context,
	record *domain.IdempotencyRecord,
	requestHash string,
) (*domain.StoredResponse, error) {
	if record.Expired(time.Now().UTC()) {
		return nil, nil
	}

	if record.RequestHash != requestHash {
		uc.recordOperation(ctx, "claim", "hash_mismatch")
		return nil, apperrors.ErrHashMismatch
	}

	if response := record.Response(); response != nil {
		if uc.logger != nil {
			uc.logger.Debug("replaying stored response",
				slog.String("tenant_id", record.TenantID.String()),
				slog.String("idempotency_key", record.Key),
			)
		}
		uc.recordOperation(ctx, "replay", "success")
		return response, nil
	}

	return nil, apperrors.ErrInProgress
}

// Complete attaches the operation's outcome to the claimed key so later
// identical requests replay it.
func (uc *IdempotencyUseCase) Complete(
	ctx context.Context,
	tenantID uuid.UUID,
	endpointKey, key string,
	response domain.StoredResponse,
) error {
	ok, err := uc.repo.Complete(ctx, tenantID, endpointKey, key, response)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Wrap(apperrors.ErrNotFound, "no in-progress record for idempotency key")
	}
	return nil
}

// Release frees a claimed key after a failed operation so the caller can
// retry with the same key.
func (uc *IdempotencyUseCase) Release(ctx context.Context, tenantID uuid.UUID, endpointKey, key string) error {
	return uc.repo.Delete(ctx, tenantID, endpointKey, key)
}

// CleanupExpired removes records past their retention window. With dryRun it
// only reports how many records would be removed.
func (uc *IdempotencyUseCase) CleanupExpired(ctx context.Context, dryRun bool) (int64, error) {
	now := time.Now().UTC()

	if dryRun {
		return uc.repo.CountExpired(ctx, now)
	}

	count, err := uc.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	if uc.logger != nil && count > 0 {
		uc.logger.Info("removed expired idempotency records", slog.Int64("count", count))
	}
	return count, nil
}

func (uc *IdempotencyUseCase) recordOperation(ctx context.Context, operation, status string) {
	if uc.businessMetrics != nil {
		uc.businessMetrics.RecordOperation(ctx, "idempotency", operation, status)
	}
}
