package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/autorepair/eventcore/internal/errors"
	"github.com/autorepair/eventcore/internal/idempotency/domain"
	"github.com/autorepair/eventcore/internal/testutil"
)

func newTestRecord(tenantID uuid.UUID, key string) *domain.IdempotencyRecord {
	return domain.NewIdempotencyRecord(tenantID, "orders.create", key, domain.HashRequest([]byte(`{"a":1}`)), 24*time.Hour)
}

func TestPostgreSQLIdempotencyRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLIdempotencyRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	record := newTestRecord(tenantID, "order-123")

	require.NoError(t, repo.Create(ctx, record))

	read, err := repo.GetByKey(ctx, tenantID, "orders.create", "order-123")
	require.NoError(t, err)

	assert.Equal(t, record.ID, read.ID)
	assert.Equal(t, tenantID, read.TenantID)
	assert.Equal(t, "orders.create", read.EndpointKey)
	assert.Equal(t, "order-123", read.Key)
	assert.Equal(t, record.RequestHash, read.RequestHash)
	assert.Equal(t, domain.StatusInProgress, read.Status)
	assert.Nil(t, read.ResponseStatus)
	assert.Nil(t, read.ResponseBody)
}

func TestPostgreSQLIdempotencyRepository_Create_DuplicateKey(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLIdempotencyRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	require.NoError(t, repo.Create(ctx, newTestRecord(tenantID, "order-123")))

	// A second claim for the same (tenant, key) loses the race.
	err := repo.Create(ctx, newTestRecord(tenantID, "order-123"))
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// The same key under another tenant is independent.
	require.NoError(t, repo.Create(ctx, newTestRecord(uuid.Must(uuid.NewV7()), "order-123")))

	// So is the same key on a different logical operation.
	other := domain.NewIdempotencyRecord(tenantID, "orders.cancel", "order-123",
		domain.HashRequest([]byte(`{"a":1}`)), 24*time.Hour)
	require.NoError(t, repo.Create(ctx, other))
}

func TestPostgreSQLIdempotencyRepository_Complete(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLIdempotencyRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	require.NoError(t, repo.Create(ctx, newTestRecord(tenantID, "order-123")))

	response := domain.StoredResponse{Status: 201, Body: `{"orderId":"o-1"}`}
	ok, err := repo.Complete(ctx, tenantID, "orders.create", "order-123", response)
	require.NoError(t, err)
	assert.True(t, ok)

	read, err := repo.GetByKey(ctx, tenantID, "orders.create", "order-123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, read.Status)
	require.NotNil(t, read.ResponseStatus)
	assert.Equal(t, 201, *read.ResponseStatus)
	require.NotNil(t, read.ResponseBody)
	assert.Equal(t, `{"orderId":"o-1"}`, *read.ResponseBody)

	// Completing twice is a no-op.
	ok, err = repo.Complete(ctx, tenantID, "orders.create", "order-123", response)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgreSQLIdempotencyRepository_Delete(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLIdempotencyRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	require.NoError(t, repo.Create(ctx, newTestRecord(tenantID, "order-123")))
	require.NoError(t, repo.Delete(ctx, tenantID, "orders.create", "order-123"))

	_, err := repo.GetByKey(ctx, tenantID, "orders.create", "order-123")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The key can be claimed again.
	require.NoError(t, repo.Create(ctx, newTestRecord(tenantID, "order-123")))
}

func TestPostgreSQLIdempotencyRepository_ExpiredCleanup(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLIdempotencyRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())

	expired := newTestRecord(tenantID, "order-expired")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	fresh := newTestRecord(tenantID, "order-fresh")

	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, fresh))

	count, err := repo.CountExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	deleted, err := repo.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Only the fresh record remains.
	_, err = repo.GetByKey(ctx, tenantID, "orders.create", "order-expired")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = repo.GetByKey(ctx, tenantID, "orders.create", "order-fresh")
	assert.NoError(t, err)
}
