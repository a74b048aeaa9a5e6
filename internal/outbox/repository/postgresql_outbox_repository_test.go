package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/autorepair/eventcore/internal/errors"
	eventDomain "github.com/autorepair/eventcore/internal/event/domain"
	"github.com/autorepair/eventcore/internal/outbox/domain"
	"github.com/autorepair/eventcore/internal/testutil"
)

func newTestEvent(t *testing.T, tenantID uuid.UUID) *domain.OutboxEvent {
	t.Helper()

	envelope := eventDomain.NewEnvelope(eventDomain.NewEnvelopeInput{
		EventType:    "invoice.issued",
		EventVersion: 1,
		Producer:     "billing-service",
		TenantID:     tenantID,
		AggregateID:  uuid.Must(uuid.NewV7()),
		Payload:      json.RawMessage(`{"invoiceId":"inv-1"}`),
	})

	event, err := domain.NewOutboxEvent(envelope, "billing-events")
	require.NoError(t, err)
	return event
}

func TestNewPostgreSQLOutboxEventRepository(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgreSQLOutboxEventRepository{}, repo)
}

func TestPostgreSQLOutboxEventRepository_Create(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	event := newTestEvent(t, tenantID)

	err := repo.Create(ctx, event)
	require.NoError(t, err)

	read, err := repo.GetByID(ctx, tenantID, event.ID)
	require.NoError(t, err)

	assert.Equal(t, event.ID, read.ID)
	assert.Equal(t, tenantID, read.TenantID)
	assert.Nil(t, read.BranchID)
	assert.Equal(t, "invoice.issued", read.EventType)
	assert.Equal(t, 1, read.EventVersion)
	assert.JSONEq(t, string(event.Payload), string(read.Payload))
	assert.Equal(t, "billing-events", read.Topic)
	assert.Equal(t, domain.StatusPending, read.Status)
	assert.Equal(t, 0, read.RetryCount)
	assert.Nil(t, read.LastError)
	assert.Nil(t, read.PublishedAt)
	assert.False(t, read.CreatedAt.IsZero())
}

func TestPostgreSQLOutboxEventRepository_Create_WithBranch(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	branchID := uuid.Must(uuid.NewV7())
	event := newTestEvent(t, tenantID)
	event.BranchID = &branchID

	require.NoError(t, repo.Create(ctx, event))

	read, err := repo.GetByID(ctx, tenantID, event.ID)
	require.NoError(t, err)
	require.NotNil(t, read.BranchID)
	assert.Equal(t, branchID, *read.BranchID)
}

func TestPostgreSQLOutboxEventRepository_GetPendingEvents_FIFO(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	older := newTestEvent(t, tenantID)
	newer := newTestEvent(t, tenantID)

	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	// Backdate the first event so ordering does not depend on insert timing.
	_, err := db.Exec("UPDATE outbox_events SET created_at = NOW() - INTERVAL '1 minute' WHERE id = $1", older.ID)
	require.NoError(t, err)

	// A batch of one must return the older event first.
	events, err := repo.GetPendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, older.ID, events[0].ID)

	// The full batch preserves oldest-first order.
	events, err = repo.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, older.ID, events[0].ID)
	assert.Equal(t, newer.ID, events[1].ID)
}

func TestPostgreSQLOutboxEventRepository_GetPendingEvents_ExcludesTerminal(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	published := newTestEvent(t, tenantID)
	failed := newTestEvent(t, tenantID)
	pending := newTestEvent(t, tenantID)

	for _, event := range []*domain.OutboxEvent{published, failed, pending} {
		require.NoError(t, repo.Create(ctx, event))
	}

	ok, err := repo.MarkPublished(ctx, published.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.MarkFailed(ctx, failed.ID, "broker unavailable")
	require.NoError(t, err)
	require.True(t, ok)

	events, err := repo.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, pending.ID, events[0].ID)
}

func TestPostgreSQLOutboxEventRepository_MarkPublished(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	event := newTestEvent(t, tenantID)
	require.NoError(t, repo.Create(ctx, event))

	ok, err := repo.MarkPublished(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	read, err := repo.GetByID(ctx, tenantID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, read.Status)
	require.NotNil(t, read.PublishedAt)
	assert.WithinDuration(t, time.Now().UTC(), read.PublishedAt.UTC(), 10*time.Second)

	// A published event is terminal: further marks are no-ops.
	ok, err = repo.MarkPublished(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkFailed(ctx, event.ID, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgreSQLOutboxEventRepository_MarkRetry(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	event := newTestEvent(t, tenantID)
	require.NoError(t, repo.Create(ctx, event))

	ok, err := repo.MarkRetry(ctx, event.ID, "connection refused")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkRetry(ctx, event.ID, "connection refused again")
	require.NoError(t, err)
	assert.True(t, ok)

	read, err := repo.GetByID(ctx, tenantID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, read.Status)
	assert.Equal(t, 2, read.RetryCount)
	require.NotNil(t, read.LastError)
	assert.Equal(t, "connection refused again", *read.LastError)
}

func TestPostgreSQLOutboxEventRepository_MarkFailed(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	event := newTestEvent(t, tenantID)
	require.NoError(t, repo.Create(ctx, event))

	ok, err := repo.MarkFailed(ctx, event.ID, "broker unavailable")
	require.NoError(t, err)
	assert.True(t, ok)

	read, err := repo.GetByID(ctx, tenantID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, read.Status)
	assert.Equal(t, 1, read.RetryCount)
	require.NotNil(t, read.LastError)
	assert.Equal(t, "broker unavailable", *read.LastError)
	assert.Nil(t, read.PublishedAt)

	// FAILED is terminal.
	ok, err = repo.MarkPublished(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgreSQLOutboxEventRepository_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7()))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLOutboxEventRepository_GetByID_WrongTenant(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	event := newTestEvent(t, tenantID)
	require.NoError(t, repo.Create(ctx, event))

	// Another tenant must not see the event.
	_, err := repo.GetByID(ctx, uuid.Must(uuid.NewV7()), event.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgreSQLOutboxEventRepository_ListByStatus(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLOutboxEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.Must(uuid.NewV7())
	otherTenantID := uuid.Must(uuid.NewV7())

	failed := newTestEvent(t, tenantID)
	pending := newTestEvent(t, tenantID)
	otherTenant := newTestEvent(t, otherTenantID)

	for _, event := range []*domain.OutboxEvent{failed, pending, otherTenant} {
		require.NoError(t, repo.Create(ctx, event))
	}

	ok, err := repo.MarkFailed(ctx, failed.ID, "broker unavailable")
	require.NoError(t, err)
	require.True(t, ok)

	events, err := repo.ListByStatus(ctx, tenantID, domain.StatusFailed, 0, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, failed.ID, events[0].ID)

	events, err = repo.ListByStatus(ctx, tenantID, domain.StatusPending, 0, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, pending.ID, events[0].ID)

	// Pagination past the result set is empty, not an error.
	events, err = repo.ListByStatus(ctx, tenantID, domain.StatusFailed, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, events)
}
