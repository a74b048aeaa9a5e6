package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/autorepair/eventcore/internal/errors"
	eventDomain "github.com/autorepair/eventcore/internal/event/domain"
	"github.com/autorepair/eventcore/internal/metrics"
	"github.com/autorepair/eventcore/internal/outbox/domain"
)

// TestMain verifies that the publisher loop does not leak goroutines.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockTxManager is a mock implementation of database.TxManager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Get(0) != nil {
		return args.Error(0)
	}
	// Execute the function to test the logic inside
	return fn(ctx)
}

// MockOutboxEventRepository is a mock implementation of OutboxEventRepository
type MockOutboxEventRepository struct {
	mock.Mock
}

func (m *MockOutboxEventRepository) Create(ctx context.Context, event *domain.OutboxEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockOutboxEventRepository) GetPendingEvents(
	ctx context.Context,
	limit int,
) ([]*domain.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxEvent), args.Error(1)
}

func (m *MockOutboxEventRepository) MarkPublished(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxEventRepository) MarkRetry(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	args := m.Called(ctx, id, lastError)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxEventRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (bool, error) {
	args := m.Called(ctx, id, lastError)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxEventRepository) GetByID(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (*domain.OutboxEvent, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboxEvent), args.Error(1)
}

func (m *MockOutboxEventRepository) ListByStatus(
	ctx context.Context,
	tenantID uuid.UUID,
	status domain.Status,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	args := m.Called(ctx, tenantID, status, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OutboxEvent), args.Error(1)
}

// MockMessagePublisher is a mock implementation of MessagePublisher
type MockMessagePublisher struct {
	mock.Mock
}

func (m *MockMessagePublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func testConfig() Config {
	return Config{
		Interval:        10 * time.Millisecond,
		BatchSize:       100,
		MaxRetries:      5,
		DeliveryTimeout: time.Second,
	}
}

func testEnvelope() *eventDomain.EventEnvelope {
	return eventDomain.NewEnvelope(eventDomain.NewEnvelopeInput{
		EventType:    "workorder.completed",
		EventVersion: 1,
		Producer:     "workshop-service",
		TenantID:     uuid.Must(uuid.NewV7()),
		AggregateID:  uuid.Must(uuid.NewV7()),
		Payload:      json.RawMessage(`{"workOrderId":"wo-1"}`),
	})
}

func pendingEvent(t *testing.T, retryCount int) *domain.OutboxEvent {
	t.Helper()
	event, err := domain.NewOutboxEvent(testEnvelope(), "workshop-events")
	require.NoError(t, err)
	event.RetryCount = retryCount
	return event
}

func newTestUseCase(
	txManager *MockTxManager,
	repo *MockOutboxEventRepository,
	publisher *MockMessagePublisher,
) *OutboxUseCase {
	return NewOutboxUseCase(testConfig(), txManager, repo, publisher, metrics.NewNoOpBusinessMetrics(), nil)
}

func TestOutboxUseCase_Append_Success(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	ctx := context.Background()
	repo.On("Create", ctx, mock.AnythingOfType("*domain.OutboxEvent")).Return(nil)

	event, err := uc.Append(ctx, testEnvelope(), "workshop-events")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, event.Status)
	assert.Equal(t, "workshop-events", event.Topic)
	repo.AssertExpectations(t)
}

func TestOutboxUseCase_Append_InvalidEnvelope(t *testing.T) {
	uc := newTestUseCase(&MockTxManager{}, &MockOutboxEventRepository{}, &MockMessagePublisher{})

	envelope := testEnvelope()
	envelope.EventType = ""

	_, err := uc.Append(context.Background(), envelope, "workshop-events")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOutboxUseCase_Append_RepositoryError(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	uc := newTestUseCase(txManager, repo, &MockMessagePublisher{})

	ctx := context.Background()
	repo.On("Create", ctx, mock.AnythingOfType("*domain.OutboxEvent")).Return(errors.New("insert failed"))

	_, err := uc.Append(ctx, testEnvelope(), "workshop-events")
	assert.Error(t, err)
}

func TestOutboxUseCase_ProcessEvents_EmptyBatch(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	ctx := context.Background()
	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	repo.On("GetPendingEvents", ctx, 100).Return([]*domain.OutboxEvent{}, nil)

	require.NoError(t, uc.ProcessEvents(ctx))
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxUseCase_ProcessEvents_PublishesAndMarks(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	ctx := context.Background()
	event := pendingEvent(t, 0)

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	repo.On("GetPendingEvents", ctx, 100).Return([]*domain.OutboxEvent{event}, nil)
	// The send context carries a per-delivery timeout, so only the payload is matched.
	publisher.On("Publish", mock.Anything, "workshop-events", event.MessageKey(), event.Payload).Return(nil)
	repo.On("MarkPublished", ctx, event.ID).Return(true, nil)

	require.NoError(t, uc.ProcessEvents(ctx))
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxUseCase_ProcessEvents_RetryOnDeliveryFailure(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	ctx := context.Background()
	event := pendingEvent(t, 0)

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	repo.On("GetPendingEvents", ctx, 100).Return([]*domain.OutboxEvent{event}, nil)
	publisher.On("Publish", mock.Anything, "workshop-events", event.MessageKey(), event.Payload).
		Return(errors.New("broker unavailable"))
	repo.On("MarkRetry", ctx, event.ID, "broker unavailable").Return(true, nil)

	require.NoError(t, uc.ProcessEvents(ctx))
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxUseCase_ProcessEvents_TerminalFailureAtRetryCeiling(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	ctx := context.Background()
	// Four failed attempts already recorded; this one is the fifth and last.
	event := pendingEvent(t, 4)

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	repo.On("GetPendingEvents", ctx, 100).Return([]*domain.OutboxEvent{event}, nil)
	publisher.On("Publish", mock.Anything, "workshop-events", event.MessageKey(), event.Payload).
		Return(errors.New("broker unavailable"))
	repo.On("MarkFailed", ctx, event.ID, "broker unavailable").Return(true, nil)

	require.NoError(t, uc.ProcessEvents(ctx))
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxUseCase_ProcessEvents_FailingRowDoesNotBlockBatch(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	ctx := context.Background()
	failing := pendingEvent(t, 0)
	healthy := pendingEvent(t, 0)

	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	repo.On("GetPendingEvents", ctx, 100).Return([]*domain.OutboxEvent{failing, healthy}, nil)
	publisher.On("Publish", mock.Anything, "workshop-events", failing.MessageKey(), failing.Payload).
		Return(errors.New("serialization error"))
	repo.On("MarkRetry", ctx, failing.ID, "serialization error").Return(true, nil)
	publisher.On("Publish", mock.Anything, "workshop-events", healthy.MessageKey(), healthy.Payload).Return(nil)
	repo.On("MarkPublished", ctx, healthy.ID).Return(true, nil)

	require.NoError(t, uc.ProcessEvents(ctx))
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxUseCase_ProcessEvents_ClaimError(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	uc := newTestUseCase(txManager, repo, &MockMessagePublisher{})

	ctx := context.Background()
	txManager.On("WithTx", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	repo.On("GetPendingEvents", ctx, 100).Return(nil, errors.New("connection lost"))

	assert.Error(t, uc.ProcessEvents(ctx))
}

func TestOutboxUseCase_Start_StopsOnContextCancel(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	publisher := &MockMessagePublisher{}
	uc := newTestUseCase(txManager, repo, publisher)

	txManager.On("WithTx", mock.Anything, mock.AnythingOfType("func(context.Context) error")).
		Return(nil).Maybe()
	repo.On("GetPendingEvents", mock.Anything, 100).Return([]*domain.OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- uc.Start(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after context cancellation")
	}
}

func TestOutboxUseCase_GetEvent(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	uc := newTestUseCase(txManager, repo, &MockMessagePublisher{})

	ctx := context.Background()
	event := pendingEvent(t, 0)
	repo.On("GetByID", ctx, event.TenantID, event.ID).Return(event, nil)

	got, err := uc.GetEvent(ctx, event.TenantID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
}

func TestOutboxUseCase_GetEvent_NotFound(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	uc := newTestUseCase(txManager, repo, &MockMessagePublisher{})

	ctx := context.Background()
	tenantID := uuid.Must(uuid.NewV7())
	id := uuid.Must(uuid.NewV7())
	repo.On("GetByID", ctx, tenantID, id).Return(nil, apperrors.ErrNotFound)

	_, err := uc.GetEvent(ctx, tenantID, id)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOutboxUseCase_ListEvents(t *testing.T) {
	txManager := &MockTxManager{}
	repo := &MockOutboxEventRepository{}
	uc := newTestUseCase(txManager, repo, &MockMessagePublisher{})

	ctx := context.Background()
	tenantID := uuid.Must(uuid.NewV7())
	events := []*domain.OutboxEvent{pendingEvent(t, 0)}
	repo.On("ListByStatus", ctx, tenantID, domain.StatusFailed, 0, 50).Return(events, nil)

	got, err := uc.ListEvents(ctx, tenantID, domain.StatusFailed, 0, 50)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
