// Package usecase implements the outbox business logic: staging events on the
// producer's transaction and driving pending events to the message bus.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/autorepair/eventcore/internal/database"
	"github.com/autorepair/eventcore/internal/metrics"
	"github.com/autorepair/eventcore/internal/outbox/domain"

	eventDomain "github.com/autorepair/eventcore/internal/event/domain"
)

// Config holds outbox use case configuration.
type Config struct {
	// Interval is the cadence of the publish loop.
	Interval time.Duration
	// BatchSize is the maximum number of pending events claimed per tick.
	BatchSize int
	// MaxRetries is the delivery retry ceiling; reaching it marks the event FAILED.
	MaxRetries int
	// DeliveryTimeout bounds a single broker send so a stalled broker cannot
	// stall the loop past the tick interval.
	DeliveryTimeout time.Duration
	// RatePerSec throttles broker sends. Zero disables throttling.
	RatePerSec float64
}

// OutboxEventRepository defines outbox event repository operations.
type OutboxEventRepository interface {
	Create(ctx context.Context, event *domain.OutboxEvent) error
	GetPendingEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRetry(ctx context.Context, id uuid.UUID, lastError string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) (bool, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.OutboxEvent, error)
	ListByStatus(ctx context.Context, tenantID uuid.UUID, status domain.Status, offset, limit int) ([]*domain.OutboxEvent, error)
}

// MessagePublisher delivers a staged payload to the message bus.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// UseCase defines the interface for outbox use cases.
type UseCase interface {
	Append(ctx context.Context, envelope *eventDomain.EventEnvelope, topic string) (*domain.OutboxEvent, error)
	Start(ctx context.Context) error
	ProcessEvents(ctx context.Context) error
	GetEvent(ctx context.Context, tenantID, id uuid.UUID) (*domain.OutboxEvent, error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, status domain.Status, offset, limit int) ([]*domain.OutboxEvent, error)
}

// OutboxUseCase implements staging and publishing of outbox events.
type OutboxUseCase struct {
	config          Config
	txManager       database.TxManager
	outboxRepo      OutboxEventRepository
	publisher       MessagePublisher
	limiter         *rate.Limiter
	businessMetrics metrics.BusinessMetrics
	logger          *slog.Logger
}

// NewOutboxUseCase creates a new OutboxUseCase.
func NewOutboxUseCase(
	config Config,
	txManager database.TxManager,
	outboxRepo OutboxEventRepository,
	publisher MessagePublisher,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *OutboxUseCase {
	var limiter *rate.Limiter
	if config.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSec), 1)
	}

	return &OutboxUseCase{
		config:          config,
		txManager:       txManager,
		outboxRepo:      outboxRepo,
		publisher:       publisher,
		limiter:         limiter,
		businessMetrics: businessMetrics,
		logger:          logger,
	}
}

// Append stages an envelope as a PENDING outbox event bound for topic. It
// writes on the caller's ambient transaction, so the staged event and the
// domain mutation it announces commit or roll back together.
func (uc *OutboxUseCase) Append(
	ctx context.Context,
	envelope *eventDomain.EventEnvelope,
	topic string,
) (*domain.OutboxEvent, error) {
	event, err := domain.NewOutboxEvent(envelope, topic)
	if err != nil {
		return nil, err
	}

	if err := uc.outboxRepo.Create(ctx, event); err != nil {
		return nil, err
	}

	return event, nil
}

// Start runs the publish loop until the context is cancelled. Each tick
// performs one bounded batch and returns control, so shutdown can drain
// in-flight work between ticks.
func (uc *OutboxUseCase) Start(ctx context.Context) error {
	if uc.logger != nil {
		uc.logger.Info("starting outbox publisher",
			slog.Duration("interval", uc.config.Interval),
			slog.Int("batch_size", uc.config.BatchSize),
			slog.Int("max_retries", uc.config.MaxRetries),
		)
	}

	ticker := time.NewTicker(uc.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if uc.logger != nil {
				uc.logger.Info("stopping outbox publisher")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := uc.ProcessEvents(ctx); err != nil {
				if uc.logger != nil {
					uc.logger.Error("failed to process outbox batch", slog.Any("error", err))
				}
			}
		}
	}
}

// ProcessEvents claims one batch of pending events and attempts delivery for
// each row independently: a failing row never blocks the rest of the batch.
// The claim and the per-row marks run inside one transaction so the SKIP
// LOCKED row locks are held until every outcome is recorded.
func (uc *OutboxUseCase) ProcessEvents(ctx context.Context) error {
	return uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		events, err := uc.outboxRepo.GetPendingEvents(ctx, uc.config.BatchSize)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		if uc.logger != nil {
			uc.logger.Info("publishing outbox batch", slog.Int("count", len(events)))
		}

		for _, event := range events {
			uc.deliverEvent(ctx, event)
		}

		return nil
	})
}

// deliverEvent performs one delivery attempt and records the outcome.
func (uc *OutboxUseCase) deliverEvent(ctx context.Context, event *domain.OutboxEvent) {
	start := time.Now()
	err := uc.publish(ctx, event)
	uc.recordDelivery(ctx, "deliver", start, err)

	if err == nil {
		if _, markErr := uc.outboxRepo.MarkPublished(ctx, event.ID); markErr != nil && uc.logger != nil {
			uc.logger.Error("failed to mark event published",
				slog.String("event_id", event.ID.String()),
				slog.Any("error", markErr),
			)
		}
		return
	}

	if uc.logger != nil {
		uc.logger.Error("failed to deliver event",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.EventType),
			slog.String("topic", event.Topic),
			slog.Int("retry_count", event.RetryCount+1),
			slog.Any("error", err),
		)
	}

	// Reaching the ceiling makes the failure terminal: the row stops being
	// claimed and waits for operator review.
	if event.RetryCount+1 >= uc.config.MaxRetries {
		if _, markErr := uc.outboxRepo.MarkFailed(ctx, event.ID, err.Error()); markErr != nil && uc.logger != nil {
			uc.logger.Error("failed to mark event failed",
				slog.String("event_id", event.ID.String()),
				slog.Any("error", markErr),
			)
		}
		uc.recordOperation(ctx, "terminal_failure", "error")
		return
	}

	if _, markErr := uc.outboxRepo.MarkRetry(ctx, event.ID, err.Error()); markErr != nil && uc.logger != nil {
		uc.logger.Error("failed to mark event for retry",
			slog.String("event_id", event.ID.String()),
			slog.Any("error", markErr),
		)
	}
}

// publish sends one event to the bus with a bounded per-send timeout.
func (uc *OutboxUseCase) publish(ctx context.Context, event *domain.OutboxEvent) error {
	if uc.limiter != nil {
		if err := uc.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	sendCtx := ctx
	if uc.config.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, uc.config.DeliveryTimeout)
		defer cancel()
	}

	return uc.publisher.Publish(sendCtx, event.Topic, event.MessageKey(), event.Payload)
}

// GetEvent retrieves a single tenant-scoped outbox event.
func (uc *OutboxUseCase) GetEvent(ctx context.Context, tenantID, id uuid.UUID) (*domain.OutboxEvent, error) {
	return uc.outboxRepo.GetByID(ctx, tenantID, id)
}

// ListEvents retrieves tenant-scoped events in a given status, oldest first.
func (uc *OutboxUseCase) ListEvents(
	ctx context.Context,
	tenantID uuid.UUID,
	status domain.Status,
	offset, limit int,
) ([]*domain.OutboxEvent, error) {
	return uc.outboxRepo.ListByStatus(ctx, tenantID, status, offset, limit)
}

func (uc *OutboxUseCase) recordOperation(ctx context.Context, operation, status string) {
	if uc.businessMetrics != nil {
		uc.businessMetrics.RecordOperation(ctx, "outbox", operation, status)
	}
}

func (uc *OutboxUseCase) recordDelivery(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if uc.businessMetrics != nil {
		uc.businessMetrics.RecordOperation(ctx, "outbox", operation, status)
		uc.businessMetrics.RecordDuration(ctx, "outbox", operation, time.Since(start), status)
	}
}
