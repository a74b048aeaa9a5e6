// Package usecase implements the deduplicating event consumer loop: fetch,
// claim in the processed-event ledger, dispatch, commit.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/autorepair/eventcore/internal/database"
	eventDomain "github.com/autorepair/eventcore/internal/event/domain"
	ledgerUsecase "github.com/autorepair/eventcore/internal/ledger/usecase"
	"github.com/autorepair/eventcore/internal/messaging/kafka"
	"github.com/autorepair/eventcore/internal/metrics"
)

// MessageSource supplies messages and acknowledges them after processing.
type MessageSource interface {
	Fetch(ctx context.Context) (*kafka.Message, error)
	Commit(ctx context.Context, msg *kafka.Message) error
}

// EventHandler processes a validated event envelope. A returned error leaves
// the message uncommitted so the broker redelivers it.
type EventHandler interface {
	Handle(ctx context.Context, envelope *eventDomain.EventEnvelope) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, envelope *eventDomain.EventEnvelope) error

// Handle calls f.
func (f EventHandlerFunc) Handle(ctx context.Context, envelope *eventDomain.EventEnvelope) error {
	return f(ctx, envelope)
}

// ConsumerUseCase runs the consume loop for one consumer group.
type ConsumerUseCase struct {
	consumerGroup   string
	source          MessageSource
	txManager       database.TxManager
	ledger          ledgerUsecase.UseCase
	handler         EventHandler
	businessMetrics metrics.BusinessMetrics
	logger          *slog.Logger
}

// NewConsumerUseCase creates a new ConsumerUseCase.
func NewConsumerUseCase(
	consumerGroup string,
	source MessageSource,
	txManager database.TxManager,
	ledger ledgerUsecase.UseCase,
	handler EventHandler,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *ConsumerUseCase {
	return &ConsumerUseCase{
		consumerGroup:   consumerGroup,
		source:          source,
		txManager:       txManager,
		ledger:          ledger,
		handler:         handler,
		businessMetrics: businessMetrics,
		logger:          logger,
	}
}

// Run consumes messages until the context is cancelled. Processing errors
// leave the message uncommitted for redelivery; malformed messages and
// duplicates are committed and skipped.
func (uc *ConsumerUseCase) Run(ctx context.Context) error {
	if uc.logger != nil {
		uc.logger.Info("starting event consumer", slog.String("consumer_group", uc.consumerGroup))
	}

	for {
		msg, err := uc.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				if uc.logger != nil {
					uc.logger.Info("stopping event consumer", slog.String("consumer_group", uc.consumerGroup))
				}
				return ctx.Err()
			}
			if uc.logger != nil {
				uc.logger.Error("failed to fetch message", slog.Any("error", err))
			}
			continue
		}

		if err := uc.ProcessMessage(ctx, msg); err != nil {
			if uc.logger != nil {
				uc.logger.Error("failed to process message",
					slog.String("topic", msg.Topic),
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
					slog.Any("error", err),
				)
			}
			// Not committed: the broker will redeliver and the ledger will
			// keep the retry from double-processing a half-finished handler.
			continue
		}

		if err := uc.source.Commit(ctx, msg); err != nil {
			if uc.logger != nil {
				uc.logger.Error("failed to commit offset", slog.Any("error", err))
			}
		}
	}
}

// ProcessMessage handles a single delivery. A nil return means the message is
// done and its offset can be committed.
func (uc *ConsumerUseCase) ProcessMessage(ctx context.Context, msg *kafka.Message) error {
	start := time.Now()

	var envelope eventDomain.EventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		uc.skipMalformed(ctx, msg, err)
		return nil
	}
	if err := envelope.Validate(); err != nil {
		uc.skipMalformed(ctx, msg, err)
		return nil
	}

	// The ledger claim and the handler's writes share one transaction: either
	// the event is processed and recorded, or neither happened.
	err := uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		claimed, err := uc.ledger.Claim(ctx, envelope.TenantID, envelope.EventID, uc.consumerGroup)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		return uc.handler.Handle(ctx, &envelope)
	})

	uc.recordProcessing(ctx, start, err)
	return err
}

func (uc *ConsumerUseCase) skipMalformed(ctx context.Context, msg *kafka.Message, err error) {
	if uc.logger != nil {
		uc.logger.Warn("skipping malformed message",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)
	}
	if uc.businessMetrics != nil {
		uc.businessMetrics.RecordOperation(ctx, "consumer", "malformed", "error")
	}
}

func (uc *ConsumerUseCase) recordProcessing(ctx context.Context, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	if uc.businessMetrics != nil {
		uc.businessMetrics.RecordOperation(ctx, "consumer", "process", status)
		uc.businessMetrics.RecordDuration(ctx, "consumer", "process", time.Since(start), status)
	}
}

// NewLoggingEventHandler returns a handler that only logs the event. It is
// the default handler for deployments that consume events for inspection.
func NewLoggingEventHandler(logger *slog.Logger) EventHandler {
	return EventHandlerFunc(func(_ context.Context, envelope *eventDomain.EventEnvelope) error {
		if logger != nil {
			logger.Info("received event",
				slog.String("event_id", envelope.EventID.String()),
				slog.String("event_type", envelope.EventType),
				slog.Int("event_version", envelope.EventVersion),
				slog.String("tenant_id", envelope.TenantID.String()),
				slog.String("producer", envelope.Producer),
			)
		}
		return nil
	})
}
