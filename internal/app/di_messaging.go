package app

import (
	"fmt"
	"sync"

	consumerUsecase "github.com/autorepair/eventcore/internal/consumer/usecase"
	idempotencyUsecase "github.com/autorepair/eventcore/internal/idempotency/usecase"
	ledgerUsecase "github.com/autorepair/eventcore/internal/ledger/usecase"
	"github.com/autorepair/eventcore/internal/messaging/kafka"
	outboxHTTP "github.com/autorepair/eventcore/internal/outbox/http"
	outboxUsecase "github.com/autorepair/eventcore/internal/outbox/usecase"
)

// featureComponents groups the lazily built feature components so the core
// container stays readable.
type featureComponents struct {
	kafkaProducer *kafka.Producer
	kafkaConsumer *kafka.Consumer

	outboxRepo    outboxUsecase.OutboxEventRepository
	outboxUseCase outboxUsecase.UseCase
	outboxHandler *outboxHTTP.OutboxHandler

	idempotencyRepo    idempotencyUsecase.IdempotencyRepository
	idempotencyUseCase idempotencyUsecase.UseCase

	ledgerRepo    ledgerUsecase.LedgerRepository
	ledgerUseCase ledgerUsecase.UseCase

	consumerUseCase *consumerUsecase.ConsumerUseCase

	kafkaProducerInit      sync.Once
	kafkaConsumerInit      sync.Once
	outboxRepoInit         sync.Once
	outboxUseCaseInit      sync.Once
	outboxHandlerInit      sync.Once
	idempotencyRepoInit    sync.Once
	idempotencyUseCaseInit sync.Once
	ledgerRepoInit         sync.Once
	ledgerUseCaseInit      sync.Once
	consumerUseCaseInit    sync.Once
}

// KafkaProducer returns the Kafka producer used by the outbox publisher.
func (c *Container) KafkaProducer() (*kafka.Producer, error) {
	c.features.kafkaProducerInit.Do(func() {
		if len(c.config.KafkaBrokers) == 0 {
			c.initErrors["kafkaProducer"] = fmt.Errorf("no kafka brokers configured")
			return
		}
		c.features.kafkaProducer = kafka.NewProducer(c.config.KafkaBrokers)
	})
	if storedErr, exists := c.initErrors["kafkaProducer"]; exists {
		return nil, storedErr
	}
	return c.features.kafkaProducer, nil
}

// KafkaConsumer returns the Kafka consumer used by the consumer command.
func (c *Container) KafkaConsumer() (*kafka.Consumer, error) {
	c.features.kafkaConsumerInit.Do(func() {
		if len(c.config.KafkaBrokers) == 0 {
			c.initErrors["kafkaConsumer"] = fmt.Errorf("no kafka brokers configured")
			return
		}
		c.features.kafkaConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: c.config.KafkaBrokers,
			GroupID: c.config.KafkaConsumerGroup,
			Topic:   c.config.KafkaConsumerTopic,
		})
	})
	if storedErr, exists := c.initErrors["kafkaConsumer"]; exists {
		return nil, storedErr
	}
	return c.features.kafkaConsumer, nil
}
