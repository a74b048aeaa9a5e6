package app

import (
	"fmt"

	consumerUsecase "github.com/autorepair/eventcore/internal/consumer/usecase"
)

// ConsumerUseCase returns the event consumer use case instance.
func (c *Container) ConsumerUseCase() (*consumerUsecase.ConsumerUseCase, error) {
	c.features.consumerUseCaseInit.Do(func() {
		useCase, err := c.initConsumerUseCase()
		if err != nil {
			c.initErrors["consumerUseCase"] = err
			return
		}
		c.features.consumerUseCase = useCase
	})
	if storedErr, exists := c.initErrors["consumerUseCase"]; exists {
		return nil, storedErr
	}
	return c.features.consumerUseCase, nil
}

// initConsumerUseCase creates the consumer use case with all its dependencies.
func (c *Container) initConsumerUseCase() (*consumerUsecase.ConsumerUseCase, error) {
	logger := c.Logger()

	source, err := c.KafkaConsumer()
	if err != nil {
		return nil, fmt.Errorf("failed to get kafka consumer for consumer use case: %w", err)
	}

	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for consumer use case: %w", err)
	}

	ledger, err := c.LedgerUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger use case for consumer use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for consumer use case: %w", err)
	}

	return consumerUsecase.NewConsumerUseCase(
		c.config.KafkaConsumerGroup,
		source,
		txManager,
		ledger,
		consumerUsecase.NewLoggingEventHandler(logger),
		businessMetrics,
		logger,
	), nil
}
