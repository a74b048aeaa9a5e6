package app

import (
	"fmt"

	outboxHTTP "github.com/autorepair/eventcore/internal/outbox/http"
	outboxRepository "github.com/autorepair/eventcore/internal/outbox/repository"
	outboxUsecase "github.com/autorepair/eventcore/internal/outbox/usecase"
)

// OutboxRepository returns the outbox event repository instance.
func (c *Container) OutboxRepository() (outboxUsecase.OutboxEventRepository, error) {
	c.features.outboxRepoInit.Do(func() {
		repo, err := c.initOutboxRepository()
		if err != nil {
			c.initErrors["outboxRepository"] = err
			return
		}
		c.features.outboxRepo = repo
	})
	if storedErr, exists := c.initErrors["outboxRepository"]; exists {
		return nil, storedErr
	}
	return c.features.outboxRepo, nil
}

// OutboxUseCase returns the outbox use case instance.
func (c *Container) OutboxUseCase() (outboxUsecase.UseCase, error) {
	c.features.outboxUseCaseInit.Do(func() {
		useCase, err := c.initOutboxUseCase()
		if err != nil {
			c.initErrors["outboxUseCase"] = err
			return
		}
		c.features.outboxUseCase = useCase
	})
	if storedErr, exists := c.initErrors["outboxUseCase"]; exists {
		return nil, storedErr
	}
	return c.features.outboxUseCase, nil
}

// OutboxHandler returns the outbox HTTP handler instance.
func (c *Container) OutboxHandler() (*outboxHTTP.OutboxHandler, error) {
	c.features.outboxHandlerInit.Do(func() {
		useCase, err := c.OutboxUseCase()
		if err != nil {
			c.initErrors["outboxHandler"] = fmt.Errorf("failed to get outbox use case for outbox handler: %w", err)
			return
		}
		c.features.outboxHandler = outboxHTTP.NewOutboxHandler(useCase, c.Logger())
	})
	if storedErr, exists := c.initErrors["outboxHandler"]; exists {
		return nil, storedErr
	}
	return c.features.outboxHandler, nil
}

// initOutboxRepository creates the outbox event repository based on the database driver.
func (c *Container) initOutboxRepository() (outboxUsecase.OutboxEventRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxEventRepository(db), nil
	case "mysql":
		return outboxRepository.NewMySQLOutboxEventRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initOutboxUseCase creates the outbox use case with all its dependencies.
func (c *Container) initOutboxUseCase() (outboxUsecase.UseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for outbox use case: %w", err)
	}

	outboxRepo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for outbox use case: %w", err)
	}

	producer, err := c.KafkaProducer()
	if err != nil {
		return nil, fmt.Errorf("failed to get kafka producer for outbox use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for outbox use case: %w", err)
	}

	useCaseConfig := outboxUsecase.Config{
		Interval:        c.config.PublisherInterval,
		BatchSize:       c.config.PublisherBatchSize,
		MaxRetries:      c.config.PublisherMaxRetries,
		DeliveryTimeout: c.config.PublisherDeliveryTimeout,
		RatePerSec:      c.config.PublisherRatePerSec,
	}

	return outboxUsecase.NewOutboxUseCase(
		useCaseConfig,
		txManager,
		outboxRepo,
		producer,
		businessMetrics,
		c.Logger(),
	), nil
}
