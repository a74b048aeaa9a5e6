package app

import (
	"fmt"

	idempotencyRepository "github.com/autorepair/eventcore/internal/idempotency/repository"
	idempotencyUsecase "github.com/autorepair/eventcore/internal/idempotency/usecase"
)

// IdempotencyRepository returns the idempotency record repository instance.
func (c *Container) IdempotencyRepository() (idempotencyUsecase.IdempotencyRepository, error) {
	c.features.idempotencyRepoInit.Do(func() {
		repo, err := c.initIdempotencyRepository()
		if err != nil {
			c.initErrors["idempotencyRepository"] = err
			return
		}
		c.features.idempotencyRepo = repo
	})
	if storedErr, exists := c.initErrors["idempotencyRepository"]; exists {
		return nil, storedErr
	}
	return c.features.idempotencyRepo, nil
}

// IdempotencyUseCase returns the idempotency guard use case instance.
func (c *Container) IdempotencyUseCase() (idempotencyUsecase.UseCase, error) {
	c.features.idempotencyUseCaseInit.Do(func() {
		useCase, err := c.initIdempotencyUseCase()
		if err != nil {
			c.initErrors["idempotencyUseCase"] = err
			return
		}
		c.features.idempotencyUseCase = useCase
	})
	if storedErr, exists := c.initErrors["idempotencyUseCase"]; exists {
		return nil, storedErr
	}
	return c.features.idempotencyUseCase, nil
}

// initIdempotencyRepository creates the idempotency repository based on the database driver.
func (c *Container) initIdempotencyRepository() (idempotencyUsecase.IdempotencyRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for idempotency repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return idempotencyRepository.NewPostgreSQLIdempotencyRepository(db), nil
	case "mysql":
		return idempotencyRepository.NewMySQLIdempotencyRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initIdempotencyUseCase creates the idempotency use case with all its dependencies.
func (c *Container) initIdempotencyUseCase() (idempotencyUsecase.UseCase, error) {
	repo, err := c.IdempotencyRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency repository for idempotency use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for idempotency use case: %w", err)
	}

	useCaseConfig := idempotencyUsecase.Config{
		TTL: c.config.IdempotencyTTL,
	}

	return idempotencyUsecase.NewIdempotencyUseCase(useCaseConfig, repo, businessMetrics, c.Logger()), nil
}
