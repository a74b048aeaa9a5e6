package app

import (
	"fmt"

	ledgerRepository "github.com/autorepair/eventcore/internal/ledger/repository"
	ledgerUsecase "github.com/autorepair/eventcore/internal/ledger/usecase"
)

// LedgerRepository returns the processed-event ledger repository instance.
func (c *Container) LedgerRepository() (ledgerUsecase.LedgerRepository, error) {
	c.features.ledgerRepoInit.Do(func() {
		repo, err := c.initLedgerRepository()
		if err != nil {
			c.initErrors["ledgerRepository"] = err
			return
		}
		c.features.ledgerRepo = repo
	})
	if storedErr, exists := c.initErrors["ledgerRepository"]; exists {
		return nil, storedErr
	}
	return c.features.ledgerRepo, nil
}

// LedgerUseCase returns the processed-event ledger use case instance.
func (c *Container) LedgerUseCase() (ledgerUsecase.UseCase, error) {
	c.features.ledgerUseCaseInit.Do(func() {
		useCase, err := c.initLedgerUseCase()
		if err != nil {
			c.initErrors["ledgerUseCase"] = err
			return
		}
		c.features.ledgerUseCase = useCase
	})
	if storedErr, exists := c.initErrors["ledgerUseCase"]; exists {
		return nil, storedErr
	}
	return c.features.ledgerUseCase, nil
}

// initLedgerRepository creates the ledger repository based on the database driver.
func (c *Container) initLedgerRepository() (ledgerUsecase.LedgerRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for ledger repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return ledgerRepository.NewPostgreSQLLedgerRepository(db), nil
	case "mysql":
		return ledgerRepository.NewMySQLLedgerRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initLedgerUseCase creates the ledger use case with all its dependencies.
func (c *Container) initLedgerUseCase() (ledgerUsecase.UseCase, error) {
	repo, err := c.LedgerRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger repository for ledger use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for ledger use case: %w", err)
	}

	useCaseConfig := ledgerUsecase.Config{
		Retention: c.config.ProcessedEventTTL,
	}

	return ledgerUsecase.NewLedgerUseCase(useCaseConfig, repo, businessMetrics, c.Logger()), nil
}
