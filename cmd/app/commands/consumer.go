package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/autorepair/eventcore/internal/app"
	"github.com/autorepair/eventcore/internal/config"
)

// RunConsumer starts the event consumer loop: it fetches messages from the
// configured topic, deduplicates them through the processed-event ledger, and
// commits offsets only after successful processing. Blocks until receiving
// SIGINT/SIGTERM or encountering a fatal error.
func RunConsumer(ctx context.Context, version string) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting consumer",
		slog.String("version", version),
		slog.String("consumer_group", cfg.KafkaConsumerGroup),
		slog.String("topic", cfg.KafkaConsumerTopic),
	)

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get the consumer use case from container (this initializes all dependencies)
	consumerUseCase, err := container.ConsumerUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize consumer use case: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := consumerUseCase.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consumer error: %w", err)
	}

	logger.Info("consumer stopped")
	return nil
}
