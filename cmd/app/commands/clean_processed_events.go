package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/autorepair/eventcore/internal/app"
	"github.com/autorepair/eventcore/internal/config"
	ledgerUsecase "github.com/autorepair/eventcore/internal/ledger/usecase"
)

// CleanProcessedEvents prunes processed-event ledger entries older than the
// configured retention window. Supports dry-run mode to preview the deletion
// count and both text/JSON output formats. A zero retention keeps entries
// forever and makes this command a no-op.
//
// Requirements: Database must be migrated and accessible.
func CleanProcessedEvents(ctx context.Context, dryRun bool, format string) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get ledger use case from container
	ledgerUseCase, err := container.LedgerUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize ledger use case: %w", err)
	}

	return RunCleanProcessedEvents(ctx, ledgerUseCase, logger, os.Stdout, dryRun, format)
}

// RunCleanProcessedEvents executes the cleanup against the provided use case
// and writes the result to out.
func RunCleanProcessedEvents(
	ctx context.Context,
	ledgerUseCase ledgerUsecase.UseCase,
	logger *slog.Logger,
	out io.Writer,
	dryRun bool,
	format string,
) error {
	logger.Info("cleaning old processed events", slog.Bool("dry_run", dryRun))

	count, err := ledgerUseCase.CleanupOld(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("failed to clean processed events: %w", err)
	}

	// Output result based on format
	if format == "json" {
		outputCleanupJSON(out, "processed_events", count, dryRun)
	} else {
		outputCleanupText(out, "old processed event(s)", count, dryRun)
	}

	logger.Info("cleanup completed",
		slog.Int64("count", count),
		slog.Bool("dry_run", dryRun),
	)

	return nil
}
