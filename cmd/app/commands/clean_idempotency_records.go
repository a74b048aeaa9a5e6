package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/autorepair/eventcore/internal/app"
	"github.com/autorepair/eventcore/internal/config"
	idempotencyUsecase "github.com/autorepair/eventcore/internal/idempotency/usecase"
)

// CleanIdempotencyRecords deletes idempotency records whose retention window
// has passed, freeing their keys for reuse. Supports dry-run mode to preview
// the deletion count and both text/JSON output formats.
//
// Requirements: Database must be migrated and accessible.
func CleanIdempotencyRecords(ctx context.Context, dryRun bool, format string) error {
	// Load configuration
	cfg := config.Load()

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get idempotency use case from container
	idempotencyUseCase, err := container.IdempotencyUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize idempotency use case: %w", err)
	}

	return RunCleanIdempotencyRecords(ctx, idempotencyUseCase, logger, os.Stdout, dryRun, format)
}

// RunCleanIdempotencyRecords executes the cleanup against the provided use case
// and writes the result to out.
func RunCleanIdempotencyRecords(
	ctx context.Context,
	idempotencyUseCase idempotencyUsecase.UseCase,
	logger *slog.Logger,
	out io.Writer,
	dryRun bool,
	format string,
) error {
	logger.Info("cleaning expired idempotency records", slog.Bool("dry_run", dryRun))

	count, err := idempotencyUseCase.CleanupExpired(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("failed to clean idempotency records: %w", err)
	}

	// Output result based on format
	if format == "json" {
		outputCleanupJSON(out, "idempotency_records", count, dryRun)
	} else {
		outputCleanupText(out, "expired idempotency record(s)", count, dryRun)
	}

	logger.Info("cleanup completed",
		slog.Int64("count", count),
		slog.Bool("dry_run", dryRun),
	)

	return nil
}

// outputCleanupText outputs a cleanup result in human-readable text format.
func outputCleanupText(out io.Writer, noun string, count int64, dryRun bool) {
	if dryRun {
		fmt.Fprintf(out, "Dry-run mode: Would delete %d %s\n", count, noun)
	} else {
		fmt.Fprintf(out, "Successfully deleted %d %s\n", count, noun)
	}
}

// outputCleanupJSON outputs a cleanup result in JSON format for machine consumption.
func outputCleanupJSON(out io.Writer, resource string, count int64, dryRun bool) {
	result := map[string]interface{}{
		"resource": resource,
		"count":    count,
		"dry_run":  dryRun,
	}

	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal JSON: %v\n", err)
		return
	}

	fmt.Fprintln(out, string(jsonBytes))
}
