package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/autorepair/eventcore/internal/app"
	"github.com/autorepair/eventcore/internal/config"
	"github.com/autorepair/eventcore/internal/http"
)

// RunServer starts the outbox publisher together with the ops API and metrics
// servers, with graceful shutdown support. Blocks until receiving
// SIGINT/SIGTERM or encountering a fatal error.
func RunServer(ctx context.Context, version string) error {
	// Load configuration
	cfg := config.Load()

	// Set Gin mode based on log level
	gin.SetMode(cfg.GetGinMode())

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting server", slog.String("version", version))

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get HTTP server from container (this initializes all dependencies)
	server, err := container.HTTPServer()
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	// Get Metrics server from container
	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	// Get the outbox publisher from container
	outboxUseCase, err := container.OutboxUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize outbox use case: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start servers and the publisher loop; the first failure cancels the group.
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := server.Start(groupCtx); err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := metricsServer.Start(groupCtx); err != nil {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := outboxUseCase.Start(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox publisher error: %w", err)
		}
		return nil
	})

	// The HTTP servers block in ListenAndServe until shut down, so stop them
	// once the group context ends. That in turn unblocks group.Wait.
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down servers")
		return shutdownServers(server, metricsServer, cfg)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		return err
	}

	return nil
}

// shutdownServers gracefully stops both HTTP servers, joining any errors.
func shutdownServers(
	server *http.Server,
	metricsServer *http.MetricsServer,
	cfg *config.Config,
) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
	defer shutdownCancel()

	var shutdownErrors []error

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("api server shutdown: %w", err))
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return errors.Join(shutdownErrors...)
	}

	return nil
}
