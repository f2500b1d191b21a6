// Package app wires the aggregator components and manages the serve lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/toolhive-registry-aggregator/internal/config"
)

// RegistryApp encapsulates all components needed to run the read API server
// It provides lifecycle management and graceful shutdown capabilities
type RegistryApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the application components (HTTP server and background refresh)
// This method blocks until the HTTP server stops or encounters an error
func (app *RegistryApp) Start() error {
	if coord := app.components.RefreshCoordinator; coord != nil {
		go func() {
			if err := coord.Start(app.ctx); err != nil {
				slog.Error("Refresh coordinator failed", "error", err)
			}
		}()
	}

	// Start HTTP server (blocks until stopped)
	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout
// It stops the refresh coordinator and then shuts down the HTTP server
func (app *RegistryApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	// Cancel first so a running pipeline stops at its next checkpoint
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if coord := app.components.RefreshCoordinator; coord != nil {
		if err := coord.Stop(); err != nil {
			slog.Error("Failed to stop refresh coordinator", "error", err)
		}
	}

	// Graceful HTTP server shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *RegistryApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *RegistryApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired components
func (app *RegistryApp) Components() *AppComponents {
	return app.components
}
