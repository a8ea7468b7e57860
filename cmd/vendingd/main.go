/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the vending fleet backend. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse CLI (cobra) and load TOML configuration
  2. Initialize SQLite store
  3. Create monitor client and API handler
  4. Configure HTTP router and background reconciler
  5. Start server with graceful shutdown

COMMANDS:
  vendingd serve [--config FILE]   Run the HTTP server
  vendingd version                 Print the build version

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the background reconciler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with defaults (./data/vendcore.db, :8080)
  ./vendingd serve

  # Run with a config file
  ./vendingd serve --config ./vendcore.toml

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: TOML schema and defaults
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brewnet/vendcore/api"
	"github.com/brewnet/vendcore/config"
	"github.com/brewnet/vendcore/monitor"
	"github.com/brewnet/vendcore/store/sqlite"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vendingd",
	Short: "Vending machine fleet backend",
	Long: `vendingd is the transactional backend for a networked vending
machine fleet: prepaid customer accounts, per-boot device identity,
atomic purchase transactions, and status reconciliation against an
external fleet monitor.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vendingd", version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to TOML config file")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Monitor gateway and handler
	gateway := monitor.New(cfg.Monitor.BaseURL, &http.Client{Timeout: cfg.MonitorTimeout()})
	handler := api.NewHandler(store, gateway)
	auth := &api.Authenticator{Store: store, Lifecycle: handler.Lifecycle}

	// Background reconciliation
	scheduler := api.NewReconcileScheduler(handler.Reconciler)
	scheduler.Enabled = cfg.Reconcile.Enabled
	if cfg.Reconcile.Interval.Duration > 0 {
		scheduler.Interval = cfg.Reconcile.Interval.Duration
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      api.NewRouter(handler, auth),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.Server.Listen)
		log.Printf("API available at http://localhost%s/api", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
