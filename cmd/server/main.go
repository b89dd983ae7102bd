/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), environment, then flags
  2. Open the store selected by -driver
  3. Build the controller with a Prometheus observer
  4. Optionally seed the demo scenario
  5. Start the inventory audit scheduler
  6. Serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS (override environment):
  -port    HTTP server port            (PORT, default 8080)
  -driver  sqlite | postgres | memory  (DB_DRIVER, default sqlite)
  -db      SQLite path or Postgres DSN (DATABASE_DSN, default stock.db)
  -seed    Load demo data if empty     (SEED_DEMO, default false)
  -audit-interval  Audit period        (AUDIT_INTERVAL, default 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  3. Stop the audit scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  ./server -db="./data/stock.db"
  ./server -driver=memory -seed
  DB_DRIVER=postgres DATABASE_DSN=postgres://localhost/stock ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/store/postgres"
	"github.com/warp/stock-ledger/store/sqlite"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg := config.Load()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	txStore, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	recorder := metrics.NewRecorder()
	controller := ledger.NewController(txStore)
	controller.Observer = recorder

	if cfg.SeedDemo {
		result, err := api.LoadScenario(ctx, controller, "demo")
		switch {
		case errors.Is(err, api.ErrCatalogNotEmpty):
			log.Println("Demo data skipped: catalog is not empty")
		case err != nil:
			return err
		default:
			log.Printf("Demo data loaded: %d products, %d transactions", result.Products, result.Transactions)
		}
	}

	audit := api.NewAuditScheduler(controller)
	audit.Reporter = recorder
	audit.Enabled = cfg.Audit.Enabled
	audit.CheckInterval = cfg.Audit.Interval
	audit.Start()
	defer audit.Stop()

	handler := api.NewHandler(controller)
	handler.Audit = audit

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSOrigins,
		Metrics:        recorder.Handler(),
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on http://localhost%s (driver=%s)", server.Addr, cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns the configured store and a function that releases it.
func openStore(ctx context.Context, db config.DatabaseConfig) (ledger.TxStore, func(), error) {
	switch db.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close), nil
	case config.DriverSQLite:
		s, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", db.Driver)
	}
}

func closer(fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}
}
