/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server.
  Handles configuration, store selection, dependency injection, the batch
  scheduler and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment (config.Load)
  2. Parse command-line flags (override port and db path)
  3. Open the store selected by DB_DRIVER (sqlite or postgres)
  4. Build the engine and API handler
  5. Start the cron scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: APP_PORT or 8080)
  -db        SQLite database path (default: DB_PATH or attendance.db)
             Use ":memory:" for in-memory database
  -scenario  Seed a demo scenario on startup (see api/scenarios.go)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for running jobs
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/school.db"

  # Run in memory with demo data
  ./server -db=":memory:" -scenario=teacher-on-leave

  # Run against PostgreSQL
  DB_DRIVER=postgres DB_HOST=db DB_PASSWORD=secret ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite, store/gormstore: Storage backends
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/store/gormstore"
	"github.com/warp/attendance-engine/store/sqlite"
	gormLogger "gorm.io/gorm/logger"
)

// backend is what every SQL store provides to the server.
type backend interface {
	api.Directory
	api.Seeder
	Close() error
}

func main() {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.String("port", cfg.AppPort, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	scenario := flag.String("scenario", "", "Demo scenario to load on startup")
	flag.Parse()

	// Initialize store
	engineCfg := api.EngineConfig{
		Location:      cfg.Location(),
		MorningCutoff: &cfg.MorningCutoff,
	}
	var store backend
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := gormstore.OpenPostgres(cfg.DSN(), gormstore.NewLogger(cfg.DBSlowSQL, gormLogger.Warn))
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		engineCfg.Store, engineCfg.Substitutions, engineCfg.RollCalls = s, s.Substitutions(), s.RollCalls()
		store = s
	default:
		s, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		engineCfg.Store, engineCfg.Substitutions, engineCfg.RollCalls = s, s.Substitutions(), s.RollCalls()
		store = s
		log.Printf("[Store] SQLite at %s", *dbPath)
	}
	defer store.Close()
	engineCfg.Directory = store

	// Initialize engine and handler
	engine := api.NewEngine(engineCfg)
	handler := api.NewHandler(engine, store)

	if *scenario != "" {
		if err := handler.LoadScenarioByID(context.Background(), *scenario); err != nil {
			log.Fatalf("Failed to load scenario %s: %v", *scenario, err)
		}
		log.Printf("Loaded scenario %s", *scenario)
	}

	scheduler, err := api.NewBatchScheduler(engine, api.SchedulerConfig{
		DiscrepancyCron: cfg.DiscrepancyCron,
		LeaveSyncCron:   cfg.LeaveSyncCron,
		Location:        cfg.Location(),
		Enabled:         cfg.SchedulerEnabled,
	})
	if err != nil {
		log.Fatalf("Failed to configure scheduler: %v", err)
	}
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%s", *port)
		log.Printf("📊 API available at http://localhost:%s/api (school timezone %s)", *port, cfg.Location())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
