/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lab booking server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load LABBOOK_* environment, then apply command-line overrides
  2. Build the structured logger
  3. Initialize SQLite store
  4. Pick the locker (Redis when LABBOOK_REDIS_ADDR is set, else in-process)
  5. Pick the event publisher (Kafka when LABBOOK_KAFKA_BROKERS is set)
  6. Load the rate table
  7. Create the engine, API handler and router
  8. Start the re-confirmation scheduler
  9. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides LABBOOK_HTTP_PORT)
  -db      SQLite database path (overrides LABBOOK_DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Flush and close the event publisher
  5. Close Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/labbook.db"

  # Run with in-memory database and text logs
  LABBOOK_LOG_FORMAT=text ./server -db=":memory:"

  # Run two instances sharing one Redis lock namespace
  LABBOOK_REDIS_ADDR=localhost:6379 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/lab-booking/api"
	"github.com/warp/lab-booking/billing"
	"github.com/warp/lab-booking/config"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/events/kafka"
	redislock "github.com/warp/lab-booking/lock/redis"
	"github.com/warp/lab-booking/logging"
	"github.com/warp/lab-booking/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "labbook: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.HTTPPort, cfg.DBPath = *port, *dbPath

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "labbook",
	})
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}

	opts := engine.Options{
		Logger:   logger,
		Location: loc,
	}

	// Distributed locking
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		opts.Locker = redislock.New(client, redislock.Options{TTL: cfg.LockTTL, Logger: logger})
		logger.Info("using redis locker", "addr", cfg.RedisAddr)
	}

	// Domain events
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := kafka.NewWriter(kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure kafka: %w", err)
		}
		publisher := kafka.NewPublisher(writer)
		defer publisher.Close()
		opts.Publisher = publisher
		logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	rates, err := billing.LoadRateTable(cfg.RatesFile)
	if err != nil {
		return err
	}

	eng := engine.New(store, opts)

	handler := api.NewHandler(eng, store, rates, logger)
	router := api.NewRouter(handler, api.Options{CORSOrigins: cfg.CORSOrigins})

	scheduler := api.NewReconfirmationScheduler(eng, logger)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort, "db", cfg.DBPath, "location", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
