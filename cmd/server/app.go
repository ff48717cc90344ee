package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/pixelvault/pixelvault-api/internal/api"
	"github.com/pixelvault/pixelvault-api/internal/auth"
	"github.com/pixelvault/pixelvault-api/internal/config"
	"github.com/pixelvault/pixelvault-api/internal/ingest"
	"github.com/pixelvault/pixelvault-api/internal/metrics"
	"github.com/pixelvault/pixelvault-api/internal/notify"
	"github.com/pixelvault/pixelvault-api/internal/platform/postgres"
	"github.com/pixelvault/pixelvault-api/internal/platform/ws"
	"github.com/pixelvault/pixelvault-api/internal/queue"
	"github.com/pixelvault/pixelvault-api/internal/sweep"
)

// application holds the wired dependency graph for the server process.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	coordinator *queue.Coordinator
	sweeper     *sweep.Sweeper

	queueHandler  *api.QueueHandler
	workerHandler *api.WorkerHandler
	verifier      auth.Verifier
}

// newApplication connects the database, runs migrations, and builds the
// full component graph. Dependencies flow one way: store, coordinator,
// broadcaster, ingestor, sweeper, handlers.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	recorder := metrics.NewPrometheusRecorder()
	entryStore := postgres.NewPostgresEntryStore(db, logger)

	coordinator, err := queue.NewCoordinator(entryStore, queue.Config{
		MaxQueuedPerUser: cfg.Queue.MaxQueuedPerUser,
		MeanJobDuration:  cfg.Queue.MeanJobDuration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	broadcaster, err := notify.NewBroadcaster(coordinator, recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcaster: %w", err)
	}

	ingestor, err := ingest.NewIngestor(coordinator, broadcaster, recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestor: %w", err)
	}

	sweeper, err := sweep.NewSweeper(coordinator, ingestor, sweep.Config{
		StartTimeout: cfg.Sweep.StartTimeout,
		Interval:     cfg.Sweep.Interval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper: %w", err)
	}

	hub := ws.NewHub(coordinator, logger)

	return &application{
		config:        cfg,
		logger:        logger,
		db:            db,
		coordinator:   coordinator,
		sweeper:       sweeper,
		queueHandler:  api.NewQueueHandler(coordinator, hub, recorder, logger),
		workerHandler: api.NewWorkerHandler(ingestor, logger),
		verifier:      verifier,
	}, nil
}

// run starts the sweeper and the HTTP server, blocking until shutdown.
func (app *application) run() error {
	if err := app.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start timeout sweeper: %w", err)
	}

	return app.startHTTPServer(context.Background(), app.setupRouter())
}

// cleanup releases resources during shutdown.
func (app *application) cleanup() {
	app.sweeper.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database connection", "error", err)
	}
}

// setupDatabase opens the connection pool and verifies connectivity.
func setupDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}
