package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/avmerge/internal/config"
	"github.com/phrazzld/avmerge/internal/engine"
	"github.com/phrazzld/avmerge/internal/events"
	"github.com/phrazzld/avmerge/internal/eviction"
	"github.com/phrazzld/avmerge/internal/platform/ffmpeg"
	"github.com/phrazzld/avmerge/internal/platform/filesystem"
	"github.com/phrazzld/avmerge/internal/platform/postgres"
	"github.com/phrazzld/avmerge/internal/platform/redis"
	"github.com/phrazzld/avmerge/internal/platform/telemetry"
	"github.com/phrazzld/avmerge/internal/service"
	"github.com/phrazzld/avmerge/internal/store"
	"github.com/phrazzld/avmerge/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Optional backends; nil when not configured.
	db    *sql.DB
	redis *goredis.Client

	taskStore   store.TaskStore
	outputStore store.OutputStore

	eventEmitter *events.InMemoryEventEmitter
	policy       *eviction.Policy
	taskRunner   *task.TaskRunner
	mergeService service.MergeService

	shutdownTelemetry telemetry.ShutdownFunc
}

// newApplication builds the application around the ffmpeg engine.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	return buildApplication(ctx, cfg, logger, ffmpeg.New(cfg.Engine, logger))
}

// buildApplication wires every component and starts the task runner. On
// error, anything already opened is released.
func buildApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	eng engine.Engine,
) (app *application, err error) {
	app = &application{
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			app.cleanup()
			app = nil
		}
	}()

	app.shutdownTelemetry, err = telemetry.Setup(ctx, cfg.Telemetry, os.Stdout)
	if err != nil {
		return app, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	if err = app.setupStores(ctx); err != nil {
		return app, err
	}

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.policy, err = eviction.NewPolicy(app.outputStore, app.taskStore, cfg.Storage.MaxOutputFiles, logger)
	if err != nil {
		return app, fmt.Errorf("failed to create eviction policy: %w", err)
	}
	app.eventEmitter.Subscribe(events.TypeTaskSucceeded, app.policy)

	factory := task.NewMergeTaskFactory(eng, app.outputStore, logger)

	app.taskRunner, err = task.NewTaskRunner(app.taskStore, app.outputStore, factory, app.eventEmitter,
		task.TaskRunnerConfig{
			WorkerCount:   cfg.Task.WorkerCount,
			QueueSize:     cfg.Task.QueueSize,
			EngineTimeout: cfg.Task.EngineTimeout,
		}, logger)
	if err != nil {
		return app, fmt.Errorf("failed to create task runner: %w", err)
	}
	if err = app.taskRunner.Start(ctx); err != nil {
		return app, fmt.Errorf("failed to start task runner: %w", err)
	}

	app.mergeService, err = service.NewMergeService(
		app.taskStore,
		app.outputStore,
		app.taskRunner,
		factory,
		app.policy,
		cfg.Storage.TempDir,
		logger,
	)
	if err != nil {
		return app, fmt.Errorf("failed to create merge service: %w", err)
	}

	// Bring the store under a lowered capacity left over from configuration.
	if _, err := app.policy.Run(ctx); err != nil {
		logger.Warn("startup eviction pass failed", "error", err)
	}

	logger.Info("Application initialized successfully",
		"task_store", app.taskStoreKind(),
		"cache_enabled", app.redis != nil,
		"telemetry_enabled", cfg.Telemetry.Enabled)
	return app, nil
}

// setupStores opens the output store and the task store. Task records live
// in PostgreSQL when a database URL is configured and on disk otherwise; a
// redis cache is layered on top when an address is configured.
func (app *application) setupStores(ctx context.Context) error {
	cfg := app.config
	outputs, err := filesystem.NewOutputStore(cfg.Storage.OutputDir, app.logger)
	if err != nil {
		return fmt.Errorf("failed to open output store: %w", err)
	}
	app.outputStore = outputs

	if cfg.Database.URL != "" {
		app.db, err = postgres.Open(ctx, cfg.Database.URL, app.logger)
		if err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, app.db, app.logger); err != nil {
			return err
		}
		app.taskStore = postgres.NewPostgresTaskStore(app.db)
	} else {
		tasks, err := filesystem.NewTaskStore(cfg.Storage.TasksDir, app.logger)
		if err != nil {
			return fmt.Errorf("failed to open task store: %w", err)
		}
		app.taskStore = tasks
	}

	if cfg.Cache.RedisAddr != "" {
		app.redis, err = redis.Connect(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			return err
		}
		app.taskStore = redis.NewCachedTaskStore(app.taskStore, app.redis, cfg.Cache.TTL, app.logger)
	}
	return nil
}

func (app *application) taskStoreKind() string {
	kind := "filesystem"
	if app.db != nil {
		kind = "postgres"
	}
	if app.redis != nil {
		kind += "+redis"
	}
	return kind
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	if app.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		if err := app.shutdownTelemetry(ctx); err != nil {
			app.logger.Error("Error flushing telemetry", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
