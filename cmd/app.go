package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lavamon/app/handler"
	"lavamon/internal/jobs"
	"lavamon/internal/service"
	"lavamon/pkg/config"
	"lavamon/pkg/logger"
	"lavamon/pkg/openlava"
	redisstore "lavamon/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	configPath  string
	config      *config.Config
	redisClient *redisstore.RedisClient
	client      *openlava.Client

	// Service layer
	samplingService    *service.SamplingService
	resourceService    *service.ResourceService
	finishedJobService *service.FinishedJobService
	storeService       *service.StoreService

	// Handler layer
	storeHandler  *handler.StoreHandler
	healthHandler *handler.HealthHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

type initStep struct {
	name string
	fn   func() error
}

// NewApplication creates a new Application instance. An empty configPath
// falls back to $CONFIG_PATH and then config/config.yaml.
func NewApplication(configPath string) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		configPath:   configPath,
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes every component of the long-running service
func (app *Application) Initialize() error {
	return app.runSteps(append(app.baseSteps(),
		initStep{"Redis", app.initRedis},
		initStep{"Background Tasks", app.initJobs},
		initStep{"Handler Layer", app.initHandlers},
		initStep{"HTTP Server", app.initHTTPServer},
	))
}

// InitializeOneShot initializes what a single command-line pass needs
func (app *Application) InitializeOneShot() error {
	return app.runSteps(app.baseSteps())
}

func (app *Application) baseSteps() []initStep {
	return []initStep{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Scheduler Client", app.initClient},
		{"Service Layer", app.initServices},
	}
}

func (app *Application) runSteps(steps []initStep) error {
	for _, step := range steps {
		logger.DebugCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.DebugCtx(app.ctx, "%s initialized successfully", step.name)
	}
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager: %v", app.jobsManager.Jobs())
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 2. Start HTTP server
	if app.httpServer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
			if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
			}
		}()
	}

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Cancel all background tasks; an in-flight batch rolls back
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 2. Stop HTTP server (stop accepting new requests)
	if app.httpServer != nil {
		logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
		}
	}

	// 3. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 4. Execute all cleanup functions (in reverse registration order)
	app.Cleanup()

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// Cleanup runs the registered cleanup functions in reverse registration order
func (app *Application) Cleanup() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}
	app.cleanupFuncs = nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
