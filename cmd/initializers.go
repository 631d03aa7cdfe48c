package main

import (
	"fmt"
	"net/http"
	"os"

	"lavamon/app/handler"
	"lavamon/app/router"
	"lavamon/internal/jobs"
	"lavamon/internal/service"
	"lavamon/pkg/config"
	"lavamon/pkg/logger"
	"lavamon/pkg/monitoring"
	"lavamon/pkg/notification"
	"lavamon/pkg/openlava"
	"lavamon/pkg/procinfo"
	redisstore "lavamon/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if app.configPath != "" {
		os.Setenv("CONFIG_PATH", app.configPath)
	}
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initRedis initializes Redis. Without an address the background jobs run
// in single-instance mode.
func (app *Application) initRedis() error {
	if app.config.Redis.Addr == "" {
		logger.InfoCtx(app.ctx, "Redis not configured, background jobs run without a single-runner lock")
		return nil
	}

	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initClient initializes the openlava command client
func (app *Application) initClient() error {
	app.client = openlava.NewClient(&openlava.ExecRunner{
		BinDir:  app.config.Openlava.BinDir,
		Timeout: config.Seconds(app.config.Openlava.CommandTimeout),
	})
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	cfg := app.config
	tolerance := config.Seconds(cfg.Sampling.ToleranceSeconds)

	app.samplingService = service.NewSamplingService(app.client, cfg.Store.DBPath, cfg.Staleness)
	app.resourceService = service.NewResourceService(
		app.client,
		procinfo.NewInspector("root"),
		cfg.Store.ResourcePath,
		config.Seconds(cfg.Staleness.Resource),
	)
	app.finishedJobService = service.NewFinishedJobService(
		app.client,
		cfg.Store.ResourcePath,
		tolerance,
		config.Seconds(cfg.Monitor.GapThreshold),
		os.Stdout,
	)
	if notifier := notification.NewFeishuNotifier(cfg.Notification.FeishuWebhookURL); notifier.Enabled() {
		app.finishedJobService.SetNotifier(notifier)
	}
	app.storeService = service.NewStoreService(cfg.Store.DBPath, cfg.Store.ResourcePath, monitoring.NewAggregator(tolerance))
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.storeHandler = handler.NewStoreHandler(app.storeService)

	var statuses func() []jobs.Status
	if app.jobsManager != nil {
		statuses = app.jobsManager.Statuses
	}
	app.healthHandler = handler.NewHealthHandler(statuses)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	if !app.config.Server.Enabled {
		logger.InfoCtx(app.ctx, "Query API disabled")
		return nil
	}

	r := router.NewRouter(app.storeHandler, app.healthHandler, app.config.Server.APIKey)

	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
