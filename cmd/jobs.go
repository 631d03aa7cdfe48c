package main

import (
	"context"
	"fmt"
	"time"

	"lavamon/internal/jobs"
	"lavamon/internal/model"
	"lavamon/internal/service"
	"lavamon/pkg/config"
	"lavamon/pkg/lock"
	"lavamon/pkg/logger"

	"github.com/go-redis/redis/v8"
)

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	// Locks keep replicas from sampling the same stores in the same cycle.
	// Without Redis they downgrade to single-instance mode.
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}

	classes, err := model.ParseClasses(app.config.Sampling.Classes)
	if err != nil {
		return err
	}
	if len(classes) > 0 {
		manager.Register(newSamplingJob(
			config.Seconds(app.config.Sampling.Interval),
			classes,
			app.samplingService,
			lock.NewRedisDistributedLock(redisClient, "sampling-lock"),
		))
	}

	// Resource samples are per host, so each host takes its own lock
	if app.config.Sampling.ResourceEnabled {
		manager.Register(newResourceSamplingJob(
			config.Seconds(app.config.Sampling.ResourceInterval),
			app.resourceService,
			lock.NewRedisDistributedLock(redisClient, "resource-lock:"+app.resourceService.Host()),
		))
	}

	if app.config.Monitor.Enabled {
		manager.Register(newFinishedJobMonitorJob(
			config.Seconds(app.config.Monitor.Interval),
			app.finishedJobService,
			lock.NewRedisDistributedLock(redisClient, "monitor-lock"),
		))
	}

	app.jobsManager = manager
	return nil
}

// samplingJob snapshots the configured entity classes.
type samplingJob struct {
	interval        time.Duration
	classes         []model.Class
	samplingService *service.SamplingService
	distributedLock lock.DistributedLock
}

func newSamplingJob(interval time.Duration, classes []model.Class, svc *service.SamplingService, l lock.DistributedLock) jobs.Job {
	return &samplingJob{
		interval:        interval,
		classes:         classes,
		samplingService: svc,
		distributedLock: l,
	}
}

func (j *samplingJob) Name() string {
	return "class-sampling"
}

func (j *samplingJob) Interval() time.Duration {
	return j.interval
}

func (j *samplingJob) AlignToInterval() bool { return true }

func (j *samplingJob) Run(ctx context.Context) error {
	if j.samplingService == nil {
		return fmt.Errorf("sampling service not configured")
	}

	acquired, err := j.distributedLock.TryLock(ctx)
	if err != nil || !acquired {
		logger.DebugCtx(ctx, "another instance is sampling, skipping this cycle")
		return nil
	}
	defer j.distributedLock.Unlock(ctx)

	_, err = j.samplingService.Sample(ctx, j.classes)
	return err
}

// resourceSamplingJob records per-job CPU and memory usage on this host.
type resourceSamplingJob struct {
	interval        time.Duration
	resourceService *service.ResourceService
	distributedLock lock.DistributedLock
}

func newResourceSamplingJob(interval time.Duration, svc *service.ResourceService, l lock.DistributedLock) jobs.Job {
	return &resourceSamplingJob{
		interval:        interval,
		resourceService: svc,
		distributedLock: l,
	}
}

func (j *resourceSamplingJob) Name() string {
	return "resource-sampling"
}

func (j *resourceSamplingJob) Interval() time.Duration {
	return j.interval
}

func (j *resourceSamplingJob) AlignToInterval() bool { return true }

func (j *resourceSamplingJob) Run(ctx context.Context) error {
	if j.resourceService == nil {
		return fmt.Errorf("resource service not configured")
	}

	acquired, err := j.distributedLock.TryLock(ctx)
	if err != nil || !acquired {
		logger.DebugCtx(ctx, "another instance is sampling resources on this host, skipping this cycle")
		return nil
	}
	defer j.distributedLock.Unlock(ctx)

	_, err = j.resourceService.Sample(ctx)
	return err
}

// finishedJobMonitorJob reports jobs that finished since its previous run.
type finishedJobMonitorJob struct {
	interval           time.Duration
	finishedJobService *service.FinishedJobService
	distributedLock    lock.DistributedLock
}

func newFinishedJobMonitorJob(interval time.Duration, svc *service.FinishedJobService, l lock.DistributedLock) jobs.Job {
	return &finishedJobMonitorJob{
		interval:           interval,
		finishedJobService: svc,
		distributedLock:    l,
	}
}

func (j *finishedJobMonitorJob) Name() string {
	return "finished-job-monitor"
}

func (j *finishedJobMonitorJob) Interval() time.Duration {
	return j.interval
}

func (j *finishedJobMonitorJob) Run(ctx context.Context) error {
	if j.finishedJobService == nil {
		return fmt.Errorf("finished job service not configured")
	}

	// The job list diff must not interleave between replicas
	acquired, err := j.distributedLock.TryLock(ctx)
	if err != nil || !acquired {
		logger.DebugCtx(ctx, "another instance is monitoring finished jobs, skipping this cycle")
		return nil
	}
	defer j.distributedLock.Unlock(ctx)

	_, err = j.finishedJobService.Monitor(ctx, nil)
	return err
}
