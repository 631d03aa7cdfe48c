package service

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"lavamon/pkg/logger"
	"lavamon/pkg/monitoring"
	"lavamon/pkg/openlava"
	"lavamon/pkg/procinfo"
	"lavamon/pkg/store/sqlite"
)

// DefaultSettle is the pause between the two process inspections of a pass
const DefaultSettle = time.Second

// JobUsage is the resource usage of one job on this host at one instant
type JobUsage struct {
	Job    string  `json:"job"`
	PIDs   []int32 `json:"pids"`
	CPU    float64 `json:"cpu"`    // busy cores
	Memory float64 `json:"memory"` // GB
}

// ResourceService samples per-job CPU and memory usage on the local host
type ResourceService struct {
	client       *openlava.Client
	inspector    procinfo.Inspector
	resourcePath string
	staleness    time.Duration
	host         string
	settle       time.Duration
	writer       *sqlite.Writer
	now          func() time.Time
}

// NewResourceService creates a resource sampler for the local host
func NewResourceService(client *openlava.Client, inspector procinfo.Inspector, resourcePath string, staleness time.Duration) *ResourceService {
	host, err := os.Hostname()
	if err != nil {
		logger.Warnf("failed to get hostname: %v", err)
	}
	return &ResourceService{
		client:       client,
		inspector:    inspector,
		resourcePath: resourcePath,
		staleness:    staleness,
		host:         host,
		settle:       DefaultSettle,
		writer:       sqlite.NewWriter(),
		now:          time.Now,
	}
}

// Host returns the host name samples are recorded under
func (s *ResourceService) Host() string {
	return s.host
}

// Sample measures every job running on this host and appends one sample per
// job to its resource table
func (s *ResourceService) Sample(ctx context.Context) ([]JobUsage, error) {
	procs, err := s.inspector.Processes(ctx)
	if err != nil {
		return nil, err
	}

	jobs, err := s.client.RunningJobs(ctx, s.host)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		logger.InfoCtx(ctx, "no running jobs on %s", s.host)
		return nil, nil
	}

	jobPIDs := make(map[string][]int32, len(jobs))
	var all []int32
	for _, job := range jobs {
		pids := jobProcessIDs(job, procs)
		if len(pids) == 0 {
			logger.DebugCtx(ctx, "job %s has no processes on %s", job.ID, s.host)
			continue
		}
		jobPIDs[job.ID] = pids
		all = append(all, pids...)
	}
	if len(jobPIDs) == 0 {
		return nil, nil
	}

	// The first inspection primes CPU counters; the second measures over the settle window
	if _, err := s.inspector.Inspect(ctx, all); err != nil {
		return nil, err
	}
	if s.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.settle):
		}
	}
	infos, err := s.inspector.Inspect(ctx, all)
	if err != nil {
		return nil, err
	}

	usages := make([]JobUsage, 0, len(jobPIDs))
	for job, pids := range jobPIDs {
		var cpu float64
		var mem uint64
		for _, pid := range pids {
			if info, ok := infos[pid]; ok {
				cpu += info.CPU
				mem += info.Memory
			}
		}
		usages = append(usages, JobUsage{
			Job:    job,
			PIDs:   pids,
			CPU:    roundFloat(cpu, 4),
			Memory: bytesToGB(mem),
		})
	}
	sort.Slice(usages, func(i, j int) bool { return usages[i].Job < usages[j].Job })

	return usages, s.write(ctx, usages)
}

// jobProcessIDs prefers the pids bjobs reports and falls back to the res process tree
func jobProcessIDs(job *openlava.Job, procs []*procinfo.ProcessInfo) []int32 {
	if len(job.PIDs) > 0 {
		pids := make([]int32, 0, len(job.PIDs))
		for _, pid := range job.PIDs {
			pids = append(pids, int32(pid))
		}
		return pids
	}
	return procinfo.JobPIDsFromTree(procs, job.ID)
}

// write groups usages by resource store and appends each group in one batch
func (s *ResourceService) write(ctx context.Context, usages []JobUsage) error {
	now := s.now()
	sampleTime := sqlite.FormatSampleTime(now)

	stores := make(map[string][]*sqlite.Record)
	var order []string
	var errs []error
	for _, u := range usages {
		path, err := monitoring.JobStorePath(s.resourcePath, u.Job)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		table, err := monitoring.JobTableName(u.Job)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := stores[path]; !ok {
			order = append(order, path)
		}
		stores[path] = append(stores[path], &sqlite.Record{
			Table:     table,
			Keys:      monitoring.ResourceKeys,
			Values:    []any{sampleTime, s.host, u.CPU, u.Memory},
			Staleness: s.staleness,
		})
	}

	for _, path := range order {
		if err := s.writeStore(ctx, path, stores[path]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ResourceService) writeStore(ctx context.Context, path string, records []*sqlite.Record) error {
	ds, err := sqlite.Open(path, sqlite.ModeWrite)
	if err != nil {
		if errors.Is(err, sqlite.ErrStoreLocked) {
			logger.WarnCtx(ctx, "skip resource store %s: %v", path, err)
			return nil
		}
		return err
	}
	defer ds.Close()

	result, err := s.writer.WriteBatch(ctx, ds, records)
	if err != nil {
		return err
	}
	for table, ferr := range result.Failed {
		logger.WarnCtx(ctx, "failed to write %s: %v", table, ferr)
	}
	logger.InfoCtx(ctx, "recorded %d job samples into %s", len(result.Written), path)
	return nil
}
