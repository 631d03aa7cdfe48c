package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lavamon/internal/model"
	"lavamon/pkg/logger"
	"lavamon/pkg/monitoring"
	"lavamon/pkg/notification"
	"lavamon/pkg/openlava"
	"lavamon/pkg/store/sqlite"

	"github.com/spf13/cast"
)

const reportFormat = "%-10s%-16s%-10s%-13s%-14s%-14s%-13s%-14s%-14s%-14s\n"

var reportHeader = []any{
	"JOB", "USER", "STATUS", "CPU_RESERVED", "CPU_USED(avg)", "CPU_USED(peak)",
	"MEM_RESERVED", "MEM_USED(avg)", "MEM_USED(peak)", "RUN_TIME",
}

// Notifier announces the jobs reported by one monitor pass
type Notifier interface {
	NotifyFinishedJobs(ctx context.Context, jobs []notification.FinishedJob) error
}

// FinishedJobService detects jobs that finished since the previous pass and
// reports their resource usage
type FinishedJobService struct {
	client       *openlava.Client
	collector    *monitoring.Collector
	aggregator   *monitoring.Aggregator
	resourcePath string
	gap          time.Duration
	writer       *sqlite.Writer
	out          io.Writer
	notifier     Notifier
	now          func() time.Time
}

// NewFinishedJobService creates a finished-job monitor printing reports to out
func NewFinishedJobService(client *openlava.Client, resourcePath string, tolerance, gap time.Duration, out io.Writer) *FinishedJobService {
	if out == nil {
		out = io.Discard
	}
	return &FinishedJobService{
		client:       client,
		collector:    monitoring.NewCollector(resourcePath),
		aggregator:   monitoring.NewAggregator(tolerance),
		resourcePath: resourcePath,
		gap:          gap,
		writer:       sqlite.NewWriter(),
		out:          out,
		now:          time.Now,
	}
}

// SetNotifier sets the notifier told about stored reports
func (s *FinishedJobService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Monitor reports finished jobs.
//
// Without explicit ids it diffs the saved job list against the scheduler's
// current list, keeps the vanished jobs that reached DONE or EXIT, checks that
// each was sampled without gaps and appends its report to the owner's store.
// Explicit ids are reported as they are: no diff, no continuity check and
// nothing is stored.
func (s *FinishedJobService) Monitor(ctx context.Context, explicit []string) ([]*model.JobReport, error) {
	now := s.now()
	pending := explicit
	strict := len(explicit) == 0

	if strict {
		finished, err := s.finishedSinceLastPass(ctx)
		if err != nil {
			return nil, err
		}
		pending = finished
	}
	if len(pending) == 0 {
		logger.InfoCtx(ctx, "no finished jobs")
		return nil, nil
	}

	jobs, err := s.client.Jobs(ctx, pending)
	if err != nil {
		return nil, err
	}

	reports := make([]*model.JobReport, 0, len(jobs))
	for _, job := range jobs {
		if strict && !job.Finished() {
			logger.DebugCtx(ctx, "job %s left the list with status %s, skip", job.ID, job.Status)
			continue
		}
		reports = append(reports, s.report(ctx, job, now, strict))
	}

	s.print(reports)
	if !strict {
		return reports, nil
	}
	err = s.store(ctx, reports)
	s.notify(ctx, reports)
	return reports, err
}

// finishedSinceLastPass returns ids present in the saved list but absent from
// the current one, and saves the current list for the next pass
func (s *FinishedJobService) finishedSinceLastPass(ctx context.Context) ([]string, error) {
	path := filepath.Join(s.resourcePath, monitoring.JobListFile)
	last, err := readJobList(path)
	if err != nil {
		return nil, err
	}
	latest, err := s.client.JobList(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeJobList(path, latest); err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(latest))
	for _, id := range latest {
		current[id] = struct{}{}
	}
	var finished []string
	for _, id := range last {
		if _, ok := current[id]; !ok {
			finished = append(finished, id)
		}
	}
	return finished, nil
}

// report builds the usage report of one job. Missing or broken series leave
// the usage metrics at NA.
func (s *FinishedJobService) report(ctx context.Context, job *openlava.Job, now time.Time, strict bool) *model.JobReport {
	r := &model.JobReport{
		SampleTime:  sqlite.FormatSampleTime(now),
		Job:         job.ID,
		User:        job.User,
		Status:      job.Status,
		CPUReserved: model.NotAvailable,
		CPUAvg:      model.NotAvailable,
		CPUPeak:     model.NotAvailable,
		MemReserved: model.NotAvailable,
		MemAvg:      model.NotAvailable,
		MemPeak:     model.NotAvailable,
		CWD:         job.CWD,
		Command:     job.Command,
	}
	if job.ProcessorsRequested != "" {
		r.CPUReserved = job.ProcessorsRequested
	}
	if job.RusageMem != "" {
		if mb, err := cast.ToFloat64E(job.RusageMem); err == nil {
			r.MemReserved = formatFixed(mb/1024, 3) + "G"
		}
	}

	runTime, err := monitoring.RunTime(job.StartedTime, job.FinishedTime)
	if err != nil {
		logger.WarnCtx(ctx, "job %s: %v", job.ID, err)
	}
	r.RunTime = runTime

	samples, err := s.collector.Series(ctx, job.ID)
	if err != nil {
		logger.WarnCtx(ctx, "job %s: no resource samples: %v", job.ID, err)
		return r
	}
	if strict {
		times := make([]time.Time, len(samples))
		for i, sample := range samples {
			times[i] = sample.Time
		}
		if err := monitoring.CheckContinuity(times, now, s.gap); err != nil {
			logger.WarnCtx(ctx, "job %s: %v", job.ID, err)
			return r
		}
	}

	usage, err := s.aggregator.Aggregate(job.ID, samples)
	if err != nil {
		logger.WarnCtx(ctx, "job %s: %v", job.ID, err)
		return r
	}
	r.CPUAvg = formatFixed(usage.AvgCPU, 1)
	r.CPUPeak = formatFixed(usage.PeakCPU, 1)
	r.MemAvg = formatFixed(usage.AvgMemory, 3) + "G"
	r.MemPeak = formatFixed(usage.PeakMemory, 3) + "G"
	return r
}

func (s *FinishedJobService) print(reports []*model.JobReport) {
	if len(reports) == 0 {
		return
	}
	fmt.Fprintf(s.out, reportFormat, reportHeader...)
	for _, r := range reports {
		fmt.Fprintf(s.out, reportFormat,
			r.Job, r.User, r.Status, r.CPUReserved, r.CPUAvg, r.CPUPeak,
			r.MemReserved, r.MemAvg, r.MemPeak, cast.ToString(r.RunTime))
	}
}

// store appends each report to its owner's report table, one batch per user store
func (s *FinishedJobService) store(ctx context.Context, reports []*model.JobReport) error {
	byUser := make(map[string][]*sqlite.Record)
	var users []string
	var errs []error
	for _, r := range reports {
		table, err := sqlite.TableName("user", r.User)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", r.Job, err))
			continue
		}
		if _, ok := byUser[r.User]; !ok {
			users = append(users, r.User)
		}
		byUser[r.User] = append(byUser[r.User], &sqlite.Record{
			Table:   table,
			Keys:    model.ReportKeys,
			Values:  r.Values(),
			AutoKey: true,
		})
	}

	for _, user := range users {
		ds, err := sqlite.Open(monitoring.UserStorePath(s.resourcePath, user), sqlite.ModeWrite)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result, err := s.writer.WriteBatch(ctx, ds, byUser[user])
		ds.Close()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := result.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notify announces reports; a failed notification is logged only
func (s *FinishedJobService) notify(ctx context.Context, reports []*model.JobReport) {
	if s.notifier == nil || len(reports) == 0 {
		return
	}
	jobs := make([]notification.FinishedJob, 0, len(reports))
	for _, r := range reports {
		jobs = append(jobs, notification.FinishedJob{
			Job:     r.Job,
			User:    r.User,
			Status:  r.Status,
			CPUPeak: r.CPUPeak,
			MemPeak: r.MemPeak,
			RunTime: r.RunTime,
		})
	}
	if err := s.notifier.NotifyFinishedJobs(ctx, jobs); err != nil {
		logger.WarnCtx(ctx, "failed to send finished job notification: %v", err)
	}
}

// readJobList reads one job id per line; a missing file is an empty list
func readJobList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read job list: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, scanner.Err()
}

// writeJobList replaces the saved job list
func writeJobList(path string, ids []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create resource directory: %w", err)
	}
	tmp := path + ".tmp"
	data := strings.Join(ids, "\n")
	if len(ids) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(tmp, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write job list: %w", err)
	}
	return os.Rename(tmp, path)
}
