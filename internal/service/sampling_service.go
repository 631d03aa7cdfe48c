package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lavamon/internal/model"
	"lavamon/pkg/config"
	"lavamon/pkg/logger"
	"lavamon/pkg/openlava"
	"lavamon/pkg/store/sqlite"

	"golang.org/x/sync/errgroup"
)

// jobColumns are the per-job fields kept in the job class store
var jobColumns = []string{"STATUS", "QUEUE", "USER", "STARTED_ON", "CPU_TIME", "MEM"}

// ClassResult is the outcome of sampling one entity class
type ClassResult struct {
	Class   model.Class `json:"class"`
	Entries int         `json:"entries"`
	Written int         `json:"written"`
	Failed  int         `json:"failed"`
	Skipped bool        `json:"skipped"` // store held by another writer
	Err     error       `json:"-"`
}

// SamplingService snapshots scheduler entity classes into their stores
type SamplingService struct {
	client    *openlava.Client
	dbPath    string
	staleness config.StalenessConfig
	writer    *sqlite.Writer
	now       func() time.Time
}

// NewSamplingService creates a new sampling service
func NewSamplingService(client *openlava.Client, dbPath string, staleness config.StalenessConfig) *SamplingService {
	return &SamplingService{
		client:    client,
		dbPath:    dbPath,
		staleness: staleness,
		writer:    sqlite.NewWriter(),
		now:       time.Now,
	}
}

// Sample samples every class concurrently. Each class writes its own store,
// so a failing class never blocks the others; their errors are joined.
func (s *SamplingService) Sample(ctx context.Context, classes []model.Class) ([]ClassResult, error) {
	now := s.now()
	results := make([]ClassResult, len(classes))

	var g errgroup.Group
	for i, class := range classes {
		i, class := i, class
		g.Go(func() error {
			results[i] = s.sampleClass(ctx, class, now)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Class, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (s *SamplingService) sampleClass(ctx context.Context, class model.Class, now time.Time) ClassResult {
	result := ClassResult{Class: class}

	records, err := s.Records(ctx, class, now)
	if err != nil {
		result.Err = err
		logger.ErrorCtx(ctx, "failed to sample %s: %v", class, err)
		return result
	}
	result.Entries = len(records)
	if len(records) == 0 {
		logger.InfoCtx(ctx, "no %s entities to sample", class)
		return result
	}

	ds, err := sqlite.Open(class.StorePath(s.dbPath), sqlite.ModeWrite)
	if err != nil {
		if errors.Is(err, sqlite.ErrStoreLocked) {
			logger.WarnCtx(ctx, "skip %s sampling: %v", class, err)
			result.Skipped = true
			return result
		}
		result.Err = err
		logger.ErrorCtx(ctx, "failed to open %s store: %v", class, err)
		return result
	}
	defer ds.Close()

	batch, err := s.writer.WriteBatch(ctx, ds, records)
	if err != nil {
		result.Err = err
		logger.ErrorCtx(ctx, "failed to write %s samples: %v", class, err)
		return result
	}

	result.Written = len(batch.Written)
	result.Failed = len(batch.Failed)
	for table, ferr := range batch.Failed {
		logger.WarnCtx(ctx, "failed to write %s: %v", table, ferr)
	}
	logger.InfoCtx(ctx, "sampled %s: %d written, %d failed", class, result.Written, result.Failed)
	return result
}

// Records builds one record per entity of class as observed at now
func (s *SamplingService) Records(ctx context.Context, class model.Class, now time.Time) ([]*sqlite.Record, error) {
	staleness := class.Staleness(s.staleness)
	prefixKeys := []string{model.ColSampleTime, model.ColDate, model.ColTime}
	prefixValues := []any{sqlite.FormatSampleTime(now), now.Format("20060102"), now.Format("150405")}

	newRecord := func(entity string, keys []string, values []any) *sqlite.Record {
		return &sqlite.Record{
			Table:     class.Prefix() + "_" + entity,
			Keys:      append(append([]string(nil), prefixKeys...), keys...),
			Values:    append(append([]any(nil), prefixValues...), values...),
			Staleness: staleness,
		}
	}

	if class == model.ClassJob {
		jobs, err := s.client.RunningJobs(ctx, "")
		if err != nil {
			return nil, err
		}
		records := make([]*sqlite.Record, 0, len(jobs))
		for _, job := range jobs {
			values := []any{job.Status, job.Queue, job.User, job.StartedOn, job.CPUTime, job.Mem}
			records = append(records, newRecord(job.ID, jobColumns, values))
		}
		return records, nil
	}

	table, derivedKey, derived, err := s.snapshot(ctx, class)
	if err != nil {
		return nil, err
	}

	keys := append([]string(nil), table.Header...)
	if derivedKey != "" {
		keys = append(keys, derivedKey)
	}

	records := make([]*sqlite.Record, 0, table.Len())
	for _, row := range table.Rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		values := make([]any, 0, len(keys))
		for _, v := range row {
			values = append(values, v)
		}
		if derivedKey != "" {
			values = append(values, strings.Join(derived[row[0]], " "))
		}
		records = append(records, newRecord(row[0], keys, values))
	}
	return records, nil
}

// snapshot runs the tabular command of class. Queue and host samples carry a
// derived column mapping queues to hosts and back.
func (s *SamplingService) snapshot(ctx context.Context, class model.Class) (*openlava.Table, string, map[string][]string, error) {
	switch class {
	case model.ClassQueue:
		table, err := s.client.Queues(ctx)
		if err != nil {
			return nil, "", nil, err
		}
		return table, model.ColQueueHosts, s.queueHosts(ctx, false), nil
	case model.ClassHost:
		table, err := s.client.Hosts(ctx, "")
		if err != nil {
			return nil, "", nil, err
		}
		return table, model.ColHostQueues, s.queueHosts(ctx, true), nil
	case model.ClassLoad:
		table, err := s.client.Load(ctx)
		return table, "", nil, err
	case model.ClassUser:
		table, err := s.client.Users(ctx)
		return table, "", nil, err
	default:
		return nil, "", nil, fmt.Errorf("unknown entity class %q", class)
	}
}

// queueHosts resolves the queue/host mapping. A failure leaves the derived
// column empty rather than failing the class.
func (s *SamplingService) queueHosts(ctx context.Context, inverted bool) map[string][]string {
	queues, mapping, err := s.client.QueueHosts(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "failed to resolve queue hosts: %v", err)
		return nil
	}
	if inverted {
		return openlava.InvertQueueHosts(queues, mapping)
	}
	return mapping
}
