package service

import (
	"context"

	"lavamon/internal/model"
	"lavamon/pkg/monitoring"
	"lavamon/pkg/store/sqlite"
)

// StoreService answers read-only queries over the class and resource stores
type StoreService struct {
	dbPath     string
	collector  *monitoring.Collector
	aggregator *monitoring.Aggregator
}

// NewStoreService creates a new store query service
func NewStoreService(dbPath, resourcePath string, aggregator *monitoring.Aggregator) *StoreService {
	return &StoreService{
		dbPath:     dbPath,
		collector:  monitoring.NewCollector(resourcePath),
		aggregator: aggregator,
	}
}

// Tables lists the tables of a class store
func (s *StoreService) Tables(ctx context.Context, class model.Class) ([]string, error) {
	ds, err := sqlite.Open(class.StorePath(s.dbPath), sqlite.ModeRead)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return sqlite.Tables(ctx, ds)
}

// Table reads the given columns of one table in a class store; no keys reads every column
func (s *StoreService) Table(ctx context.Context, class model.Class, table string, keys []string) (*sqlite.Table, error) {
	ds, err := sqlite.Open(class.StorePath(s.dbPath), sqlite.ModeRead)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return sqlite.ReadTable(ctx, ds, table, keys)
}

// JobResource aggregates the resource samples recorded so far for a job
func (s *StoreService) JobResource(ctx context.Context, jobID string) (*monitoring.JobResourceRecord, error) {
	samples, err := s.collector.Series(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.aggregator.Aggregate(jobID, samples)
}
