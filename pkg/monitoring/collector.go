package monitoring

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"lavamon/pkg/store/sqlite"

	"github.com/spf13/cast"
)

// Resource store layout under the resource path
const (
	JobStoreDir  = "job"
	UserStoreDir = "user"
	JobListFile  = "job.list"

	jobRangeSize = 10000
)

// Resource table columns
const (
	ColSampleTime = "SAMPLE_TIME"
	ColHostName   = "HOST_NAME"
	ColCPU        = "CPU"
	ColMemory     = "MEMORY"
)

// ResourceKeys are the columns of a job resource table
var ResourceKeys = []string{ColSampleTime, ColHostName, ColCPU, ColMemory}

// JobRange returns the "<lo>_<hi>" block name grouping jobID's resource table
func JobRange(jobID string) (string, error) {
	head := jobID
	if i := strings.IndexByte(head, '['); i >= 0 {
		head = head[:i]
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil || n < 0 {
		return "", fmt.Errorf("%w %q", ErrInvalidJobID, jobID)
	}
	lo := n / jobRangeSize * jobRangeSize
	return fmt.Sprintf("%d_%d", lo, lo+jobRangeSize-1), nil
}

// JobStorePath returns the resource store file holding jobID
func JobStorePath(resourcePath, jobID string) (string, error) {
	block, err := JobRange(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(resourcePath, JobStoreDir, block+".db"), nil
}

// JobTableName returns the resource table name of jobID
func JobTableName(jobID string) (string, error) {
	return sqlite.TableName("job", jobID)
}

// UserStorePath returns the report store file of user
func UserStorePath(resourcePath, user string) string {
	return filepath.Join(resourcePath, UserStoreDir, user+".db")
}

// Collector reads job resource series from the resource stores
type Collector struct {
	resourcePath string
}

// NewCollector creates a collector rooted at resourcePath
func NewCollector(resourcePath string) *Collector {
	return &Collector{resourcePath: resourcePath}
}

// Series returns the samples of jobID in insertion order. Rows whose values
// cannot be parsed are skipped.
func (c *Collector) Series(ctx context.Context, jobID string) ([]Sample, error) {
	path, err := JobStorePath(c.resourcePath, jobID)
	if err != nil {
		return nil, err
	}
	table, err := JobTableName(jobID)
	if err != nil {
		return nil, err
	}

	ds, err := sqlite.Open(path, sqlite.ModeRead)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	data, err := sqlite.ReadTable(ctx, ds, table, ResourceKeys)
	if err != nil {
		return nil, err
	}
	return samplesFromTable(data), nil
}

func samplesFromTable(data *sqlite.Table) []Sample {
	times := data.Column(ColSampleTime)
	hosts := data.Column(ColHostName)
	cpus := data.Column(ColCPU)
	mems := data.Column(ColMemory)

	samples := make([]Sample, 0, len(times))
	for i := range times {
		t, err := sqlite.ParseSampleTime(times[i])
		if err != nil {
			continue
		}
		cpu, err := cast.ToFloat64E(cpus[i])
		if err != nil {
			continue
		}
		mem, err := cast.ToFloat64E(mems[i])
		if err != nil {
			continue
		}
		samples = append(samples, Sample{Time: t, Host: hosts[i], CPU: cpu, Memory: mem})
	}
	return samples
}
